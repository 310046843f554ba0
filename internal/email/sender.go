package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"PulseCampaign/internal/models"
)

var ErrSessionClosed = errors.New("smtp session closed")

type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
}

// Session is one authenticated SMTP connection. It is not safe for
// concurrent use.
type Session interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, creds models.Credentials) (Session, error)
}

// SMTPDialer connects, upgrades with STARTTLS and authenticates.
type SMTPDialer struct {
	Host          string
	Port          int
	TLSSkipVerify bool

	// RetryMax bounds how long transient connect failures are retried.
	// Authentication rejections are never retried.
	RetryMax time.Duration

	Log *zap.Logger
}

func (d *SMTPDialer) Dial(ctx context.Context, creds models.Credentials) (Session, error) {
	gd := gomail.NewDialer(d.Host, d.Port, creds.Address, creds.Secret)
	gd.TLSConfig = &tls.Config{
		ServerName:         d.Host,
		InsecureSkipVerify: d.TLSSkipVerify,
	}

	sc, err := d.connect(ctx, gd, creds)
	if err != nil {
		return nil, err
	}

	return &smtpSession{
		sc: sc,
		redial: func(ctx context.Context) (gomail.SendCloser, error) {
			return d.connect(ctx, gd, creds)
		},
	}, nil
}

func (d *SMTPDialer) connect(ctx context.Context, gd *gomail.Dialer, creds models.Credentials) (gomail.SendCloser, error) {
	var sc gomail.SendCloser

	operation := func() error {
		var err error
		sc, err = gd.Dial()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		if d.Log != nil {
			d.Log.Warn("smtp dial failed, retrying",
				zap.String("host", d.Host),
				zap.String("from", creds.Address),
				zap.Error(err),
			)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = d.RetryMax

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("smtp dial %s:%d: %w", d.Host, d.Port, err)
	}
	return sc, nil
}

type smtpSession struct {
	sc     gomail.SendCloser
	redial func(ctx context.Context) (gomail.SendCloser, error)
	closed bool
}

func (s *smtpSession) Send(ctx context.Context, msg Message) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.sc.Send(msg.From, []string{msg.To}, Compose(msg)); err != nil {
		err = fmt.Errorf("smtp send to %s: %w", msg.To, err)
		if IsSessionBroken(err) {
			return err
		}
		if rerr := s.reset(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

// reset swaps in a fresh connection after a refused command. gomail does
// not send RSET, so the old transaction would stay open and the server
// would refuse the next MAIL.
func (s *smtpSession) reset(ctx context.Context) error {
	_ = s.sc.Close()

	sc, err := s.redial(ctx)
	if err != nil {
		s.closed = true
		return fmt.Errorf("smtp reset: %w: %w", ErrSessionClosed, err)
	}
	s.sc = sc
	return nil
}

func (s *smtpSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sc.Close()
}

// Compose builds the MIME message for msg.
func Compose(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)
	return m
}

// DialAndSend opens a session for a single message and closes it again.
func DialAndSend(ctx context.Context, d Dialer, creds models.Credentials, msg Message) error {
	s, err := d.Dial(ctx, creds)
	if err != nil {
		return err
	}

	sendErr := s.Send(ctx, msg)
	closeErr := s.Close()

	if sendErr != nil {
		return sendErr
	}
	if closeErr != nil && !IsSessionBroken(closeErr) {
		return fmt.Errorf("smtp quit: %w", closeErr)
	}
	return nil
}

// IsPermanent reports a permanent rejection from the server during
// connect or authentication.
func IsPermanent(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 500
	}
	return false
}

// IsSessionBroken reports whether err means the connection itself is gone
// and further sends on the same session cannot succeed.
func IsSessionBroken(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		// 421: service not available, closing transmission channel
		return tpErr.Code == 421
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
