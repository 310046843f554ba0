// Package emailtest provides an in-memory SMTP transport for tests.
package emailtest

import (
	"context"
	"sync"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/models"
)

// Dialer records every session it opens and every message sent through
// them. Failures are injected per recipient address or per dial.
type Dialer struct {
	mu sync.Mutex

	// DialErrs is consumed one entry per Dial call; a nil entry succeeds.
	DialErrs []error
	// SendErrs maps a recipient address to the error its send returns.
	SendErrs map[string]error

	Dials    int
	Sessions []*Session
	Creds    []models.Credentials
}

func (d *Dialer) Dial(_ context.Context, creds models.Credentials) (email.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Dials++
	d.Creds = append(d.Creds, creds)

	if len(d.DialErrs) > 0 {
		err := d.DialErrs[0]
		d.DialErrs = d.DialErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	s := &Session{dialer: d}
	d.Sessions = append(d.Sessions, s)
	return s, nil
}

// Sent returns every message delivered across all sessions.
func (d *Dialer) Sent() []email.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []email.Message
	for _, s := range d.Sessions {
		out = append(out, s.Messages...)
	}
	return out
}

type Session struct {
	dialer   *Dialer
	Messages []email.Message
	Closed   bool
}

func (s *Session) Send(_ context.Context, msg email.Message) error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()

	if s.Closed {
		return email.ErrSessionClosed
	}
	if err, ok := s.dialer.SendErrs[msg.To]; ok && err != nil {
		return err
	}
	s.Messages = append(s.Messages, msg)
	return nil
}

func (s *Session) Close() error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()

	s.Closed = true
	return nil
}
