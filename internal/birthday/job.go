package birthday

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/metrics"
	"PulseCampaign/internal/models"
)

//go:embed templates/birthday.html
var templateFS embed.FS

var greeting = template.Must(template.ParseFS(templateFS, "templates/birthday.html"))

const fallbackName = "Friend"

type Store interface {
	RecipientsWithDOB(ctx context.Context) ([]models.Recipient, error)
	EventSentToEmail(ctx context.Context, email string, typ models.EventType, from, to time.Time) (bool, error)
	InsertEvent(ctx context.Context, recipientID int64, typ models.EventType, at time.Time) error
}

// Report summarises one run of the job.
type Report struct {
	Date       time.Time
	Candidates int
	Sent       int
	Skipped    int // already greeted this year
	Failed     int
	Configured bool
	Err        error
}

type Job struct {
	Store    Store
	Dialer   email.Dialer
	Sender   models.Credentials
	Location *time.Location
	Now      func() time.Time
	Log      *zap.Logger
}

func New(store Store, dialer email.Dialer, sender models.Credentials, loc *time.Location, logger *zap.Logger) *Job {
	if loc == nil {
		loc = time.Local
	}
	return &Job{
		Store:    store,
		Dialer:   dialer,
		Sender:   sender,
		Location: loc,
		Now:      time.Now,
		Log:      logger,
	}
}

// Run greets every recipient whose birthday is today, at most once per
// email address per calendar year. It never panics.
func (j *Job) Run(ctx context.Context) (rep Report) {
	now := j.Now().In(j.Location)
	rep.Date = now

	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("birthday job panic: %v", r)
			j.Log.Error("birthday job crashed", zap.Error(rep.Err))
		}
	}()

	if j.Sender.Empty() {
		j.Log.Warn("birthday sender credentials not configured, skipping")
		return rep
	}
	rep.Configured = true

	all, err := j.Store.RecipientsWithDOB(ctx)
	if err != nil {
		rep.Err = fmt.Errorf("load recipients: %w", err)
		j.Log.Error("birthday job failed", zap.Error(rep.Err))
		return rep
	}

	var candidates []models.Recipient
	for _, r := range all {
		if r.BirthdayOn(now) {
			candidates = append(candidates, r)
		}
	}
	rep.Candidates = len(candidates)

	if len(candidates) == 0 {
		j.Log.Info("no birthdays today", zap.String("date", now.Format("2006-01-02")))
		return rep
	}

	j.Log.Info("birthdays found", zap.Int("count", len(candidates)))

	from, to := yearWindow(now)

	for _, r := range candidates {
		result := j.greet(ctx, r, from, to)
		metrics.BirthdayGreetings.WithLabelValues(result).Inc()

		switch result {
		case "sent":
			rep.Sent++
		case "skipped":
			rep.Skipped++
		default:
			rep.Failed++
		}
	}

	j.Log.Info("birthday job finished",
		zap.Int("candidates", rep.Candidates),
		zap.Int("sent", rep.Sent),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
	)
	return rep
}

// greet handles one candidate and reports sent, skipped or failed.
func (j *Job) greet(ctx context.Context, r models.Recipient, from, to time.Time) string {
	log := j.Log.With(zap.Int64("recipient_id", r.ID), zap.String("to", r.Email))

	already, err := j.Store.EventSentToEmail(ctx, r.Email, models.EventBirthdaySent, from, to)
	if err != nil {
		log.Error("birthday dedup check failed", zap.Error(err))
		return "failed"
	}
	if already {
		log.Debug("birthday already greeted this year")
		return "skipped"
	}

	msg, err := Message(j.Sender.Address, r)
	if err != nil {
		log.Error("birthday template failed", zap.Error(err))
		return "failed"
	}

	if err := email.DialAndSend(ctx, j.Dialer, j.Sender, msg); err != nil {
		log.Warn("birthday email failed", zap.Error(err))
		return "failed"
	}

	// If this write fails, a rerun on the same day greets the address again.
	if err := j.Store.InsertEvent(context.WithoutCancel(ctx), r.ID, models.EventBirthdaySent, j.Now().In(j.Location)); err != nil {
		log.Error("failed to record birthday event", zap.Error(err))
	}

	log.Info("birthday email sent")
	return "sent"
}

// Message builds the greeting for r.
func Message(from string, r models.Recipient) (email.Message, error) {
	name := r.Name
	if name == "" {
		name = fallbackName
	}

	var body bytes.Buffer
	if err := greeting.Execute(&body, struct{ Name string }{name}); err != nil {
		return email.Message{}, err
	}

	return email.Message{
		From:     from,
		To:       r.Email,
		Subject:  fmt.Sprintf("🎉 Happy Birthday %s!", name),
		HTMLBody: body.String(),
	}, nil
}

// yearWindow returns [Jan 1, next Jan 1) of t's year in t's location.
func yearWindow(t time.Time) (time.Time, time.Time) {
	from := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	return from, from.AddDate(1, 0, 0)
}
