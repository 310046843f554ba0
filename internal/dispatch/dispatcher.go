package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/metrics"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/tracking"
)

var (
	ErrNotEligible   = errors.New("campaign is not eligible to start")
	ErrNoCredentials = errors.New("campaign has no sender credentials")
)

// Store is the subset of storage the dispatcher reads and writes.
type Store interface {
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id int64, status models.CampaignStatus) error
	TransitionCampaignStatus(ctx context.Context, id int64, from []models.CampaignStatus, to models.CampaignStatus) (bool, error)
	DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error)

	PendingRecipients(ctx context.Context, campaignID int64) ([]models.Recipient, error)
	MarkRecipientSent(ctx context.Context, id int64, at time.Time) error
	MarkRecipientFailed(ctx context.Context, id int64) error
}

// Launcher hands a run to a background worker without waiting for it.
type Launcher interface {
	Launch(job models.DispatchJob) error
}

type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeSkipped     Outcome = "skipped"
)

// Result describes one dispatcher run.
type Result struct {
	CampaignID  int64
	Outcome     Outcome
	Sent        int
	Failed      int
	Pending     int // left untouched by this run
	BatchPauses int
	Err         error
}

type Dispatcher struct {
	Store    Store
	Dialer   email.Dialer
	Launcher Launcher
	Links    tracking.Links
	Log      *zap.Logger

	// FatalLog additionally receives causes that abort a whole run.
	FatalLog *zap.Logger

	// SendInterval is the pause taken after every successful send.
	SendInterval time.Duration

	// Sleep blocks for a batch pause. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func New(
	store Store,
	dialer email.Dialer,
	launcher Launcher,
	links tracking.Links,
	sendInterval time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		Store:        store,
		Dialer:       dialer,
		Launcher:     launcher,
		Links:        links,
		Log:          logger,
		SendInterval: sendInterval,
		Sleep:        sleep,
		Now:          time.Now,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Dispatcher) pause(ctx context.Context, dur time.Duration) error {
	if d.Sleep == nil {
		return sleep(ctx, dur)
	}
	return d.Sleep(ctx, dur)
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// throttle returns a limiter with an empty bucket, so every successful send
// is followed by a full SendInterval.
func (d *Dispatcher) throttle() *rate.Limiter {
	if d.SendInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	l := rate.NewLimiter(rate.Every(d.SendInterval), 1)
	l.Allow()
	return l
}

// Run drains the campaign's Pending recipients over one SMTP session.
// Errors for a single recipient are recorded as state; only a failure to
// open the session aborts the run.
func (d *Dispatcher) Run(ctx context.Context, campaignID int64, creds models.Credentials) Result {
	res := Result{CampaignID: campaignID}
	log := d.Log.With(zap.Int64("campaign_id", campaignID))

	// Writes must land even when shutdown cancels ctx mid-send.
	writeCtx := context.WithoutCancel(ctx)

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeInterrupted
		res.Err = err
		d.setStatus(writeCtx, log, campaignID, models.CampaignFailed)
		return res
	}

	campaign, err := d.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		res.Outcome = OutcomeSkipped
		res.Err = fmt.Errorf("load campaign: %w", err)
		log.Error("dispatch skipped", zap.Error(res.Err))
		return res
	}

	if creds.Empty() {
		creds = campaign.Sender
	}
	if creds.Empty() {
		res.Outcome = OutcomeSkipped
		res.Err = ErrNoCredentials
		log.Warn("dispatch skipped, no sender credentials")
		d.setStatus(writeCtx, log, campaignID, models.CampaignFailed)
		return res
	}

	recipients, err := d.Store.PendingRecipients(ctx, campaignID)
	if err != nil {
		return d.abort(writeCtx, log, res, fmt.Errorf("load recipients: %w", err))
	}
	res.Pending = len(recipients)

	log.Info("dispatch started",
		zap.Int("recipients", len(recipients)),
		zap.Int("batch_size", campaign.BatchSize),
		zap.Int("batch_delay_minutes", campaign.BatchDelay),
	)

	session, err := d.Dialer.Dial(ctx, creds)
	if err != nil {
		return d.abort(writeCtx, log, res, err)
	}
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	limiter := d.throttle()
	sentInBatch := 0

	for i, r := range recipients {
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeInterrupted
			res.Err = err
			log.Warn("dispatch interrupted",
				zap.Int("sent", res.Sent),
				zap.Int("pending", res.Pending),
			)
			d.setStatus(writeCtx, log, campaignID, models.CampaignFailed)
			return res
		}

		msg := email.Message{
			From:     creds.Address,
			To:       r.Email,
			Subject:  campaign.Subject,
			HTMLBody: d.Links.Render(campaign.Body, r.ID),
		}

		res.Pending--
		remaining := i+1 < len(recipients)

		if err := session.Send(ctx, msg); err != nil {
			res.Failed++
			metrics.EmailFailures.Inc()

			log.Warn("email send failed",
				zap.Int64("recipient_id", r.ID),
				zap.String("to", r.Email),
				zap.Error(err),
			)

			if dbErr := d.Store.MarkRecipientFailed(writeCtx, r.ID); dbErr != nil {
				log.Error("failed to update failure status",
					zap.Int64("recipient_id", r.ID),
					zap.Error(dbErr),
				)
			}

			if email.IsSessionBroken(err) && remaining {
				session.Close()
				session = nil

				log.Info("smtp session lost, reconnecting")
				session, err = d.Dialer.Dial(ctx, creds)
				if err != nil {
					return d.abort(writeCtx, log, res, fmt.Errorf("reconnect: %w", err))
				}
			}
			continue
		}

		if dbErr := d.Store.MarkRecipientSent(writeCtx, r.ID, d.now()); dbErr != nil {
			log.Error("failed to update sent status",
				zap.Int64("recipient_id", r.ID),
				zap.Error(dbErr),
			)
		}

		res.Sent++
		metrics.EmailsSent.Inc()

		log.Debug("email sent", zap.Int64("recipient_id", r.ID), zap.String("to", r.Email))

		_ = limiter.Wait(ctx)

		sentInBatch++
		if sentInBatch >= campaign.BatchSize && remaining {
			res.BatchPauses++
			metrics.BatchPauses.Inc()

			log.Info("batch limit reached, pausing",
				zap.Int("batch_size", campaign.BatchSize),
				zap.Duration("pause", campaign.BatchPause()),
			)

			_ = d.pause(ctx, campaign.BatchPause())
			sentInBatch = 0

			// The bucket refilled during the pause.
			limiter.Allow()
		}
	}

	d.setStatus(writeCtx, log, campaignID, models.CampaignCompleted)

	res.Outcome = OutcomeCompleted
	log.Info("dispatch completed",
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("batch_pauses", res.BatchPauses),
	)
	return res
}

// abort marks the campaign Failed and leaves every unprocessed recipient
// Pending for a manual retry.
func (d *Dispatcher) abort(ctx context.Context, log *zap.Logger, res Result, cause error) Result {
	res.Outcome = OutcomeFailed
	res.Err = cause

	fields := []zap.Field{
		zap.Int64("campaign_id", res.CampaignID),
		zap.Int("pending", res.Pending),
		zap.Error(cause),
	}
	log.Error("dispatch aborted", fields...)
	if d.FatalLog != nil {
		d.FatalLog.Error("smtp error", fields...)
	}

	d.setStatus(ctx, log, res.CampaignID, models.CampaignFailed)
	return res
}

func (d *Dispatcher) setStatus(ctx context.Context, log *zap.Logger, id int64, status models.CampaignStatus) {
	if err := d.Store.UpdateCampaignStatus(ctx, id, status); err != nil {
		log.Error("failed to update campaign status",
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
