package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"PulseCampaign/internal/models"
)

// Start moves a Draft or Failed campaign forward. A future scheduled_at only
// marks it Scheduled; otherwise the campaign is flipped to Sending and handed
// to the Launcher. Start never waits for the run itself.
func (d *Dispatcher) Start(ctx context.Context, campaignID int64, now time.Time) (models.CampaignStatus, error) {
	campaign, err := d.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", err
	}

	eligible := []models.CampaignStatus{models.CampaignDraft, models.CampaignFailed}

	if campaign.ScheduledAt != nil && campaign.ScheduledAt.After(now) {
		ok, err := d.Store.TransitionCampaignStatus(ctx, campaignID, eligible, models.CampaignScheduled)
		if err != nil {
			return "", err
		}
		if !ok {
			return campaign.Status, ErrNotEligible
		}
		d.Log.Info("campaign scheduled",
			zap.Int64("campaign_id", campaignID),
			zap.Time("scheduled_at", *campaign.ScheduledAt),
		)
		return models.CampaignScheduled, nil
	}

	if campaign.Sender.Empty() {
		return campaign.Status, ErrNoCredentials
	}

	ok, err := d.Store.TransitionCampaignStatus(ctx, campaignID, eligible, models.CampaignSending)
	if err != nil {
		return "", err
	}
	if !ok {
		return campaign.Status, ErrNotEligible
	}

	if err := d.launch(ctx, *campaign, campaign.Status); err != nil {
		return campaign.Status, err
	}
	return models.CampaignSending, nil
}

// SweepDue launches every Scheduled campaign whose time has come and returns
// how many were handed to the Launcher.
func (d *Dispatcher) SweepDue(ctx context.Context, now time.Time) (int, error) {
	due, err := d.Store.DueCampaigns(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("load due campaigns: %w", err)
	}

	launched := 0
	for _, c := range due {
		log := d.Log.With(zap.Int64("campaign_id", c.ID))

		if c.Sender.Empty() {
			log.Warn("scheduled campaign has no sender credentials")
			d.setStatus(ctx, log, c.ID, models.CampaignFailed)
			continue
		}

		ok, err := d.Store.TransitionCampaignStatus(ctx, c.ID,
			[]models.CampaignStatus{models.CampaignScheduled}, models.CampaignSending)
		if err != nil {
			log.Error("failed to claim scheduled campaign", zap.Error(err))
			continue
		}
		if !ok {
			// another sweep got there first
			continue
		}

		if err := d.launch(ctx, c, models.CampaignScheduled); err != nil {
			continue
		}
		launched++
	}

	return launched, nil
}

// Sweep runs SweepDue on every tick until ctx is cancelled.
func (d *Dispatcher) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.SweepDue(ctx, d.now())
			if err != nil {
				d.Log.Error("due sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.Log.Info("due campaigns launched", zap.Int("count", n))
			}
		}
	}
}

// launch enqueues a run for a campaign already flipped to Sending and
// restores prev when the queue refuses it.
func (d *Dispatcher) launch(ctx context.Context, c models.Campaign, prev models.CampaignStatus) error {
	log := d.Log.With(zap.Int64("campaign_id", c.ID))

	err := d.Launcher.Launch(models.DispatchJob{CampaignID: c.ID, Sender: c.Sender})
	if err == nil {
		log.Info("campaign launched")
		return nil
	}

	log.Error("failed to enqueue campaign", zap.Error(err))
	d.setStatus(context.WithoutCancel(ctx), log, c.ID, prev)
	return fmt.Errorf("enqueue campaign %d: %w", c.ID, err)
}
