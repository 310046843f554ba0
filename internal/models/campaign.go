package models

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "Draft"
	CampaignScheduled CampaignStatus = "Scheduled"
	CampaignSending   CampaignStatus = "Sending"
	CampaignCompleted CampaignStatus = "Completed"
	CampaignFailed    CampaignStatus = "Failed"
)

const (
	DefaultBatchSize  = 50
	DefaultBatchDelay = 5 // minutes
)

// Credentials authenticate an outbound SMTP session.
type Credentials struct {
	Address string `json:"email"`
	Secret  string `json:"-"`
}

func (c Credentials) Empty() bool {
	return c.Address == "" || c.Secret == ""
}

type Campaign struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Status  CampaignStatus `json:"status"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	BatchSize   int        `json:"batch_size"`
	BatchDelay  int        `json:"batch_delay"`

	// Sender is captured at creation so background sends don't depend on
	// an interactive session.
	Sender Credentials `json:"sender"`

	CreatedAt time.Time `json:"created_at"`
}

// BatchPause converts BatchDelay minutes into a duration.
func (c Campaign) BatchPause() time.Duration {
	if c.BatchDelay <= 0 {
		return 0
	}
	return time.Duration(c.BatchDelay) * time.Minute
}

// Normalize applies defaults for unset batch settings.
func (c *Campaign) Normalize() {
	if c.BatchSize < 1 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.Status == "" {
		c.Status = CampaignDraft
	}
}

// CampaignStats aggregates recipient outcomes for dashboards and reports.
type CampaignStats struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Opened  int `json:"opened"`
	Replied int `json:"replied"`
}

type CampaignSummary struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// DispatchJob is queued for the worker pool when a campaign starts sending.
type DispatchJob struct {
	CampaignID int64
	Sender     Credentials
}
