package models

import "time"

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "Pending"
	RecipientSent    RecipientStatus = "Sent"
	RecipientFailed  RecipientStatus = "Failed"
	RecipientBounced RecipientStatus = "Bounced"
)

type Recipient struct {
	ID         int64           `json:"id"`
	CampaignID int64           `json:"campaign_id"`
	Email      string          `json:"email"`
	Name       string          `json:"name,omitempty"`
	DOB        *time.Time      `json:"dob,omitempty"`
	Status     RecipientStatus `json:"status"`
	SentAt     *time.Time      `json:"sent_at,omitempty"`
}

// BirthdayOn reports whether the recipient's month and day match t.
func (r Recipient) BirthdayOn(t time.Time) bool {
	if r.DOB == nil {
		return false
	}
	return r.DOB.Month() == t.Month() && r.DOB.Day() == t.Day()
}

type EventType string

const (
	EventOpen         EventType = "open"
	EventReplied      EventType = "replied"
	EventBirthdaySent EventType = "birthday_sent"
)

// TrackingEvent is append-only.
type TrackingEvent struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReportRow is one recipient line of a campaign delivery report.
type ReportRow struct {
	CampaignID   int64
	CampaignName string
	Subject      string
	RecipientID  int64
	Email        string
	Status       RecipientStatus
	SentAt       *time.Time
	Opens        int
	Replies      int
	CreatedAt    time.Time
}
