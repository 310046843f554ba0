package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PulseCampaign/internal/models"
)

// Placeholder tokens recognised in campaign bodies. Anything else is left
// verbatim.
const (
	VerifyButtonToken = "[VERIFY_BUTTON]"
	TrackingLinkToken = "{{ tracking_link }}"
)

const verifyButtonHTML = `<a href="%s" style="display: inline-block; padding: 12px 24px; background-color: #6366f1; color: white; text-decoration: none; border-radius: 6px; font-weight: bold; font-family: sans-serif;">Verify Email</a>`

const pixelHTML = `<img src="%s" alt="" width="1" height="1" style="display:none;" />`

// Links builds absolute URLs to the tracking endpoints.
type Links struct {
	BaseURL string
}

func NewLinks(baseURL string) Links {
	return Links{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (l Links) OpenURL(recipientID int64) string {
	return fmt.Sprintf("%s/track/open/%d", l.BaseURL, recipientID)
}

func (l Links) ReplyURL(recipientID int64) string {
	return fmt.Sprintf("%s/track/replied/%d", l.BaseURL, recipientID)
}

// Render substitutes the placeholder tokens for one recipient and appends the
// open-tracking pixel.
func (l Links) Render(body string, recipientID int64) string {
	reply := l.ReplyURL(recipientID)

	body = strings.ReplaceAll(body, VerifyButtonToken, fmt.Sprintf(verifyButtonHTML, reply))
	body = strings.ReplaceAll(body, TrackingLinkToken, reply)

	pixel := fmt.Sprintf(pixelHTML, l.OpenURL(recipientID))

	return "<html><body>" + body + "<br>" + pixel + "</body></html>"
}

type EventStore interface {
	RecordEventOnce(ctx context.Context, recipientID int64, typ models.EventType, at time.Time) (bool, error)
}

// Recorder writes open/replied events at most once per recipient.
type Recorder struct {
	Store EventStore
	Now   func() time.Time
}

func NewRecorder(store EventStore) *Recorder {
	return &Recorder{Store: store, Now: time.Now}
}

func (r *Recorder) Opened(ctx context.Context, recipientID int64) (bool, error) {
	return r.Store.RecordEventOnce(ctx, recipientID, models.EventOpen, r.Now())
}

func (r *Recorder) Replied(ctx context.Context, recipientID int64) (bool, error) {
	return r.Store.RecordEventOnce(ctx, recipientID, models.EventReplied, r.Now())
}
