package birthday

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"PulseCampaign/internal/db"
	"PulseCampaign/internal/email/emailtest"
	"PulseCampaign/internal/models"
)

var creds = models.Credentials{Address: "hello@x.com", Secret: "app-password"}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func seed(t *testing.T, store *db.MemStore, recipients ...models.Recipient) {
	t.Helper()

	c := &models.Campaign{Name: "seed", Subject: "s", Body: "b"}
	if err := store.CreateCampaign(context.Background(), c, recipients); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newJob(store *db.MemStore, dialer *emailtest.Dialer, now time.Time) *Job {
	j := New(store, dialer, creds, time.UTC, zap.NewNop())
	j.Now = func() time.Time { return now }
	return j
}

func TestRunGreetsEachAddressOncePerYear(t *testing.T) {
	store := db.NewMemStore()
	dialer := &emailtest.Dialer{}
	now := time.Date(2025, time.June, 14, 0, 5, 0, 0, time.UTC)

	// the same person imported into two campaigns
	seed(t, store, models.Recipient{Email: "ana@x.com", Name: "Ana", DOB: date(1990, time.June, 14)})
	seed(t, store, models.Recipient{Email: "ana@x.com", Name: "Ana", DOB: date(1990, time.June, 14)})
	seed(t, store, models.Recipient{Email: "bo@x.com", DOB: date(1985, time.July, 1)})

	rep := newJob(store, dialer, now).Run(context.Background())

	if !rep.Configured || rep.Err != nil {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Candidates != 2 || rep.Sent != 1 || rep.Skipped != 1 {
		t.Fatalf("expected 2 candidates, 1 sent, 1 skipped, got %+v", rep)
	}

	rep = newJob(store, dialer, now.Add(6*time.Hour)).Run(context.Background())
	if rep.Sent != 0 || rep.Skipped != 2 {
		t.Fatalf("second run same day: expected 0 sent 2 skipped, got %+v", rep)
	}

	sent := dialer.Sent()
	if len(sent) != 1 || sent[0].To != "ana@x.com" {
		t.Fatalf("expected one greeting to ana@x.com, got %+v", sent)
	}

	var birthdayEvents int
	for _, e := range store.Events() {
		if e.Type == models.EventBirthdaySent {
			birthdayEvents++
		}
	}
	if birthdayEvents != 1 {
		t.Errorf("expected one birthday_sent event, got %d", birthdayEvents)
	}

	nextYear := time.Date(2026, time.June, 14, 0, 5, 0, 0, time.UTC)
	rep = newJob(store, dialer, nextYear).Run(context.Background())
	if rep.Sent != 1 {
		t.Errorf("next year: expected a fresh greeting, got %+v", rep)
	}
}

func TestRunWithoutCredentialsIsNoop(t *testing.T) {
	store := db.NewMemStore()
	dialer := &emailtest.Dialer{}
	now := time.Date(2025, time.June, 14, 0, 5, 0, 0, time.UTC)
	seed(t, store, models.Recipient{Email: "ana@x.com", DOB: date(1990, time.June, 14)})

	j := newJob(store, dialer, now)
	j.Sender = models.Credentials{}

	rep := j.Run(context.Background())

	if rep.Configured || rep.Sent != 0 || rep.Candidates != 0 {
		t.Fatalf("expected unconfigured no-op, got %+v", rep)
	}
	if dialer.Dials != 0 || len(store.Events()) != 0 {
		t.Errorf("expected no sends and no events, got %d dials %d events", dialer.Dials, len(store.Events()))
	}
}

func TestRunCountsFailuresAndContinues(t *testing.T) {
	store := db.NewMemStore()
	dialer := &emailtest.Dialer{SendErrs: map[string]error{"bad@x.com": errors.New("rejected")}}
	now := time.Date(2025, time.June, 14, 0, 5, 0, 0, time.UTC)

	seed(t, store,
		models.Recipient{Email: "bad@x.com", DOB: date(1990, time.June, 14)},
		models.Recipient{Email: "good@x.com", DOB: date(1991, time.June, 14)},
	)

	rep := newJob(store, dialer, now).Run(context.Background())

	if rep.Failed != 1 || rep.Sent != 1 {
		t.Fatalf("expected 1 failed 1 sent, got %+v", rep)
	}
	if dialer.Dials != 2 {
		t.Errorf("expected one session per candidate, got %d dials", dialer.Dials)
	}
}

type panicStore struct{}

func (panicStore) RecipientsWithDOB(context.Context) ([]models.Recipient, error) {
	panic("store exploded")
}

func (panicStore) EventSentToEmail(context.Context, string, models.EventType, time.Time, time.Time) (bool, error) {
	return false, nil
}

func (panicStore) InsertEvent(context.Context, int64, models.EventType, time.Time) error {
	return nil
}

func TestRunRecoversFromPanic(t *testing.T) {
	j := New(panicStore{}, &emailtest.Dialer{}, creds, time.UTC, zap.NewNop())

	rep := j.Run(context.Background())

	if rep.Err == nil || !strings.Contains(rep.Err.Error(), "store exploded") {
		t.Fatalf("expected recovered panic in report, got %+v", rep)
	}
}

func TestMessageFallsBackToFriend(t *testing.T) {
	msg, err := Message(creds.Address, models.Recipient{Email: "x@x.com"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != "🎉 Happy Birthday Friend!" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.HTMLBody, "Happy Birthday, Friend!") {
		t.Errorf("body missing fallback name:\n%s", msg.HTMLBody)
	}

	msg, _ = Message(creds.Address, models.Recipient{Email: "x@x.com", Name: "<Tom>"})
	if !strings.Contains(msg.HTMLBody, "&lt;Tom&gt;") {
		t.Errorf("name was not escaped:\n%s", msg.HTMLBody)
	}
}

func TestYearWindow(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	from, to := yearWindow(time.Date(2025, time.December, 31, 23, 0, 0, 0, loc))

	if !from.Equal(time.Date(2025, time.January, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("from = %v", from)
	}
	if !to.Equal(time.Date(2026, time.January, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("to = %v", to)
	}
}
