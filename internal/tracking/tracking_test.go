package tracking

import (
	"context"
	"strings"
	"testing"

	"PulseCampaign/internal/db"
	"PulseCampaign/internal/models"
)

func TestRenderVerifyButton(t *testing.T) {
	links := NewLinks("https://mail.example.com/")

	got := links.Render("Click [VERIFY_BUTTON] now", 7)

	if strings.Contains(got, VerifyButtonToken) {
		t.Fatalf("token not replaced: %s", got)
	}
	if !strings.Contains(got, `href="https://mail.example.com/track/replied/7"`) {
		t.Errorf("missing reply link for recipient 7: %s", got)
	}
	if !strings.Contains(got, `<img src="https://mail.example.com/track/open/7"`) {
		t.Errorf("missing open pixel for recipient 7: %s", got)
	}
	if !strings.HasPrefix(got, "<html><body>Click <a ") || !strings.HasSuffix(got, "</body></html>") {
		t.Errorf("unexpected wrapping: %s", got)
	}
}

func TestRenderTokens(t *testing.T) {
	links := NewLinks("http://h")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"tracking link", "Go to {{ tracking_link }}", "Go to http://h/track/replied/3"},
		{"unknown token kept", "Hi [FIRST_NAME] {{ other }}", "Hi [FIRST_NAME] {{ other }}"},
		{"repeated token", "{{ tracking_link }} {{ tracking_link }}", "http://h/track/replied/3 http://h/track/replied/3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := links.Render(tt.body, 3)
			if !strings.Contains(got, "<html><body>"+tt.want+"<br>") {
				t.Errorf("got %q, want body %q", got, tt.want)
			}
		})
	}
}

func TestRecorderIsIdempotent(t *testing.T) {
	store := db.NewMemStore()
	ctx := context.Background()

	rs := []models.Recipient{{Email: "a@x.com"}}
	if err := store.CreateCampaign(ctx, &models.Campaign{Name: "c"}, rs); err != nil {
		t.Fatal(err)
	}

	rec := NewRecorder(store)
	for i := 0; i < 2; i++ {
		if _, err := rec.Opened(ctx, rs[0].ID); err != nil {
			t.Fatalf("opened: %v", err)
		}
	}
	if _, err := rec.Replied(ctx, rs[0].ID); err != nil {
		t.Fatalf("replied: %v", err)
	}

	opens := 0
	for _, e := range store.Events() {
		if e.Type == models.EventOpen {
			opens++
		}
	}
	if opens != 1 {
		t.Fatalf("expected exactly one open event, got %d", opens)
	}
}
