package email_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/email/emailtest"
	"PulseCampaign/internal/models"
)

func TestSMTPSessionKeepsSendingAfterRejectedRecipient(t *testing.T) {
	srv, err := emailtest.NewServer("bad@x.com")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	d := &email.SMTPDialer{Host: srv.Host(), Port: srv.Port(), RetryMax: time.Second}
	ctx := context.Background()

	s, err := d.Dial(ctx, models.Credentials{Address: "team@x.com", Secret: "pw"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	for _, to := range []string{"a@x.com", "bad@x.com", "c@x.com", "d@x.com"} {
		err := s.Send(ctx, email.Message{From: "team@x.com", To: to, Subject: "Hi", HTMLBody: "<p>hi</p>"})

		if to == "bad@x.com" {
			if err == nil {
				t.Fatal("expected rejection for bad@x.com")
			}
			if !email.IsPermanent(err) || email.IsSessionBroken(err) {
				t.Errorf("rejection misclassified: %v", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("send to %s: %v", to, err)
		}
	}

	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}

	want := []string{"a@x.com", "c@x.com", "d@x.com"}
	if got := srv.Delivered(); !slices.Equal(got, want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	if n := srv.Sessions(); n != 2 {
		t.Errorf("expected a fresh connection after the rejection, got %d sessions", n)
	}
}
