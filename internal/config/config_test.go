package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.SMTPPort != 587 {
		t.Errorf("expected default smtp port 587, got %d", cfg.SMTPPort)
	}
	if cfg.SendInterval != time.Second {
		t.Errorf("expected 1s send interval, got %s", cfg.SendInterval)
	}
	if cfg.BirthdayMinute != 5 {
		t.Errorf("expected birthday minute 5, got %d", cfg.BirthdayMinute)
	}
	if !cfg.BirthdaySender().Empty() {
		t.Errorf("expected empty birthday sender by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"hour too large", func(c *Config) { c.BirthdayHour = 24 }, true},
		{"negative minute", func(c *Config) { c.BirthdayMinute = -1 }, true},
		{"no workers", func(c *Config) { c.WorkerCount = 0 }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Timezone:          "UTC",
				WorkerCount:       1,
				DispatchQueueSize: 1,
			}
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
