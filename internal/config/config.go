package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"PulseCampaign/internal/models"
)

type Config struct {
	// ----------------------------
	// Runtime
	// ----------------------------
	Environment string `envconfig:"APP_ENV" default:"production"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://127.0.0.1:8080"`
	Timezone    string `envconfig:"TIMEZONE" default:"Local"`

	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost          string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	SMTPPort          int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPTLSSkipVerify bool          `envconfig:"SMTP_TLS_SKIP_VERIFY" default:"false"`
	SMTPErrorLog      string        `envconfig:"SMTP_ERROR_LOG" default:"smtp_error.log"`
	SendInterval      time.Duration `envconfig:"SEND_INTERVAL" default:"1s"`
	DialRetryMax      time.Duration `envconfig:"DIAL_RETRY_MAX" default:"30s"`

	// ----------------------------
	// Workers
	// ----------------------------
	WorkerCount       int           `envconfig:"WORKER_COUNT" default:"2"`
	DispatchQueueSize int           `envconfig:"DISPATCH_QUEUE_SIZE" default:"100"`
	DueSweepInterval  time.Duration `envconfig:"DUE_SWEEP_INTERVAL" default:"1m"`

	// ----------------------------
	// Birthday job
	// ----------------------------
	BirthdaySenderEmail    string `envconfig:"BIRTHDAY_SENDER_EMAIL" default:""`
	BirthdaySenderPassword string `envconfig:"BIRTHDAY_SENDER_PASSWORD" default:""`
	BirthdayHour           int    `envconfig:"BIRTHDAY_HOUR" default:"0"`
	BirthdayMinute         int    `envconfig:"BIRTHDAY_MINUTE" default:"5"`

	// RELOADER marks a development harness that runs a supervisor process
	// next to the reloaded worker; RELOADER_WORKER is set only in the worker.
	Reloader       bool `envconfig:"RELOADER" default:"false"`
	ReloaderWorker bool `envconfig:"RELOADER_WORKER" default:"false"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	// Empty selects the in-memory store.
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.BirthdayHour < 0 || c.BirthdayHour > 23 {
		errs = append(errs, fmt.Errorf("BIRTHDAY_HOUR out of range: %d", c.BirthdayHour))
	}
	if c.BirthdayMinute < 0 || c.BirthdayMinute > 59 {
		errs = append(errs, fmt.Errorf("BIRTHDAY_MINUTE out of range: %d", c.BirthdayMinute))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive: %d", c.WorkerCount))
	}
	if c.DispatchQueueSize < 1 {
		errs = append(errs, fmt.Errorf("DISPATCH_QUEUE_SIZE must be positive: %d", c.DispatchQueueSize))
	}
	if c.SendInterval < 0 {
		errs = append(errs, errors.New("SEND_INTERVAL must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Config) Development() bool {
	return c.Environment == "development"
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// BirthdaySender returns the default birthday credentials; the zero value
// means the job is not configured.
func (c *Config) BirthdaySender() models.Credentials {
	return models.Credentials{
		Address: c.BirthdaySenderEmail,
		Secret:  c.BirthdaySenderPassword,
	}
}
