package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"PulseCampaign/internal/birthday"
	"PulseCampaign/internal/config"
)

// ErrSupervisorProcess is returned when Setup runs inside the reloader's
// supervisor; only the reloaded worker process owns the daily trigger.
var ErrSupervisorProcess = errors.New("scheduler disabled in reloader supervisor process")

type Job interface {
	Run(ctx context.Context) birthday.Report
}

type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	spec    string
	running bool
	log     *zap.Logger
}

var (
	instanceMu sync.Mutex
	instance   *Scheduler
)

// Setup returns the process-wide scheduler, creating it and registering the
// daily birthday trigger on first use. Later calls return the same handle
// and add nothing.
func Setup(cfg *config.Config, job Job, logger *zap.Logger) (*Scheduler, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, nil
	}

	if cfg.Reloader && !cfg.ReloaderWorker {
		logger.Info("reloader supervisor detected, birthday scheduler not started")
		return nil, ErrSupervisorProcess
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	spec := fmt.Sprintf("%d %d * * *", cfg.BirthdayMinute, cfg.BirthdayHour)

	entry, err := c.AddFunc(spec, func() {
		rep := job.Run(context.Background())
		if rep.Err != nil {
			logger.Error("birthday run failed", zap.Error(rep.Err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule birthday job %q: %w", spec, err)
	}

	instance = &Scheduler{
		cron:  c,
		entry: entry,
		spec:  spec,
		log:   logger,
	}

	logger.Info("birthday scheduler configured",
		zap.String("spec", spec),
		zap.String("timezone", loc.String()),
	)
	return instance, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true

	s.log.Info("birthday scheduler started", zap.Time("next_run", s.cron.Entry(s.entry).Next))
}

// Stop halts the trigger and waits for a job already in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false

	s.log.Info("birthday scheduler stopped")
}

// Entries reports how many triggers are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Spec() string {
	return s.spec
}

// reset drops the singleton so tests can build a fresh one.
func reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		instance.Stop()
		instance = nil
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
