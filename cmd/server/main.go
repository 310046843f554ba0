package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PulseCampaign/internal/api"
	"PulseCampaign/internal/birthday"
	"PulseCampaign/internal/config"
	"PulseCampaign/internal/db"
	"PulseCampaign/internal/dispatch"
	"PulseCampaign/internal/email"
	"PulseCampaign/internal/metrics"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/scheduler"
	"PulseCampaign/internal/tracking"
	"PulseCampaign/internal/worker"
)

// store is what every component needs from persistence; both the
// PostgreSQL store and the in-memory store provide it.
type store interface {
	api.Store
	dispatch.Store
	birthday.Store
	tracking.EventStore

	Migrate(ctx context.Context) error
	Close()
}

func main() {

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	smtpLog, closeSMTPLog, err := newFileLogger(cfg.SMTPErrorLog)
	if err != nil {
		logger.Fatal("failed to open smtp error log", zap.String("path", cfg.SMTPErrorLog), zap.Error(err))
	}
	defer closeSMTPLog()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// SMTP Transport
	// ------------------------------------------------
	dialer := &email.SMTPDialer{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		TLSSkipVerify: cfg.SMTPTLSSkipVerify,
		RetryMax:      cfg.DialRetryMax,
		Log:           logger,
	}

	// ------------------------------------------------
	// Dispatch Queue (shared by API + sweeper + workers)
	// ------------------------------------------------
	queue := worker.NewQueue(cfg.DispatchQueueSize)

	dispatcher := dispatch.New(
		st,
		dialer,
		queue,
		tracking.NewLinks(cfg.BaseURL),
		cfg.SendInterval,
		logger,
	)
	dispatcher.FatalLog = smtpLog

	// ------------------------------------------------
	// Worker Pool
	// ------------------------------------------------
	var wg sync.WaitGroup

	worker.StartPool(
		ctx,
		&wg,
		cfg.WorkerCount,
		queue.Jobs(),
		dispatcher,
		logger,
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Sweep(ctx, cfg.DueSweepInterval)
	}()

	// ------------------------------------------------
	// Birthday Scheduler
	// ------------------------------------------------
	job := birthday.New(st, dialer, cfg.BirthdaySender(), loc, logger)

	sched, err := scheduler.Setup(cfg, job, logger)
	switch {
	case err == nil:
		sched.Start()
		defer sched.Stop()
	case errors.Is(err, scheduler.ErrSupervisorProcess):
	default:
		logger.Fatal("scheduler setup failed", zap.Error(err))
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Store:      st,
		Dispatcher: dispatcher,
		Tracker:    tracking.NewRecorder(st),
		Log:        logger,
		Now:        time.Now,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiHandler.Routes(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Stop accepting new jobs
	queue.Close()

	// Wait for running dispatches to stop between recipients
	wg.Wait()

	// Campaigns queued but never picked up go back to Failed for a manual retry
	for _, job := range queue.Drain() {
		if err := st.UpdateCampaignStatus(context.Background(), job.CampaignID, models.CampaignFailed); err != nil {
			logger.Error("failed to release queued campaign", zap.Int64("campaign_id", job.CampaignID), zap.Error(err))
		}
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newFileLogger appends error-level JSON entries to path.
func newFileLogger(path string) (*zap.Logger, func(), error) {
	if path == "" {
		return zap.NewNop(), func() {}, nil
	}

	sink, closeSink, err := zap.Open(path)
	if err != nil {
		return nil, nil, err
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		sink,
		zap.ErrorLevel,
	)
	return zap.New(core), closeSink, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return db.NewMemStore(), nil
	}

	s, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")
	return s, nil
}
