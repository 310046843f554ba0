package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"PulseCampaign/internal/dispatch"
	"PulseCampaign/internal/metrics"
	"PulseCampaign/internal/models"
)

var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

// Queue is the buffered hand-off between request handlers and the pool.
type Queue struct {
	mu     sync.Mutex
	jobs   chan models.DispatchJob
	closed bool
}

func NewQueue(size int) *Queue {
	return &Queue{jobs: make(chan models.DispatchJob, size)}
}

// Launch enqueues job without blocking.
func (q *Queue) Launch(job models.DispatchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Jobs is the receive side drained by StartPool.
func (q *Queue) Jobs() <-chan models.DispatchJob {
	return q.jobs
}

// Close stops accepting jobs. Jobs already queued are still delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Drain returns jobs still buffered after Close.
func (q *Queue) Drain() []models.DispatchJob {
	var left []models.DispatchJob
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				return left
			}
			left = append(left, job)
		default:
			return left
		}
	}
}

type Runner interface {
	Run(ctx context.Context, campaignID int64, creds models.Credentials) dispatch.Result
}

func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	jobs <-chan models.DispatchJob,
	runner Runner,
	logger *zap.Logger,
) {

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			logger.Info("worker started", zap.Int("worker_id", id))

			for {
				select {

				case <-ctx.Done():
					logger.Info("worker shutting down", zap.Int("worker_id", id))
					return

				case job, ok := <-jobs:
					if !ok {
						logger.Info("job channel closed", zap.Int("worker_id", id))
						return
					}

					res := runJob(ctx, runner, job)

					metrics.DispatchRuns.WithLabelValues(string(res.Outcome)).Inc()

					fields := []zap.Field{
						zap.Int("worker_id", id),
						zap.Int64("campaign_id", job.CampaignID),
						zap.String("outcome", string(res.Outcome)),
						zap.Int("sent", res.Sent),
						zap.Int("failed", res.Failed),
						zap.Int("pending", res.Pending),
					}
					if res.Err != nil {
						logger.Warn("dispatch run finished with error", append(fields, zap.Error(res.Err))...)
						continue
					}
					logger.Info("dispatch run finished", fields...)
				}
			}
		}(i)
	}
}

// runJob keeps a panicking run from taking the worker down with it.
func runJob(ctx context.Context, runner Runner, job models.DispatchJob) (res dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = dispatch.Result{
				CampaignID: job.CampaignID,
				Outcome:    dispatch.OutcomeFailed,
				Err:        fmt.Errorf("dispatch panic: %v", r),
			}
		}
	}()

	return runner.Run(ctx, job.CampaignID, job.Sender)
}
