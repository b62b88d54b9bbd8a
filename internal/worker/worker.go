package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/spectragram/benchworker/internal/queue"
	"github.com/spectragram/benchworker/internal/worker/domain"
)

// Config holds polling behaviour
type Config struct {
	JobTypes  []string
	PollLimit int
	IdleSleep time.Duration
}

// Stats is a snapshot of the worker's job counters
type Stats struct {
	JobsAttempted int64
	JobsDone      int64
	JobsFailed    int64
	LastJobAt     time.Time
}

// Worker polls the queue service for due jobs and dispatches them to
// registered handlers, one job at a time.
type Worker struct {
	id       string
	queue    *queue.Client
	cfg      Config
	handlers map[string]domain.HandlerFunc
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a worker instance
func New(q *queue.Client, cfg Config, logger *slog.Logger) *Worker {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 3 * time.Second
	}
	id := uuid.New().String()
	return &Worker{
		id:       id,
		queue:    q,
		cfg:      cfg,
		handlers: make(map[string]domain.HandlerFunc),
		logger:   logger.With(slog.String("worker_id", id)),
	}
}

// ID returns the unique identifier assigned to this worker instance.
func (w *Worker) ID() string {
	return w.id
}

// Register binds a handler to a job type
func (w *Worker) Register(jobType string, fn domain.HandlerFunc) {
	w.handlers[jobType] = fn
}

// Stats returns a snapshot of the worker's job counters
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) recordAttempt() {
	w.mu.Lock()
	w.stats.JobsAttempted++
	w.stats.LastJobAt = time.Now().UTC()
	w.mu.Unlock()
}

func (w *Worker) recordOutcome(failed bool) {
	w.mu.Lock()
	if failed {
		w.stats.JobsFailed++
	} else {
		w.stats.JobsDone++
	}
	w.mu.Unlock()
}

// Run polls until the context is canceled. Fetch failures back off
// exponentially; an empty poll sleeps for the configured idle interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started",
		slog.Any("job_types", w.cfg.JobTypes),
		slog.Int("poll_limit", w.cfg.PollLimit),
		slog.Duration("idle_sleep", w.cfg.IdleSleep),
	)

	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = 0

	for {
		attempted, err := w.runOnce(ctx)
		if ctx.Err() != nil {
			w.logger.Info("Worker stopping, context canceled")
			return ctx.Err()
		}

		switch {
		case err != nil:
			wait := boff.NextBackOff()
			w.logger.Error("Failed to fetch jobs",
				slog.Any("error", err),
				slog.Duration("retry_in", wait),
			)
			if !sleepCtx(ctx, wait) {
				return ctx.Err()
			}

		case attempted == 0:
			boff.Reset()
			if !sleepCtx(ctx, w.cfg.IdleSleep) {
				return ctx.Err()
			}

		default:
			boff.Reset()
		}
	}
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
