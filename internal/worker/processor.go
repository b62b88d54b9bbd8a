package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spectragram/benchworker/internal/queue"
	"github.com/spectragram/benchworker/internal/worker/domain"
)

// finalizeTimeout bounds the terminal status update of a job, which must
// reach the queue service even when the worker is shutting down.
const finalizeTimeout = 15 * time.Second

// runOnce fetches one batch of due jobs and processes them sequentially.
// It returns the number of jobs attempted.
func (w *Worker) runOnce(ctx context.Context) (int, error) {
	jobs, err := w.queue.FetchDueJobs(ctx, w.cfg.JobTypes, w.cfg.PollLimit)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for i := range jobs {
		if ctx.Err() != nil {
			return attempted, nil
		}
		attempted++
		w.handleJob(ctx, &jobs[i])
	}
	return attempted, nil
}

// handleJob drives one job through its lifecycle: mark processing, run the
// handler, then record done or failed. Handler failures never crash the
// worker loop.
func (w *Worker) handleJob(ctx context.Context, job *queue.Job) {
	if job.ID == "" {
		w.logger.Warn("Skipping job without id",
			slog.String("job_type", job.JobType),
		)
		return
	}

	w.recordAttempt()

	logger := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", job.JobType),
	)

	err := w.queue.UpdateJob(ctx, job.ID, map[string]any{
		"status":   domain.JobStatusProcessing,
		"attempts": job.Attempts + 1,
		"run_at":   "now",
	})
	if err != nil {
		logger.Error("Failed to mark job processing",
			slog.Any("error", err),
		)
		return
	}

	handler, ok := w.handlers[job.JobType]
	if !ok {
		logger.Warn("No handler registered for job type")
		w.recordOutcome(true)
		w.markFailed(job.ID, logger, fmt.Sprintf("%s: %s", domain.ErrUnsupportedJobType, job.JobType))
		return
	}

	logger.Info("Processing job",
		slog.Int("attempt", job.Attempts+1),
	)

	result, err := w.invoke(ctx, handler, job.Payload)
	if err != nil {
		logger.Error("Job handler failed",
			slog.Any("error", err),
		)
		w.recordOutcome(true)
		w.markFailed(job.ID, logger, err.Error())
		return
	}

	w.recordOutcome(false)
	w.markDone(job.ID, logger, result)
}

// invoke runs a handler with panic isolation.
func (w *Worker) invoke(ctx context.Context, fn domain.HandlerFunc, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, payload)
}

// markDone records the job's result payload. A persistence failure after a
// successful run is logged, not retried: the benchmark results are already
// durable and the next poll sees the job still in processing.
func (w *Worker) markDone(jobID string, logger *slog.Logger, result any) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	err := w.queue.UpdateJob(ctx, jobID, map[string]any{
		"status":     domain.JobStatusDone,
		"payload":    result,
		"last_error": "",
	})
	if err != nil {
		logger.Error("Job done but failed to persist result",
			slog.Any("error", err),
		)
		return
	}
	logger.Info("Job completed")
}

func (w *Worker) markFailed(jobID string, logger *slog.Logger, errText string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	err := w.queue.UpdateJob(ctx, jobID, map[string]any{
		"status":     domain.JobStatusFailed,
		"last_error": errText,
	})
	if err != nil {
		logger.Error("Failed to mark job failed",
			slog.Any("error", err),
		)
	}
}
