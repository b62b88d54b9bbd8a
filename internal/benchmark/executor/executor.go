package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// TaskFunc executes one inference task to a terminal outcome. Implementations
// must isolate their own failures (an error outcome, never a panic).
type TaskFunc func(ctx context.Context, task domain.Task) domain.Outcome

// Run drives tasks through a bounded worker pool. Dispatch follows the input
// order; completion order is first-available. Once ctx is cancelled no new
// task is dispatched, but in-flight tasks are allowed to finish. Tasks never
// dispatched are counted as cancelled.
func Run(ctx context.Context, logger *slog.Logger, tasks []domain.Task, concurrency int, fn TaskFunc) domain.OutcomeCounts {
	if concurrency <= 0 {
		concurrency = 1
	}

	logger.Info("Starting task executor",
		slog.Int("tasks", len(tasks)),
		slog.Int("concurrency", concurrency),
	)

	taskCh := make(chan domain.Task)
	outcomes := make(chan domain.Outcome, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				outcomes <- fn(ctx, task)
			}
		}()
	}

	dispatched := 0
feed:
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			break feed
		case taskCh <- task:
			dispatched++
		}
	}
	close(taskCh)

	wg.Wait()
	close(outcomes)

	var counts domain.OutcomeCounts
	for o := range outcomes {
		counts.Add(o)
	}
	counts.Cancelled += len(tasks) - dispatched

	logger.Info("Task executor finished",
		slog.Int("ok", counts.OK),
		slog.Int("skipped", counts.Skipped),
		slog.Int("errors", counts.Errors),
		slog.Int("cancelled", counts.Cancelled),
	)

	return counts
}
