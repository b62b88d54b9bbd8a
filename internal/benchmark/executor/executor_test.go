package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeTasks(n int) []domain.Task {
	tasks := make([]domain.Task, n)
	for i := range tasks {
		tasks[i] = domain.Task{
			DatasetName: "librispeech",
			Variant:     domain.Variant{"subset": "clean"},
			Utt:         domain.Utterance{ExternalID: fmt.Sprintf("utt-%03d", i)},
		}
	}
	return tasks
}

func TestRun_AllTasksComplete(t *testing.T) {
	tasks := makeTasks(10)

	counts := Run(context.Background(), testLogger(), tasks, 3, func(ctx context.Context, task domain.Task) domain.Outcome {
		return domain.OutcomeOK
	})

	assert.Equal(t, 10, counts.OK)
	assert.Equal(t, 10, counts.Total())
}

func TestRun_MixedOutcomes(t *testing.T) {
	tasks := makeTasks(8)

	var i atomic.Int32
	counts := Run(context.Background(), testLogger(), tasks, 2, func(ctx context.Context, task domain.Task) domain.Outcome {
		switch i.Add(1) % 4 {
		case 0:
			return domain.OutcomeError
		case 1:
			return domain.OutcomeSkipped
		default:
			return domain.OutcomeOK
		}
	})

	assert.Equal(t, 4, counts.OK)
	assert.Equal(t, 2, counts.Skipped)
	assert.Equal(t, 2, counts.Errors)
	assert.Equal(t, 8, counts.Total())
}

func TestRun_ConcurrencyBound(t *testing.T) {
	tasks := makeTasks(20)

	var inFlight, peak atomic.Int32
	Run(context.Background(), testLogger(), tasks, 3, func(ctx context.Context, task domain.Task) domain.Outcome {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return domain.OutcomeOK
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	tasks := makeTasks(6)
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	counts := Run(ctx, testLogger(), tasks, 2, func(ctx context.Context, task domain.Task) domain.Outcome {
		if started.Add(1) == 2 {
			cancel()
		}
		<-ctx.Done()
		return domain.OutcomeCancelled
	})

	assert.Equal(t, 0, counts.OK)
	assert.Equal(t, len(tasks), counts.Total())
	assert.Equal(t, len(tasks), counts.Cancelled)
}

func TestRun_ZeroConcurrencyStillRuns(t *testing.T) {
	tasks := makeTasks(3)

	counts := Run(context.Background(), testLogger(), tasks, 0, func(ctx context.Context, task domain.Task) domain.Outcome {
		return domain.OutcomeOK
	})

	assert.Equal(t, 3, counts.OK)
}

func TestRateLimiter_SpacesCalls(t *testing.T) {
	limiter := NewRateLimiter(100)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.True(t, limiter.Wait(context.Background()))
	}
	// Four waits at 100 rps need at least 40ms after the initial grant.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRateLimiter_CancelledWait(t *testing.T) {
	limiter := NewRateLimiter(0.1)
	require.True(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.False(t, limiter.Wait(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
}
