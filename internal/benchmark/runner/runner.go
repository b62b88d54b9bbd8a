package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spectragram/benchworker/internal/benchmark/dataset"
	"github.com/spectragram/benchworker/internal/benchmark/domain"
	"github.com/spectragram/benchworker/internal/benchmark/evaluation"
	"github.com/spectragram/benchworker/internal/benchmark/executor"
	"github.com/spectragram/benchworker/internal/benchmark/provider"
	"github.com/spectragram/benchworker/internal/benchmark/store"
	"github.com/spectragram/benchworker/internal/benchmark/writer"
)

// finalizeTimeout bounds the status writes that must land even when the job
// context is already cancelled.
const finalizeTimeout = 10 * time.Second

// Config holds the execution caps applied to every run handled by the
// controller. Zero disables a cap.
type Config struct {
	MaxUtterances int
	MaxPerSubset  int
	WriterBatch   int
}

// Controller owns the lifecycle of one benchmark run: decide between fresh,
// resume, and already-completed, drive the inference pool, evaluate, and
// report the outcome.
type Controller struct {
	store     *store.Store
	datasets  *dataset.Registry
	providers *provider.Registry
	evals     *evaluation.Registry
	cfg       Config
	logger    *slog.Logger
}

// New creates a controller.
func New(st *store.Store, datasets *dataset.Registry, providers *provider.Registry, evals *evaluation.Registry, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		store:     st,
		datasets:  datasets,
		providers: providers,
		evals:     evals,
		cfg:       cfg,
		logger:    logger,
	}
}

// jobPayload is the queue payload of a post_onboard_eval job.
type jobPayload struct {
	Config       json.RawMessage `json:"config"`
	MaxPerSubset *int            `json:"max_per_subset"`
}

// Handle runs one post_onboard_eval job. A returned error means the job
// failed; an unfavorable status inside the result (aborted) is still a
// successfully handled job.
func (c *Controller) Handle(ctx context.Context, payload json.RawMessage) (domain.HandlerResult, error) {
	var p jobPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return domain.HandlerResult{}, fmt.Errorf("failed to parse job payload: %w", err)
		}
	}
	if len(p.Config) == 0 {
		return domain.HandlerResult{}, fmt.Errorf("job payload must include a 'config' object")
	}

	cfg, err := domain.ParseJobConfig(p.Config)
	if err != nil {
		return domain.HandlerResult{}, err
	}

	maxPerSubset := c.cfg.MaxPerSubset
	if p.MaxPerSubset != nil {
		maxPerSubset = *p.MaxPerSubset
	}
	return c.Run(ctx, cfg, c.cfg.MaxUtterances, maxPerSubset)
}

// Run executes one benchmark to a terminal state.
func (c *Controller) Run(ctx context.Context, cfg *domain.JobConfig, maxUtterances, maxPerSubset int) (domain.HandlerResult, error) {
	apiKey, err := cfg.APIKey()
	if err != nil {
		return domain.HandlerResult{}, err
	}

	pipeline, err := c.evals.Get(cfg.EvaluationVersion)
	if err != nil {
		return domain.HandlerResult{}, err
	}
	profile := pipeline.InferenceProfile()

	client, err := c.providers.New(cfg.Provider, apiKey, profile.Timeout, c.logger)
	if err != nil {
		return domain.HandlerResult{}, err
	}

	// Decide: already completed, resume, or fresh run.
	resumed := false
	var jobRunID int64

	last, err := c.store.LatestJobRun(ctx, cfg.BenchmarkID)
	if err != nil {
		return domain.HandlerResult{}, err
	}
	switch {
	case last != nil && last.Status == domain.RunStatusCompleted:
		c.logger.Info("Benchmark previously completed, nothing to do",
			slog.String("benchmark_id", cfg.BenchmarkID),
			slog.Int64("job_run_id", last.JobRunID),
		)
		return c.buildResult(ctx, cfg.BenchmarkID, last.JobRunID, domain.ResultAlreadyCompleted, false), nil

	case last != nil && (last.Status == domain.RunStatusRunning || last.Status == domain.RunStatusFailed):
		if err := c.store.ReopenJobRun(ctx, last.JobRunID); err != nil {
			return domain.HandlerResult{}, err
		}
		resumed = true
		jobRunID = last.JobRunID

	default:
		if err := c.store.EnsureBenchmark(ctx, cfg); err != nil {
			return domain.HandlerResult{}, err
		}
		providerID, modelID, err := c.store.EnsureProviderModel(ctx, cfg.Provider, cfg.Model)
		if err != nil {
			return domain.HandlerResult{}, err
		}
		jobRunID, err = c.store.CreateJobRun(ctx, cfg.BenchmarkID, providerID, modelID, cfg.EvaluationVersion)
		if err != nil {
			return domain.HandlerResult{}, err
		}
	}

	tasks, err := BuildTasks(ctx, c.datasets, cfg)
	if err != nil {
		c.finishRun(jobRunID, domain.RunStatusFailed, err.Error())
		return domain.HandlerResult{}, err
	}
	tasks = CapTasks(tasks, maxUtterances, maxPerSubset)

	c.logger.Info("Starting benchmark run",
		slog.String("benchmark_id", cfg.BenchmarkID),
		slog.Int64("job_run_id", jobRunID),
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
		slog.Bool("resumed", resumed),
		slog.Int("tasks", len(tasks)),
	)

	// Inference phase. Every mutation flows through the writer.
	w := writer.New(c.store, c.logger, c.cfg.WriterBatch)
	w.Start()

	limiter := executor.NewRateLimiter(profile.RPS)
	counts := executor.Run(ctx, c.logger, tasks, profile.Concurrency, func(ctx context.Context, task domain.Task) domain.Outcome {
		return c.inferOne(ctx, w, limiter, client, cfg, jobRunID, task)
	})

	werr := w.Stop()

	if ctx.Err() != nil {
		c.finishRun(jobRunID, domain.RunStatusAborted, "")
		c.logger.Warn("Benchmark run aborted",
			slog.Int64("job_run_id", jobRunID),
			slog.Int("cancelled", counts.Cancelled),
		)
		result := domain.HandlerResult{
			Status:      domain.ResultAborted,
			BenchmarkID: cfg.BenchmarkID,
			JobRunID:    jobRunID,
			Resumed:     resumed,
			FinishedAt:  isoNow(),
		}
		return result, nil
	}

	if werr != nil {
		c.finishRun(jobRunID, domain.RunStatusFailed, werr.Error())
		return domain.HandlerResult{}, fmt.Errorf("writer failed: %w", werr)
	}

	// Evaluation phase.
	if err := c.evaluate(ctx, pipeline, jobRunID); err != nil {
		status := domain.RunStatusFailed
		if ctx.Err() != nil {
			status = domain.RunStatusAborted
		}
		c.finishRun(jobRunID, status, err.Error())
		return domain.HandlerResult{}, err
	}

	if err := c.store.FinishJobRun(ctx, jobRunID, domain.RunStatusCompleted, ""); err != nil {
		return domain.HandlerResult{}, err
	}

	c.logger.Info("Benchmark run completed",
		slog.Int64("job_run_id", jobRunID),
		slog.Int("ok", counts.OK),
		slog.Int("skipped", counts.Skipped),
		slog.Int("errors", counts.Errors),
	)

	return c.buildResult(ctx, cfg.BenchmarkID, jobRunID, domain.ResultCompleted, resumed), nil
}

// inferOne executes one task to a terminal outcome. Failures stay isolated to
// the task: the utterance is retried on the next resume.
func (c *Controller) inferOne(ctx context.Context, w *writer.Writer, limiter *executor.RateLimiter, client provider.Client, cfg *domain.JobConfig, jobRunID int64, task domain.Task) domain.Outcome {
	if ctx.Err() != nil {
		return domain.OutcomeCancelled
	}

	ids, err := w.ResolveIdentity(ctx, task.DatasetName, task.Variant, task.Utt)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OutcomeCancelled
		}
		c.logger.Warn("Identity resolution failed",
			slog.String("utt", task.Utt.ExternalID),
			slog.Any("error", err),
		)
		return domain.OutcomeError
	}

	exists, err := c.store.PredictionExists(ctx, jobRunID, ids.UttPK)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OutcomeCancelled
		}
		c.logger.Warn("Prediction lookup failed",
			slog.String("utt", task.Utt.ExternalID),
			slog.Any("error", err),
		)
		return domain.OutcomeError
	}
	if exists {
		return domain.OutcomeSkipped
	}

	// Rate limit only actual provider calls; skips must not consume slots.
	if !limiter.Wait(ctx) {
		return domain.OutcomeCancelled
	}

	transcript, elapsedS, err := client.Transcribe(ctx, task.Utt.AudioPath, provider.Params{
		Model:    cfg.Model,
		Language: "en",
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.OutcomeCancelled
		}
		c.logger.Warn("Inference failed",
			slog.String("utt", task.Utt.ExternalID),
			slog.Any("error", err),
		)
		return domain.OutcomeError
	}

	rtf := 0.0
	rtfMissing := true
	if task.Utt.DurationS != nil && *task.Utt.DurationS > 0 {
		rtf = elapsedS / *task.Utt.DurationS
		rtfMissing = false
	}

	err = w.Submit(ctx, writer.InsertPrediction{
		JobRunID:           jobRunID,
		UttPK:              ids.UttPK,
		Transcript:         transcript,
		TotalTimeMS:        elapsedS * 1000.0,
		RTF:                rtf,
		RTFMissingDuration: rtfMissing,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.OutcomeCancelled
		}
		c.logger.Warn("Prediction write failed",
			slog.String("utt", task.Utt.ExternalID),
			slog.Any("error", err),
		)
		return domain.OutcomeError
	}
	return domain.OutcomeOK
}

// evaluate scores the run's predictions and persists the per-bucket metrics
// through a fresh writer.
func (c *Controller) evaluate(ctx context.Context, pipeline evaluation.Pipeline, jobRunID int64) error {
	rows, err := c.store.EvalRows(ctx, jobRunID)
	if err != nil {
		return err
	}

	results, err := pipeline.Evaluate(ctx, c.logger, rows)
	if err != nil {
		return err
	}

	w := writer.New(c.store, c.logger, c.cfg.WriterBatch)
	w.Start()
	for _, bucket := range results {
		batch := writer.InsertSummaryBatch{JobRunID: jobRunID}
		for _, m := range bucket.Metrics {
			batch.Metrics = append(batch.Metrics, writer.MetricEntry{
				DatasetID: bucket.DatasetID,
				VariantID: bucket.VariantID,
				Metric:    m.Metric,
				Value:     m.Value,
			})
		}
		for _, ci := range bucket.Intervals {
			batch.Intervals = append(batch.Intervals, writer.IntervalEntry{
				DatasetID: bucket.DatasetID,
				VariantID: bucket.VariantID,
				CI:        ci,
			})
		}
		if err := w.Submit(ctx, batch); err != nil {
			w.Stop()
			return err
		}
	}
	return w.Stop()
}

// buildResult assembles the payload reported back to the queue service. A
// summary collection failure degrades the payload instead of failing the job.
func (c *Controller) buildResult(ctx context.Context, benchmarkID string, jobRunID int64, status string, resumed bool) domain.HandlerResult {
	result := domain.HandlerResult{
		OK:          status == domain.ResultCompleted || status == domain.ResultAlreadyCompleted,
		Status:      status,
		BenchmarkID: benchmarkID,
		JobRunID:    jobRunID,
		Resumed:     resumed,
		FinishedAt:  isoNow(),
	}

	summary, err := c.store.CollectMetricSummary(ctx, benchmarkID, jobRunID)
	if err != nil {
		result.MetricSummaryError = fmt.Sprintf("metric_summary_failed: %v", err)
		return result
	}
	result.MetricSummary = summary
	return result
}

// finishRun records a terminal status even when the job context is gone.
func (c *Controller) finishRun(jobRunID int64, status, errText string) {
	if jobRunID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := c.store.FinishJobRun(ctx, jobRunID, status, errText); err != nil {
		c.logger.Error("Failed to record run status",
			slog.Int64("job_run_id", jobRunID),
			slog.String("status", status),
			slog.Any("error", err),
		)
	}
}

func isoNow() string {
	return time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
