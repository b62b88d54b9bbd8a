package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// Store handles all database operations for the benchmark result store.
// Methods that accept an sqlx.ExtContext run on either the pooled connection
// or a writer transaction.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying handle for the writer's transactions.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// ---------------------------------------------------------------------------
// Benchmark + JobRun lifecycle
// ---------------------------------------------------------------------------

// EnsureBenchmark creates the benchmark row if it does not exist yet.
// Benchmarks are immutable after creation, so a second sighting is a no-op.
func (s *Store) EnsureBenchmark(ctx context.Context, cfg *domain.JobConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal benchmark config: %w", err)
	}

	query := s.db.Rebind(`
		INSERT INTO benchmark (benchmark_id, created_at, config_json, notes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (benchmark_id) DO NOTHING
	`)
	_, err = s.db.ExecContext(ctx, query, cfg.BenchmarkID, time.Now().UTC(), string(configJSON), cfg.RunNotes)
	if err != nil {
		return fmt.Errorf("failed to ensure benchmark: %w", err)
	}
	return nil
}

// LatestJobRun returns the most recent run for a benchmark, or nil when the
// benchmark has never been executed.
func (s *Store) LatestJobRun(ctx context.Context, benchmarkID string) (*domain.JobRun, error) {
	query := s.db.Rebind(`
		SELECT job_run_id, benchmark_id, provider_id, model_id, eval_version,
		       started_at, ended_at, status, error_text, env_json
		FROM job_run
		WHERE benchmark_id = ?
		ORDER BY job_run_id DESC
		LIMIT 1
	`)

	var run domain.JobRun
	err := s.db.GetContext(ctx, &run, query, benchmarkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest job run: %w", err)
	}
	return &run, nil
}

// EnsureProviderModel resolves (or creates) the provider and model rows.
func (s *Store) EnsureProviderModel(ctx context.Context, providerName, modelName string) (providerID, modelID int64, err error) {
	insProvider := s.db.Rebind(`INSERT INTO provider (name, sdk) VALUES (?, 'go') ON CONFLICT (name) DO NOTHING`)
	if _, err = s.db.ExecContext(ctx, insProvider, providerName); err != nil {
		return 0, 0, fmt.Errorf("failed to insert provider: %w", err)
	}
	selProvider := s.db.Rebind(`SELECT provider_id FROM provider WHERE name = ?`)
	if err = s.db.GetContext(ctx, &providerID, selProvider, providerName); err != nil {
		return 0, 0, fmt.Errorf("failed to read provider: %w", err)
	}

	insModel := s.db.Rebind(`INSERT INTO model (provider_id, name) VALUES (?, ?) ON CONFLICT (provider_id, name) DO NOTHING`)
	if _, err = s.db.ExecContext(ctx, insModel, providerID, modelName); err != nil {
		return 0, 0, fmt.Errorf("failed to insert model: %w", err)
	}
	selModel := s.db.Rebind(`SELECT model_id FROM model WHERE provider_id = ? AND name = ?`)
	if err = s.db.GetContext(ctx, &modelID, selModel, providerID, modelName); err != nil {
		return 0, 0, fmt.Errorf("failed to read model: %w", err)
	}

	return providerID, modelID, nil
}

// CreateJobRun inserts a fresh running JobRun and returns its id.
func (s *Store) CreateJobRun(ctx context.Context, benchmarkID string, providerID, modelID int64, evalVersion string) (int64, error) {
	env := map[string]string{
		"go":       runtime.Version(),
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
	}
	envJSON, _ := json.Marshal(env)

	query := s.db.Rebind(`
		INSERT INTO job_run (benchmark_id, provider_id, model_id, eval_version, started_at, status, env_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING job_run_id
	`)

	var id int64
	err := s.db.GetContext(ctx, &id, query,
		benchmarkID, providerID, modelID, evalVersion, time.Now().UTC(), domain.RunStatusRunning, string(envJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to create job run: %w", err)
	}

	s.logger.Info("Job run created",
		slog.Int64("job_run_id", id),
		slog.String("benchmark_id", benchmarkID),
	)
	return id, nil
}

// ReopenJobRun brings a running/failed run back to running, clearing its end
// time and error text so a resume continues where predictions left off.
func (s *Store) ReopenJobRun(ctx context.Context, jobRunID int64) error {
	query := s.db.Rebind(`
		UPDATE job_run
		SET status = ?, ended_at = NULL, error_text = ''
		WHERE job_run_id = ?
	`)

	res, err := s.db.ExecContext(ctx, query, domain.RunStatusRunning, jobRunID)
	if err != nil {
		return fmt.Errorf("failed to reopen job run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id=%d", domain.ErrRunNotFound, jobRunID)
	}

	s.logger.Info("Job run reopened for resume",
		slog.Int64("job_run_id", jobRunID),
	)
	return nil
}

// FinishJobRun sets a terminal (or failed) status with the end timestamp.
func (s *Store) FinishJobRun(ctx context.Context, jobRunID int64, status, errorText string) error {
	query := s.db.Rebind(`
		UPDATE job_run
		SET status = ?, ended_at = ?, error_text = ?
		WHERE job_run_id = ?
	`)

	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), errorText, jobRunID)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id=%d", domain.ErrRunNotFound, jobRunID)
	}

	s.logger.Info("Job run finished",
		slog.Int64("job_run_id", jobRunID),
		slog.String("status", status),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Identity resolution (dataset / variant / utterance)
// ---------------------------------------------------------------------------

// UpsertIdentity resolves the primary keys for one (dataset, variant,
// utterance), creating rows on first sighting. Duplicate-key races are
// resolved by re-reading the existing row. ext may be a transaction.
func (s *Store) UpsertIdentity(ctx context.Context, ext sqlx.ExtContext, datasetName string, variant domain.Variant, utt domain.Utterance) (domain.IdentityIDs, error) {
	var ids domain.IdentityIDs

	datasetID, err := s.ensureRow(ctx, ext,
		`INSERT INTO dataset (name) VALUES (?) ON CONFLICT (name) DO NOTHING`,
		`SELECT dataset_id FROM dataset WHERE name = ?`,
		datasetName)
	if err != nil {
		return ids, fmt.Errorf("failed to ensure dataset %q: %w", datasetName, err)
	}

	variantID, err := s.ensureRow(ctx, ext,
		`INSERT INTO dataset_variant (dataset_id, variant_json) VALUES (?, ?) ON CONFLICT (dataset_id, variant_json) DO NOTHING`,
		`SELECT variant_id FROM dataset_variant WHERE dataset_id = ? AND variant_json = ?`,
		datasetID, variant.Key())
	if err != nil {
		return ids, fmt.Errorf("failed to ensure dataset variant: %w", err)
	}

	metaJSON, _ := json.Marshal(utt.Meta)
	var duration sql.NullFloat64
	if utt.DurationS != nil {
		duration = sql.NullFloat64{Float64: *utt.DurationS, Valid: true}
	}

	ins := ext.Rebind(`
		INSERT INTO utterance (dataset_id, variant_id, external_id, audio_path, ref_text, duration_s, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset_id, variant_id, external_id) DO NOTHING
	`)
	if _, err := ext.ExecContext(ctx, ins, datasetID, variantID, utt.ExternalID, utt.AudioPath, utt.RefText, duration, string(metaJSON)); err != nil {
		return ids, fmt.Errorf("failed to insert utterance: %w", err)
	}

	var uttPK int64
	sel := ext.Rebind(`SELECT utt_pk FROM utterance WHERE dataset_id = ? AND variant_id = ? AND external_id = ?`)
	if err := sqlx.GetContext(ctx, ext, &uttPK, sel, datasetID, variantID, utt.ExternalID); err != nil {
		return ids, fmt.Errorf("failed to read utterance: %w", err)
	}

	return domain.IdentityIDs{DatasetID: datasetID, VariantID: variantID, UttPK: uttPK}, nil
}

// ensureRow is insert-if-absent followed by a read of the surviving row.
func (s *Store) ensureRow(ctx context.Context, ext sqlx.ExtContext, insert, sel string, args ...any) (int64, error) {
	if _, err := ext.ExecContext(ctx, ext.Rebind(insert), args...); err != nil {
		return 0, err
	}
	var id int64
	if err := sqlx.GetContext(ctx, ext, &id, ext.Rebind(sel), args...); err != nil {
		return 0, err
	}
	return id, nil
}

// ---------------------------------------------------------------------------
// Predictions + latency samples
// ---------------------------------------------------------------------------

// PredictionExists reports whether this utterance already has a prediction for
// the given run. This is the run's sole idempotency marker.
func (s *Store) PredictionExists(ctx context.Context, jobRunID, uttPK int64) (bool, error) {
	query := s.db.Rebind(`SELECT prediction_id FROM prediction WHERE job_run_id = ? AND utt_pk = ? LIMIT 1`)

	var id int64
	err := s.db.GetContext(ctx, &id, query, jobRunID, uttPK)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check prediction existence: %w", err)
	}
	return true, nil
}

// InsertPrediction writes a prediction and its latency sample. Re-insertion
// for the same (job_run_id, utt_pk) is a no-op so resume races stay harmless.
func (s *Store) InsertPrediction(ctx context.Context, ext sqlx.ExtContext, jobRunID, uttPK int64, tr domain.Transcript, totalTimeMS, rtf float64, rtfMissingDuration bool) error {
	words := "{}"
	if len(tr.Words) > 0 {
		words = string(tr.Words)
	}
	usage := "{}"
	if len(tr.Usage) > 0 {
		usage = string(tr.Usage)
	}

	insPred := ext.Rebind(`
		INSERT INTO prediction (job_run_id, utt_pk, hyp_text, words_json, usage_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_run_id, utt_pk) DO NOTHING
	`)
	if _, err := ext.ExecContext(ctx, insPred, jobRunID, uttPK, tr.Text, words, usage, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	meta := "{}"
	if rtfMissingDuration {
		meta = `{"rtf_missing_duration":true}`
	}

	insLat := ext.Rebind(`
		INSERT INTO latency_sample (job_run_id, utt_pk, api_time_ms, total_time_ms, rtf, meta_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_run_id, utt_pk) DO NOTHING
	`)
	if _, err := ext.ExecContext(ctx, insLat, jobRunID, uttPK, totalTimeMS, totalTimeMS, rtf, meta); err != nil {
		return fmt.Errorf("failed to insert latency sample: %w", err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Evaluation reads and writes
// ---------------------------------------------------------------------------

type evalRow struct {
	DatasetID   int64           `db:"dataset_id"`
	DatasetName string          `db:"dataset_name"`
	VariantID   int64           `db:"variant_id"`
	RefText     string          `db:"ref_text"`
	HypText     string          `db:"hyp_text"`
	TotalTimeMS float64         `db:"total_time_ms"`
	DurationS   sql.NullFloat64 `db:"duration_s"`
}

// EvalRows returns every prediction of a run joined to its utterance and
// latency sample, ordered by utterance key for deterministic bucketing.
func (s *Store) EvalRows(ctx context.Context, jobRunID int64) ([]domain.EvalRow, error) {
	query := s.db.Rebind(`
		SELECT d.dataset_id, d.name AS dataset_name, v.variant_id,
		       u.ref_text, p.hyp_text, l.total_time_ms, u.duration_s
		FROM prediction p
		JOIN utterance u ON u.utt_pk = p.utt_pk
		JOIN dataset d ON d.dataset_id = u.dataset_id
		JOIN dataset_variant v ON v.variant_id = u.variant_id
		JOIN latency_sample l ON l.job_run_id = p.job_run_id AND l.utt_pk = p.utt_pk
		WHERE p.job_run_id = ?
		ORDER BY u.utt_pk
	`)

	var raw []evalRow
	if err := s.db.SelectContext(ctx, &raw, query, jobRunID); err != nil {
		return nil, fmt.Errorf("failed to load evaluation rows: %w", err)
	}

	rows := make([]domain.EvalRow, 0, len(raw))
	for _, r := range raw {
		row := domain.EvalRow{
			DatasetID:   r.DatasetID,
			DatasetName: r.DatasetName,
			VariantID:   r.VariantID,
			RefText:     r.RefText,
			HypText:     r.HypText,
			TotalTimeMS: r.TotalTimeMS,
		}
		if r.DurationS.Valid {
			d := r.DurationS.Float64
			row.DurationS = &d
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// InsertMetricSummary writes one scalar metric for a bucket.
func (s *Store) InsertMetricSummary(ctx context.Context, ext sqlx.ExtContext, jobRunID, datasetID, variantID int64, metric string, value float64) error {
	query := ext.Rebind(`
		INSERT INTO metric_summary (job_run_id, dataset_id, variant_id, metric, value)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := ext.ExecContext(ctx, query, jobRunID, datasetID, variantID, metric, value); err != nil {
		return fmt.Errorf("failed to insert metric summary: %w", err)
	}
	return nil
}

// InsertBootstrapResult writes one confidence interval row for a bucket.
func (s *Store) InsertBootstrapResult(ctx context.Context, ext sqlx.ExtContext, jobRunID, datasetID, variantID int64, ci domain.CIResult) error {
	query := ext.Rebind(`
		INSERT INTO bootstrap_result (job_run_id, dataset_id, variant_id, metric, ci_low, ci_high, iterations, method, seed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := ext.ExecContext(ctx, query, jobRunID, datasetID, variantID, ci.Metric, ci.CILow, ci.CIHigh, ci.Iterations, ci.Method, ci.Seed); err != nil {
		return fmt.Errorf("failed to insert bootstrap result: %w", err)
	}
	return nil
}
