package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// Storage serves the API's read-only queries against the benchmark result store.
type Storage struct {
	db *sqlx.DB
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// RunFilter narrows and paginates a run listing
type RunFilter struct {
	BenchmarkID string
	Status      string
	PageSize    int
	Cursor      *RunCursor
}

// RunCursor marks the position after the last run of the previous page.
// job_run_id is monotonically increasing, so it orders runs by recency on
// its own.
type RunCursor struct {
	JobRunID int64
}

// ListRuns returns up to PageSize+1 runs, newest first. The extra row tells
// the caller whether a next page exists.
func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]domain.JobRun, error) {
	query := `
		SELECT job_run_id, benchmark_id, provider_id, model_id, eval_version,
		       started_at, ended_at, status, error_text, env_json
		FROM job_run
		WHERE benchmark_id = ?
	`
	args := []any{filter.BenchmarkID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Cursor != nil {
		query += " AND job_run_id < ?"
		args = append(args, filter.Cursor.JobRunID)
	}

	query += " ORDER BY job_run_id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var runs []domain.JobRun
	if err := s.db.SelectContext(ctx, &runs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run scoped to its benchmark, or nil when no such run exists.
func (s *Storage) GetRun(ctx context.Context, benchmarkID string, jobRunID int64) (*domain.JobRun, error) {
	query := s.db.Rebind(`
		SELECT job_run_id, benchmark_id, provider_id, model_id, eval_version,
		       started_at, ended_at, status, error_text, env_json
		FROM job_run
		WHERE benchmark_id = ? AND job_run_id = ?
	`)

	var run domain.JobRun
	err := s.db.GetContext(ctx, &run, query, benchmarkID, jobRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return &run, nil
}
