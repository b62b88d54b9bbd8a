package dto

import "github.com/spectragram/benchworker/internal/benchmark/domain"

type ListRunsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	JobRunID    int64  `json:"job_run_id"`
	BenchmarkID string `json:"benchmark_id"`
	EvalVersion string `json:"eval_version"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at,omitempty"`
	ErrorText   string `json:"error_text,omitempty"`
}

type SummaryResponse struct {
	BenchmarkID   string              `json:"benchmark_id"`
	JobRunID      int64               `json:"job_run_id"`
	MetricSummary []domain.SummaryRow `json:"metric_summary"`
}

type StatusResponse struct {
	Service     string         `json:"service"`
	Version     string         `json:"version"`
	Environment string         `json:"environment"`
	UptimeS     float64        `json:"uptime_s"`
	Worker      WorkerStatsDTO `json:"worker"`
}

type WorkerStatsDTO struct {
	JobsAttempted int64  `json:"jobs_attempted"`
	JobsDone      int64  `json:"jobs_done"`
	JobsFailed    int64  `json:"jobs_failed"`
	LastJobAt     string `json:"last_job_at,omitempty"`
}
