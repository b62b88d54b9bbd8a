package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spectragram/benchworker/internal/api/dto"
	"github.com/spectragram/benchworker/internal/api/storage"
	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// Status handles GET /status
// Reports service identity, uptime, and the polling worker's job counters
func (h *BenchmarkHandler) Status(c *gin.Context) {
	resp := dto.StatusResponse{
		Service:     h.app.Name,
		Version:     h.app.Version,
		Environment: h.app.Environment,
		UptimeS:     time.Since(h.startedAt).Seconds(),
	}

	if h.stats != nil {
		s := h.stats.Stats()
		resp.Worker = dto.WorkerStatsDTO{
			JobsAttempted: s.JobsAttempted,
			JobsDone:      s.JobsDone,
			JobsFailed:    s.JobsFailed,
		}
		if !s.LastJobAt.IsZero() {
			resp.Worker.LastJobAt = s.LastJobAt.Format(time.RFC3339)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ListRuns handles GET /api/v1/benchmarks/:benchmark_id/runs
// Lists a benchmark's runs, newest first, with cursor pagination
func (h *BenchmarkHandler) ListRuns(c *gin.Context) {
	benchmarkID := c.Param("benchmark_id")

	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), storage.RunFilter{
		BenchmarkID: benchmarkID,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	runResponse := make([]dto.RunDTO, len(runs))
	for i, run := range runs {
		runResponse[i] = toRunDTO(run)
	}

	var nextCursor string
	if hasMore {
		last := runs[len(runs)-1]
		nextCursor = EncodeRunCursor(&storage.RunCursor{JobRunID: last.JobRunID})
	}

	c.JSON(http.StatusOK, dto.ListRunsResponse{
		Runs:       runResponse,
		NextCursor: nextCursor,
	})
}

// GetRunSummary handles GET /api/v1/benchmarks/:benchmark_id/runs/:job_run_id/summary
// Returns the per-bucket metric summary of one run
func (h *BenchmarkHandler) GetRunSummary(c *gin.Context) {
	benchmarkID := c.Param("benchmark_id")

	jobRunID, err := strconv.ParseInt(c.Param("job_run_id"), 10, 64)
	if err != nil || jobRunID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_run_id must be a positive integer",
		})
		return
	}

	run, err := h.runs.GetRun(c.Request.Context(), benchmarkID, jobRunID)
	if err != nil {
		h.logger.Error("Failed to get run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Run not found",
		})
		return
	}

	h.writeSummary(c, benchmarkID, jobRunID)
}

// GetLatestSummary handles GET /api/v1/benchmarks/:benchmark_id/summary
// Returns the metric summary of the benchmark's most recent run
func (h *BenchmarkHandler) GetLatestSummary(c *gin.Context) {
	benchmarkID := c.Param("benchmark_id")

	run, err := h.store.LatestJobRun(c.Request.Context(), benchmarkID)
	if err != nil {
		h.logger.Error("Failed to get latest run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get latest run",
		})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Benchmark has no runs",
		})
		return
	}

	h.writeSummary(c, benchmarkID, run.JobRunID)
}

func (h *BenchmarkHandler) writeSummary(c *gin.Context, benchmarkID string, jobRunID int64) {
	summary, err := h.store.CollectMetricSummary(c.Request.Context(), benchmarkID, jobRunID)
	if err != nil {
		h.logger.Error("Failed to collect metric summary",
			slog.Int64("job_run_id", jobRunID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to collect metric summary",
		})
		return
	}
	if summary == nil {
		summary = []domain.SummaryRow{}
	}

	c.JSON(http.StatusOK, dto.SummaryResponse{
		BenchmarkID:   benchmarkID,
		JobRunID:      jobRunID,
		MetricSummary: summary,
	})
}

func toRunDTO(run domain.JobRun) dto.RunDTO {
	out := dto.RunDTO{
		JobRunID:    run.JobRunID,
		BenchmarkID: run.BenchmarkID,
		EvalVersion: run.EvalVersion,
		Status:      run.Status,
		StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
		ErrorText:   run.ErrorText,
	}
	if run.EndedAt != nil {
		out.EndedAt = run.EndedAt.UTC().Format(time.RFC3339)
	}
	return out
}
