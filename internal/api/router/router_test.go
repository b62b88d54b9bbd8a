package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/spectragram/benchworker/internal/api/handler"
	"github.com/spectragram/benchworker/internal/api/storage"
	"github.com/spectragram/benchworker/internal/benchmark/domain"
	"github.com/spectragram/benchworker/internal/benchmark/store"
	"github.com/spectragram/benchworker/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubStats struct {
	stats worker.Stats
}

func (s *stubStats) Stats() worker.Stats { return s.stats }

type apiEnv struct {
	store  *store.Store
	router *gin.Engine
}

func newAPIEnv(t *testing.T, stats handler.StatsSource) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.NewStore(db, testLogger())
	require.NoError(t, st.Init(context.Background()))

	r := SetupRouter(&handler.Dependencies{
		Logger: testLogger(),
		Store:  st,
		Runs:   storage.NewStorage(db),
		Stats:  stats,
		App: handler.AppInfo{
			Name:        "bench-worker",
			Version:     "1.0.0",
			Environment: "test",
		},
	})
	return &apiEnv{store: st, router: r}
}

func (e *apiEnv) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

// seedRuns creates n finished runs for a benchmark and returns their ids in
// creation order.
func (e *apiEnv) seedRuns(t *testing.T, benchmarkID string, n int) []int64 {
	t.Helper()
	ctx := context.Background()

	cfg := &domain.JobConfig{
		BenchmarkID: benchmarkID,
		Provider:    "deepgram",
		Model:       "nova-3",
		ApiKeys:     map[string]string{"deepgram": "k"},
		Datasets:    []string{"librispeech"},
	}
	require.NoError(t, e.store.EnsureBenchmark(ctx, cfg))
	providerID, modelID, err := e.store.EnsureProviderModel(ctx, cfg.Provider, cfg.Model)
	require.NoError(t, err)

	ids := make([]int64, n)
	for i := range ids {
		id, err := e.store.CreateJobRun(ctx, benchmarkID, providerID, modelID, "v1")
		require.NoError(t, err)
		require.NoError(t, e.store.FinishJobRun(ctx, id, domain.RunStatusCompleted, ""))
		ids[i] = id
	}
	return ids
}

func (e *apiEnv) seedMetrics(t *testing.T, runID int64) {
	t.Helper()
	ctx := context.Background()

	dur := 2.0
	ids, err := e.store.UpsertIdentity(ctx, e.store.DB(), "librispeech", domain.Variant{"subset": "clean"}, domain.Utterance{
		ExternalID: fmt.Sprintf("utt-%d", runID),
		AudioPath:  "a.wav",
		RefText:    "the cat sat",
		DurationS:  &dur,
	})
	require.NoError(t, err)
	require.NoError(t, e.store.InsertPrediction(ctx, e.store.DB(), runID, ids.UttPK, domain.Transcript{Text: "the cat sat"}, 420.0, 0.21, false))
	require.NoError(t, e.store.InsertMetricSummary(ctx, e.store.DB(), runID, ids.DatasetID, ids.VariantID, domain.MetricWER, 0.125))
}

func TestRouter_Health(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})

	rec, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "bench-worker", body["service"])
}

func TestRouter_Status(t *testing.T) {
	stats := &stubStats{stats: worker.Stats{
		JobsAttempted: 5,
		JobsDone:      3,
		JobsFailed:    2,
		LastJobAt:     time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
	}}
	env := newAPIEnv(t, stats)

	rec, body := env.get(t, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bench-worker", body["service"])
	assert.Equal(t, "test", body["environment"])

	ws, ok := body["worker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), ws["jobs_attempted"])
	assert.Equal(t, float64(3), ws["jobs_done"])
	assert.Equal(t, float64(2), ws["jobs_failed"])
	assert.Equal(t, "2026-08-23T10:00:00Z", ws["last_job_at"])
}

func TestRouter_ListRuns_Pagination(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})
	ids := env.seedRuns(t, "bench-001", 3)

	rec, body := env.get(t, "/api/v1/benchmarks/bench-001/runs?page_size=2")
	require.Equal(t, http.StatusOK, rec.Code)

	runs, ok := body["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 2)

	// Newest first.
	first := runs[0].(map[string]any)
	assert.Equal(t, float64(ids[2]), first["job_run_id"])
	assert.Equal(t, "completed", first["status"])
	assert.NotEmpty(t, first["started_at"])
	assert.NotEmpty(t, first["ended_at"])

	cursor, ok := body["next_cursor"].(string)
	require.True(t, ok)
	require.NotEmpty(t, cursor)

	rec, body = env.get(t, "/api/v1/benchmarks/bench-001/runs?page_size=2&cursor="+cursor)
	require.Equal(t, http.StatusOK, rec.Code)
	runs = body["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, float64(ids[0]), runs[0].(map[string]any)["job_run_id"])
	assert.Nil(t, body["next_cursor"])
}

func TestRouter_ListRuns_StatusFilter(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})
	ids := env.seedRuns(t, "bench-001", 2)
	require.NoError(t, env.store.FinishJobRun(context.Background(), ids[0], domain.RunStatusFailed, "boom"))

	rec, body := env.get(t, "/api/v1/benchmarks/bench-001/runs?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)

	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)
	assert.Equal(t, float64(ids[0]), run["job_run_id"])
	assert.Equal(t, "boom", run["error_text"])
}

func TestRouter_ListRuns_InvalidCursor(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})

	rec, body := env.get(t, "/api/v1/benchmarks/bench-001/runs?cursor=%21%21")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid cursor", body["error"])
}

func TestRouter_GetLatestSummary(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})
	ids := env.seedRuns(t, "bench-001", 2)
	env.seedMetrics(t, ids[1])

	rec, body := env.get(t, "/api/v1/benchmarks/bench-001/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bench-001", body["benchmark_id"])
	assert.Equal(t, float64(ids[1]), body["job_run_id"])

	rows, ok := body["metric_summary"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, 0.125, row["wer"])
	assert.Equal(t, "librispeech [subset=clean]", row["label"])
}

func TestRouter_GetLatestSummary_UnknownBenchmark(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})

	rec, _ := env.get(t, "/api/v1/benchmarks/ghost/summary")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_GetRunSummary(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})
	ids := env.seedRuns(t, "bench-001", 1)
	env.seedMetrics(t, ids[0])

	rec, body := env.get(t, fmt.Sprintf("/api/v1/benchmarks/bench-001/runs/%d/summary", ids[0]))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(ids[0]), body["job_run_id"])
	require.Len(t, body["metric_summary"].([]any), 1)

	// A run id outside the benchmark is not exposed.
	rec, _ = env.get(t, fmt.Sprintf("/api/v1/benchmarks/other/runs/%d/summary", ids[0]))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.get(t, "/api/v1/benchmarks/bench-001/runs/abc/summary")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GetRunSummary_NoMetrics(t *testing.T) {
	env := newAPIEnv(t, &stubStats{})
	ids := env.seedRuns(t, "bench-001", 1)

	rec, body := env.get(t, fmt.Sprintf("/api/v1/benchmarks/bench-001/runs/%d/summary", ids[0]))
	require.Equal(t, http.StatusOK, rec.Code)
	rows, ok := body["metric_summary"].([]any)
	require.True(t, ok)
	assert.Empty(t, rows)
}
