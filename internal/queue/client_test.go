package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		RequestTimeout: 5 * time.Second,
		RetryMax:       2,
	}, testLogger())
}

func TestClient_FetchDueJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/worker/get_job_to_run", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "post_onboard_eval", r.URL.Query().Get("types"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jobs":[{
			"id":"3a1f6f9e-1111-2222-3333-444455556666",
			"model_id":"model-7",
			"job_type":"post_onboard_eval",
			"status":"queued",
			"priority":5,
			"run_at":null,
			"attempts":1,
			"last_error":null,
			"payload":{"config":{"benchmark_id":"b-1"}},
			"created_at":"2026-08-23T10:00:00Z",
			"updated_at":"2026-08-23T10:00:00Z"
		}]}`))
	}))
	defer srv.Close()

	jobs, err := newTestClient(srv.URL).FetchDueJobs(context.Background(), []string{"post_onboard_eval"}, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "3a1f6f9e-1111-2222-3333-444455556666", job.ID)
	assert.Equal(t, "post_onboard_eval", job.JobType)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.RunAt)
	assert.JSONEq(t, `{"config":{"benchmark_id":"b-1"}}`, string(job.Payload))
}

func TestClient_FetchDueJobs_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("limit"))
		w.Write([]byte(`{"jobs":[]}`))
	}))
	defer srv.Close()

	jobs, err := newTestClient(srv.URL).FetchDueJobs(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestClient_FetchDueJobs_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"jobs":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchDueJobs(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_FetchDueJobs_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchDueJobs(context.Background(), nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed fetch response")
}

func TestClient_UpdateJob(t *testing.T) {
	var got struct {
		ID      string         `json:"id"`
		Updates map[string]any `json:"updates"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/worker/pick_up_job", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"job":{}}`))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).UpdateJob(context.Background(), "job-1", map[string]any{
		"status":   "processing",
		"attempts": 3,
		"run_at":   "now",
	})
	require.NoError(t, err)

	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, "processing", got.Updates["status"])
	assert.Equal(t, float64(3), got.Updates["attempts"])
	assert.Equal(t, "now", got.Updates["run_at"])
}

func TestClient_UpdateJob_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error":"Job not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).UpdateJob(context.Background(), "missing", map[string]any{"status": "done"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "Job not found")
	assert.Equal(t, int32(1), attempts.Load())
}
