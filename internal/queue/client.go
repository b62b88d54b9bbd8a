package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	fetchPath  = "/api/worker/get_job_to_run"
	updatePath = "/api/worker/pick_up_job"

	errorBodyLimit = 512
)

// Job is one queue-service job as returned by the fetch endpoint.
type Job struct {
	ID        string          `json:"id"`
	ModelID   string          `json:"model_id"`
	JobType   string          `json:"job_type"`
	Status    string          `json:"status"`
	Priority  int             `json:"priority"`
	RunAt     *string         `json:"run_at"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"last_error"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// Config holds the queue-service client settings
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	RetryMax       int
}

// Client talks to the queue service's worker endpoints
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewClient creates a queue-service client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("Retrying queue request",
				slog.String("url", req.URL.Path),
				slog.Int("attempt", attempt),
			)
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    rc,
		logger:  logger,
	}
}

// FetchDueJobs returns queued jobs that are due to run, newest-priority first.
// jobTypes narrows the fetch server-side; limit <= 0 leaves the server default.
func (c *Client) FetchDueJobs(ctx context.Context, jobTypes []string, limit int) ([]Job, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if len(jobTypes) > 0 {
		params.Set("types", strings.Join(jobTypes, ","))
	}

	u := c.baseURL + fetchPath
	if enc := params.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch jobs returned status %d: %s", resp.StatusCode, snippet(body))
	}

	var payload struct {
		Jobs []Job `json:"jobs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed fetch response: %w", err)
	}
	return payload.Jobs, nil
}

// UpdateJob applies a partial update to one job. Updates travel in the POST
// body so large result payloads never hit URL length limits.
func (c *Client) UpdateJob(ctx context.Context, jobID string, updates map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"id":      jobID,
		"updates": updates,
	})
	if err != nil {
		return fmt.Errorf("failed to encode job update: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+updatePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read update response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("update job %s returned status %d: %s", jobID, resp.StatusCode, snippet(respBody))
	}
	return nil
}

func snippet(body []byte) string {
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit]
	}
	return string(body)
}
