package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

const deepgramBaseURL = "https://api.deepgram.com"

// DeepgramClient calls the Deepgram pre-recorded transcription endpoint with
// raw audio bytes.
type DeepgramClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDeepgramClient creates a client. timeout bounds each HTTP attempt.
func NewDeepgramClient(apiKey string, timeout time.Duration, logger *slog.Logger) *DeepgramClient {
	return &DeepgramClient{
		apiKey:     apiKey,
		baseURL:    deepgramBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *DeepgramClient) Name() string {
	return "deepgram"
}

type deepgramAlternative struct {
	Transcript string          `json:"transcript"`
	Words      json.RawMessage `json:"words"`
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe posts the audio file as an octet-stream and parses the first
// alternative of the first channel.
func (c *DeepgramClient) Transcribe(ctx context.Context, audioPath string, params Params) (domain.Transcript, float64, error) {
	model := params.Model
	if model == "" {
		model = "nova-3"
	}
	language := params.Language
	if language == "" {
		language = "en"
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to read audio file: %w", err)
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("language", language)
	q.Set("smart_format", "true")
	endpoint := c.baseURL + "/v1/listen?" + q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, audio)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to build deepgram request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var attemptStart time.Time
	resp, err := newRetryClient(c.httpClient, c.logger, &attemptStart).Do(req)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(attemptStart).Seconds()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to read deepgram response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return domain.Transcript{}, 0, fmt.Errorf("deepgram returned %s: %s", resp.Status, snippet(body))
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to decode deepgram response: %w", err)
	}

	t := domain.Transcript{Raw: json.RawMessage(body)}
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		alt := parsed.Results.Channels[0].Alternatives[0]
		t.Text = alt.Transcript
		t.Words = alt.Words
	}
	return t, elapsed, nil
}
