package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

const openaiBaseURL = "https://api.openai.com"

// OpenAIClient calls the OpenAI audio transcription endpoint (Whisper).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client. timeout bounds each HTTP attempt.
func NewOpenAIClient(apiKey string, timeout time.Duration, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    openaiBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

// guessMime resolves the upload content type from the file extension, with
// fallbacks covering common speech formats.
func guessMime(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".wav"), strings.HasSuffix(strings.ToLower(path), ".wave"):
		return "audio/wav"
	case strings.HasSuffix(strings.ToLower(path), ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(strings.ToLower(path), ".webm"):
		return "audio/webm"
	case strings.HasSuffix(strings.ToLower(path), ".flac"):
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

type openaiResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio file as multipart form data. The form body is
// materialized once so the retry layer can replay it on every attempt.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string, params Params) (domain.Transcript, float64, error) {
	model := params.Model
	if model == "" {
		model = "whisper-1"
	}
	language := params.Language
	if language == "" {
		language = "en"
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to read audio file: %w", err)
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(audioPath)))
	header.Set("Content-Type", guessMime(audioPath))
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.WriteField("language", language); err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to build upload form: %w", err)
	}

	endpoint := c.baseURL + "/v1/audio/transcriptions"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, form.Bytes())
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to build openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var attemptStart time.Time
	resp, err := newRetryClient(c.httpClient, c.logger, &attemptStart).Do(req)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(attemptStart).Seconds()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to read openai response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return domain.Transcript{}, 0, fmt.Errorf("openai returned %s: %s", resp.Status, snippet(body))
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.Transcript{}, 0, fmt.Errorf("failed to decode openai response: %w", err)
	}

	return domain.Transcript{
		Text: parsed.Text,
		Raw:  json.RawMessage(body),
	}, elapsed, nil
}
