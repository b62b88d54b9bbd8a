package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "utt.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF fake audio"), 0o644))
	return path
}

func TestDeepgramClient_Transcribe(t *testing.T) {
	audioPath := writeTestAudio(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "nova-3", r.URL.Query().Get("model"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		assert.Equal(t, "true", r.URL.Query().Get("smart_format"))
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hello world","words":[{"word":"hello"},{"word":"world"}]}]}]}}`))
	}))
	defer server.Close()

	client := NewDeepgramClient("secret", 5*time.Second, testLogger())
	client.baseURL = server.URL

	transcript, elapsed, err := client.Transcribe(context.Background(), audioPath, Params{Model: "nova-3", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", transcript.Text)
	assert.JSONEq(t, `[{"word":"hello"},{"word":"world"}]`, string(transcript.Words))
	assert.NotEmpty(t, transcript.Raw)
	assert.Greater(t, elapsed, 0.0)
}

func TestDeepgramClient_Transcribe_RetriesTransientErrors(t *testing.T) {
	audioPath := writeTestAudio(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"ok"}]}]}}`))
	}))
	defer server.Close()

	client := NewDeepgramClient("secret", 5*time.Second, testLogger())
	client.baseURL = server.URL

	transcript, _, err := client.Transcribe(context.Background(), audioPath, Params{})
	require.NoError(t, err)
	assert.Equal(t, "ok", transcript.Text)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDeepgramClient_Transcribe_ClientErrorNotRetried(t *testing.T) {
	audioPath := writeTestAudio(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"err_code":"INVALID_AUDIO"}`))
	}))
	defer server.Close()

	client := NewDeepgramClient("secret", 5*time.Second, testLogger())
	client.baseURL = server.URL

	_, _, err := client.Transcribe(context.Background(), audioPath, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_AUDIO")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDeepgramClient_Transcribe_MissingAudioFile(t *testing.T) {
	client := NewDeepgramClient("secret", 5*time.Second, testLogger())

	_, _, err := client.Transcribe(context.Background(), "does/not/exist.wav", Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read audio file")
}

func TestOpenAIClient_Transcribe(t *testing.T) {
	audioPath := writeTestAudio(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "utt.wav", header.Filename)

		w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("secret", 5*time.Second, testLogger())
	client.baseURL = server.URL

	transcript, elapsed, err := client.Transcribe(context.Background(), audioPath, Params{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", transcript.Text)
	assert.Nil(t, transcript.Words)
	assert.Greater(t, elapsed, 0.0)
}

func TestOpenAIClient_Transcribe_ExhaustsRetries(t *testing.T) {
	audioPath := writeTestAudio(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAIClient("secret", 5*time.Second, testLogger())
	client.baseURL = server.URL

	_, _, err := client.Transcribe(context.Background(), audioPath, Params{})
	require.Error(t, err)
	assert.Equal(t, int32(retryMax+1), attempts.Load())
}

func TestJitterBackoff(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "2")
	wait := jitterBackoff(retryWaitMin, retryWaitMax, 0, resp)
	assert.Equal(t, 2*time.Second, wait)

	// Retry-After beyond the cap is clamped.
	resp.Header.Set("Retry-After", "600")
	assert.Equal(t, retryWaitMax, jitterBackoff(retryWaitMin, retryWaitMax, 0, resp))

	// Without a header the wait grows exponentially but never exceeds the cap.
	for attempt := 0; attempt < 10; attempt++ {
		wait := jitterBackoff(retryWaitMin, retryWaitMax, attempt, nil)
		assert.GreaterOrEqual(t, wait, retryWaitMin)
		assert.LessOrEqual(t, wait, retryWaitMax)
	}
}

func TestRegistry_New(t *testing.T) {
	reg := Default()

	dg, err := reg.New("deepgram", "k", time.Second, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "deepgram", dg.Name())

	oa, err := reg.New("openai", "k", time.Second, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "openai", oa.Name())

	_, err = reg.New("whisperx", "k", time.Second, testLogger())
	require.ErrorIs(t, err, domain.ErrUnknownProvider)
}
