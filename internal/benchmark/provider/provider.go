package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// Params carries the per-request transcription options.
type Params struct {
	Model    string
	Language string
}

// Client transcribes one audio file. Transcribe returns the parsed result and
// the elapsed seconds of the final HTTP attempt, excluding retry backoff.
type Client interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string, params Params) (domain.Transcript, float64, error)
}

// Factory builds a provider client bound to an API key and a per-attempt
// request timeout.
type Factory func(apiKey string, timeout time.Duration, logger *slog.Logger) Client

// Registry maps provider names to client factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New builds a client for the named provider.
func (r *Registry) New(name, apiKey string, timeout time.Duration, logger *slog.Logger) (Client, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return f(apiKey, timeout, logger), nil
}

// Default builds the registry of supported ASR providers.
func Default() *Registry {
	r := NewRegistry()
	r.Register("deepgram", func(apiKey string, timeout time.Duration, logger *slog.Logger) Client {
		return NewDeepgramClient(apiKey, timeout, logger)
	})
	r.Register("openai", func(apiKey string, timeout time.Duration, logger *slog.Logger) Client {
		return NewOpenAIClient(apiKey, timeout, logger)
	})
	return r
}
