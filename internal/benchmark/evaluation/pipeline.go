package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// Profile is the inference execution policy owned by an evaluation version.
// Keeping it here means a version bump can tighten or relax the client load
// without touching the worker.
type Profile struct {
	Concurrency int
	RPS         float64
	Timeout     time.Duration
}

// MetricValue is one point metric for a bucket.
type MetricValue struct {
	Metric string
	Value  float64
}

// BucketResult carries everything the pipeline computed for one
// (dataset, variant) bucket.
type BucketResult struct {
	DatasetID int64
	VariantID int64
	Metrics   []MetricValue
	Intervals []domain.CIResult
}

// Pipeline scores the predictions of a completed inference phase.
type Pipeline interface {
	Version() string
	InferenceProfile() Profile
	Evaluate(ctx context.Context, logger *slog.Logger, rows []domain.EvalRow) ([]BucketResult, error)
}

// Registry maps evaluation versions to pipelines.
type Registry struct {
	pipelines map[string]Pipeline
}

// NewRegistry creates a registry holding the given pipelines.
func NewRegistry(pipelines ...Pipeline) *Registry {
	r := &Registry{pipelines: make(map[string]Pipeline, len(pipelines))}
	for _, p := range pipelines {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a pipeline under its own version.
func (r *Registry) Register(p Pipeline) {
	r.pipelines[p.Version()] = p
}

// Get returns the pipeline registered under version.
func (r *Registry) Get(version string) (Pipeline, error) {
	p, ok := r.pipelines[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEvaluation, version)
	}
	return p, nil
}

// Default builds the registry of shipped evaluation versions.
func Default() *Registry {
	return NewRegistry(NewV1())
}
