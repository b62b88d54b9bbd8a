package dataset

import (
	"context"
	"fmt"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// Loader yields the utterances of one benchmark dataset. Loaders stamp the
// subset identity of each utterance into its meta so the planner can group
// rows into reporting buckets.
type Loader interface {
	Name() string
	Load(ctx context.Context) ([]domain.Utterance, error)
}

// variantKeys are the meta keys that identify a reporting bucket. Everything
// else in an utterance's meta is descriptive only.
var variantKeys = []string{"subset", "snr_db", "bandwidth", "lang", "split"}

// VariantOf extracts the bucket identity from an utterance's meta.
func VariantOf(meta map[string]string) domain.Variant {
	v := domain.Variant{}
	for _, k := range variantKeys {
		if val, ok := meta[k]; ok && val != "" {
			v[k] = val
		}
	}
	return v
}

// Registry maps dataset names to their loaders.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry creates a registry holding the given loaders.
func NewRegistry(loaders ...Loader) *Registry {
	r := &Registry{loaders: make(map[string]Loader, len(loaders))}
	for _, l := range loaders {
		r.Register(l)
	}
	return r
}

// Register adds or replaces a loader under its own name.
func (r *Registry) Register(l Loader) {
	r.loaders[l.Name()] = l
}

// Get returns the loader registered under name.
func (r *Registry) Get(name string) (Loader, error) {
	l, ok := r.loaders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDataset, name)
	}
	return l, nil
}

// Default builds the registry of shipped datasets rooted at the local data
// directory.
func Default(root string) *Registry {
	return NewRegistry(
		NewLibriSpeechLoader(root),
		NewCVCorpusLoader(root, nil, nil),
	)
}
