package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

type librispeechSubset struct {
	relCSV string
	meta   map[string]string
}

// librispeechSubsets are the standard evaluation conditions shipped with the
// LibriSpeech export: the clean source audio plus noise and telephony
// degradations.
var librispeechSubsets = []librispeechSubset{
	{"metadata/dataset_clean.csv", map[string]string{"subset": "clean"}},
	{"metadata/dataset_snr0.csv", map[string]string{"subset": "snr0", "snr_db": "0"}},
	{"metadata/dataset_snr10.csv", map[string]string{"subset": "snr10", "snr_db": "10"}},
	{"metadata/dataset_snr20.csv", map[string]string{"subset": "snr20", "snr_db": "20"}},
	{"metadata/dataset_tel8k.csv", map[string]string{"subset": "tel8k", "bandwidth": "8k"}},
}

// LibriSpeechLoader reads the local LibriSpeech-derived export. Every standard
// subset is emitted; the planner decides how many utterances survive the caps.
type LibriSpeechLoader struct {
	base    string
	subsets []librispeechSubset
}

// NewLibriSpeechLoader creates a loader rooted at <root>/librispeech.
func NewLibriSpeechLoader(root string) *LibriSpeechLoader {
	return &LibriSpeechLoader{
		base:    filepath.Join(root, "librispeech"),
		subsets: librispeechSubsets,
	}
}

func (l *LibriSpeechLoader) Name() string {
	return "librispeech"
}

// Load reads every subset CSV in declaration order.
func (l *LibriSpeechLoader) Load(ctx context.Context) ([]domain.Utterance, error) {
	probe := filepath.Join(l.base, "metadata", "dataset_clean.csv")
	if _, err := os.Stat(probe); err != nil {
		return nil, fmt.Errorf("librispeech base not found, expected %s: %w", probe, err)
	}

	var utts []domain.Utterance
	for _, sub := range l.subsets {
		path := filepath.Join(l.base, filepath.FromSlash(sub.relCSV))
		rows, err := readUtteranceCSV(ctx, path, sub.meta)
		if err != nil {
			return nil, err
		}
		utts = append(utts, rows...)
	}
	return utts, nil
}
