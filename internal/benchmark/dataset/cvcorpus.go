package dataset

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// CVCorpusLoader reads the Common Voice v22 export. CSVs are named
// "<lang>_<split>.csv" under <root>/cvcorpus22; by default only the English
// test split is loaded.
type CVCorpusLoader struct {
	base   string
	langs  []string
	splits []string
}

// NewCVCorpusLoader creates a loader rooted at <root>/cvcorpus22. Nil langs or
// splits fall back to the defaults (en, test).
func NewCVCorpusLoader(root string, langs, splits []string) *CVCorpusLoader {
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	if len(splits) == 0 {
		splits = []string{"test"}
	}
	return &CVCorpusLoader{
		base:   filepath.Join(root, "cvcorpus22"),
		langs:  langs,
		splits: splits,
	}
}

func (l *CVCorpusLoader) Name() string {
	return "cvcorpus22"
}

// Load reads one CSV per (lang, split) pair.
func (l *CVCorpusLoader) Load(ctx context.Context) ([]domain.Utterance, error) {
	var utts []domain.Utterance
	for _, lang := range l.langs {
		for _, split := range l.splits {
			path := filepath.Join(l.base, fmt.Sprintf("%s_%s.csv", lang, split))
			meta := map[string]string{
				"subset":  fmt.Sprintf("%s_%s", lang, split),
				"lang":    lang,
				"split":   split,
				"version": "22",
			}
			rows, err := readUtteranceCSV(ctx, path, meta)
			if err != nil {
				return nil, err
			}
			utts = append(utts, rows...)
		}
	}
	return utts, nil
}
