package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

type columnMap map[string]int

func newColumnMap(header []string) columnMap {
	m := make(columnMap, len(header))
	for i, name := range header {
		m[name] = i
	}
	return m
}

// pick returns the first non-empty value among the aliased column names.
func (m columnMap) pick(record []string, names ...string) string {
	for _, name := range names {
		if i, ok := m[name]; ok && i < len(record) && record[i] != "" {
			return record[i]
		}
	}
	return ""
}

// readUtteranceCSV parses one metadata CSV into utterances. Column names vary
// across dataset exports, so the known aliases are tried in order. extraMeta
// is merged into every row's meta after the row's own keys.
func readUtteranceCSV(ctx context.Context, path string, extraMeta map[string]string) ([]domain.Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	cols := newColumnMap(records[0])
	utts := make([]domain.Utterance, 0, len(records)-1)

	for _, record := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		utt := domain.Utterance{
			ExternalID: cols.pick(record, "utt_id", "id", "utt"),
			AudioPath:  cols.pick(record, "path", "audio_path"),
			RefText:    cols.pick(record, "reference_text", "ref_text"),
			Meta:       map[string]string{},
		}

		if raw := cols.pick(record, "duration_sec", "duration_s"); raw != "" {
			d, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q in %s: %w", raw, path, err)
			}
			utt.DurationS = &d
		}

		for _, k := range []string{"speaker_id", "gender", "speaker_name", "split"} {
			if v := cols.pick(record, k); v != "" {
				utt.Meta[k] = v
			}
		}
		for k, v := range extraMeta {
			utt.Meta[k] = v
		}

		utts = append(utts, utt)
	}

	return utts, nil
}
