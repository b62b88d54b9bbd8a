package runner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectragram/benchworker/internal/benchmark/dataset"
	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

type stubLoader struct {
	name string
	utts []domain.Utterance
	err  error
}

func (l *stubLoader) Name() string { return l.name }

func (l *stubLoader) Load(ctx context.Context) ([]domain.Utterance, error) {
	return l.utts, l.err
}

func stubUtterances(subset string, n int) []domain.Utterance {
	utts := make([]domain.Utterance, n)
	for i := range utts {
		utts[i] = domain.Utterance{
			ExternalID: fmt.Sprintf("%s-%03d", subset, i),
			AudioPath:  fmt.Sprintf("audio/%s-%03d.wav", subset, i),
			RefText:    "the cat sat",
			Meta:       map[string]string{"subset": subset},
		}
	}
	return utts
}

func TestBuildTasks(t *testing.T) {
	utts := append(stubUtterances("clean", 2), stubUtterances("snr0", 3)...)
	reg := dataset.NewRegistry(&stubLoader{name: "stub", utts: utts})

	cfg := &domain.JobConfig{
		BenchmarkID: "b", Provider: "p", Model: "m",
		Datasets: []string{"stub"},
	}

	tasks, err := BuildTasks(context.Background(), reg, cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	assert.Equal(t, "stub", tasks[0].DatasetName)
	assert.Equal(t, domain.Variant{"subset": "clean"}, tasks[0].Variant)
	assert.Equal(t, domain.Variant{"subset": "snr0"}, tasks[4].Variant)
}

func TestBuildTasks_UnknownDataset(t *testing.T) {
	reg := dataset.NewRegistry()
	cfg := &domain.JobConfig{
		BenchmarkID: "b", Provider: "p", Model: "m",
		Datasets: []string{"missing"},
	}

	_, err := BuildTasks(context.Background(), reg, cfg)
	require.ErrorIs(t, err, domain.ErrUnknownDataset)
}

func TestCapTasks(t *testing.T) {
	var tasks []domain.Task
	for _, subset := range []string{"clean", "snr0", "snr10"} {
		for _, u := range stubUtterances(subset, 4) {
			tasks = append(tasks, domain.Task{
				DatasetName: "stub",
				Variant:     dataset.VariantOf(u.Meta),
				Utt:         u,
			})
		}
	}

	t.Run("no caps", func(t *testing.T) {
		assert.Len(t, CapTasks(tasks, 0, 0), 12)
	})

	t.Run("per subset", func(t *testing.T) {
		capped := CapTasks(tasks, 0, 2)
		require.Len(t, capped, 6)
		// Group order follows first appearance, each group keeps its head.
		assert.Equal(t, "clean-000", capped[0].Utt.ExternalID)
		assert.Equal(t, "clean-001", capped[1].Utt.ExternalID)
		assert.Equal(t, "snr0-000", capped[2].Utt.ExternalID)
		assert.Equal(t, "snr10-001", capped[5].Utt.ExternalID)
	})

	t.Run("total", func(t *testing.T) {
		capped := CapTasks(tasks, 5, 0)
		require.Len(t, capped, 5)
		assert.Equal(t, "clean-000", capped[0].Utt.ExternalID)
	})

	t.Run("both", func(t *testing.T) {
		capped := CapTasks(tasks, 4, 2)
		require.Len(t, capped, 4)
		assert.Equal(t, "snr0-001", capped[3].Utt.ExternalID)
	})

	t.Run("cap larger than groups", func(t *testing.T) {
		assert.Len(t, CapTasks(tasks, 0, 100), 12)
	})
}
