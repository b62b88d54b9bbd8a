package runner

import (
	"context"

	"github.com/spectragram/benchworker/internal/benchmark/dataset"
	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// BuildTasks expands every configured dataset into inference tasks. Loaders
// emit all subsets they own; the subset identity moves from utterance meta
// into the task's variant.
func BuildTasks(ctx context.Context, datasets *dataset.Registry, cfg *domain.JobConfig) ([]domain.Task, error) {
	var tasks []domain.Task
	for _, name := range cfg.Datasets {
		loader, err := datasets.Get(name)
		if err != nil {
			return nil, err
		}
		utts, err := loader.Load(ctx)
		if err != nil {
			return nil, err
		}
		for _, utt := range utts {
			tasks = append(tasks, domain.Task{
				DatasetName: name,
				Variant:     dataset.VariantOf(utt.Meta),
				Utt:         utt,
			})
		}
	}
	return tasks, nil
}

// CapTasks trims the task list for cost-bounded runs. maxPerSubset keeps the
// first N tasks of each (dataset, variant) group, preserving group order of
// first appearance; maxUtterances then truncates the whole list. Zero
// disables a cap.
func CapTasks(tasks []domain.Task, maxUtterances, maxPerSubset int) []domain.Task {
	if maxPerSubset > 0 {
		type groupKey struct {
			dataset string
			variant string
		}
		grouped := map[groupKey][]domain.Task{}
		var order []groupKey

		for _, t := range tasks {
			k := groupKey{t.DatasetName, t.Variant.Key()}
			if _, seen := grouped[k]; !seen {
				order = append(order, k)
			}
			grouped[k] = append(grouped[k], t)
		}

		trimmed := make([]domain.Task, 0, len(order)*maxPerSubset)
		for _, k := range order {
			group := grouped[k]
			if len(group) > maxPerSubset {
				group = group[:maxPerSubset]
			}
			trimmed = append(trimmed, group...)
		}
		tasks = trimmed
	}

	if maxUtterances > 0 && len(tasks) > maxUtterances {
		tasks = tasks[:maxUtterances]
	}
	return tasks
}
