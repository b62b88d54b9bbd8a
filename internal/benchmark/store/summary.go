package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// ciMethodPriority orders confidence-interval methods for downstream
// consumers; lower index wins.
var ciMethodPriority = []string{
	domain.CIMethodBootstrapPercentile,
	domain.CIMethodOrderStatNormal,
}

func methodRank(method string) int {
	for i, m := range ciMethodPriority {
		if m == method {
			return i
		}
	}
	return len(ciMethodPriority) + 1
}

// ChooseCI picks the best interval for a metric from coexisting rows: prefer
// by method priority, then by higher iteration count. Deterministic, so every
// consumer that merges CI rows reproduces the same choice.
func ChooseCI(rows []domain.CIResult, metric string) *domain.CIResult {
	var best *domain.CIResult
	for i := range rows {
		r := &rows[i]
		if r.Metric != metric {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		br, rr := methodRank(best.Method), methodRank(r.Method)
		if rr < br || (rr == br && r.Iterations > best.Iterations) {
			best = r
		}
	}
	return best
}

type summaryMetricRow struct {
	DatasetID int64   `db:"dataset_id"`
	VariantID int64   `db:"variant_id"`
	Metric    string  `db:"metric"`
	Value     float64 `db:"value"`
}

type summaryCIRow struct {
	DatasetID  int64   `db:"dataset_id"`
	VariantID  int64   `db:"variant_id"`
	Metric     string  `db:"metric"`
	CILow      float64 `db:"ci_low"`
	CIHigh     float64 `db:"ci_high"`
	Iterations int     `db:"iterations"`
	Method     string  `db:"method"`
	Seed       int64   `db:"seed"`
}

type summaryCountRow struct {
	DatasetID int64 `db:"dataset_id"`
	VariantID int64 `db:"variant_id"`
	N         int   `db:"n"`
}

type runHeader struct {
	BenchmarkID string `db:"benchmark_id"`
	EvalVersion string `db:"eval_version"`
	Provider    string `db:"provider_name"`
	Model       string `db:"model_name"`
}

// CollectMetricSummary builds the tidy per-bucket summary reported back to the
// queue service, applying the CI selection policy per metric.
func (s *Store) CollectMetricSummary(ctx context.Context, benchmarkID string, jobRunID int64) ([]domain.SummaryRow, error) {
	var hdr runHeader
	hdrQuery := s.db.Rebind(`
		SELECT jr.benchmark_id, jr.eval_version, p.name AS provider_name, m.name AS model_name
		FROM job_run jr
		JOIN provider p ON p.provider_id = jr.provider_id
		JOIN model m ON m.model_id = jr.model_id
		WHERE jr.job_run_id = ?
	`)
	if err := s.db.GetContext(ctx, &hdr, hdrQuery, jobRunID); err != nil {
		return nil, fmt.Errorf("failed to load job run header: %w", err)
	}

	var metrics []summaryMetricRow
	metricQuery := s.db.Rebind(`
		SELECT dataset_id, variant_id, metric, value
		FROM metric_summary WHERE job_run_id = ?
	`)
	if err := s.db.SelectContext(ctx, &metrics, metricQuery, jobRunID); err != nil {
		return nil, fmt.Errorf("failed to load metric summaries: %w", err)
	}
	if len(metrics) == 0 {
		return nil, nil
	}

	var cis []summaryCIRow
	ciQuery := s.db.Rebind(`
		SELECT dataset_id, variant_id, metric, ci_low, ci_high, iterations, method, seed
		FROM bootstrap_result WHERE job_run_id = ?
	`)
	if err := s.db.SelectContext(ctx, &cis, ciQuery, jobRunID); err != nil {
		return nil, fmt.Errorf("failed to load bootstrap results: %w", err)
	}

	var counts []summaryCountRow
	countQuery := s.db.Rebind(`
		SELECT u.dataset_id, u.variant_id, COUNT(*) AS n
		FROM prediction p
		JOIN utterance u ON u.utt_pk = p.utt_pk
		WHERE p.job_run_id = ?
		GROUP BY u.dataset_id, u.variant_id
	`)
	if err := s.db.SelectContext(ctx, &counts, countQuery, jobRunID); err != nil {
		return nil, fmt.Errorf("failed to count predictions: %w", err)
	}

	datasetNames, variantJSON, err := s.labelMaps(ctx)
	if err != nil {
		return nil, err
	}

	type key struct{ ds, vr int64 }

	metricsByKey := map[key]map[string]float64{}
	for _, m := range metrics {
		k := key{m.DatasetID, m.VariantID}
		if metricsByKey[k] == nil {
			metricsByKey[k] = map[string]float64{}
		}
		metricsByKey[k][m.Metric] = m.Value
	}

	cisByKey := map[key][]domain.CIResult{}
	for _, c := range cis {
		k := key{c.DatasetID, c.VariantID}
		cisByKey[k] = append(cisByKey[k], domain.CIResult{
			Metric:     c.Metric,
			CILow:      c.CILow,
			CIHigh:     c.CIHigh,
			Iterations: c.Iterations,
			Method:     c.Method,
			Seed:       c.Seed,
		})
	}

	countsByKey := map[key]int{}
	for _, c := range counts {
		countsByKey[key{c.DatasetID, c.VariantID}] = c.N
	}

	keys := make([]key, 0, len(metricsByKey))
	for k := range metricsByKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ds != keys[j].ds {
			return keys[i].ds < keys[j].ds
		}
		return keys[i].vr < keys[j].vr
	})

	out := make([]domain.SummaryRow, 0, len(keys))
	for _, k := range keys {
		metricMap := metricsByKey[k]
		bucketCIs := cisByKey[k]

		dsName := datasetNames[k.ds]
		if dsName == "" {
			dsName = fmt.Sprintf("ds:%d", k.ds)
		}

		row := domain.SummaryRow{
			BenchmarkID: hdr.BenchmarkID,
			JobRunID:    jobRunID,
			Provider:    hdr.Provider,
			Model:       hdr.Model,
			EvalVersion: hdr.EvalVersion,
			Label:       variantLabel(variantJSON[k.vr], dsName),
			DatasetID:   k.ds,
			VariantID:   k.vr,
			NUtterances: countsByKey[k],
		}

		pick := func(metric string) (*float64, *float64, *float64) {
			var point *float64
			if v, ok := metricMap[metric]; ok {
				point = &v
			}
			ci := ChooseCI(bucketCIs, metric)
			if ci == nil {
				return point, nil, nil
			}
			return point, &ci.CILow, &ci.CIHigh
		}

		row.WER, row.WERCILow, row.WERCIHigh = pick(domain.MetricWER)
		if row.WERCILow == nil && row.WERCIHigh == nil {
			// The WER display falls back to the sentence-proxy interval when
			// the corpus bootstrap is absent.
			if ci := ChooseCI(bucketCIs, domain.MetricWERSentenceProxy); ci != nil {
				row.WERCILow, row.WERCIHigh = &ci.CILow, &ci.CIHigh
			}
		}
		row.LatencyP50MS, row.LatencyP50MSCILow, row.LatencyP50MSCIHigh = pick(domain.MetricLatencyP50)
		row.LatencyP95MS, row.LatencyP95MSCILow, row.LatencyP95MSCIHigh = pick(domain.MetricLatencyP95)
		row.RTFMean, row.RTFMeanCILow, row.RTFMeanCIHigh = pick(domain.MetricRTFMean)
		row.RTFP95, row.RTFP95CILow, row.RTFP95CIHigh = pick(domain.MetricRTFP95)

		out = append(out, row)
	}

	return out, nil
}

func (s *Store) labelMaps(ctx context.Context) (map[int64]string, map[int64]string, error) {
	type dsRow struct {
		ID   int64  `db:"dataset_id"`
		Name string `db:"name"`
	}
	var datasets []dsRow
	if err := s.db.SelectContext(ctx, &datasets, `SELECT dataset_id, name FROM dataset`); err != nil {
		return nil, nil, fmt.Errorf("failed to load datasets: %w", err)
	}
	names := make(map[int64]string, len(datasets))
	for _, d := range datasets {
		names[d.ID] = d.Name
	}

	type vrRow struct {
		ID   int64  `db:"variant_id"`
		JSON string `db:"variant_json"`
	}
	var variants []vrRow
	if err := s.db.SelectContext(ctx, &variants, `SELECT variant_id, variant_json FROM dataset_variant`); err != nil {
		return nil, nil, fmt.Errorf("failed to load dataset variants: %w", err)
	}
	vjson := make(map[int64]string, len(variants))
	for _, v := range variants {
		vjson[v.ID] = v.JSON
	}

	return names, vjson, nil
}

func variantLabel(variantJSON, dsName string) string {
	var v domain.Variant
	if variantJSON != "" {
		_ = json.Unmarshal([]byte(variantJSON), &v)
	}
	return v.Label(dsName)
}
