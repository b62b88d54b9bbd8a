package evaluation

import (
	"context"
	"log/slog"
	"time"

	"github.com/spectragram/benchworker/internal/benchmark/domain"
)

// orderStatMaxN bounds the sample size for which the order-statistic quantile
// interval is emitted alongside the bootstrap one. Above this the bootstrap
// is reliable on its own.
const orderStatMaxN = 300

// sentenceProxyMinN is the smallest sample for which the sentence-level error
// proxy interval is worth reporting.
const sentenceProxyMinN = 5

// V1 is the initial evaluation version: exact corpus WER with percentile
// bootstrap intervals, latency quantiles, and real-time factor.
type V1 struct{}

// NewV1 creates the v1 pipeline.
func NewV1() *V1 {
	return &V1{}
}

func (*V1) Version() string {
	return "v1"
}

func (*V1) InferenceProfile() Profile {
	return Profile{
		Concurrency: 4,
		RPS:         2.0,
		Timeout:     120 * time.Second,
	}
}

type bucketKey struct {
	datasetID int64
	variantID int64
}

type bucketData struct {
	refs  []string
	hyps  []string
	latMS []float64
	durS  []float64 // <= 0 marks a missing duration
}

// Evaluate buckets rows by (dataset, variant) and scores each bucket
// independently. Bucket order follows first appearance in rows.
func (v *V1) Evaluate(ctx context.Context, logger *slog.Logger, rows []domain.EvalRow) ([]BucketResult, error) {
	buckets := map[bucketKey]*bucketData{}
	var order []bucketKey

	for _, row := range rows {
		key := bucketKey{row.DatasetID, row.VariantID}
		b, ok := buckets[key]
		if !ok {
			b = &bucketData{}
			buckets[key] = b
			order = append(order, key)
		}
		b.refs = append(b.refs, row.RefText)
		b.hyps = append(b.hyps, row.HypText)
		b.latMS = append(b.latMS, row.TotalTimeMS)
		if row.DurationS != nil && *row.DurationS > 0 {
			b.durS = append(b.durS, *row.DurationS)
		} else {
			b.durS = append(b.durS, 0)
		}
	}

	results := make([]BucketResult, 0, len(order))
	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b := buckets[key]
		res := v.evaluateBucket(b)
		res.DatasetID = key.datasetID
		res.VariantID = key.variantID
		results = append(results, res)

		logger.Info("Evaluated bucket",
			slog.Int64("dataset_id", key.datasetID),
			slog.Int64("variant_id", key.variantID),
			slog.Int("n", len(b.refs)),
		)
	}
	return results, nil
}

func (v *V1) evaluateBucket(b *bucketData) BucketResult {
	var res BucketResult

	addMetric := func(metric string, value float64) {
		res.Metrics = append(res.Metrics, MetricValue{Metric: metric, Value: value})
	}
	addBootstrap := func(metric string, lo, hi float64) {
		res.Intervals = append(res.Intervals, domain.CIResult{
			Metric:     metric,
			CILow:      lo,
			CIHigh:     hi,
			Iterations: BootstrapIterations,
			Method:     domain.CIMethodBootstrapPercentile,
			Seed:       BootstrapSeed,
		})
	}
	addOrderStat := func(metric string, lo, hi float64) {
		res.Intervals = append(res.Intervals, domain.CIResult{
			Metric: metric,
			CILow:  lo,
			CIHigh: hi,
			Method: domain.CIMethodOrderStatNormal,
		})
	}

	n := len(b.refs)

	// Exact corpus WER over normalized text.
	counts := make([]sentenceCounts, n)
	sentErr := make([]float64, n)
	totalEdits, totalRefLen := 0, 0
	for i := 0; i < n; i++ {
		ref := Normalize(b.refs[i])
		hyp := Normalize(b.hyps[i])
		s, d, ins := EditCounts(Tokenize(ref), Tokenize(hyp))
		refLen := len(Tokenize(ref))
		counts[i] = sentenceCounts{edits: s + d + ins, refLen: refLen}
		totalEdits += s + d + ins
		totalRefLen += refLen
		if ref != hyp {
			sentErr[i] = 1
		}
	}
	denom := totalRefLen
	if denom < 1 {
		denom = 1
	}
	addMetric(domain.MetricWER, float64(totalEdits)/float64(denom))

	lo, hi := bootstrapWERCI(counts, BootstrapIterations, BootstrapConfidence, BootstrapSeed)
	addBootstrap(domain.MetricWER, lo, hi)

	if n >= sentenceProxyMinN {
		lo, hi := bootstrapMeanCI(sentErr, BootstrapIterations, BootstrapConfidence, BootstrapSeed)
		addBootstrap(domain.MetricWERSentenceProxy, lo, hi)
	}

	// Latency quantiles in milliseconds.
	addMetric(domain.MetricLatencyP50, Quantile(b.latMS, 0.5))
	addMetric(domain.MetricLatencyP95, Quantile(b.latMS, 0.95))

	lo, hi = bootstrapQuantileCI(b.latMS, 0.5, BootstrapIterations, BootstrapConfidence, BootstrapSeed)
	addBootstrap(domain.MetricLatencyP50, lo, hi)
	lo, hi = bootstrapQuantileCI(b.latMS, 0.95, BootstrapIterations, BootstrapConfidence, BootstrapSeed)
	addBootstrap(domain.MetricLatencyP95, lo, hi)

	if n > 0 && n < orderStatMaxN {
		lo, hi := OrderStatQuantileCI(b.latMS, 0.5, BootstrapConfidence)
		addOrderStat(domain.MetricLatencyP50, lo, hi)
		lo, hi = OrderStatQuantileCI(b.latMS, 0.95, BootstrapConfidence)
		addOrderStat(domain.MetricLatencyP95, lo, hi)
	}

	// Real-time factor, computed only over rows with a known audio duration.
	var rtf []float64
	for i := 0; i < n; i++ {
		if b.durS[i] > 0 {
			rtf = append(rtf, (b.latMS[i]/1000.0)/b.durS[i])
		}
	}
	if len(rtf) > 0 {
		addMetric(domain.MetricRTFMean, Mean(rtf))
		addMetric(domain.MetricRTFP95, Quantile(rtf, 0.95))

		lo, hi := bootstrapMeanCI(rtf, BootstrapIterations, BootstrapConfidence, BootstrapSeed)
		addBootstrap(domain.MetricRTFMean, lo, hi)
		lo, hi = bootstrapQuantileCI(rtf, 0.95, BootstrapIterations, BootstrapConfidence, BootstrapSeed)
		addBootstrap(domain.MetricRTFP95, lo, hi)

		if len(rtf) < orderStatMaxN {
			lo, hi := OrderStatQuantileCI(rtf, 0.95, BootstrapConfidence)
			addOrderStat(domain.MetricRTFP95, lo, hi)
		}
	}

	return res
}
