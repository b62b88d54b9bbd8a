package evaluation

import (
	"math/rand"
	"sort"
)

// Bootstrap policy shared by all v1 confidence intervals. The fixed seed
// makes re-runs of the same predictions reproduce identical intervals.
const (
	BootstrapIterations = 1000
	BootstrapConfidence = 0.95
	BootstrapSeed       = 42
)

// bootstrapCI computes a percentile bootstrap interval for stat over vals.
func bootstrapCI(vals []float64, stat func([]float64) float64, iterations int, conf float64, seed int64) (float64, float64) {
	n := len(vals)
	if n == 0 {
		return 0, 0
	}

	rng := rand.New(rand.NewSource(seed))
	resample := make([]float64, n)
	stats := make([]float64, iterations)
	for b := 0; b < iterations; b++ {
		for i := range resample {
			resample[i] = vals[rng.Intn(n)]
		}
		stats[b] = stat(resample)
	}
	sort.Float64s(stats)

	alpha := 1.0 - conf
	return quantileSorted(stats, alpha/2), quantileSorted(stats, 1-alpha/2)
}

// bootstrapMeanCI is a percentile bootstrap interval for the sample mean.
func bootstrapMeanCI(vals []float64, iterations int, conf float64, seed int64) (float64, float64) {
	return bootstrapCI(vals, Mean, iterations, conf, seed)
}

// bootstrapQuantileCI is a percentile bootstrap interval for quantile q.
func bootstrapQuantileCI(vals []float64, q float64, iterations int, conf float64, seed int64) (float64, float64) {
	return bootstrapCI(vals, func(xs []float64) float64 {
		return Quantile(xs, q)
	}, iterations, conf, seed)
}

// sentenceCounts caches the per-sentence alignment so WER resampling does not
// redo the DP for every bootstrap draw.
type sentenceCounts struct {
	edits  int
	refLen int
}

// bootstrapWERCI resamples whole sentences with replacement and recomputes
// the corpus WER for each draw.
func bootstrapWERCI(counts []sentenceCounts, iterations int, conf float64, seed int64) (float64, float64) {
	n := len(counts)
	if n == 0 {
		return 0, 0
	}

	rng := rand.New(rand.NewSource(seed))
	stats := make([]float64, iterations)
	for b := 0; b < iterations; b++ {
		edits, refLen := 0, 0
		for i := 0; i < n; i++ {
			c := counts[rng.Intn(n)]
			edits += c.edits
			refLen += c.refLen
		}
		if refLen < 1 {
			refLen = 1
		}
		stats[b] = float64(edits) / float64(refLen)
	}
	sort.Float64s(stats)

	alpha := 1.0 - conf
	return quantileSorted(stats, alpha/2), quantileSorted(stats, 1-alpha/2)
}
