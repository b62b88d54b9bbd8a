package evaluation

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean; zero for an empty sample.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Quantile returns quantile q of xs using linear interpolation between the
// two nearest order statistics. xs is not modified.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// zScore returns the standard normal inverse CDF at p, computed by bisection
// on erf. Accurate enough for rank bounds.
func zScore(p float64) float64 {
	lo, hi := -8.0, 8.0
	for i := 0; i < 60; i++ {
		mid := (lo + hi) / 2
		if 0.5*(1+math.Erf(mid/math.Sqrt2)) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// OrderStatQuantileCI returns a distribution-free interval for quantile q,
// using the normal approximation to Binomial(n, q) for the order statistic
// ranks. xs must be non-empty; it is not modified.
func OrderStatQuantileCI(xs []float64, q, conf float64) (float64, float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	alpha := 1.0 - conf
	z := zScore(1 - alpha/2)
	mu := float64(n) * q
	sigma := math.Sqrt(float64(n)*q*(1-q)) + 1e-9

	kLo := int(math.Floor(mu - z*sigma))
	if kLo < 1 {
		kLo = 1
	}
	kHi := int(math.Ceil(mu + z*sigma))
	if kHi > n {
		kHi = n
	}
	return sorted[kLo-1], sorted[kHi-1]
}
