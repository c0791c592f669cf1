// Package stats computes summary statistics and histograms over run
// deltas (milliseconds). Nothing here fails: empty input yields a
// degenerate result and callers branch on Count.
package stats

import (
	"math"
	"sort"
)

// Record is the summary of a sample set. All fields except Count are only
// present when Count > 0 and are rounded to the nearest millisecond.
type Record struct {
	Count  int    `json:"count"`
	Median *int64 `json:"median,omitempty"`
	Mean   *int64 `json:"mean,omitempty"`
	P90    *int64 `json:"p90,omitempty"`
	P95    *int64 `json:"p95,omitempty"`
	Min    *int64 `json:"min,omitempty"`
	Max    *int64 `json:"max,omitempty"`
}

// Compute summarises samples.
func Compute(samples []float64) Record {
	rec := Record{Count: len(samples)}
	if rec.Count == 0 {
		return rec
	}

	sorted := sortedCopy(samples)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	rec.Median = rounded(quantileSorted(sorted, 0.5))
	rec.Mean = rounded(sum / float64(len(sorted)))
	rec.P90 = rounded(quantileSorted(sorted, 0.9))
	rec.P95 = rounded(quantileSorted(sorted, 0.95))
	rec.Min = rounded(sorted[0])
	rec.Max = rounded(sorted[len(sorted)-1])

	return rec
}

// Quantile returns the q-quantile of xs using linear interpolation between
// the two sorted entries bracketing index q*(n-1). It returns 0 for an
// empty input. q is clamped to [0, 1].
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	return quantileSorted(sortedCopy(xs), q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	q = math.Max(0, math.Min(1, q))

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))

	if lo == hi {
		return sorted[lo]
	}

	frac := pos - float64(lo)

	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)

	return out
}

func rounded(v float64) *int64 {
	r := int64(math.Round(v))

	return &r
}
