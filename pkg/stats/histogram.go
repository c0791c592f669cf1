package stats

import "math"

const (
	// DefaultBins is the number of equal-width histogram bins.
	DefaultBins = 20
	// DefaultHeadroom scales p95 to obtain the displayed upper bound.
	DefaultHeadroom = 1.25
)

// HistogramConfig controls histogram binning.
type HistogramConfig struct {
	Bins     int
	Headroom float64
}

// DefaultHistogramConfig returns the standard 20 bins with 1.25 headroom.
func DefaultHistogramConfig() HistogramConfig {
	return HistogramConfig{Bins: DefaultBins, Headroom: DefaultHeadroom}
}

// Bin is a half-open interval [Lower, Upper) except the last bin, which
// also holds every sample above the upper bound.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram is the binned distribution of a sample set over [0, MaxX].
type Histogram struct {
	MaxX float64 `json:"max_x"`
	Bins []Bin   `json:"bins"`
}

// Empty reports whether the histogram has no bins to render.
func (h Histogram) Empty() bool {
	return len(h.Bins) == 0
}

// Total is the sum of all bin counts.
func (h Histogram) Total() int {
	total := 0
	for _, b := range h.Bins {
		total += b.Count
	}

	return total
}

// ComputeHistogram bins samples over [0, p95*Headroom]. Samples above the
// bound land in the last bin so the bin counts always sum to len(samples).
// Empty input or a zero bound yields a histogram without bins.
func ComputeHistogram(samples []float64, cfg HistogramConfig) Histogram {
	if cfg.Bins <= 0 {
		cfg.Bins = DefaultBins
	}

	if cfg.Headroom <= 0 {
		cfg.Headroom = DefaultHeadroom
	}

	if len(samples) == 0 {
		return Histogram{Bins: []Bin{}}
	}

	maxX := Quantile(samples, 0.95) * cfg.Headroom
	if maxX <= 0 || math.IsNaN(maxX) || math.IsInf(maxX, 0) {
		return Histogram{Bins: []Bin{}}
	}

	width := maxX / float64(cfg.Bins)

	bins := make([]Bin, cfg.Bins)
	for i := range bins {
		bins[i] = Bin{
			Lower: width * float64(i),
			Upper: width * float64(i+1),
		}
	}

	bins[len(bins)-1].Upper = maxX

	for _, v := range samples {
		idx := 0

		switch {
		case v >= maxX:
			idx = cfg.Bins - 1
		case v > 0:
			idx = min(int(v/width), cfg.Bins-1)
		}

		bins[idx].Count++
	}

	return Histogram{MaxX: maxX, Bins: bins}
}
