// Package routines learns per-time-bucket follow-up actions anchored to
// state-change intents, with delay-distribution estimation.
package routines

import (
	"sort"

	"github.com/Andriy31193/aipatterner/internal/policy"
)

// Median returns the middle of the samples (mean of the two middles for an
// even count). Zero for an empty slice.
func Median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// MAD returns the median absolute deviation from the given median.
func MAD(samples []float64, median float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	dev := make([]float64, len(samples))
	for i, s := range samples {
		d := s - median
		if d < 0 {
			d = -d
		}
		dev[i] = d
	}
	return Median(dev)
}

// IsOutlier reports whether a new delay sample deviates from the current
// median by more than the configured MAD multiple. The cutoff has a floor so
// an early tight cluster does not flag ordinary jitter as outliers. With no
// prior samples nothing is an outlier.
func IsOutlier(delaySeconds float64, prior []float64, pol policy.Routines) bool {
	if len(prior) == 0 {
		return false
	}
	median := Median(prior)
	cutoff := pol.MADMultiple * MAD(prior, median)
	if cutoff < pol.MinOutlierCutoffSeconds {
		cutoff = pol.MinOutlierCutoffSeconds
	}
	d := delaySeconds - median
	if d < 0 {
		d = -d
	}
	return d > cutoff
}
