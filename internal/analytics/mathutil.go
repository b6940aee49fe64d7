package analytics

import (
	"math"
	"sort"

	"github.com/resident-x/go-solarsight/internal/domain"
)

func clamp(lo, hi, v float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// tail returns the last n samples, or all of them when n is not positive.
func tail(samples []domain.TelemetrySample, n int) []domain.TelemetrySample {
	if n <= 0 || len(samples) <= n {
		return samples
	}
	return samples[len(samples)-n:]
}

// sortedCopy returns the samples ordered by timestamp without touching the input.
func sortedCopy(samples []domain.TelemetrySample) []domain.TelemetrySample {
	out := make([]domain.TelemetrySample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// modeledOutput is the irradiance-scaled expected AC output, capped at nameplate capacity.
func modeledOutput(irradiance, capacity float64) float64 {
	return math.Max(0, math.Min(capacity, irradiance/1000*capacity))
}
