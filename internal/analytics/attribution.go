// Package analytics turns solar telemetry windows into overview, insight, history and forecast views.
//
// Every function in this package is a pure transformation of its inputs. None of them return errors: empty
// or degenerate input produces the documented fallback value instead.
package analytics

import (
	"math"

	"github.com/resident-x/go-solarsight/internal/domain"
)

// minDriverWeight replaces non-positive weights so no factor is starved to zero.
const minDriverWeight = 0.5

// DriverWeight is a raw, unnormalized causal factor.
type DriverWeight struct {
	Label  string
	Weight float64
}

// NormalizeDrivers converts weights into integer percentages that always sum to 100.
// All rounding drift lands on the last entry; any remaining overflow is taken back from the front.
func NormalizeDrivers(weights []DriverWeight) []domain.DriverContribution {
	if len(weights) == 0 {
		return []domain.DriverContribution{}
	}

	sanitized := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		value := w.Weight
		if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			value = minDriverWeight
		}
		sanitized[i] = value
		total += value
	}
	if total == 0 {
		total = 1
	}

	out := make([]domain.DriverContribution, len(weights))
	allocated := 0
	last := len(weights) - 1
	for i := 0; i < last; i++ {
		pct := int(math.Max(0, math.Round(sanitized[i]/total*100)))
		out[i] = domain.DriverContribution{Label: weights[i].Label, ContributionPct: pct}
		allocated += pct
	}
	out[last] = domain.DriverContribution{Label: weights[last].Label, ContributionPct: max(0, 100-allocated)}

	excess := allocated + out[last].ContributionPct - 100
	for i := 0; excess > 0 && i < len(out); i++ {
		take := min(excess, out[i].ContributionPct)
		out[i].ContributionPct -= take
		excess -= take
	}

	return out
}
