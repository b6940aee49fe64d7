package analytics

import (
	"math"
	"time"

	"github.com/resident-x/go-solarsight/internal/domain"
)

const (
	maxPR              = 1.2
	anomalyPRThreshold = 0.75
	criticalPRLimit    = 0.55
	maxAnomalies       = 3

	defaultMTBFHours = 96
	minMTBFHours     = 12
	mttrWithAnomaly  = 6
	mttrBaseline     = 3
)

// fallbackKPIs apply whenever no anomaly was flagged.
var fallbackKPIs = domain.ReliabilityKPIs{
	MTBFHours:       defaultMTBFHours,
	MTTRHours:       mttrBaseline,
	RecoveredKWh30d: 0,
}

// FallbackHistory returns the history view for an empty sample set.
func FallbackHistory() domain.HistorySeries {
	return domain.HistorySeries{
		Series:    []domain.HistoryPoint{},
		Anomalies: []domain.Anomaly{},
		KPIs:      fallbackKPIs,
	}
}

// SynthesizeHistory aligns the samples in time order, computes the performance ratio per point, flags the
// most recent underperforming hours and derives reliability KPIs. Input order does not matter.
func SynthesizeHistory(samples []domain.TelemetrySample, capacityKWp float64) domain.HistorySeries {
	if len(samples) == 0 {
		return FallbackHistory()
	}

	ordered := sortedCopy(samples)
	series := make([]domain.HistoryPoint, len(ordered))
	recovered := 0.0
	for i, s := range ordered {
		modeled := modeledOutput(s.IrradianceWm2, capacityKWp)
		point := domain.HistoryPoint{
			Timestamp: s.Timestamp,
			GHI:       s.IrradianceWm2,
			ACKW:      s.ACOutputKW,
			ModeledKW: modeled,
		}
		if modeled > 0 {
			pr := clamp(0, maxPR, s.ACOutputKW/modeled)
			point.PR = &pr
		}
		series[i] = point
		recovered += math.Max(0, modeled-s.ACOutputKW)
	}

	anomalies := trailingAnomalies(series)

	kpis := fallbackKPIs
	kpis.RecoveredKWh30d = math.Round(recovered)
	if len(anomalies) > 0 {
		kpis.MTBFHours = max(minMTBFHours, int(math.Round(float64(len(series))/float64(len(anomalies))*1.5)))
		kpis.MTTRHours = mttrWithAnomaly
	}

	return domain.HistorySeries{Series: series, Anomalies: anomalies, KPIs: kpis}
}

// trailingAnomalies returns up to maxAnomalies of the latest low-PR points, oldest first.
func trailingAnomalies(series []domain.HistoryPoint) []domain.Anomaly {
	picked := make([]domain.HistoryPoint, 0, maxAnomalies)
	for i := len(series) - 1; i >= 0 && len(picked) < maxAnomalies; i-- {
		if p := series[i]; p.PR != nil && *p.PR < anomalyPRThreshold {
			picked = append(picked, p)
		}
	}

	anomalies := make([]domain.Anomaly, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		p := picked[i]
		kind := domain.AnomalyWarning
		if *p.PR < criticalPRLimit {
			kind = domain.AnomalyCritical
		}
		anomalies = append(anomalies, domain.Anomaly{
			Start: p.Timestamp,
			End:   p.Timestamp.Add(time.Hour),
			Type:  kind,
			Score: int(math.Round((1 - *p.PR) * 100)),
		})
	}
	return anomalies
}
