package analytics

import (
	"math"
	"time"

	"github.com/resident-x/go-solarsight/internal/domain"
)

// DefaultWindowSize is the number of hourly samples the overview and insight views look at.
const DefaultWindowSize = 24

const (
	highCellTempC           = 60.0
	shadingIrradiance       = 600.0
	highRiskIrradiance      = 650.0
	lowOutputIrradiance     = 200.0
	underperformingFraction = 0.6
	expectedPeakFraction    = 0.95
	soilingIrradiance       = 500.0
	washPRThreshold         = 0.85

	// 7 days x 4 peak-sun-hour equivalents per day.
	lossProjectionHours = 7 * 4

	baseHealthScore = 92.0
	minHealthScore  = 45.0
	maxHealthScore  = 100.0
)

// Action templates. Impact is hours x capacity x fraction; priority goes high above the hour threshold.
var actionTemplates = []struct {
	title     string
	fraction  float64
	threshold int
}{
	{title: "Investigate thermal hotspots", fraction: 0.35, threshold: 3},
	{title: "Trim shading obstructions", fraction: 0.25, threshold: 2},
	{title: "Schedule module wash", fraction: 0.18, threshold: 4},
}

// fallbackOverview is the snapshot for an empty window.
var fallbackOverview = domain.OverviewSnapshot{
	HealthScore:        82,
	PredictedLossKWh7d: 0,
	PredictedLossPct7d: 0,
	TopDrivers: []domain.DriverContribution{
		{Label: "thermal", ContributionPct: 40},
		{Label: "shading", ContributionPct: 35},
		{Label: "soiling", ContributionPct: 25},
	},
	Actions: []domain.RecommendedAction{
		{Title: actionTemplates[0].title, ImpactKWh: 0, Priority: domain.ActionPriorityMedium},
		{Title: actionTemplates[1].title, ImpactKWh: 0, Priority: domain.ActionPriorityMedium},
		{Title: actionTemplates[2].title, ImpactKWh: 0, Priority: domain.ActionPriorityMedium},
	},
	ForecastWindows: []domain.ForecastWindow{},
}

// FallbackOverview returns a fresh copy of the empty-window snapshot.
func FallbackOverview() domain.OverviewSnapshot {
	snapshot := fallbackOverview
	snapshot.TopDrivers = append([]domain.DriverContribution(nil), fallbackOverview.TopDrivers...)
	snapshot.Actions = append([]domain.RecommendedAction(nil), fallbackOverview.Actions...)
	snapshot.ForecastWindows = []domain.ForecastWindow{}
	return snapshot
}

// overviewStats holds the quantities derived from one window.
type overviewStats struct {
	peakOutput    float64
	avgOutput     float64
	avgIrradiance float64
	highTempHours int
	shadingHours  int
	washHours     int
}

func collectOverviewStats(window []domain.TelemetrySample, capacity float64) overviewStats {
	var stats overviewStats
	stats.peakOutput = math.Inf(-1)

	sumOutput, sumIrradiance := 0.0, 0.0
	for _, s := range window {
		stats.peakOutput = math.Max(stats.peakOutput, s.ACOutputKW)
		sumOutput += s.ACOutputKW
		sumIrradiance += s.IrradianceWm2

		if s.CellTempC > highCellTempC {
			stats.highTempHours++
		}
		if s.IrradianceWm2 > shadingIrradiance && s.ACOutputKW < underperformingFraction*capacity {
			stats.shadingHours++
		}
		if s.IrradianceWm2 >= lowOutputIrradiance {
			if modeled := modeledOutput(s.IrradianceWm2, capacity); modeled > 0 && s.ACOutputKW/modeled < washPRThreshold {
				stats.washHours++
			}
		}
	}

	n := float64(len(window))
	stats.avgOutput = sumOutput / n
	stats.avgIrradiance = sumIrradiance / n
	return stats
}

// SynthesizeOverview builds the health snapshot from the last `window` samples (DefaultWindowSize when
// window is not positive).
func SynthesizeOverview(samples []domain.TelemetrySample, capacityKWp float64, window int) domain.OverviewSnapshot {
	if window <= 0 {
		window = DefaultWindowSize
	}
	recent := tail(sortedCopy(samples), window)
	if len(recent) == 0 {
		return FallbackOverview()
	}

	stats := collectOverviewStats(recent, capacityKWp)

	expectedPeak := expectedPeakFraction * capacityKWp
	lossPct := 0.0
	if expectedPeak > 0 {
		lossPct = math.Max(0, (expectedPeak-stats.peakOutput)/expectedPeak*100)
	}
	predictedLossKWh := lossPct / 100 * capacityKWp * lossProjectionHours

	health := baseHealthScore - lossPct/2 - float64(stats.highTempHours)*1.8 - float64(stats.shadingHours)*2
	health = clamp(minHealthScore, maxHealthScore, health)

	soilingWeight := 1.0
	if stats.avgIrradiance < soilingIrradiance {
		soilingWeight = 1.8
	}
	drivers := NormalizeDrivers([]DriverWeight{
		{Label: "thermal", Weight: float64(stats.highTempHours) * 1.6},
		{Label: "shading", Weight: float64(stats.shadingHours) * 1.4},
		{Label: "soiling", Weight: soilingWeight},
	})

	return domain.OverviewSnapshot{
		HealthScore:        roundTo(health, 1),
		PredictedLossKWh7d: roundTo(math.Max(0, predictedLossKWh), 1),
		PredictedLossPct7d: roundTo(lossPct, 1),
		TopDrivers:         drivers,
		Actions:            buildActions(stats, capacityKWp),
		ForecastWindows:    buildForecastWindows(recent, capacityKWp),
	}
}

func buildActions(stats overviewStats, capacity float64) []domain.RecommendedAction {
	hours := []int{stats.highTempHours, stats.shadingHours, stats.washHours}

	actions := make([]domain.RecommendedAction, len(actionTemplates))
	for i, tmpl := range actionTemplates {
		priority := domain.ActionPriorityMedium
		if hours[i] > tmpl.threshold {
			priority = domain.ActionPriorityHigh
		}
		actions[i] = domain.RecommendedAction{
			Title:     tmpl.title,
			ImpactKWh: roundTo(math.Max(0, float64(hours[i])*capacity*tmpl.fraction), 1),
			Priority:  priority,
		}
	}
	return actions
}

func buildForecastWindows(window []domain.TelemetrySample, capacity float64) []domain.ForecastWindow {
	windows := make([]domain.ForecastWindow, 0, 3)

	for _, s := range window {
		if len(windows) == 2 {
			break
		}
		if s.IrradianceWm2 > highRiskIrradiance && s.ACOutputKW < underperformingFraction*capacity {
			windows = append(windows, hourWindow(s.Timestamp, domain.WindowHighRisk))
		}
	}

	for i := len(window) - 1; i >= 0; i-- {
		if window[i].IrradianceWm2 < lowOutputIrradiance {
			windows = append(windows, hourWindow(window[i].Timestamp, domain.WindowLowOutput))
			break
		}
	}

	return windows
}

func hourWindow(start time.Time, label string) domain.ForecastWindow {
	return domain.ForecastWindow{Start: start, End: start.Add(time.Hour), Label: label}
}
