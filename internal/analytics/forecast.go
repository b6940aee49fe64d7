package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/resident-x/go-solarsight/internal/domain"
)

const (
	// MinForecastSamples is one full day of hourly history.
	MinForecastSamples = 24
	// MinResidualPoints is the smallest residual set the IQR detector accepts.
	MinResidualPoints = 7

	defaultForecastDays = 7
	maxForecastDays     = 30
	seasonalConfidence  = 0.78
	seasonalModel       = "seasonal_pattern"
	residualMethod      = "iqr_statistical"
)

// DailyForecast is the projected AC energy for one day with its band.
type DailyForecast struct {
	Date       string  `json:"date"`
	ACKWhHat   float64 `json:"ac_kw_hat"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// PowerForecast is the result of ForecastPower.
type PowerForecast struct {
	Forecast   []DailyForecast `json:"forecast"`
	Confidence float64         `json:"confidence"`
	ModelUsed  string          `json:"model_used"`
}

// ForecastPower projects daily output from the hour-of-day profile of the history. Each day is jittered by
// up to +/-5% using rng; a nil rng applies no jitter. Fewer than MinForecastSamples samples yield an empty
// forecast with zero confidence.
func ForecastPower(samples []domain.TelemetrySample, days int, rng domain.RandomSource) PowerForecast {
	if len(samples) < MinForecastSamples {
		return PowerForecast{Forecast: []DailyForecast{}, Confidence: 0, ModelUsed: seasonalModel}
	}
	if days <= 0 {
		days = defaultForecastDays
	}
	days = min(days, maxForecastDays)

	ordered := sortedCopy(samples)

	dailyTotal := 0.0
	for hour := 0; hour < 24; hour++ {
		sum, n := 0.0, 0
		for i := hour; i < len(ordered); i += 24 {
			sum += ordered[i].ACOutputKW
			n++
		}
		dailyTotal += sum / float64(n)
	}

	base := ordered[len(ordered)-1].Timestamp
	forecast := make([]DailyForecast, 0, days)
	for day := 0; day < days; day++ {
		adjustment := 1.0
		if rng != nil {
			adjustment = 0.95 + rng.Float64()*0.1
		}
		predicted := dailyTotal * adjustment

		forecast = append(forecast, DailyForecast{
			Date:       base.AddDate(0, 0, day+1).Format(time.DateOnly),
			ACKWhHat:   roundTo(math.Max(0, predicted), 2),
			LowerBound: roundTo(math.Max(0, predicted*0.85), 2),
			UpperBound: roundTo(predicted*1.15, 2),
		})
	}

	return PowerForecast{Forecast: forecast, Confidence: seasonalConfidence, ModelUsed: seasonalModel}
}

// ResidualPoint pairs an observed output with the modeled one.
type ResidualPoint struct {
	Timestamp time.Time `json:"ts"`
	Actual    float64   `json:"actual"`
	Predicted float64   `json:"predicted"`
}

// ResidualAnomaly is a point whose residual lies beyond the IQR fence.
type ResidualAnomaly struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Score     float64   `json:"score"`
	Type      string    `json:"type"`
	Magnitude float64   `json:"magnitude"`
}

// ResidualReport is the result of DetectResidualAnomalies.
type ResidualReport struct {
	Anomalies   []ResidualAnomaly `json:"anomalies"`
	AnomalyRate float64           `json:"anomaly_rate"`
	Method      string            `json:"method"`
}

// DetectResidualAnomalies flags points whose absolute residual exceeds q3 + 1.5*IQR.
func DetectResidualAnomalies(points []ResidualPoint) ResidualReport {
	report := ResidualReport{Anomalies: []ResidualAnomaly{}, Method: residualMethod}
	if len(points) == 0 {
		return report
	}

	residuals := make([]float64, len(points))
	for i, p := range points {
		residuals[i] = math.Abs(p.Actual - p.Predicted)
	}

	sorted := append([]float64(nil), residuals...)
	sort.Float64s(sorted)
	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	threshold := q3 + 1.5*(q3-q1)

	for i, p := range points {
		r := residuals[i]
		if r <= threshold {
			continue
		}
		score := 1.0
		if threshold > 0 {
			score = math.Min(1, r/(threshold*2))
		}
		report.Anomalies = append(report.Anomalies, ResidualAnomaly{
			Start:     p.Timestamp,
			End:       p.Timestamp,
			Score:     roundTo(score, 3),
			Type:      "statistical_outlier",
			Magnitude: roundTo(r, 2),
		})
	}

	report.AnomalyRate = roundTo(float64(len(report.Anomalies))/float64(len(points)), 3)
	return report
}

// percentile uses linear interpolation between closest ranks over an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := min(lower+1, len(sorted)-1)
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}
