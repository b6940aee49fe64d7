package analytics

import (
	"testing"
	"time"

	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func hourProfile(n int) []domain.TelemetrySample {
	return hourly(baseTime, n, func(i int, s *domain.TelemetrySample) {
		s.ACOutputKW = float64(i % 24)
	})
}

func TestForecastPowerRequiresOneDay(t *testing.T) {
	forecast := ForecastPower(hourProfile(MinForecastSamples-1), 7, nil)

	assert.NotNil(t, forecast.Forecast)
	assert.Empty(t, forecast.Forecast)
	assert.Equal(t, 0.0, forecast.Confidence)
}

func TestForecastPowerSeasonalProfile(t *testing.T) {
	forecast := ForecastPower(hourProfile(48), 3, nil)

	assert.Equal(t, 0.78, forecast.Confidence)
	assert.Equal(t, "seasonal_pattern", forecast.ModelUsed)
	require.Len(t, forecast.Forecast, 3)

	// Hour means sum to 0+1+...+23.
	expectedDates := []string{"2025-06-03", "2025-06-04", "2025-06-05"}
	for i, day := range forecast.Forecast {
		assert.Equal(t, expectedDates[i], day.Date)
		assert.Equal(t, 276.0, day.ACKWhHat)
		assert.Equal(t, 234.6, day.LowerBound)
		assert.Equal(t, 317.4, day.UpperBound)
	}
}

func TestForecastPowerJitter(t *testing.T) {
	low := ForecastPower(hourProfile(24), 1, fixedRandom(0))
	high := ForecastPower(hourProfile(24), 1, fixedRandom(1))

	assert.Equal(t, 262.2, low.Forecast[0].ACKWhHat)
	assert.Equal(t, 289.8, high.Forecast[0].ACKWhHat)
}

func TestForecastPowerHorizon(t *testing.T) {
	samples := hourProfile(24)

	assert.Len(t, ForecastPower(samples, 0, nil).Forecast, 7)
	assert.Len(t, ForecastPower(samples, 90, nil).Forecast, 30)
}

func TestForecastPowerUnsortedInput(t *testing.T) {
	samples := hourProfile(24)
	reversed := make([]domain.TelemetrySample, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}

	assert.Equal(t, ForecastPower(samples, 2, nil), ForecastPower(reversed, 2, nil))
}

func residualPoints(residuals ...float64) []ResidualPoint {
	points := make([]ResidualPoint, len(residuals))
	for i, r := range residuals {
		points[i] = ResidualPoint{
			Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
			Predicted: 10,
			Actual:    10 + r,
		}
	}
	return points
}

func TestDetectResidualAnomaliesSingleOutlier(t *testing.T) {
	points := residualPoints(1, 1, 1, 1, 1, 1, 1, 1, 1, 20)

	report := DetectResidualAnomalies(points)

	assert.Equal(t, "iqr_statistical", report.Method)
	require.Len(t, report.Anomalies, 1)
	anomaly := report.Anomalies[0]
	assert.Equal(t, points[9].Timestamp, anomaly.Start)
	assert.Equal(t, points[9].Timestamp, anomaly.End)
	assert.Equal(t, 1.0, anomaly.Score)
	assert.Equal(t, 20.0, anomaly.Magnitude)
	assert.Equal(t, "statistical_outlier", anomaly.Type)
	assert.Equal(t, 0.1, report.AnomalyRate)
}

func TestDetectResidualAnomaliesUsesAbsoluteResidual(t *testing.T) {
	points := residualPoints(1, -1, 1, -1, 1, -1, -20)

	report := DetectResidualAnomalies(points)

	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, 20.0, report.Anomalies[0].Magnitude)
}

func TestDetectResidualAnomaliesPartialScore(t *testing.T) {
	// q1 = 1, q3 = 3, fence = 6; a residual of 9 scores 9/12.
	points := residualPoints(1, 1, 1, 2, 2, 2, 3, 3, 9)

	report := DetectResidualAnomalies(points)

	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, 0.75, report.Anomalies[0].Score)
}

func TestDetectResidualAnomaliesNone(t *testing.T) {
	report := DetectResidualAnomalies(residualPoints(2, 2, 2, 2, 2, 2, 2))
	assert.Empty(t, report.Anomalies)
	assert.Equal(t, 0.0, report.AnomalyRate)

	empty := DetectResidualAnomalies(nil)
	assert.NotNil(t, empty.Anomalies)
	assert.Equal(t, 0.0, empty.AnomalyRate)
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 2.0, percentile(values, 25))
	assert.Equal(t, 3.0, percentile(values, 50))
	assert.Equal(t, 5.0, percentile(values, 100))
	assert.Equal(t, 7.0, percentile([]float64{7}, 75))
}
