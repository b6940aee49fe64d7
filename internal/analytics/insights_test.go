package analytics

import (
	"math/rand"
	"testing"
	"time"

	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectInsightsEmpty(t *testing.T) {
	cards := DetectInsights(nil, 100)
	assert.NotNil(t, cards)
	assert.Empty(t, cards)
}

func TestDetectInsightsSingleHotSample(t *testing.T) {
	samples := hourly(baseTime.Add(13*time.Hour), 1, uniform(0, 0, 65))

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 1)
	card := cards[0]
	assert.Equal(t, domain.InsightThermalHotspot, card.Kind)
	assert.InDelta(t, 0.85, card.Confidence, 1e-9)
	assert.InDelta(t, 80.0, card.ImpactKWh, 1e-9)
	assert.Equal(t, []string{"Thermal", "Camera", "Performance"}, card.Tags)
	assert.Equal(t, samples[0].Timestamp, card.Timestamp)
	assert.Contains(t, card.Summary, "65.0°C")
	assert.Contains(t, card.EvidenceURL, card.ID)
}

func TestDetectInsightsHotspotConfidenceCap(t *testing.T) {
	samples := hourly(baseTime.Add(13*time.Hour), 1, uniform(0, 0, 90))

	cards := DetectInsights(samples, 10)

	require.Len(t, cards, 1)
	assert.Equal(t, 0.98, cards[0].Confidence)
}

func TestDetectInsightsHotspotThreshold(t *testing.T) {
	samples := hourly(baseTime.Add(13*time.Hour), 1, uniform(0, 0, 58))

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 1)
	assert.Equal(t, domain.InsightStableOperation, cards[0].Kind)
}

func TestDetectInsightsMiddayShading(t *testing.T) {
	samples := hourly(baseTime.Add(11*time.Hour), 3, func(i int, s *domain.TelemetrySample) {
		s.IrradianceWm2 = 900
		s.ACOutputKW = 80
		s.CellTempC = 45
		if i == 1 {
			s.ACOutputKW = 40
		}
	})

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 1)
	card := cards[0]
	assert.Equal(t, domain.InsightMiddayShading, card.Kind)
	assert.Equal(t, samples[1].Timestamp, card.Timestamp)
	// pr = 40/90; 0.7 + (1-pr)/2 exceeds the 0.9 cap.
	assert.Equal(t, 0.9, card.Confidence)
	assert.InDelta(t, 75.0, card.ImpactKWh, 1e-9)
	assert.Equal(t, []string{"Shading", "Vegetation", "Performance"}, card.Tags)
}

func TestDetectInsightsShadingConfidenceBelowCap(t *testing.T) {
	samples := hourly(baseTime.Add(12*time.Hour), 1, uniform(1000, 75, 40))

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 1)
	assert.Equal(t, domain.InsightMiddayShading, cards[0].Kind)
	assert.InDelta(t, 0.825, cards[0].Confidence, 1e-9)
	assert.InDelta(t, 37.5, cards[0].ImpactKWh, 1e-9)
}

func TestDetectInsightsSlowMorningRamp(t *testing.T) {
	samples := hourly(baseTime.Add(6*time.Hour), 5, func(i int, s *domain.TelemetrySample) {
		s.IrradianceWm2 = 100
		s.ACOutputKW = float64(i + 1)
		s.CellTempC = 30
	})

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 1)
	card := cards[0]
	assert.Equal(t, domain.InsightSlowMorningRamp, card.Kind)
	assert.Equal(t, 0.72, card.Confidence)
	assert.InDelta(t, 31.0, card.ImpactKWh, 1e-9)
	assert.Equal(t, samples[4].Timestamp, card.Timestamp)
}

func TestDetectInsightsHealthyRampDoesNotFire(t *testing.T) {
	samples := hourly(baseTime.Add(6*time.Hour), 5, func(i int, s *domain.TelemetrySample) {
		s.IrradianceWm2 = 150 * float64(i+1)
		s.ACOutputKW = 15 * float64(i+1)
		s.CellTempC = 30
	})

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 1)
	assert.Equal(t, domain.InsightStableOperation, cards[0].Kind)
}

func TestDetectInsightsAllPatterns(t *testing.T) {
	samples := hourly(baseTime, 24, func(i int, s *domain.TelemetrySample) {
		hour := s.Timestamp.Hour()
		switch {
		case hour >= 6 && hour <= 10:
			s.IrradianceWm2 = 300
			s.ACOutputKW = 5
			s.CellTempC = 35
		case hour == 13:
			s.IrradianceWm2 = 950
			s.ACOutputKW = 30
			s.CellTempC = 68
		default:
			s.IrradianceWm2 = 0
			s.CellTempC = 25
		}
	})

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 3)
	assert.Equal(t, domain.InsightThermalHotspot, cards[0].Kind)
	assert.Equal(t, domain.InsightMiddayShading, cards[1].Kind)
	assert.Equal(t, domain.InsightSlowMorningRamp, cards[2].Kind)

	ids := map[string]bool{}
	for _, card := range cards {
		ids[card.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestDetectInsightsStableOperation(t *testing.T) {
	samples := hourly(baseTime.Add(12*time.Hour), 5, uniform(800, 78, 40))

	cards := DetectInsights(samples, 100)

	require.Len(t, cards, 1)
	card := cards[0]
	assert.Equal(t, domain.InsightStableOperation, card.Kind)
	assert.Equal(t, 0.65, card.Confidence)
	assert.InDelta(t, 12.0, card.ImpactKWh, 1e-9)
	assert.Equal(t, samples[4].Timestamp, card.Timestamp)
	assert.Empty(t, card.EvidenceURL)
}

func TestDetectInsightsUsesLatest24Samples(t *testing.T) {
	hot := hourly(baseTime.Add(-24*time.Hour), 1, uniform(0, 0, 80))
	calm := hourly(baseTime.Add(12*time.Hour), 24, uniform(0, 0, 30))

	cards := DetectInsights(append(calm, hot...), 100)

	for _, card := range cards {
		assert.NotEqual(t, domain.InsightThermalHotspot, card.Kind)
	}
}

func TestDetectInsightsIDsAreStable(t *testing.T) {
	samples := hourly(baseTime.Add(13*time.Hour), 1, uniform(0, 0, 65))

	first := DetectInsights(samples, 100)
	second := DetectInsights(samples, 100)
	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	first[0].Tags[0] = "mutated"
	assert.Equal(t, "Thermal", DetectInsights(samples, 100)[0].Tags[0])
}

func TestDetectInsightsConfidenceBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for trial := 0; trial < 500; trial++ {
		samples := randomSamples(rng, 1+rng.Intn(30))
		cards := DetectInsights(samples, rng.Float64()*150)

		require.NotEmpty(t, cards)
		require.LessOrEqual(t, len(cards), 3)
		kinds := map[domain.InsightKind]bool{}
		for _, card := range cards {
			require.GreaterOrEqual(t, card.Confidence, 0.0)
			require.LessOrEqual(t, card.Confidence, 1.0)
			require.GreaterOrEqual(t, card.ImpactKWh, 0.0)
			require.False(t, kinds[card.Kind], "duplicate card kind %s", card.Kind)
			kinds[card.Kind] = true
		}
	}
}
