package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-solarsight/internal/analytics"
	"github.com/resident-x/go-solarsight/internal/cache"
	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/telemetry"
)

type constRandom float64

func (c constRandom) Float64() float64 { return float64(c) }

type fixedWeather struct {
	data domain.SolarWeatherData
}

func (f fixedWeather) Weather(_ domain.SiteProfile, at time.Time) domain.SolarWeatherData {
	w := f.data
	w.Timestamp = at
	return w
}

type analyzerFixture struct {
	analyzer *Analyzer
	registry *domain.SiteRegistry
	store    *telemetry.Store
	cache    *cache.MemoryCache
}

func newAnalyzerFixture(t *testing.T) *analyzerFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	registry := domain.NewSiteRegistry()
	require.NoError(t, registry.RegisterSite(testProfile()))
	store := telemetry.NewStore(0)
	mem := cache.NewMemoryCache(nil)

	a := NewAnalyzer(cfg, AnalyzerDeps{
		Registry:  registry,
		Telemetry: store,
		Cache:     mem,
		Weather:   fixedWeather{data: domain.SolarWeatherData{Humidity: 80, WindSpeed: 3}},
		Random:    constRandom(0.5),
	})
	a.now = func() time.Time { return testNow }

	return &analyzerFixture{analyzer: a, registry: registry, store: store, cache: mem}
}

func hourlySamples(start time.Time, hours int, kw float64) []domain.TelemetrySample {
	samples := make([]domain.TelemetrySample, hours)
	for i := range samples {
		samples[i] = domain.TelemetrySample{
			Timestamp:     start.Add(time.Duration(i) * time.Hour),
			ACOutputKW:    kw,
			IrradianceWm2: 600,
			AmbientTempC:  30,
			CellTempC:     45,
		}
	}
	return samples
}

func TestAnalyzer_UnknownViewAndSite(t *testing.T) {
	f := newAnalyzerFixture(t)

	_, err := f.analyzer.View(context.Background(), "SGX-ID-123", domain.View("weather"))
	assert.EqualError(t, err, "unknown view: weather")

	_, err = f.analyzer.View(context.Background(), "missing", domain.ViewOverview)
	assert.EqualError(t, err, "site not found: missing")
}

func TestAnalyzer_EmptyTelemetryFallsBack(t *testing.T) {
	f := newAnalyzerFixture(t)

	tests := []struct {
		view  domain.View
		check func(t *testing.T, data interface{})
	}{
		{domain.ViewOverview, func(t *testing.T, data interface{}) {
			_, ok := data.(domain.OverviewSnapshot)
			assert.True(t, ok)
		}},
		{domain.ViewInsights, func(t *testing.T, data interface{}) {
			cards, ok := data.([]domain.InsightCard)
			require.True(t, ok)
			assert.Empty(t, cards)
		}},
		{domain.ViewHistory, func(t *testing.T, data interface{}) {
			_, ok := data.(domain.HistorySeries)
			assert.True(t, ok)
		}},
		{domain.ViewForecast, func(t *testing.T, data interface{}) {
			forecast, ok := data.(analytics.PowerForecast)
			require.True(t, ok)
			assert.Empty(t, forecast.Forecast)
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.view), func(t *testing.T) {
			result, err := f.analyzer.View(context.Background(), "SGX-ID-123", tt.view)
			require.NoError(t, err)
			assert.True(t, result.Committed)
			assert.False(t, result.Cached)
			assert.Equal(t, tt.view, result.View.View)
			assert.Equal(t, testNow, result.View.ComputedAt)
			tt.check(t, result.View.Data)
		})
	}
}

func TestAnalyzer_CachesByFingerprint(t *testing.T) {
	f := newAnalyzerFixture(t)
	ctx := context.Background()
	f.store.Append("SGX-ID-123", hourlySamples(testNow.Add(-47*time.Hour), 48, 40)...)

	first, err := f.analyzer.View(ctx, "SGX-ID-123", domain.ViewHistory)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.analyzer.View(ctx, "SGX-ID-123", domain.ViewHistory)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, second.Committed)
	assert.IsType(t, domain.HistorySeries{}, second.View.Data)

	// New telemetry changes the fingerprint
	f.store.Append("SGX-ID-123", hourlySamples(testNow.Add(time.Hour), 1, 40)...)
	third, err := f.analyzer.View(ctx, "SGX-ID-123", domain.ViewHistory)
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestAnalyzer_CachedIssuesKeepTheirType(t *testing.T) {
	f := newAnalyzerFixture(t)
	ctx := context.Background()
	f.store.Append("SGX-ID-123", hourlySamples(testNow.Add(-23*time.Hour), 24, 40)...)

	first, err := f.analyzer.View(ctx, "SGX-ID-123", domain.ViewIssues)
	require.NoError(t, err)
	second, err := f.analyzer.View(ctx, "SGX-ID-123", domain.ViewIssues)
	require.NoError(t, err)

	require.True(t, second.Cached)
	fresh, ok := first.View.Data.([]domain.SolarIssue)
	require.True(t, ok)
	cached, ok := second.View.Data.([]domain.SolarIssue)
	require.True(t, ok)
	require.Len(t, cached, len(fresh))
	for i := range fresh {
		assert.Equal(t, fresh[i].ID, cached[i].ID)
		assert.Equal(t, fresh[i].Type, cached[i].Type)
	}
}

func TestAnalyzer_IssuesUseLatestSampleWeather(t *testing.T) {
	f := newAnalyzerFixture(t)

	samples := hourlySamples(testNow.Add(-2*time.Hour), 3, 40)
	samples[2].IrradianceWm2 = 910
	samples[2].AmbientTempC = 34

	weather := f.analyzer.weatherFor(testProfile(), samples)

	assert.Equal(t, samples[2].Timestamp, weather.Timestamp)
	assert.Equal(t, 910.0, weather.Irradiance)
	assert.Equal(t, 34.0, weather.Temperature)
	assert.Equal(t, 80.0, weather.Humidity)

	weather = f.analyzer.weatherFor(testProfile(), nil)
	assert.Equal(t, testNow, weather.Timestamp)
	assert.Equal(t, 0.0, weather.Irradiance)
}

func TestAnalyzer_SupersededResultIsNotCommitted(t *testing.T) {
	f := newAnalyzerFixture(t)
	f.store.Append("SGX-ID-123", hourlySamples(testNow.Add(-47*time.Hour), 48, 40)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.analyzer.View(ctx, "SGX-ID-123", domain.ViewHistory)
	require.NoError(t, err)
	assert.False(t, result.Committed)
	assert.NotNil(t, result.View)

	// Nothing was written, so the next request computes again
	next, err := f.analyzer.View(context.Background(), "SGX-ID-123", domain.ViewHistory)
	require.NoError(t, err)
	assert.False(t, next.Cached)
	assert.True(t, next.Committed)
	assert.Equal(t, 0, f.analyzer.Coordinator().InFlight())
}

func TestAnalyzer_Invalidate(t *testing.T) {
	f := newAnalyzerFixture(t)
	ctx := context.Background()
	f.store.Append("SGX-ID-123", hourlySamples(testNow.Add(-23*time.Hour), 24, 40)...)

	for _, view := range domain.AllViews {
		_, err := f.analyzer.View(ctx, "SGX-ID-123", view)
		require.NoError(t, err)
	}

	f.analyzer.Invalidate(ctx, "SGX-ID-123")

	for _, view := range domain.AllViews {
		result, err := f.analyzer.View(ctx, "SGX-ID-123", view)
		require.NoError(t, err)
		assert.False(t, result.Cached, "view %s should be recomputed", view)
	}
}
