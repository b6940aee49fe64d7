package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-solarsight/internal/analytics"
	"github.com/resident-x/go-solarsight/internal/cache"
	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/issues"
	"github.com/resident-x/go-solarsight/internal/metrics"
	"github.com/resident-x/go-solarsight/internal/scheduler"
)

// ForecastDays is the horizon of the forecast view.
const ForecastDays = 7

// WeatherProvider supplies the weather context issues are generated against.
type WeatherProvider interface {
	Weather(profile domain.SiteProfile, at time.Time) domain.SolarWeatherData
}

// SiteNotFoundError is returned for views of unregistered sites.
type SiteNotFoundError struct {
	SiteID string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site not found: %s", e.SiteID)
}

// Result is a computed view and whether it was committed as the latest for its site.
type Result struct {
	View      *domain.SiteView
	Cached    bool
	Committed bool
}

// Analyzer computes views for registered sites. Results are cached by telemetry fingerprint and
// only the most recent request for a (site, view) pair may write the cache.
type Analyzer struct {
	config      *config.Config
	registry    domain.Registry
	telemetry   domain.TelemetrySource
	cache       cache.Cache
	coordinator *scheduler.Coordinator
	issues      *issues.Simulator
	weather     WeatherProvider
	rng         domain.RandomSource
	metrics     *metrics.Metrics
	ttl         time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// AnalyzerDeps groups the collaborators of an Analyzer.
type AnalyzerDeps struct {
	Registry  domain.Registry
	Telemetry domain.TelemetrySource
	Cache     cache.Cache
	Issues    *issues.Simulator
	Weather   WeatherProvider
	Random    domain.RandomSource
	Metrics   *metrics.Metrics
}

// NewAnalyzer creates a new analyzer. A nil cache disables caching.
func NewAnalyzer(cfg *config.Config, deps AnalyzerDeps) *Analyzer {
	c := deps.Cache
	if c == nil {
		c = cache.Noop{}
	}
	sim := deps.Issues
	if sim == nil {
		sim = issues.NewSimulator(deps.Random,
			issues.WithPanelCapacity(cfg.Engine.ReferencePanelKW),
			issues.WithConfidenceBias(cfg.Engine.ConfidenceBias))
	}

	return &Analyzer{
		config:      cfg,
		registry:    deps.Registry,
		telemetry:   deps.Telemetry,
		cache:       c,
		coordinator: scheduler.NewCoordinator(),
		issues:      sim,
		weather:     deps.Weather,
		rng:         deps.Random,
		metrics:     deps.Metrics,
		ttl:         time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		logger:      log.With().Str("component", "analyzer").Logger(),
		now:         time.Now,
	}
}

// Coordinator exposes the request coordinator.
func (a *Analyzer) Coordinator() *scheduler.Coordinator {
	return a.coordinator
}

// View returns one view of a site, computing it when the cache has no entry for the current telemetry.
func (a *Analyzer) View(ctx context.Context, siteID string, view domain.View) (Result, error) {
	if _, ok := domain.ParseView(string(view)); !ok {
		return Result{}, fmt.Errorf("unknown view: %s", view)
	}

	info, ok := a.registry.GetSite(siteID)
	if !ok {
		return Result{}, &SiteNotFoundError{SiteID: siteID}
	}
	profile := info.Profile

	samples := a.samplesFor(siteID, view)
	key := cache.Key(siteID, view, cache.Fingerprint(samples))

	if cached, found := a.cached(ctx, key, view); found {
		a.metrics.ObserveComputation(view, metrics.ResultCached, 0)
		return Result{
			View:      &domain.SiteView{Site: profile, SiteID: siteID, View: view, Data: cached, ComputedAt: a.now().UTC()},
			Cached:    true,
			Committed: true,
		}, nil
	}

	reqCtx, tok := a.coordinator.Begin(ctx, siteID, view)
	defer a.coordinator.Done(tok)

	started := time.Now()
	data, result := a.compute(profile, view, samples)
	a.metrics.ObserveComputation(view, result, time.Since(started))

	sv := &domain.SiteView{Site: profile, SiteID: siteID, View: view, Data: data, ComputedAt: a.now().UTC()}

	if reqCtx.Err() != nil || !a.coordinator.Commit(tok) {
		a.metrics.StaleDropped(view)
		a.logger.Debug().
			Str("site_id", siteID).
			Str("view", string(view)).
			Uint64("seq", tok.Seq).
			Msg("Dropping superseded result")
		return Result{View: sv}, nil
	}

	if err := cache.SetJSON(ctx, a.cache, key, data, a.ttl); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache view")
	}

	return Result{View: sv, Committed: true}, nil
}

// samplesFor reads the telemetry a view is computed from.
func (a *Analyzer) samplesFor(siteID string, view domain.View) []domain.TelemetrySample {
	switch view {
	case domain.ViewOverview:
		return a.telemetry.Window(siteID, a.config.Engine.WindowSize)
	case domain.ViewInsights:
		return a.telemetry.Window(siteID, 24)
	default:
		return a.telemetry.All(siteID)
	}
}

// compute runs the engine for one view. Empty telemetry yields the view's fallback.
func (a *Analyzer) compute(profile domain.SiteProfile, view domain.View, samples []domain.TelemetrySample) (interface{}, string) {
	result := metrics.ResultSuccess
	if len(samples) == 0 {
		result = metrics.ResultFallback
	}

	switch view {
	case domain.ViewOverview:
		return analytics.SynthesizeOverview(samples, profile.CapacityKWp, a.config.Engine.WindowSize), result
	case domain.ViewInsights:
		return analytics.DetectInsights(samples, profile.CapacityKWp), result
	case domain.ViewHistory:
		return analytics.SynthesizeHistory(samples, profile.CapacityKWp), result
	case domain.ViewIssues:
		weather := a.weatherFor(profile, samples)
		found := a.issues.GenerateSiteIssues(profile.ID, weather, a.config.Engine.IssueCount)
		a.metrics.ObserveIssues(profile.ID, found)
		return found, metrics.ResultSuccess
	case domain.ViewForecast:
		forecast := analytics.ForecastPower(samples, ForecastDays, a.rng)
		if len(forecast.Forecast) == 0 {
			result = metrics.ResultFallback
		}
		return forecast, result
	default:
		return nil, metrics.ResultError
	}
}

// weatherFor builds the weather context for issue generation, preferring the latest measured values.
func (a *Analyzer) weatherFor(profile domain.SiteProfile, samples []domain.TelemetrySample) domain.SolarWeatherData {
	at := a.now().UTC().Truncate(time.Hour)
	var latest *domain.TelemetrySample
	if len(samples) > 0 {
		latest = &samples[len(samples)-1]
		at = latest.Timestamp
	}

	var weather domain.SolarWeatherData
	if a.weather != nil {
		weather = a.weather.Weather(profile, at)
	}
	weather.Timestamp = at

	if latest != nil {
		weather.Irradiance = latest.IrradianceWm2
		weather.Temperature = latest.AmbientTempC
	}
	return weather
}

// cached decodes a cache entry into the view's concrete type.
func (a *Analyzer) cached(ctx context.Context, key string, view domain.View) (interface{}, bool) {
	var (
		dest  interface{}
		found bool
		err   error
	)

	switch view {
	case domain.ViewOverview:
		var v domain.OverviewSnapshot
		found, err = cache.GetJSON(ctx, a.cache, key, &v)
		dest = v
	case domain.ViewInsights:
		var v []domain.InsightCard
		found, err = cache.GetJSON(ctx, a.cache, key, &v)
		dest = v
	case domain.ViewHistory:
		var v domain.HistorySeries
		found, err = cache.GetJSON(ctx, a.cache, key, &v)
		dest = v
	case domain.ViewIssues:
		var v []domain.SolarIssue
		found, err = cache.GetJSON(ctx, a.cache, key, &v)
		dest = v
	case domain.ViewForecast:
		var v analytics.PowerForecast
		found, err = cache.GetJSON(ctx, a.cache, key, &v)
		dest = v
	}

	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return nil, false
	}
	return dest, found
}

// Invalidate drops cached views and in-flight requests for a site.
func (a *Analyzer) Invalidate(ctx context.Context, siteID string) {
	a.coordinator.Forget(siteID)
	for _, view := range domain.AllViews {
		key := cache.Key(siteID, view, cache.Fingerprint(a.samplesFor(siteID, view)))
		if err := a.cache.Delete(ctx, key); err != nil {
			a.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete cached view")
		}
	}
}
