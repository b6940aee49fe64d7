// Package service wires the analytics engine into a running service: telemetry in, computed views out.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-solarsight/internal/api"
	"github.com/resident-x/go-solarsight/internal/cache"
	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/issues"
	"github.com/resident-x/go-solarsight/internal/metrics"
	"github.com/resident-x/go-solarsight/internal/scheduler"
	"github.com/resident-x/go-solarsight/internal/telemetry"
	"github.com/resident-x/go-solarsight/internal/validation"
)

// SiteRemover is implemented by publishers that can retract a site's published state.
type SiteRemover interface {
	RemoveSite(ctx context.Context, siteID string) error
}

// Option configures an AnalyticsServer.
type Option func(*AnalyticsServer)

// WithCache sets the result cache. The default is an in-memory cache.
func WithCache(c cache.Cache) Option {
	return func(s *AnalyticsServer) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AnalyticsServer) {
		s.metrics = m
	}
}

// WithClock sets the time source used for simulated history and refresh bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *AnalyticsServer) {
		s.now = now
	}
}

// AnalyticsServer hosts the engine: it keeps telemetry per site, refreshes views on a schedule and on
// new data, and distributes committed results to MQTT, stream subscribers and the notifier.
type AnalyticsServer struct {
	config    *config.Config
	registry  *domain.SiteRegistry
	store     *telemetry.Store
	simulator *telemetry.Simulator
	validator *validation.Validator
	analyzer  *Analyzer
	ingestor  *telemetry.MQTTIngestor
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	publisher domain.MessagePublisher
	notifier  domain.Notifier
	cache     cache.Cache
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	startTime time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAnalyticsServer creates a new analytics server instance.
func NewAnalyticsServer(cfg *config.Config, publisher domain.MessagePublisher, notifier domain.Notifier,
	opts ...Option) (*AnalyticsServer, error) {
	logger := log.With().Str("component", "server").Logger()

	server := &AnalyticsServer{
		config:    cfg,
		registry:  domain.NewSiteRegistry(),
		store:     telemetry.NewStore(0),
		simulator: telemetry.NewSimulator(cfg.Engine.Seed),
		validator: validation.NewValidator(validation.ParseLevel(cfg.Engine.ValidationLevel), logger),
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.cache == nil {
		var obs cache.Observer
		if server.metrics != nil {
			obs = server.metrics
		}
		server.cache = cache.NewMemoryCache(obs)
	}

	server.analyzer = NewAnalyzer(cfg, AnalyzerDeps{
		Registry:  server.registry,
		Telemetry: server.store,
		Cache:     server.cache,
		Issues: issues.NewSimulator(server.simulator,
			issues.WithPanelCapacity(cfg.Engine.ReferencePanelKW),
			issues.WithConfidenceBias(cfg.Engine.ConfidenceBias),
			issues.WithValidator(server.validator),
			issues.WithClock(server.now)),
		Weather: server.simulator,
		Random:  server.simulator,
		Metrics: server.metrics,
	})
	server.analyzer.now = server.now

	if cfg.SitesFile != "" {
		err := server.LoadSites(cfg.SitesFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn().Str("file", cfg.SitesFile).Msg("Sites file not found, starting with no sites")
		case err != nil:
			return nil, err
		}
	}

	if cfg.MQTT.Enabled {
		server.ingestor = telemetry.NewMQTTIngestor(cfg, server, server.validator)
		server.ingestor.SetHook(server.onIngest)
	}

	if cfg.Scheduler.Enabled {
		server.scheduler = scheduler.New(server, server.siteIDs, &scheduler.Config{
			Interval: time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
			Workers:  cfg.Scheduler.Workers,
		}, logger)
	}

	if cfg.API.Enabled {
		server.apiServer = api.NewServer(cfg, api.Deps{
			Registry: server.registry,
			Engine:   server,
			Metrics:  server.metrics,
			Random:   server.simulator,
			Status:   server.GetMetrics,
		})
	}

	return server, nil
}

// LoadSites registers every profile in a sites file.
func (s *AnalyticsServer) LoadSites(path string) error {
	profiles, err := domain.LoadProfiles(path)
	if err != nil {
		return fmt.Errorf("failed to load sites: %w", err)
	}
	for _, p := range profiles {
		if err := s.RegisterSite(p); err != nil {
			return err
		}
	}
	s.logger.Info().Int("count", len(profiles)).Str("file", path).Msg("Loaded sites")
	return nil
}

// RegisterSite adds or updates a site. With the simulator enabled a new site gets a simulated history.
func (s *AnalyticsServer) RegisterSite(profile domain.SiteProfile) error {
	_, existed := s.registry.GetSite(profile.ID)
	if err := s.registry.RegisterSite(profile); err != nil {
		return fmt.Errorf("failed to register site: %w", err)
	}

	if !existed && s.config.Simulator.Enabled && s.store.Len(profile.ID) == 0 {
		hours := s.config.Simulator.HistoryHours
		end := s.now().UTC().Truncate(time.Hour)
		s.store.Append(profile.ID, s.simulator.Generate(profile, end.Add(-time.Duration(hours-1)*time.Hour), hours)...)
	}

	if s.scheduler != nil && s.scheduler.IsRunning() {
		s.scheduler.Trigger(profile.ID)
	}
	return nil
}

// RemoveSite unregisters a site and drops everything held for it.
func (s *AnalyticsServer) RemoveSite(ctx context.Context, siteID string) bool {
	if _, ok := s.registry.GetSite(siteID); !ok {
		return false
	}

	s.analyzer.Invalidate(ctx, siteID)
	s.registry.RemoveSite(siteID)
	s.store.Remove(siteID)
	s.metrics.DeleteSite(siteID)
	if s.scheduler != nil {
		s.scheduler.Forget(siteID)
	}
	if remover, ok := s.publisher.(SiteRemover); ok {
		if err := remover.RemoveSite(ctx, siteID); err != nil {
			s.logger.Error().Err(err).Str("site_id", siteID).Msg("Failed to retract published site")
		}
	}

	s.logger.Info().Str("site_id", siteID).Msg("Site removed")
	return true
}

// Append stores ingested samples for registered sites and drops samples for unknown ones.
func (s *AnalyticsServer) Append(siteID string, samples ...domain.TelemetrySample) {
	if _, ok := s.registry.GetSite(siteID); !ok {
		s.logger.Debug().Str("site_id", siteID).Int("samples", len(samples)).Msg("Dropping telemetry for unknown site")
		return
	}
	s.store.Append(siteID, samples...)
}

// onIngest records ingest counters and schedules a refresh when new data arrived.
func (s *AnalyticsServer) onIngest(siteID string, accepted, rejected int) {
	s.metrics.Ingested(accepted, rejected)
	if accepted > 0 && s.scheduler != nil {
		if _, ok := s.registry.GetSite(siteID); ok {
			s.scheduler.Trigger(siteID)
		}
	}
}

// siteIDs lists registered site ids in order.
func (s *AnalyticsServer) siteIDs() []string {
	sites := s.registry.GetAllSites()
	ids := make([]string, 0, len(sites))
	for _, info := range sites {
		ids = append(ids, info.Profile.ID)
	}
	sort.Strings(ids)
	return ids
}

// Registry returns the site registry.
func (s *AnalyticsServer) Registry() *domain.SiteRegistry {
	return s.registry
}

// Store returns the telemetry store.
func (s *AnalyticsServer) Store() *telemetry.Store {
	return s.store
}

// APIServer returns the HTTP API server, nil when the API is disabled.
func (s *AnalyticsServer) APIServer() *api.Server {
	return s.apiServer
}

// SiteView computes one view on demand. Committed results are also distributed.
func (s *AnalyticsServer) SiteView(ctx context.Context, siteID string, view domain.View) (*domain.SiteView, error) {
	result, err := s.analyzer.View(ctx, siteID, view)
	if err != nil {
		return nil, err
	}
	if result.Committed && !result.Cached {
		s.distribute(ctx, result.View)
	}
	return result.View, nil
}

// RefreshSite recomputes every view of a site and distributes the committed results.
func (s *AnalyticsServer) RefreshSite(ctx context.Context, siteID string) error {
	for _, view := range domain.AllViews {
		result, err := s.analyzer.View(ctx, siteID, view)
		if err != nil {
			return fmt.Errorf("failed to refresh %s for %s: %w", view, siteID, err)
		}
		if !result.Committed {
			continue
		}
		if result.Cached {
			s.observe(result.View)
			continue
		}
		s.distribute(ctx, result.View)
	}

	s.registry.MarkRefreshed(siteID, s.now())
	return nil
}

// observe updates per-site gauges from a view.
func (s *AnalyticsServer) observe(view *domain.SiteView) {
	if overview, ok := view.Data.(domain.OverviewSnapshot); ok {
		s.metrics.SetSiteHealth(view.SiteID, overview.HealthScore)
	}
}

// distribute publishes a freshly computed view, pushes it to stream subscribers and forwards
// immediate-dispatch issues.
func (s *AnalyticsServer) distribute(ctx context.Context, view *domain.SiteView) {
	s.observe(view)

	if err := s.publisher.Publish(ctx, "", view); err != nil {
		s.logger.Error().
			Err(err).
			Str("site_id", view.SiteID).
			Str("view", string(view.View)).
			Msg("Failed to publish view")
	}

	if s.apiServer != nil {
		s.apiServer.Broadcast(view)
	}

	if found, ok := view.Data.([]domain.SolarIssue); ok {
		for _, issue := range found {
			if issue.DispatchPriority != domain.DispatchImmediate {
				continue
			}
			if err := s.notifier.Notify(ctx, view.SiteID, issue); err != nil {
				s.logger.Error().
					Err(err).
					Str("site_id", view.SiteID).
					Str("issue_id", issue.ID).
					Msg("Failed to notify issue")
			}
		}
	}
}

// Start initializes and starts all server components.
func (s *AnalyticsServer) Start(ctx context.Context) error {
	s.startTime = time.Now()

	if err := s.publisher.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect publisher: %w", err)
	}

	if s.ingestor != nil {
		if err := s.ingestor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start telemetry ingest: %w", err)
		}
	}

	if s.apiServer != nil {
		if err := s.apiServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if s.config.Simulator.Enabled {
		s.wg.Add(1)
		go s.simulateLoop(ctx)
	}

	s.logger.Info().
		Int("sites", len(s.registry.GetAllSites())).
		Msg("Server started")

	return nil
}

// simulateLoop appends one simulated sample per site every hour.
func (s *AnalyticsServer) simulateLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			at := s.now().UTC().Truncate(time.Hour)
			for _, info := range s.registry.GetAllSites() {
				s.store.Append(info.Profile.ID, s.simulator.Sample(info.Profile, at))
			}
		}
	}
}

// Stop gracefully shuts down all server components.
func (s *AnalyticsServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping server")

	// Signal shutdown
	close(s.done)
	s.wg.Wait()

	if s.scheduler != nil && s.scheduler.IsRunning() {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	if s.ingestor != nil {
		if err := s.ingestor.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close telemetry ingest")
		}
	}

	if err := s.publisher.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close message publisher")
	}

	if err := s.notifier.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close notifier")
	}

	if err := s.cache.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close cache")
	}

	return nil
}

// GetMetrics returns server metrics including scheduler status.
func (s *AnalyticsServer) GetMetrics() map[string]interface{} {
	result := map[string]interface{}{
		"uptime":     time.Since(s.startTime).Seconds(),
		"start_time": s.startTime,
		"site_count": len(s.registry.GetAllSites()),
		"in_flight":  s.analyzer.Coordinator().InFlight(),
	}

	samples := 0
	for _, id := range s.siteIDs() {
		samples += s.store.Len(id)
	}
	result["telemetry_samples"] = samples

	if s.scheduler != nil {
		result["scheduler"] = s.scheduler.GetMetrics()
	}
	if s.ingestor != nil {
		received, rejected := s.ingestor.Stats()
		result["ingest"] = map[string]int64{"received": received, "rejected": rejected}
	}

	return result
}
