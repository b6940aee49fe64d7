// Package api provides the HTTP API of the solarsight service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/metrics"
)

// Version is reported by the status endpoint.
var Version = "dev"

// Engine serves computed site views.
type Engine interface {
	SiteView(ctx context.Context, siteID string, view domain.View) (*domain.SiteView, error)
}

// Deps groups the collaborators of the API server.
type Deps struct {
	Registry domain.Registry
	Engine   Engine
	Metrics  *metrics.Metrics
	Random   domain.RandomSource
	// Status reports runtime state of the hosting service, may be nil
	Status func() map[string]interface{}
}

// Server represents the HTTP API server that exposes site analytics.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	registry  domain.Registry
	engine    Engine
	metrics   *metrics.Metrics
	rng       domain.RandomSource
	status    func() map[string]interface{}
	hub       *Hub
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	router := mux.NewRouter()

	// Create logger with API component context
	logger := log.With().Str("component", "api").Logger()

	rng := deps.Random
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // forecast jitter only
	}

	apiServer := &Server{
		config:    cfg,
		router:    router,
		registry:  deps.Registry,
		engine:    deps.Engine,
		metrics:   deps.Metrics,
		rng:       rng,
		status:    deps.Status,
		hub:       NewHub(logger),
		logger:    logger,
		startTime: time.Now(),
	}

	apiServer.setupRoutes()

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	s.handle(s.router, "/health", "health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// API versioning
	api := s.router.PathPrefix("/api/v1").Subrouter()

	s.handle(api, "/status", "status", s.handleStatus).Methods("GET")

	// Site endpoints
	s.handle(api, "/sites", "sites", s.handleListSites).Methods("GET")
	s.handle(api, "/sites/{id}", "site", s.handleGetSite).Methods("GET")
	s.handle(api, "/sites/{id}/{view:overview|insights|history|issues|forecast}", "site_view", s.handleSiteView).Methods("GET")
	api.HandleFunc("/sites/{id}/stream", s.handleStream).Methods("GET")

	// Stateless analysis endpoints
	s.handle(api, "/ai_analysis", "ai_analysis", s.handleAIAnalysis).Methods("POST")
	s.handle(api, "/batch_analysis", "batch_analysis", s.handleBatchAnalysis).Methods("POST")
	s.handle(api, "/model_info", "model_info", s.handleModelInfo).Methods("GET")
	s.handle(api, "/forecast_power", "forecast_power", s.handleForecastPower).Methods("POST")
	s.handle(api, "/detect_anomalies", "detect_anomalies", s.handleDetectAnomalies).Methods("POST")
	s.handle(api, "/analyze_image", "analyze_image", s.handleAnalyzeImage).Methods("POST")
}

// handle registers a handler wrapped with request metrics.
func (s *Server) handle(r *mux.Router, path, route string, fn http.HandlerFunc) *mux.Route {
	return r.Handle(path, s.metrics.WrapHandler(route, fn))
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.config.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(s.router)
}

// Hub returns the stream hub that refreshed views are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Broadcast pushes a refreshed view to stream subscribers.
func (s *Server) Broadcast(view *domain.SiteView) {
	s.hub.Broadcast(view)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	// Create HTTP server
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	s.hub.Close()

	// Create a timeout context for shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
