package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/resident-x/go-solarsight/internal/api"
	"github.com/resident-x/go-solarsight/internal/cache"
	"github.com/resident-x/go-solarsight/internal/config"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/metrics"
	"github.com/resident-x/go-solarsight/internal/notify"
	"github.com/resident-x/go-solarsight/internal/pubsub"
	"github.com/resident-x/go-solarsight/internal/service"
)

// newServeCmd runs the analytics service until interrupted.
func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analytics service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configFile)
		},
	}
}

// loadConfig reads .env files and the configuration file, then initializes logging.
func loadConfig(configFile string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	initLogger(cfg.LogLevel)
	return cfg, nil
}

func runServe(parent context.Context, configFile string) error {
	if parent == nil {
		parent = context.Background()
	}

	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	api.Version = Version
	log.Info().Str("version", Version).Msg("Starting solarsight server")

	// Log service configuration for debugging
	logServiceConfiguration(cfg)

	collectors := metrics.New()

	// Initialize result cache
	resultCache, err := cache.New(ctx, cache.Options{
		Backend:   cfg.Cache.Backend,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		Observer:  collectors,
	})
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Cache.Backend).Msg("Failed to initialize cache, using in-memory cache")
		resultCache = cache.NewMemoryCache(collectors)
	}

	publisher := newPublisher(ctx, cfg)
	notifier := newNotifier(cfg, collectors)

	// Create and start the analytics server
	srv, err := service.NewAnalyticsServer(cfg, publisher, notifier,
		service.WithCache(resultCache),
		service.WithMetrics(collectors))
	if err != nil {
		return fmt.Errorf("failed to create analytics server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start analytics server: %w", err)
	}

	log.Info().
		Bool("api", cfg.API.Enabled).
		Int("port", cfg.API.Port).
		Msg("Analytics server started successfully")

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	select {
	case sig := <-signalChan:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	// Create context with timeout for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("error stopping server: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}

// newPublisher connects the MQTT publisher, falling back to a noop publisher when the broker is unreachable.
func newPublisher(ctx context.Context, cfg *config.Config) domain.MessagePublisher {
	if !cfg.MQTT.Enabled {
		log.Info().Msg("MQTT disabled, using noop publisher")
		return pubsub.NewNoopPublisher()
	}

	mqttPublisher := pubsub.NewMQTTPublisher(cfg)
	if err := mqttPublisher.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
		return pubsub.NewNoopPublisher()
	}

	log.Info().Msg("MQTT publisher connected successfully")
	return mqttPublisher
}

// newNotifier returns the webhook notifier when configured, otherwise a noop notifier.
func newNotifier(cfg *config.Config, collectors *metrics.Metrics) domain.Notifier {
	if !cfg.Notify.Enabled || cfg.Notify.WebhookURL == "" {
		log.Info().Msg("Issue notifications disabled")
		return notify.NewNoopNotifier()
	}

	webhook := notify.NewWebhookNotifier(cfg)
	webhook.SetResultHook(collectors.Notification)
	return webhook
}
