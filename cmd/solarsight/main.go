// Package main provides the entry point for the solarsight analytics service.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/resident-x/go-solarsight/internal/config"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the solarsight command tree.
func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "solarsight",
		Short: "Solar site telemetry analytics and issue inference",
		Long: `solarsight turns per-site solar telemetry into health overviews, anomaly insights,
historical series, simulated issues and power forecasts.

Examples:
  solarsight serve --config config.yaml
  solarsight analyze --file samples.json --capacity 100
  solarsight version`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")

	root.AddCommand(
		newServeCmd(&configFile),
		newAnalyzeCmd(),
		newVersionCmd(),
	)

	return root
}

// newVersionCmd prints the build version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "solarsight %s\n", Version)
		},
	}
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	// Set up pretty console logging for development
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	// Parse the log level
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	// Configure global logger
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// logServiceConfiguration logs the current service configuration for debugging.
func logServiceConfiguration(cfg *config.Config) {
	log.Debug().Msg("=== Service Configuration ===")

	log.Debug().
		Str("log_level", cfg.LogLevel).
		Str("sites_file", cfg.SitesFile).
		Msg("General settings")

	log.Debug().
		Int("window_size", cfg.Engine.WindowSize).
		Float64("reference_panel_kw", cfg.Engine.ReferencePanelKW).
		Float64("confidence_bias", cfg.Engine.ConfidenceBias).
		Int("issue_count", cfg.Engine.IssueCount).
		Int64("seed", cfg.Engine.Seed).
		Str("validation_level", cfg.Engine.ValidationLevel).
		Msg("Engine configuration")

	log.Debug().
		Bool("enabled", cfg.API.Enabled).
		Str("host", cfg.API.Host).
		Int("port", cfg.API.Port).
		Strs("cors_origins", cfg.API.CORSOrigins).
		Msg("HTTP API configuration")

	if cfg.MQTT.Enabled {
		log.Debug().
			Str("host", cfg.MQTT.Host).
			Int("port", cfg.MQTT.Port).
			Str("username", cfg.MQTT.Username).
			Str("topic", cfg.MQTT.Topic).
			Str("telemetry_prefix", cfg.MQTT.TelemetryPrefix).
			Bool("retain", cfg.MQTT.Retain).
			Bool("homeassistant", cfg.MQTT.HomeAssistantAutoDiscovery.Enabled).
			Msg("MQTT configuration")
	} else {
		log.Debug().Bool("enabled", false).Msg("MQTT disabled")
	}

	log.Debug().
		Bool("enabled", cfg.Scheduler.Enabled).
		Int("interval_seconds", cfg.Scheduler.IntervalSeconds).
		Int("workers", cfg.Scheduler.Workers).
		Msg("Scheduler configuration")

	log.Debug().
		Str("backend", cfg.Cache.Backend).
		Int("ttl_seconds", cfg.Cache.TTLSeconds).
		Str("redis_addr", cfg.Cache.RedisAddr).
		Msg("Cache configuration")

	if cfg.Notify.Enabled {
		log.Debug().
			Int("min_interval_minutes", cfg.Notify.MinIntervalMinutes).
			Int("rate_per_minute", cfg.Notify.RatePerMinute).
			Msg("Notify configuration")
	} else {
		log.Debug().Bool("enabled", false).Msg("Notify disabled")
	}

	log.Debug().
		Bool("enabled", cfg.Simulator.Enabled).
		Int("history_hours", cfg.Simulator.HistoryHours).
		Msg("Simulator configuration")

	log.Debug().Msg("=== End Configuration ===")
}
