// Package config provides configuration management for the solarsight service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SOLARSIGHT_API_PORT.
const EnvPrefix = "SOLARSIGHT"

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel  string `mapstructure:"log_level"`
	SitesFile string `mapstructure:"sites_file"`

	// HTTP API settings
	API struct {
		Enabled     bool     `mapstructure:"enabled"`
		Host        string   `mapstructure:"host"`
		Port        int      `mapstructure:"port"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"api"`

	// MQTT settings
	MQTT struct {
		Enabled         bool   `mapstructure:"enabled"`
		Host            string `mapstructure:"host"`
		Port            int    `mapstructure:"port"`
		Username        string `mapstructure:"username"`
		Password        string `mapstructure:"password"`
		Topic           string `mapstructure:"topic"`
		TelemetryPrefix string `mapstructure:"telemetry_prefix"`
		Retain          bool   `mapstructure:"retain"`

		// Home Assistant Auto-Discovery settings
		HomeAssistantAutoDiscovery struct {
			Enabled              bool   `mapstructure:"enabled"`
			DiscoveryPrefix      string `mapstructure:"discovery_prefix"`
			DeviceManufacturer   string `mapstructure:"device_manufacturer"`
			DeviceModel          string `mapstructure:"device_model"`
			RetainDiscovery      bool   `mapstructure:"retain_discovery"`
			ListenToBirthMessage bool   `mapstructure:"listen_to_birth_message"`
			RediscoveryInterval  int    `mapstructure:"rediscovery_interval_hours"`
		} `mapstructure:"homeassistant_autodiscovery"`
	} `mapstructure:"mqtt"`

	// Analytics engine settings
	Engine struct {
		WindowSize       int     `mapstructure:"window_size"`
		ReferencePanelKW float64 `mapstructure:"reference_panel_kw"`
		ConfidenceBias   float64 `mapstructure:"confidence_bias"`
		IssueCount       int     `mapstructure:"issue_count"`
		Seed             int64   `mapstructure:"seed"`
		ValidationLevel  string  `mapstructure:"validation_level"`
	} `mapstructure:"engine"`

	// Periodic refresh settings
	Scheduler struct {
		Enabled         bool `mapstructure:"enabled"`
		IntervalSeconds int  `mapstructure:"interval_seconds"`
		Workers         int  `mapstructure:"workers"`
	} `mapstructure:"scheduler"`

	// Result cache settings
	Cache struct {
		Backend    string `mapstructure:"backend"`
		TTLSeconds int    `mapstructure:"ttl_seconds"`
		RedisAddr  string `mapstructure:"redis_addr"`
		RedisDB    int    `mapstructure:"redis_db"`
	} `mapstructure:"cache"`

	// Issue notification settings
	Notify struct {
		Enabled            bool   `mapstructure:"enabled"`
		WebhookURL         string `mapstructure:"webhook_url"`
		MinIntervalMinutes int    `mapstructure:"min_interval_minutes"`
		RatePerMinute      int    `mapstructure:"rate_per_minute"`
	} `mapstructure:"notify"`

	// Built-in telemetry simulator settings
	Simulator struct {
		Enabled      bool `mapstructure:"enabled"`
		HistoryHours int  `mapstructure:"history_hours"`
	} `mapstructure:"simulator"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel:  "info",
		SitesFile: "sites.yaml",
	}

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080
	cfg.API.CORSOrigins = []string{"*"}

	// Default MQTT settings
	cfg.MQTT.Enabled = false
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "solarsight"
	cfg.MQTT.TelemetryPrefix = "solarsight/ingest"
	cfg.MQTT.Retain = false

	// Default Home Assistant Auto-Discovery settings
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = false
	cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix = "homeassistant"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceManufacturer = "SolarSight"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceModel = "Site Analytics"
	cfg.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery = true
	cfg.MQTT.HomeAssistantAutoDiscovery.ListenToBirthMessage = true
	cfg.MQTT.HomeAssistantAutoDiscovery.RediscoveryInterval = 24 // 24 hours

	// Default engine settings
	cfg.Engine.WindowSize = 24
	cfg.Engine.ReferencePanelKW = 5
	cfg.Engine.ConfidenceBias = 0
	cfg.Engine.IssueCount = 7
	cfg.Engine.Seed = 0 // 0 seeds from the clock
	cfg.Engine.ValidationLevel = "basic"

	// Default scheduler settings
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.IntervalSeconds = 300
	cfg.Scheduler.Workers = 4

	// Default cache settings
	cfg.Cache.Backend = "memory"
	cfg.Cache.TTLSeconds = 600
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.RedisDB = 0

	// Default notify settings
	cfg.Notify.Enabled = false
	cfg.Notify.MinIntervalMinutes = 30
	cfg.Notify.RatePerMinute = 30

	// Default simulator settings
	cfg.Simulator.Enabled = true
	cfg.Simulator.HistoryHours = 72

	return cfg
}

// LoadDotEnv loads variables from the given .env files (default ".env") into the process environment.
// Missing files are ignored; existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Register defaults so every key can be overridden from the environment
	setDefaults(v, cfg)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			log.Info().Str("component", "config").Msg("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("sites_file", cfg.SitesFile)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("api.cors_origins", cfg.API.CORSOrigins)

	v.SetDefault("mqtt.enabled", cfg.MQTT.Enabled)
	v.SetDefault("mqtt.host", cfg.MQTT.Host)
	v.SetDefault("mqtt.port", cfg.MQTT.Port)
	v.SetDefault("mqtt.username", cfg.MQTT.Username)
	v.SetDefault("mqtt.password", cfg.MQTT.Password)
	v.SetDefault("mqtt.topic", cfg.MQTT.Topic)
	v.SetDefault("mqtt.telemetry_prefix", cfg.MQTT.TelemetryPrefix)
	v.SetDefault("mqtt.retain", cfg.MQTT.Retain)

	ha := cfg.MQTT.HomeAssistantAutoDiscovery
	v.SetDefault("mqtt.homeassistant_autodiscovery.enabled", ha.Enabled)
	v.SetDefault("mqtt.homeassistant_autodiscovery.discovery_prefix", ha.DiscoveryPrefix)
	v.SetDefault("mqtt.homeassistant_autodiscovery.device_manufacturer", ha.DeviceManufacturer)
	v.SetDefault("mqtt.homeassistant_autodiscovery.device_model", ha.DeviceModel)
	v.SetDefault("mqtt.homeassistant_autodiscovery.retain_discovery", ha.RetainDiscovery)
	v.SetDefault("mqtt.homeassistant_autodiscovery.listen_to_birth_message", ha.ListenToBirthMessage)
	v.SetDefault("mqtt.homeassistant_autodiscovery.rediscovery_interval_hours", ha.RediscoveryInterval)

	v.SetDefault("engine.window_size", cfg.Engine.WindowSize)
	v.SetDefault("engine.reference_panel_kw", cfg.Engine.ReferencePanelKW)
	v.SetDefault("engine.confidence_bias", cfg.Engine.ConfidenceBias)
	v.SetDefault("engine.issue_count", cfg.Engine.IssueCount)
	v.SetDefault("engine.seed", cfg.Engine.Seed)
	v.SetDefault("engine.validation_level", cfg.Engine.ValidationLevel)

	v.SetDefault("scheduler.enabled", cfg.Scheduler.Enabled)
	v.SetDefault("scheduler.interval_seconds", cfg.Scheduler.IntervalSeconds)
	v.SetDefault("scheduler.workers", cfg.Scheduler.Workers)

	v.SetDefault("cache.backend", cfg.Cache.Backend)
	v.SetDefault("cache.ttl_seconds", cfg.Cache.TTLSeconds)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)

	v.SetDefault("notify.enabled", cfg.Notify.Enabled)
	v.SetDefault("notify.webhook_url", cfg.Notify.WebhookURL)
	v.SetDefault("notify.min_interval_minutes", cfg.Notify.MinIntervalMinutes)
	v.SetDefault("notify.rate_per_minute", cfg.Notify.RatePerMinute)

	v.SetDefault("simulator.enabled", cfg.Simulator.Enabled)
	v.SetDefault("simulator.history_hours", cfg.Simulator.HistoryHours)
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("invalid cache backend %q: must be memory, redis or none", c.Cache.Backend)
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.Scheduler.Enabled && c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %d", c.Scheduler.IntervalSeconds)
	}
	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return errors.New("notify is enabled but webhook_url is empty")
	}
	return nil
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("solarsight Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")
	logger.Info().Str("sites_file", c.SitesFile).Msg("Sites File")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Strs("cors_origins", c.API.CORSOrigins).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Str("telemetry_prefix", c.MQTT.TelemetryPrefix).
			Bool("homeassistant_autodiscovery_enabled", c.MQTT.HomeAssistantAutoDiscovery.Enabled).
			Msg("MQTT Configuration")
	}

	logger.Info().
		Int("window_size", c.Engine.WindowSize).
		Float64("reference_panel_kw", c.Engine.ReferencePanelKW).
		Float64("confidence_bias", c.Engine.ConfidenceBias).
		Int("issue_count", c.Engine.IssueCount).
		Int64("seed", c.Engine.Seed).
		Str("validation_level", c.Engine.ValidationLevel).
		Msg("Engine")

	logger.Info().
		Bool("enabled", c.Scheduler.Enabled).
		Int("interval_seconds", c.Scheduler.IntervalSeconds).
		Int("workers", c.Scheduler.Workers).
		Msg("Scheduler")

	logger.Info().
		Str("backend", c.Cache.Backend).
		Int("ttl_seconds", c.Cache.TTLSeconds).
		Msg("Cache")

	logger.Info().Bool("enabled", c.Notify.Enabled).Msg("Notify Enabled")
	if c.Notify.Enabled {
		logger.Info().
			Int("min_interval_minutes", c.Notify.MinIntervalMinutes).
			Int("rate_per_minute", c.Notify.RatePerMinute).
			Msg("Notify Configuration")
	}

	logger.Info().
		Bool("enabled", c.Simulator.Enabled).
		Int("history_hours", c.Simulator.HistoryHours).
		Msg("Simulator")

	logger.Info().Msg("-----------------------------")
}
