// Package main provides a telemetry simulator that publishes synthetic site samples to the
// solarsight MQTT ingest topics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/telemetry"
)

// TelemetrySimulator publishes one simulated sample per site on every tick. Simulated time advances
// by step per tick so a day of telemetry can be replayed in seconds.
type TelemetrySimulator struct {
	client    mqtt.Client
	prefix    string
	sites     []domain.SiteProfile
	generator *telemetry.Simulator
	interval  time.Duration
	step      time.Duration
	clock     time.Time
	logger    zerolog.Logger
}

// NewTelemetrySimulator creates a new telemetry simulator.
func NewTelemetrySimulator(client mqtt.Client, prefix string, sites []domain.SiteProfile, seed int64,
	interval, step time.Duration, start time.Time) *TelemetrySimulator {
	return &TelemetrySimulator{
		client:    client,
		prefix:    strings.TrimSuffix(prefix, "/"),
		sites:     sites,
		generator: telemetry.NewSimulator(seed),
		interval:  interval,
		step:      step,
		clock:     start.UTC().Truncate(time.Hour),
		logger:    log.With().Str("component", "telemetry_sim").Logger(),
	}
}

// Topic returns the ingest topic of a site.
func (sim *TelemetrySimulator) Topic(siteID string) string {
	return fmt.Sprintf("%s/%s/telemetry", sim.prefix, siteID)
}

// PublishTick publishes one sample for every site at the current simulated time and advances the clock.
func (sim *TelemetrySimulator) PublishTick() (int, error) {
	at := sim.clock
	sim.clock = sim.clock.Add(sim.step)

	sent := 0
	var errs []error
	for _, site := range sim.sites {
		sample := sim.generator.Sample(site, at)
		payload, err := json.Marshal(sample)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode sample for %s: %w", site.ID, err))
			continue
		}

		token := sim.client.Publish(sim.Topic(site.ID), 1, false, payload)
		if !token.WaitTimeout(5 * time.Second) {
			errs = append(errs, fmt.Errorf("publish to %s timed out", sim.Topic(site.ID)))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish for %s: %w", site.ID, err))
			continue
		}

		sent++
		sim.logger.Debug().
			Str("site_id", site.ID).
			Time("at", at).
			Float64("ac_output_kw", sample.ACOutputKW).
			Msg("Published sample")
	}

	return sent, errors.Join(errs...)
}

// Run publishes samples until the context is cancelled.
func (sim *TelemetrySimulator) Run(ctx context.Context) error {
	sim.logger.Info().
		Int("sites", len(sim.sites)).
		Dur("interval", sim.interval).
		Dur("step", sim.step).
		Str("prefix", sim.prefix).
		Msg("Starting telemetry simulator")

	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	published := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			sim.logger.Info().
				Int("samples", published).
				Dur("runtime", time.Since(startTime).Round(time.Second)).
				Msg("Telemetry simulator stopped")
			return ctx.Err()

		case <-ticker.C:
			sent, err := sim.PublishTick()
			published += sent
			if err != nil {
				sim.logger.Error().Err(err).Msg("Error publishing samples")
			}
		}
	}
}

// loadSites reads profiles from a sites file, or builds a single profile from flags.
func loadSites(path, siteID string, capacity, latitude float64) ([]domain.SiteProfile, error) {
	if path != "" {
		return domain.LoadProfiles(path)
	}

	profile := domain.SiteProfile{ID: siteID, CapacityKWp: capacity, Latitude: latitude}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return []domain.SiteProfile{profile}, nil
}

func main() {
	var (
		broker    = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		username  = flag.String("username", "", "MQTT username")
		password  = flag.String("password", "", "MQTT password")
		prefix    = flag.String("prefix", "solarsight/ingest", "Telemetry topic prefix")
		sitesFile = flag.String("sites", "", "Sites file (YAML); overrides -site")
		siteID    = flag.String("site", "SGX-ID-123", "Site ID when no sites file is given")
		capacity  = flag.Float64("capacity", 100, "Site capacity in kWp when no sites file is given")
		latitude  = flag.Float64("latitude", 1.3, "Site latitude when no sites file is given")
		interval  = flag.Duration("interval", 10*time.Second, "Interval between publishes")
		step      = flag.Duration("step", time.Hour, "Simulated time advanced per publish")
		seed      = flag.Int64("seed", 0, "Random seed (0 seeds from the clock)")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	sites, err := loadSites(*sitesFile, *siteID, *capacity, *latitude)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load sites")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("solarsight-sim-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		log.Fatal().Err(token.Error()).Str("broker", *broker).Msg("Cannot connect to MQTT broker")
	}
	defer client.Disconnect(250)
	log.Info().Str("broker", *broker).Msg("Connected to MQTT broker")

	// Set up signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sim := NewTelemetrySimulator(client, *prefix, sites, *seed, *interval, *step, time.Now())
	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Simulator error")
	}
}
