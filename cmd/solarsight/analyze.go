package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/resident-x/go-solarsight/internal/analytics"
	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/telemetry"
)

// analyzeOptions holds the flags of the analyze command.
type analyzeOptions struct {
	file         string
	capacity     float64
	window       int
	forecastDays int
	seed         int64
	views        []string
}

// newAnalyzeCmd computes views for a telemetry file without running the service.
func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a telemetry file and print the computed views as JSON",
		Long: `Analyze reads hourly telemetry samples from a JSON or YAML file and prints the
overview, insights, history and forecast views.

Examples:
  solarsight analyze --file samples.json --capacity 100
  solarsight analyze --file samples.yaml --capacity 250 --view overview --view insights`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "Telemetry samples file (JSON array or YAML list)")
	cmd.Flags().Float64Var(&opts.capacity, "capacity", 100, "Site capacity in kWp")
	cmd.Flags().IntVar(&opts.window, "window", analytics.DefaultWindowSize, "Overview window size in samples")
	cmd.Flags().IntVar(&opts.forecastDays, "forecast-days", 7, "Number of days to forecast")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed for forecast jitter (0 seeds from the clock)")
	cmd.Flags().StringSliceVar(&opts.views, "view", nil, "Views to compute (overview, insights, history, forecast); default all")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runAnalyze(out io.Writer, opts *analyzeOptions) error {
	if opts.capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %v", opts.capacity)
	}

	samples, err := readSamples(opts.file)
	if err != nil {
		return err
	}

	views, err := selectViews(opts.views)
	if err != nil {
		return err
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // forecast jitter only

	result := make(map[string]interface{}, len(views))
	for _, view := range views {
		switch view {
		case domain.ViewOverview:
			result[string(view)] = analytics.SynthesizeOverview(samples, opts.capacity, opts.window)
		case domain.ViewInsights:
			result[string(view)] = analytics.DetectInsights(samples, opts.capacity)
		case domain.ViewHistory:
			result[string(view)] = analytics.SynthesizeHistory(samples, opts.capacity)
		case domain.ViewForecast:
			result[string(view)] = analytics.ForecastPower(samples, opts.forecastDays, rng)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// selectViews resolves view names. Issues are excluded since they need a registered site.
func selectViews(names []string) ([]domain.View, error) {
	if len(names) == 0 {
		return []domain.View{domain.ViewOverview, domain.ViewInsights, domain.ViewHistory, domain.ViewForecast}, nil
	}

	views := make([]domain.View, 0, len(names))
	for _, name := range names {
		view, ok := domain.ParseView(strings.TrimSpace(name))
		if !ok || view == domain.ViewIssues {
			return nil, fmt.Errorf("unsupported view: %s", name)
		}
		views = append(views, view)
	}
	return views, nil
}

// readSamples loads telemetry from a JSON or YAML file, chosen by extension.
func readSamples(path string) ([]domain.TelemetrySample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var samples []domain.TelemetrySample
		if err := yaml.Unmarshal(raw, &samples); err != nil {
			return nil, fmt.Errorf("failed to decode telemetry file: %w", err)
		}
		return samples, nil
	default:
		return telemetry.DecodeSamples(raw)
	}
}
