package telemetry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/resident-x/go-solarsight/internal/domain"
)

const (
	sunrise         = 6.0
	sunset          = 18.0
	clearSkyPeak    = 1000.0
	systemPR        = 0.9
	shadingChance   = 0.05
	shadingDerating = 0.55
)

// Simulator generates diurnal telemetry for a site profile. A fixed seed reproduces the same series.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator. Seed 0 seeds from the clock.
func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

// Float64 exposes the simulator's random stream so it can serve as a domain.RandomSource.
func (s *Simulator) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Generate returns hourly samples for the given number of hours starting at start.
func (s *Simulator) Generate(profile domain.SiteProfile, start time.Time, hours int) []domain.TelemetrySample {
	if hours <= 0 {
		return []domain.TelemetrySample{}
	}
	samples := make([]domain.TelemetrySample, hours)
	for i := range samples {
		samples[i] = s.Sample(profile, start.Add(time.Duration(i)*time.Hour))
	}
	return samples
}

// Sample produces a single telemetry sample for the site at the given time.
func (s *Simulator) Sample(profile domain.SiteProfile, at time.Time) domain.TelemetrySample {
	s.mu.Lock()
	cloud := s.rng.Float64() * 0.35
	noise := s.rng.Float64() - 0.5
	shaded := s.rng.Float64() < shadingChance
	s.mu.Unlock()

	hour := float64(at.Hour()) + float64(at.Minute())/60
	irradiance := clearSky(profile.Latitude) * sunElevation(hour) * (1 - cloud)
	ambient := 18 + 8*math.Sin(math.Pi*(hour-9)/12) + noise*2
	cell := ambient + irradiance/1000*28

	output := profile.CapacityKWp * irradiance / 1000 * systemPR * (1 - (cell-25)*0.004)
	if shaded {
		output *= shadingDerating
	}
	output = math.Max(0, math.Min(profile.CapacityKWp, output))

	return domain.TelemetrySample{
		Timestamp:     at,
		IrradianceWm2: round(irradiance, 1),
		ACOutputKW:    round(output, 2),
		CellTempC:     round(cell, 1),
		AmbientTempC:  round(ambient, 1),
		HourLabel:     at.Format("15:04"),
	}
}

// Weather produces the weather snapshot used by issue detection for the site at the given time.
func (s *Simulator) Weather(profile domain.SiteProfile, at time.Time) domain.SolarWeatherData {
	sample := s.Sample(profile, at)

	s.mu.Lock()
	humidity := 35 + s.rng.Float64()*40
	wind := s.rng.Float64() * 8
	cloudCover := s.rng.Float64() * 60
	pressure := 1005 + s.rng.Float64()*20
	s.mu.Unlock()

	return domain.SolarWeatherData{
		Irradiance:  sample.IrradianceWm2,
		Temperature: sample.AmbientTempC,
		Humidity:    round(humidity, 1),
		WindSpeed:   round(wind, 1),
		CloudCover:  round(cloudCover, 0),
		Pressure:    round(pressure, 1),
		Timestamp:   at,
	}
}

// sunElevation is a half-sine between sunrise and sunset, 0 at night.
func sunElevation(hour float64) float64 {
	if hour <= sunrise || hour >= sunset {
		return 0
	}
	return math.Sin(math.Pi * (hour - sunrise) / (sunset - sunrise))
}

// clearSky scales the peak irradiance down with latitude.
func clearSky(latitude float64) float64 {
	return clearSkyPeak * math.Max(0.3, math.Cos(latitude*math.Pi/180))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
