package issues

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/resident-x/go-solarsight/internal/validation"
)

const (
	// DefaultPanelCapacityKW is the reference per-panel capacity for loss projections.
	DefaultPanelCapacityKW = 5.0

	peakSunHours      = 4.5
	recheckConfidence = 0.70
	minConfidence     = 0.65
	maxConfidence     = 0.99
)

var issueNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("issues.solarsight"))

// Option configures a Simulator.
type Option func(*Simulator)

// WithPanelCapacity overrides the per-panel reference capacity in kW. Non-positive values are ignored.
func WithPanelCapacity(kw float64) Option {
	return func(s *Simulator) {
		if kw > 0 {
			s.panelKW = kw
		}
	}
}

// WithConfidenceBias shifts the base detection confidence before clamping.
func WithConfidenceBias(bias float64) Option {
	return func(s *Simulator) {
		s.bias = bias
	}
}

// WithValidator replaces the default basic-level sensor validator.
func WithValidator(v *validation.Validator) Option {
	return func(s *Simulator) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithClock sets the time source used when the weather data carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

// Simulator produces synthetic issue records. It is safe for concurrent use.
type Simulator struct {
	mu        sync.Mutex
	rng       domain.RandomSource
	panelKW   float64
	bias      float64
	validator *validation.Validator
	now       func() time.Time
}

// NewSimulator creates a simulator drawing from rng. A nil rng uses a time-seeded source.
func NewSimulator(rng domain.RandomSource, opts ...Option) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &Simulator{
		rng:       rng,
		panelKW:   DefaultPanelCapacityKW,
		validator: validation.NewValidator(validation.ValidationLevelBasic, zerolog.Nop()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// draw takes n values from the random source under the lock so one issue's draws stay contiguous.
func (s *Simulator) draw(n int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		out[i] = s.rng.Float64()
	}
	return out
}

// GenerateIssue builds one issue record for a panel. Unknown issue types use the none archetype.
func (s *Simulator) GenerateIssue(issueType domain.IssueType, panelID string, location domain.PanelLocation,
	weather domain.SolarWeatherData, siteID string) domain.SolarIssue {
	archetype := Lookup(issueType)
	r := s.draw(3)

	base := 0.85
	if archetype.Type == domain.IssueNone {
		base = 0.95
	}
	rawConfidence := clamp(minConfidence, maxConfidence, base+s.bias+(r[0]-0.3)*0.25)
	confidence := roundTo(rawConfidence, 3)
	energyLoss := roundTo(clamp(0, 100, archetype.midpoint()+(r[1]-0.5)*5), 2)
	predictedLoss := roundTo(s.panelKW*peakSunHours*energyLoss/100, 2)

	panelTemp := roundTo(weather.Temperature+weather.Irradiance/1000*25+r[2]*5, 1)
	expectedPower := s.panelKW * 1000 * (weather.Irradiance / 1000) * (1 - (panelTemp-25)*0.004) * (1 - energyLoss/100)

	detectedAt := weather.Timestamp
	if detectedAt.IsZero() {
		detectedAt = s.now().UTC()
	}

	issue := domain.SolarIssue{
		ID:                issueID(siteID, panelID, archetype.Type, detectedAt),
		SiteID:            siteID,
		PanelID:           panelID,
		Type:              archetype.Type,
		Severity:          archetype.TypicalSeverity,
		Confidence:        confidence,
		EnergyLossPercent: energyLoss,
		PredictedKWhLoss:  predictedLoss,
		Location:          location,
		SensorData: domain.IssueSensorData{
			IrradianceWm2:  weather.Irradiance,
			AmbientTempC:   weather.Temperature,
			PanelTempC:     panelTemp,
			HumidityPct:    weather.Humidity,
			WindSpeedMS:    weather.WindSpeed,
			CloudCoverPct:  weather.CloudCover,
			PressureHPa:    weather.Pressure,
			ExpectedPowerW: roundTo(expectedPower, 1),
		},
		NeedsRecheck:       rawConfidence < recheckConfidence,
		RecommendedActions: archetype.Recommendations,
		Description:        archetype.Description,
		ImageURL:           archetype.ImageURL,
		ThermalImageURL:    archetype.ThermalImageURL,
		DetectedAt:         detectedAt,
	}

	result := s.validator.Validate(validation.Reading{
		IrradianceWm2: weather.Irradiance,
		AmbientTempC:  weather.Temperature,
		PanelTempC:    panelTemp,
	})
	if !result.Valid {
		issue.HasSensorError = true
		issue.SensorErrorMessage = result.Message()
		issue.Severity = domain.SeverityCritical
		issue.DispatchPriority = domain.DispatchImmediate
		issue.RecommendedActions = append([]string(nil), calibrationChecklist...)
		return issue
	}

	if issue.NeedsRecheck {
		top := archetype.Recommendations[:min(2, len(archetype.Recommendations))]
		issue.RecommendedActions = append([]string{recheckInstruction}, top...)
	}
	issue.DispatchPriority = DispatchFor(issue.Severity)
	return issue
}

// DispatchFor maps a severity to its dispatch priority.
func DispatchFor(severity domain.Severity) domain.DispatchPriority {
	switch severity {
	case domain.SeverityCritical:
		return domain.DispatchImmediate
	case domain.SeverityHigh:
		return domain.DispatchUrgent
	case domain.SeverityMedium:
		return domain.DispatchScheduled
	default:
		return domain.DispatchMonitor
	}
}

// scene places one archetype on a fixed panel of the demo array.
type scene struct {
	issueType domain.IssueType
	panelID   string
	location  domain.PanelLocation
}

var siteScenes = []scene{
	{domain.IssueHotspot, "PNL-A03", domain.PanelLocation{Row: "A", Column: 3, String: "S1", X: 0.18, Y: 0.22}},
	{domain.IssueCrack, "PNL-B07", domain.PanelLocation{Row: "B", Column: 7, String: "S2", X: 0.46, Y: 0.38}},
	{domain.IssueSoiling, "PNL-C02", domain.PanelLocation{Row: "C", Column: 2, String: "S3", X: 0.12, Y: 0.55}},
	{domain.IssueDelamination, "PNL-D05", domain.PanelLocation{Row: "D", Column: 5, String: "S4", X: 0.33, Y: 0.71}},
	{domain.IssueShadow, "PNL-A11", domain.PanelLocation{Row: "A", Column: 11, String: "S1", X: 0.74, Y: 0.22}},
	{domain.IssueSnow, "PNL-E04", domain.PanelLocation{Row: "E", Column: 4, String: "S5", X: 0.27, Y: 0.88}},
	{domain.IssueNone, "PNL-C09", domain.PanelLocation{Row: "C", Column: 9, String: "S3", X: 0.61, Y: 0.55}},
}

// GenerateSiteIssues produces count issues by cycling through the demo scenes. Panels on later cycles get a
// "-<n>" suffix so ids stay unique.
func (s *Simulator) GenerateSiteIssues(siteID string, weather domain.SolarWeatherData, count int) []domain.SolarIssue {
	if count <= 0 {
		return []domain.SolarIssue{}
	}

	out := make([]domain.SolarIssue, 0, count)
	for i := 0; i < count; i++ {
		sc := siteScenes[i%len(siteScenes)]
		panelID := sc.panelID
		if cycle := i / len(siteScenes); cycle > 0 {
			panelID = fmt.Sprintf("%s-%d", panelID, cycle+1)
		}
		out = append(out, s.GenerateIssue(sc.issueType, panelID, sc.location, weather, siteID))
	}
	return out
}

func issueID(siteID, panelID string, t domain.IssueType, at time.Time) string {
	key := siteID + "|" + panelID + "|" + string(t) + "|" + at.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(issueNamespace, []byte(key)).String()
}

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
