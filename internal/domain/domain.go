// Package domain provides core domain models and interfaces for the go-solarsight application
package domain

import (
	"context"
	"time"
)

// TelemetrySample is one reading from a site's data provider.
type TelemetrySample struct {
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	IrradianceWm2 float64   `json:"irradiance_w_m2" yaml:"irradiance_w_m2"`
	ACOutputKW    float64   `json:"ac_output_kw" yaml:"ac_output_kw"`
	CellTempC     float64   `json:"cell_temp_c" yaml:"cell_temp_c"`
	AmbientTempC  float64   `json:"ambient_temp_c" yaml:"ambient_temp_c"`
	HourLabel     string    `json:"hour_label,omitempty" yaml:"hour_label,omitempty"`
}

// SiteProfile describes a registered solar site.
type SiteProfile struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name,omitempty" yaml:"name,omitempty"`
	CapacityKWp float64 `json:"capacity_kwp" yaml:"capacity_kwp"`
	TiltDeg     float64 `json:"tilt_deg" yaml:"tilt_deg"`
	AzimuthDeg  float64 `json:"azimuth_deg" yaml:"azimuth_deg"`
	Latitude    float64 `json:"latitude" yaml:"latitude"`
	Longitude   float64 `json:"longitude" yaml:"longitude"`
}

// SolarWeatherData is the weather snapshot used by the issue simulator.
type SolarWeatherData struct {
	Irradiance  float64   `json:"irradiance"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
	CloudCover  float64   `json:"cloud_cover"`
	Pressure    float64   `json:"pressure"`
	Timestamp   time.Time `json:"timestamp"`
}

// DriverContribution is one entry of a driver attribution breakdown.
type DriverContribution struct {
	Label           string `json:"label"`
	ContributionPct int    `json:"contribution_pct"`
}

// ActionPriority ranks recommended overview actions.
type ActionPriority string

const (
	ActionPriorityHigh   ActionPriority = "high"
	ActionPriorityMedium ActionPriority = "med"
)

// RecommendedAction is an operator action with its estimated recovery.
type RecommendedAction struct {
	Title     string         `json:"title"`
	ImpactKWh float64        `json:"impact_kwh"`
	Priority  ActionPriority `json:"priority"`
}

// Forecast window labels.
const (
	WindowLowOutput = "low output"
	WindowHighRisk  = "high risk"
)

// ForecastWindow marks a period of expected trouble.
type ForecastWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// OverviewSnapshot summarizes the health of a site over the recent window.
type OverviewSnapshot struct {
	HealthScore        float64              `json:"health_score"`
	PredictedLossKWh7d float64              `json:"predicted_loss_kwh_7d"`
	PredictedLossPct7d float64              `json:"predicted_loss_pct_7d"`
	TopDrivers         []DriverContribution `json:"top_drivers"`
	Actions            []RecommendedAction  `json:"actions"`
	ForecastWindows    []ForecastWindow     `json:"forecast_windows"`
}

// InsightKind names a detected performance pattern.
type InsightKind string

const (
	InsightThermalHotspot  InsightKind = "thermal_hotspot"
	InsightMiddayShading   InsightKind = "midday_shading"
	InsightSlowMorningRamp InsightKind = "slow_morning_ramp"
	InsightStableOperation InsightKind = "stable_operation"
)

// InsightCard is a single operational insight.
type InsightCard struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"ts"`
	Kind        InsightKind `json:"kind"`
	Confidence  float64     `json:"confidence"`
	ImpactKWh   float64     `json:"impact_kwh"`
	Summary     string      `json:"summary"`
	Tags        []string    `json:"tags"`
	EvidenceURL string      `json:"evidence_url,omitempty"`
}

// HistoryPoint is one aligned entry of the trend series.
// PR is nil when the modeled output is zero.
type HistoryPoint struct {
	Timestamp time.Time `json:"ts"`
	GHI       float64   `json:"ghi"`
	ACKW      float64   `json:"ac_kw"`
	ModeledKW float64   `json:"modeled_kw"`
	PR        *float64  `json:"pr"`
}

// Anomaly types.
const (
	AnomalyWarning  = "warning"
	AnomalyCritical = "critical"
)

// Anomaly flags an hour of underperformance.
type Anomaly struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"`
	Score int       `json:"score"`
}

// ReliabilityKPIs are heuristic reliability figures derived from anomaly density.
type ReliabilityKPIs struct {
	MTBFHours       int     `json:"mtbf_hours"`
	MTTRHours       int     `json:"mttr_hours"`
	RecoveredKWh30d float64 `json:"recovered_kwh_30d"`
}

// HistorySeries is the trend view of a site.
type HistorySeries struct {
	Series    []HistoryPoint  `json:"series"`
	Anomalies []Anomaly       `json:"anomalies"`
	KPIs      ReliabilityKPIs `json:"kpis"`
}

// IssueType is one of the archetype names in the issue catalog.
type IssueType string

const (
	IssueHotspot      IssueType = "hotspot"
	IssueCrack        IssueType = "crack"
	IssueSoiling      IssueType = "soiling"
	IssueDelamination IssueType = "delamination"
	IssueShadow       IssueType = "shadow"
	IssueSnow         IssueType = "snow"
	IssueNone         IssueType = "none"
)

// Severity of a detected issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// DispatchPriority is the operational urgency attached to an issue.
type DispatchPriority string

const (
	DispatchImmediate DispatchPriority = "immediate"
	DispatchUrgent    DispatchPriority = "urgent"
	DispatchScheduled DispatchPriority = "scheduled"
	DispatchMonitor   DispatchPriority = "monitor"
)

// PanelLocation places a panel inside its site.
type PanelLocation struct {
	Row    string  `json:"row"`
	Column int     `json:"column"`
	String string  `json:"string"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// IssueSensorData carries the readings an issue was derived from.
type IssueSensorData struct {
	IrradianceWm2  float64 `json:"irradiance_w_m2"`
	AmbientTempC   float64 `json:"ambient_temp_c"`
	PanelTempC     float64 `json:"panel_temp_c"`
	HumidityPct    float64 `json:"humidity_pct"`
	WindSpeedMS    float64 `json:"wind_speed_ms"`
	CloudCoverPct  float64 `json:"cloud_cover_pct"`
	PressureHPa    float64 `json:"pressure_hpa"`
	ExpectedPowerW float64 `json:"expected_power_w"`
}

// SolarIssue is a synthetic per-panel issue record.
type SolarIssue struct {
	ID                 string           `json:"id"`
	SiteID             string           `json:"site_id"`
	PanelID            string           `json:"panel_id"`
	Type               IssueType        `json:"type"`
	Severity           Severity         `json:"severity"`
	Confidence         float64          `json:"confidence"`
	EnergyLossPercent  float64          `json:"energy_loss_percent"`
	PredictedKWhLoss   float64          `json:"predicted_kwh_loss"`
	Location           PanelLocation    `json:"location"`
	SensorData         IssueSensorData  `json:"sensor_data"`
	HasSensorError     bool             `json:"has_sensor_error"`
	SensorErrorMessage string           `json:"sensor_error_message,omitempty"`
	NeedsRecheck       bool             `json:"needs_recheck"`
	DispatchPriority   DispatchPriority `json:"dispatch_priority"`
	RecommendedActions []string         `json:"recommended_actions"`
	Description        string           `json:"description"`
	ImageURL           string           `json:"image_url,omitempty"`
	ThermalImageURL    string           `json:"thermal_image_url,omitempty"`
	DetectedAt         time.Time        `json:"detected_at"`
}

// View names the engine outputs a caller can request for a site.
type View string

const (
	ViewOverview View = "overview"
	ViewInsights View = "insights"
	ViewHistory  View = "history"
	ViewIssues   View = "issues"
	ViewForecast View = "forecast"
)

// AllViews lists every view in refresh order.
var AllViews = []View{ViewOverview, ViewInsights, ViewHistory, ViewIssues, ViewForecast}

// ParseView maps a view name to a View.
func ParseView(name string) (View, bool) {
	for _, v := range AllViews {
		if string(v) == name {
			return v, true
		}
	}
	return "", false
}

// SiteView is a computed view of a site ready to be published or streamed.
type SiteView struct {
	Site       SiteProfile `json:"-"`
	SiteID     string      `json:"site_id"`
	View       View        `json:"view"`
	Data       interface{} `json:"data"`
	ComputedAt time.Time   `json:"computed_at"`
}

// RandomSource supplies uniform values in [0,1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// TelemetrySource provides telemetry samples for a site.
type TelemetrySource interface {
	// Window returns up to n of the most recent samples in ascending time order
	Window(siteID string, n int) []TelemetrySample

	// All returns every retained sample in ascending time order
	All(siteID string) []TelemetrySample
}

// MessagePublisher defines the interface for publishing computed views.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// Notifier forwards issues that need operator attention to an external service.
type Notifier interface {
	// Notify sends a single issue
	Notify(ctx context.Context, siteID string, issue SolarIssue) error

	// Close releases any resources held by the notifier
	Close() error
}

// Registry keeps track of registered sites.
type Registry interface {
	// RegisterSite adds or updates a site in the registry
	RegisterSite(profile SiteProfile) error

	// GetSite retrieves a site profile
	GetSite(id string) (*SiteInfo, bool)

	// GetAllSites returns information about all sites
	GetAllSites() []*SiteInfo

	// RemoveSite deletes a site from the registry
	RemoveSite(id string) bool
}

// SiteInfo contains a registered site and its bookkeeping.
type SiteInfo struct {
	Profile      SiteProfile
	RegisteredAt time.Time
	LastRefresh  time.Time
}
