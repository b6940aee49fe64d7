package analytics

import (
	"fmt"
	"math"
	"sort"
)

// ModelVersion is reported by ModelInfo and the analysis endpoints.
const ModelVersion = "1.0.0"

// PerformanceInputs are the operating conditions of a system. Nil fields take the documented defaults.
type PerformanceInputs struct {
	Irradiance     *float64 `json:"irradiance,omitempty"`
	AmbientTemp    *float64 `json:"ambient_temp,omitempty"`
	PanelTemp      *float64 `json:"panel_temp,omitempty"`
	BatterySOC     *float64 `json:"battery_soc,omitempty"`
	InverterEff    *float64 `json:"inverter_eff,omitempty"`
	SoilingIndex   *float64 `json:"soiling_index,omitempty"`
	Tilt           *float64 `json:"tilt,omitempty"`
	Azimuth        *float64 `json:"azimuth,omitempty"`
	WindSpeed      *float64 `json:"wind_speed,omitempty"`
	PRBaseline     *float64 `json:"pr_baseline,omitempty"`
	SystemCapacity *float64 `json:"system_capacity,omitempty"`
	ActualOutput   *float64 `json:"actual_output,omitempty"`
}

// resolvedInputs is PerformanceInputs with defaults applied.
type resolvedInputs struct {
	irradiance, ambientTemp, panelTemp, batterySOC, inverterEff float64
	soiling, tilt, azimuth, windSpeed, prBaseline, capacity     float64
	actual                                                      *float64
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func (in PerformanceInputs) resolve() resolvedInputs {
	return resolvedInputs{
		irradiance:  valueOr(in.Irradiance, 0),
		ambientTemp: valueOr(in.AmbientTemp, 25),
		panelTemp:   valueOr(in.PanelTemp, 35),
		batterySOC:  valueOr(in.BatterySOC, 70),
		inverterEff: valueOr(in.InverterEff, 96),
		soiling:     valueOr(in.SoilingIndex, 2),
		tilt:        valueOr(in.Tilt, 30),
		azimuth:     valueOr(in.Azimuth, 180),
		windSpeed:   valueOr(in.WindSpeed, 2),
		prBaseline:  valueOr(in.PRBaseline, 0.80),
		capacity:    valueOr(in.SystemCapacity, 100),
		actual:      in.ActualOutput,
	}
}

// Fault thresholds used by the performance model.
var performanceThresholds = map[string]float64{
	"panel_temp_high":      65,
	"panel_temp_critical":  75,
	"soiling_critical":     8,
	"inverter_eff_low":     94,
	"battery_soc_low":      20,
	"battery_soc_critical": 10,
	"deviation_warning":    10,
	"deviation_critical":   20,
}

var featureNames = []string{
	"irradiance", "ambient_temp", "panel_temp", "battery_soc", "inverter_eff",
	"soiling_index", "tilt", "azimuth", "wind_speed", "pr_baseline",
}

var featureImportance = map[string]float64{
	"irradiance":    0.35,
	"panel_temp":    0.22,
	"inverter_eff":  0.15,
	"soiling_index": 0.12,
	"battery_soc":   0.08,
	"ambient_temp":  0.04,
	"wind_speed":    0.02,
	"tilt":          0.01,
	"azimuth":       0.01,
	"pr_baseline":   0.0,
}

const baselineInverterEff = 96.5

// Recommendation priorities, most urgent first.
const (
	PriorityCritical = "Critical"
	PriorityHigh     = "High"
	PriorityMedium   = "Medium"
	PriorityInfo     = "Info"
)

var recommendationOrder = map[string]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityInfo:     3,
}

const maxRecommendations = 6

// Recommendation is an operator-facing finding from the performance model.
type Recommendation struct {
	Priority string `json:"priority"`
	Message  string `json:"msg"`
	Action   string `json:"action"`
}

// PerformanceMetrics exposes the individual derating factors.
type PerformanceMetrics struct {
	TempCorrection   float64 `json:"temp_correction"`
	SoilingFactor    float64 `json:"soiling_factor"`
	InverterFactor   float64 `json:"inverter_factor"`
	IrradianceFactor float64 `json:"irradiance_factor"`
}

// PerformanceReport is the output of PredictPerformance.
type PerformanceReport struct {
	SiteID             string             `json:"site_id,omitempty"`
	PredictedOutput    float64            `json:"predicted_output"`
	ActualOutput       float64            `json:"actual_output"`
	Deviation          float64            `json:"deviation"`
	FaultProbability   float64            `json:"fault_prob"`
	TopFactors         []string           `json:"top_factors"`
	Recommendations    []Recommendation   `json:"recommendations"`
	WeatherImpactScore float64            `json:"weather_impact_score"`
	BatteryHealthScore float64            `json:"battery_health_score"`
	Metrics            PerformanceMetrics `json:"performance_metrics"`
}

// ModelDescription describes the performance model's features and thresholds.
type ModelDescription struct {
	ModelType         string             `json:"model_type"`
	Features          []string           `json:"features"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	Thresholds        map[string]float64 `json:"thresholds"`
	Version           string             `json:"version"`
}

// ModelInfo returns a copy of the model description.
func ModelInfo() ModelDescription {
	importance := make(map[string]float64, len(featureImportance))
	for k, v := range featureImportance {
		importance[k] = v
	}
	thresholds := make(map[string]float64, len(performanceThresholds))
	for k, v := range performanceThresholds {
		thresholds[k] = v
	}
	return ModelDescription{
		ModelType:         "physics_baseline",
		Features:          append([]string(nil), featureNames...),
		FeatureImportance: importance,
		Thresholds:        thresholds,
		Version:           ModelVersion,
	}
}

// PredictPerformance estimates the expected output of a system from its operating conditions and, when an
// actual output is supplied, how far the system deviates from it.
func PredictPerformance(inputs PerformanceInputs) PerformanceReport {
	in := inputs.resolve()

	// ~0.4% per degree above STC cell temperature.
	tempCorrection := clamp(0.7, 1.0, 1-(in.panelTemp-25)*0.004)
	soilingFactor := 1 - in.soiling/100
	inverterFactor := in.inverterEff / 100
	irradianceFactor := in.irradiance / 1000

	predicted := in.capacity * irradianceFactor * in.prBaseline * tempCorrection * soilingFactor * inverterFactor

	deviation := 0.0
	actual := predicted
	if in.actual != nil {
		actual = *in.actual
		if predicted > 0 {
			deviation = (actual - predicted) / predicted * 100
		}
	}

	return PerformanceReport{
		PredictedOutput:    roundTo(predicted, 2),
		ActualOutput:       actual,
		Deviation:          roundTo(deviation, 2),
		FaultProbability:   roundTo(faultProbability(in, deviation), 3),
		TopFactors:         topFactors(3),
		Recommendations:    recommend(in, deviation),
		WeatherImpactScore: weatherImpact(in.irradiance, in.windSpeed, in.ambientTemp),
		BatteryHealthScore: batteryHealth(in.batterySOC),
		Metrics: PerformanceMetrics{
			TempCorrection:   roundTo(tempCorrection, 3),
			SoilingFactor:    roundTo(soilingFactor, 3),
			InverterFactor:   roundTo(inverterFactor, 3),
			IrradianceFactor: roundTo(irradianceFactor, 3),
		},
	}
}

func faultProbability(in resolvedInputs, deviation float64) float64 {
	score := 0.0

	switch dev := math.Abs(deviation); {
	case dev > performanceThresholds["deviation_critical"]:
		score += 0.4
	case dev > performanceThresholds["deviation_warning"]:
		score += 0.2
	}

	switch {
	case in.panelTemp > performanceThresholds["panel_temp_critical"]:
		score += 0.3
	case in.panelTemp > performanceThresholds["panel_temp_high"]:
		score += 0.1
	}

	if in.soiling > performanceThresholds["soiling_critical"] {
		score += 0.2
	}
	if in.inverterEff < performanceThresholds["inverter_eff_low"] {
		score += 0.1
	}

	return math.Min(1, score)
}

// topFactors returns the n most important features, ties broken by name.
func topFactors(n int) []string {
	names := append([]string(nil), featureNames...)
	sort.SliceStable(names, func(i, j int) bool {
		if featureImportance[names[i]] != featureImportance[names[j]] {
			return featureImportance[names[i]] > featureImportance[names[j]]
		}
		return names[i] < names[j]
	})
	return names[:n]
}

func recommend(in resolvedInputs, deviation float64) []Recommendation {
	recs := make([]Recommendation, 0, 8)
	add := func(priority, msg, action string) {
		recs = append(recs, Recommendation{Priority: priority, Message: msg, Action: action})
	}

	switch {
	case in.panelTemp > performanceThresholds["panel_temp_critical"]:
		add(PriorityCritical,
			fmt.Sprintf("Panel over-temperature detected (%g°C). Immediate inspection required - possible hotspot or cooling issue.", in.panelTemp),
			"Inspect panels for hotspots, check ventilation, consider tilt adjustment")
	case in.panelTemp > performanceThresholds["panel_temp_high"]:
		add(PriorityHigh,
			fmt.Sprintf("Panel temperature elevated (%g°C vs ambient %g°C). Monitor for efficiency loss.", in.panelTemp, in.ambientTemp),
			"Check for adequate airflow, clean panels if soiled")
	}

	switch {
	case in.soiling > performanceThresholds["soiling_critical"]:
		add(PriorityHigh,
			fmt.Sprintf("Heavy soiling detected (%g%% loss). Cleaning recommended to restore efficiency.", in.soiling),
			"Schedule panel cleaning service")
	case in.soiling > 4:
		add(PriorityMedium,
			fmt.Sprintf("Moderate soiling detected (%g%% loss). Plan cleaning maintenance.", in.soiling),
			"Add to maintenance schedule")
	}

	if in.inverterEff < performanceThresholds["inverter_eff_low"] {
		add(PriorityMedium,
			fmt.Sprintf("Inverter efficiency below baseline (%g%% vs %g%%, -%.1f%%).", in.inverterEff, baselineInverterEff, baselineInverterEff-in.inverterEff),
			"Check inverter logs, inspect connections, verify AC voltage")
	}

	switch {
	case in.batterySOC < performanceThresholds["battery_soc_critical"]:
		add(PriorityCritical,
			fmt.Sprintf("Battery critically low (%g%%). Risk of deep discharge damage.", in.batterySOC),
			"Reduce load immediately or connect to grid if available")
	case in.batterySOC < performanceThresholds["battery_soc_low"]:
		add(PriorityMedium,
			fmt.Sprintf("Battery SoC low (%g%%). Monitor charging conditions.", in.batterySOC),
			"Check solar generation and load management")
	default:
		add(PriorityInfo,
			fmt.Sprintf("Battery SoC stable (%g%%). System operating normally.", in.batterySOC),
			"Continue monitoring")
	}

	if in.actual != nil {
		switch {
		case deviation < -performanceThresholds["deviation_critical"]:
			add(PriorityHigh,
				fmt.Sprintf("Significant underperformance detected (%.1f%% below expected). Multiple factors may be contributing.", deviation),
				"Comprehensive system inspection recommended")
		case deviation < -performanceThresholds["deviation_warning"]:
			add(PriorityMedium,
				fmt.Sprintf("Output below expected (%.1f%%). Monitor for persistent issues.", deviation),
				"Review system logs and sensor calibration")
		}
	}

	if in.irradiance < 200 {
		add(PriorityInfo,
			fmt.Sprintf("Low irradiance conditions (%g W/m²). Limited generation expected.", in.irradiance),
			"Normal for low-light conditions (dawn/dusk/cloudy)")
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recommendationOrder[recs[i].Priority] < recommendationOrder[recs[j].Priority]
	})
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// weatherImpact scores conditions 0-100: 60% irradiance, 20% wind cooling, 20% ambient temperature.
func weatherImpact(irradiance, windSpeed, ambientTemp float64) float64 {
	irradianceScore := math.Min(100, irradiance/1000*100)

	windScore := 100.0
	if windSpeed < 2 || windSpeed > 4 {
		windScore = math.Max(0, 100-math.Abs(windSpeed-3)*10)
	}

	tempScore := math.Max(0, 100-math.Abs(ambientTemp-25)*2)

	return roundTo(irradianceScore*0.6+windScore*0.2+tempScore*0.2, 1)
}

// batteryHealth scores how comfortable the state of charge is; 30-80% is ideal.
func batteryHealth(soc float64) float64 {
	switch {
	case soc >= 30 && soc <= 80:
		return 100
	case (soc >= 20 && soc < 30) || (soc > 80 && soc <= 90):
		return 95
	default:
		return 85
	}
}
