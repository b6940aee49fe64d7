// Package validation provides plausibility checks for solar sensor readings and telemetry samples.
package validation

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ValidationLevel defines the strictness of validation rules.
type ValidationLevel int

const (
	ValidationLevelBasic ValidationLevel = iota
	ValidationLevelStandard
	ValidationLevelStrict
)

// String returns the string representation of the validation level.
func (vl ValidationLevel) String() string {
	switch vl {
	case ValidationLevelBasic:
		return "basic"
	case ValidationLevelStandard:
		return "standard"
	case ValidationLevelStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseLevel maps a configuration string to a ValidationLevel, defaulting to basic.
func ParseLevel(s string) ValidationLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return ValidationLevelStandard
	case "strict":
		return ValidationLevelStrict
	default:
		return ValidationLevelBasic
	}
}

// Error severities.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
)

// ValidationError represents a validation error with severity and context.
type ValidationError struct {
	Rule     string
	Severity string
	Message  string
	Field    string
	Value    float64
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s validation error in %s: %s", ve.Severity, ve.Field, ve.Message)
}

// ValidationResult contains the result of a validation check.
type ValidationResult struct {
	Valid      bool
	Errors     []*ValidationError
	Warnings   []*ValidationError
	Confidence float64 // 0.0-1.0 confidence in the reading
}

// HasCriticalErrors returns true if there are any critical validation errors.
func (vr *ValidationResult) HasCriticalErrors() bool {
	for _, err := range vr.Errors {
		if err.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Message joins the error messages, or returns "" for a valid result.
func (vr *ValidationResult) Message() string {
	if len(vr.Errors) == 0 {
		return ""
	}
	msgs := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		msgs[i] = err.Message
	}
	return strings.Join(msgs, "; ")
}

// Summary returns a summary of the validation result.
func (vr *ValidationResult) Summary() string {
	if vr.Valid && !vr.HasWarnings() {
		return fmt.Sprintf("Valid (confidence: %.2f)", vr.Confidence)
	}

	var parts []string
	if !vr.Valid {
		parts = append(parts, fmt.Sprintf("%d errors", len(vr.Errors)))
	}
	if vr.HasWarnings() {
		parts = append(parts, fmt.Sprintf("%d warnings", len(vr.Warnings)))
	}

	return fmt.Sprintf("%s (confidence: %.2f)", strings.Join(parts, ", "), vr.Confidence)
}

// Reading is a single set of sensor values. ACOutputKW and Timestamp are only checked when set.
type Reading struct {
	IrradianceWm2 float64
	AmbientTempC  float64
	PanelTempC    float64
	ACOutputKW    *float64
	Timestamp     time.Time
}

// Rule defines a plausibility rule applied at or above Level.
type Rule struct {
	Name        string
	Description string
	Level       ValidationLevel
	Check       func(r Reading) *ValidationError
}

// Validator applies a rule table to sensor readings. Safe for concurrent use once configured.
type Validator struct {
	level  ValidationLevel
	rules  []*Rule
	now    func() time.Time
	logger zerolog.Logger

	// Statistics
	validationsPerformed atomic.Int64
	errorsFound          atomic.Int64
	warningsFound        atomic.Int64
}

// NewValidator creates a validator with the default sensor rules.
func NewValidator(level ValidationLevel, logger zerolog.Logger) *Validator {
	v := &Validator{
		level:  level,
		now:    time.Now,
		logger: logger.With().Str("component", "validator").Logger(),
	}
	v.registerDefaultRules()
	return v
}

// Validate runs every rule enabled at the validator's level against the reading.
func (v *Validator) Validate(r Reading) *ValidationResult {
	v.validationsPerformed.Add(1)

	result := &ValidationResult{
		Valid:      true,
		Errors:     make([]*ValidationError, 0),
		Warnings:   make([]*ValidationError, 0),
		Confidence: 1.0,
	}

	for _, rule := range v.rules {
		if rule.Level > v.level {
			continue
		}
		if err := rule.Check(r); err != nil {
			err.Rule = rule.Name
			v.addValidationError(result, err)
		}
	}

	if !result.Valid {
		v.logger.Debug().
			Int("errors", len(result.Errors)).
			Int("warnings", len(result.Warnings)).
			Float64("confidence", result.Confidence).
			Msg("Sensor reading rejected")
	}

	return result
}

// addValidationError adds a validation error to the result and updates metrics.
func (v *Validator) addValidationError(result *ValidationResult, err *ValidationError) {
	if err.Severity == SeverityWarning {
		result.Warnings = append(result.Warnings, err)
		v.warningsFound.Add(1)
		result.Confidence *= 0.95
		return
	}

	result.Errors = append(result.Errors, err)
	v.errorsFound.Add(1)
	result.Valid = false

	switch err.Severity {
	case SeverityCritical:
		result.Confidence *= 0.1
	case SeverityError:
		result.Confidence *= 0.5
	}
}

// registerDefaultRules registers the sensor plausibility rules.
func (v *Validator) registerDefaultRules() {
	v.rules = []*Rule{
		{
			Name:        "irradiance_non_negative",
			Description: "Irradiance sensors cannot report negative values",
			Level:       ValidationLevelBasic,
			Check: func(r Reading) *ValidationError {
				if r.IrradianceWm2 < 0 {
					return &ValidationError{
						Severity: SeverityCritical,
						Message:  fmt.Sprintf("irradiance sensor reports negative value (%.1f W/m²)", r.IrradianceWm2),
						Field:    "irradiance",
						Value:    r.IrradianceWm2,
					}
				}
				return nil
			},
		},
		{
			Name:        "panel_temp_floor",
			Description: "Panel temperature below -50°C indicates a disconnected probe",
			Level:       ValidationLevelBasic,
			Check: func(r Reading) *ValidationError {
				if r.PanelTempC < -50 {
					return &ValidationError{
						Severity: SeverityCritical,
						Message:  fmt.Sprintf("panel temperature %.1f°C is below the -50°C floor", r.PanelTempC),
						Field:    "panel_temp",
						Value:    r.PanelTempC,
					}
				}
				return nil
			},
		},
		{
			Name:        "ambient_temp_range",
			Description: "Ambient temperature must lie within -50..60°C",
			Level:       ValidationLevelBasic,
			Check: func(r Reading) *ValidationError {
				if r.AmbientTempC < -50 || r.AmbientTempC > 60 {
					return &ValidationError{
						Severity: SeverityCritical,
						Message:  fmt.Sprintf("ambient temperature %.1f°C is outside -50..60°C", r.AmbientTempC),
						Field:    "ambient_temp",
						Value:    r.AmbientTempC,
					}
				}
				return nil
			},
		},
		{
			Name:        "panel_ambient_consistency",
			Description: "A panel cannot be more than 5°C colder than ambient air",
			Level:       ValidationLevelBasic,
			Check: func(r Reading) *ValidationError {
				if r.PanelTempC < r.AmbientTempC-5 {
					return &ValidationError{
						Severity: SeverityCritical,
						Message: fmt.Sprintf("panel temperature %.1f°C is more than 5°C below ambient %.1f°C",
							r.PanelTempC, r.AmbientTempC),
						Field: "panel_temp",
						Value: r.PanelTempC,
					}
				}
				return nil
			},
		},
		{
			Name:        "irradiance_ceiling",
			Description: "Irradiance above 1500 W/m² exceeds any terrestrial reading",
			Level:       ValidationLevelStandard,
			Check: func(r Reading) *ValidationError {
				if r.IrradianceWm2 > 1500 {
					return &ValidationError{
						Severity: SeverityWarning,
						Message:  fmt.Sprintf("unusually high irradiance (%.1f W/m²)", r.IrradianceWm2),
						Field:    "irradiance",
						Value:    r.IrradianceWm2,
					}
				}
				return nil
			},
		},
		{
			Name:        "output_non_negative",
			Description: "Inverter AC output should not be negative",
			Level:       ValidationLevelStandard,
			Check: func(r Reading) *ValidationError {
				if r.ACOutputKW != nil && *r.ACOutputKW < 0 {
					return &ValidationError{
						Severity: SeverityWarning,
						Message:  "negative AC output detected",
						Field:    "ac_output",
						Value:    *r.ACOutputKW,
					}
				}
				return nil
			},
		},
		{
			Name:        "timestamp_reasonableness",
			Description: "Samples must not be stamped more than an hour in the future",
			Level:       ValidationLevelStrict,
			Check: func(r Reading) *ValidationError {
				if r.Timestamp.IsZero() {
					return nil
				}
				if ahead := r.Timestamp.Sub(v.now()); ahead > time.Hour {
					return &ValidationError{
						Severity: SeverityError,
						Message:  fmt.Sprintf("timestamp is %s in the future", ahead.Round(time.Minute)),
						Field:    "timestamp",
						Value:    ahead.Hours(),
					}
				}
				return nil
			},
		},
	}
}

// Level returns the active validation level.
func (v *Validator) Level() ValidationLevel {
	return v.level
}

// AddRule adds a custom rule. Not safe to call concurrently with Validate.
func (v *Validator) AddRule(rule *Rule) {
	v.rules = append(v.rules, rule)

	v.logger.Debug().
		Str("rule", rule.Name).
		Str("level", rule.Level.String()).
		Msg("Added custom validation rule")
}

// GetStatistics returns validation statistics.
func (v *Validator) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"validations_performed": v.validationsPerformed.Load(),
		"errors_found":          v.errorsFound.Load(),
		"warnings_found":        v.warningsFound.Load(),
		"validation_level":      v.level.String(),
		"rules":                 len(v.rules),
	}
}
