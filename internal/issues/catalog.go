// Package issues simulates per-panel defect detections from a fixed catalog of issue archetypes.
package issues

import "github.com/resident-x/go-solarsight/internal/domain"

// Archetype is the template for one category of panel issue.
type Archetype struct {
	Type            domain.IssueType
	Name            string
	TypicalSeverity domain.Severity
	EnergyLossMin   float64
	EnergyLossMax   float64
	Recommendations []string
	Description     string
	ImageURL        string
	ThermalImageURL string
}

// midpoint of the archetype's energy loss range, in percent.
func (a Archetype) midpoint() float64 {
	return (a.EnergyLossMin + a.EnergyLossMax) / 2
}

func (a Archetype) clone() Archetype {
	a.Recommendations = append([]string(nil), a.Recommendations...)
	return a
}

// catalogOrder fixes iteration order over the catalog.
var catalogOrder = []domain.IssueType{
	domain.IssueHotspot,
	domain.IssueCrack,
	domain.IssueSoiling,
	domain.IssueDelamination,
	domain.IssueShadow,
	domain.IssueSnow,
	domain.IssueNone,
}

// catalog is read-only after package init.
var catalog = map[domain.IssueType]Archetype{
	domain.IssueHotspot: {
		Type:            domain.IssueHotspot,
		Name:            "Thermal Hotspot",
		TypicalSeverity: domain.SeverityHigh,
		EnergyLossMin:   8,
		EnergyLossMax:   15,
		Recommendations: []string{
			"Schedule thermal imaging inspection within 48 hours",
			"Check bypass diodes on the affected module",
			"Inspect cells for soldering defects or damage",
			"Monitor string current for further degradation",
		},
		Description:     "Localized overheating on a cell group, typically caused by a failed bypass diode, cell mismatch or partial shading.",
		ImageURL:        "/assets/issues/hotspot.jpg",
		ThermalImageURL: "/assets/issues/hotspot-thermal.jpg",
	},
	domain.IssueCrack: {
		Type:            domain.IssueCrack,
		Name:            "Cell Micro-crack",
		TypicalSeverity: domain.SeverityCritical,
		EnergyLossMin:   15,
		EnergyLossMax:   25,
		Recommendations: []string{
			"Isolate the affected string until the module is replaced",
			"Request electroluminescence imaging to map crack extent",
			"File a warranty claim with the module manufacturer",
			"Check mounting clamps for excessive mechanical stress",
		},
		Description:     "Cracks across one or more cells interrupt current paths and can grow into inactive cell areas.",
		ImageURL:        "/assets/issues/crack.jpg",
		ThermalImageURL: "/assets/issues/crack-thermal.jpg",
	},
	domain.IssueSoiling: {
		Type:            domain.IssueSoiling,
		Name:            "Surface Soiling",
		TypicalSeverity: domain.SeverityMedium,
		EnergyLossMin:   3,
		EnergyLossMax:   8,
		Recommendations: []string{
			"Schedule module cleaning at the next maintenance window",
			"Review local dust and pollen conditions",
			"Consider an automated cleaning schedule for this row",
		},
		Description:     "Dust, pollen or bird droppings reduce the light reaching the cells.",
		ImageURL:        "/assets/issues/soiling.jpg",
		ThermalImageURL: "/assets/issues/soiling-thermal.jpg",
	},
	domain.IssueDelamination: {
		Type:            domain.IssueDelamination,
		Name:            "Encapsulant Delamination",
		TypicalSeverity: domain.SeverityHigh,
		EnergyLossMin:   10,
		EnergyLossMax:   20,
		Recommendations: []string{
			"Inspect the module for moisture ingress",
			"Measure insulation resistance of the affected string",
			"Plan module replacement before the next wet season",
		},
		Description:     "Separation between encapsulant and glass or backsheet lets moisture in and corrodes the cell contacts.",
		ImageURL:        "/assets/issues/delamination.jpg",
		ThermalImageURL: "/assets/issues/delamination-thermal.jpg",
	},
	domain.IssueShadow: {
		Type:            domain.IssueShadow,
		Name:            "Partial Shading",
		TypicalSeverity: domain.SeverityMedium,
		EnergyLossMin:   5,
		EnergyLossMax:   12,
		Recommendations: []string{
			"Trim vegetation casting shade on the array",
			"Survey nearby structures for new obstructions",
			"Evaluate module-level power electronics for the shaded row",
		},
		Description:     "Recurring shade from vegetation or structures lowers output and stresses bypass diodes.",
		ImageURL:        "/assets/issues/shadow.jpg",
		ThermalImageURL: "/assets/issues/shadow-thermal.jpg",
	},
	domain.IssueSnow: {
		Type:            domain.IssueSnow,
		Name:            "Snow Coverage",
		TypicalSeverity: domain.SeverityMedium,
		EnergyLossMin:   60,
		EnergyLossMax:   90,
		Recommendations: []string{
			"Wait for natural shedding if the forecast shows thaw",
			"Clear snow with a soft roof rake, never metal tools",
			"Check racking for snow load damage after clearing",
		},
		Description:     "Snow cover blocks most incoming light until it slides off or melts.",
		ImageURL:        "/assets/issues/snow.jpg",
		ThermalImageURL: "/assets/issues/snow-thermal.jpg",
	},
	domain.IssueNone: {
		Type:            domain.IssueNone,
		Name:            "No Issue Detected",
		TypicalSeverity: domain.SeverityInfo,
		EnergyLossMin:   0,
		EnergyLossMax:   1,
		Recommendations: []string{
			"Continue routine monitoring",
			"Keep the regular cleaning schedule",
		},
		Description: "Panel is operating within expected parameters.",
		ImageURL:    "/assets/issues/clear.jpg",
	},
}

// calibrationChecklist replaces the archetype recommendations when a sensor reading is implausible.
var calibrationChecklist = []string{
	"Verify irradiance sensor calibration against a reference pyranometer",
	"Check panel and ambient temperature probe mounting and wiring",
	"Compare readings with a neighbouring weather station",
	"Re-run detection once sensors are confirmed healthy",
}

const recheckInstruction = "Manual recheck required: detection confidence is below 70%"

// Lookup returns the archetype for t, falling back to the none archetype for unknown types.
func Lookup(t domain.IssueType) Archetype {
	a, ok := catalog[t]
	if !ok {
		a = catalog[domain.IssueNone]
	}
	return a.clone()
}

// Archetypes returns every archetype in catalog order.
func Archetypes() []Archetype {
	out := make([]Archetype, len(catalogOrder))
	for i, t := range catalogOrder {
		out[i] = catalog[t].clone()
	}
	return out
}
