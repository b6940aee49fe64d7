package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/resident-x/go-solarsight/internal/domain"
)

// insightNamespace seeds the name-based card ids so identical input yields identical ids.
var insightNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("insights.solarsight"))

const (
	hotspotTriggerC       = 58.0
	hotspotBaselineC      = 55.0
	shadingIrradianceMin  = 650.0
	shadingPRTrigger      = 0.78
	rampStartHour         = 6
	rampEndHour           = 10
	rampTargetFraction    = 0.3
	rampImpactFraction    = 0.35
	stableConfidence      = 0.65
	stableImpactFraction  = 0.12
	rampConfidence        = 0.72
	maxHotspotConfidence  = 0.98
	maxShadingConfidence  = 0.9
	hotspotImpactFraction = 0.08
	shadingImpactFactor   = 1.5
)

var insightTags = map[domain.InsightKind][]string{
	domain.InsightThermalHotspot:  {"Thermal", "Camera", "Performance"},
	domain.InsightMiddayShading:   {"Shading", "Vegetation", "Performance"},
	domain.InsightSlowMorningRamp: {"Ramp", "Orientation", "Inverter"},
	domain.InsightStableOperation: {"Stability", "Baseline"},
}

// DetectInsights scans the last DefaultWindowSize samples for thermal, shading and ramp patterns.
// Each pattern yields at most one card; when none fires a single stability card is returned.
// An empty window yields an empty list.
func DetectInsights(samples []domain.TelemetrySample, capacityKWp float64) []domain.InsightCard {
	window := tail(sortedCopy(samples), DefaultWindowSize)
	if len(window) == 0 {
		return []domain.InsightCard{}
	}

	cards := make([]domain.InsightCard, 0, 3)
	if card, ok := detectHotspot(window, capacityKWp); ok {
		cards = append(cards, card)
	}
	if card, ok := detectShading(window, capacityKWp); ok {
		cards = append(cards, card)
	}
	if card, ok := detectSlowRamp(window, capacityKWp); ok {
		cards = append(cards, card)
	}

	if len(cards) == 0 {
		latest := window[len(window)-1]
		cards = append(cards, newCard(domain.InsightStableOperation, latest.Timestamp, stableConfidence,
			stableImpactFraction*capacityKWp,
			fmt.Sprintf("Output is tracking irradiance normally; latest reading %.1f kW at %s.",
				latest.ACOutputKW, hourLabel(latest))))
	}

	return cards
}

func detectHotspot(window []domain.TelemetrySample, capacity float64) (domain.InsightCard, bool) {
	hottest := window[0]
	for _, s := range window[1:] {
		if s.CellTempC > hottest.CellTempC {
			hottest = s
		}
	}
	if hottest.CellTempC <= hotspotTriggerC {
		return domain.InsightCard{}, false
	}

	excess := hottest.CellTempC - hotspotBaselineC
	confidence := math.Min(maxHotspotConfidence, 0.6+excess/40)
	card := newCard(domain.InsightThermalHotspot, hottest.Timestamp, confidence,
		excess*capacity*hotspotImpactFraction,
		fmt.Sprintf("Cell temperature peaked at %.1f°C at %s; inspect strings for hotspots.",
			hottest.CellTempC, hourLabel(hottest)))
	card.EvidenceURL = evidencePath(card)
	return card, true
}

func detectShading(window []domain.TelemetrySample, capacity float64) (domain.InsightCard, bool) {
	if capacity <= 0 {
		return domain.InsightCard{}, false
	}

	found := false
	var worst domain.TelemetrySample
	worstPR, worstExpected := 0.0, 0.0
	for _, s := range window {
		if s.IrradianceWm2 <= shadingIrradianceMin {
			continue
		}
		expected := math.Min(capacity, s.IrradianceWm2/1000*capacity)
		pr := s.ACOutputKW / expected
		if !found || pr < worstPR {
			found, worst, worstPR, worstExpected = true, s, pr, expected
		}
	}
	if !found || worstPR >= shadingPRTrigger {
		return domain.InsightCard{}, false
	}

	deficit := worstExpected - worst.ACOutputKW
	confidence := math.Min(maxShadingConfidence, 0.7+(1-worstPR)/2)
	card := newCard(domain.InsightMiddayShading, worst.Timestamp, confidence, deficit*shadingImpactFactor,
		fmt.Sprintf("Performance ratio fell to %.2f at %s under %.0f W/m²; midday shading is likely.",
			worstPR, hourLabel(worst), worst.IrradianceWm2))
	card.EvidenceURL = evidencePath(card)
	return card, true
}

func detectSlowRamp(window []domain.TelemetrySample, capacity float64) (domain.InsightCard, bool) {
	morning := make([]domain.TelemetrySample, 0, rampEndHour-rampStartHour+1)
	for _, s := range window {
		if h := s.Timestamp.Hour(); h >= rampStartHour && h <= rampEndHour {
			morning = append(morning, s)
		}
	}
	// A ramp needs two points.
	if len(morning) < 2 {
		return domain.InsightCard{}, false
	}

	first, last := morning[0], morning[len(morning)-1]
	ramp := last.ACOutputKW - first.ACOutputKW
	if ramp >= rampTargetFraction*capacity {
		return domain.InsightCard{}, false
	}

	return newCard(domain.InsightSlowMorningRamp, last.Timestamp, rampConfidence,
		rampImpactFraction*capacity-ramp,
		fmt.Sprintf("Morning output rose only %.1f kW between %s and %s (target %.1f kW).",
			ramp, hourLabel(first), hourLabel(last), rampTargetFraction*capacity)), true
}

func newCard(kind domain.InsightKind, ts time.Time, confidence, impact float64, summary string) domain.InsightCard {
	name := fmt.Sprintf("%s|%s", kind, ts.UTC().Format(time.RFC3339Nano))
	return domain.InsightCard{
		ID:         uuid.NewSHA1(insightNamespace, []byte(name)).String(),
		Timestamp:  ts,
		Kind:       kind,
		Confidence: roundTo(clamp(0, 1, confidence), 3),
		ImpactKWh:  roundTo(math.Max(0, impact), 2),
		Summary:    summary,
		Tags:       append([]string(nil), insightTags[kind]...),
	}
}

func evidencePath(card domain.InsightCard) string {
	return fmt.Sprintf("/evidence/%s/%s.jpg", card.Kind, card.ID)
}

func hourLabel(s domain.TelemetrySample) string {
	if s.HourLabel != "" {
		return s.HourLabel
	}
	return s.Timestamp.Format("15:04")
}
