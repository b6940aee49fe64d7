package issues

import (
	"testing"

	"github.com/resident-x/go-solarsight/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversEveryArchetype(t *testing.T) {
	archetypes := Archetypes()
	require.Len(t, archetypes, 7)

	for i, a := range archetypes {
		t.Run(string(a.Type), func(t *testing.T) {
			assert.Equal(t, catalogOrder[i], a.Type)
			assert.NotEmpty(t, a.Name)
			assert.NotEmpty(t, a.Description)
			assert.NotEmpty(t, a.ImageURL)
			assert.GreaterOrEqual(t, len(a.Recommendations), 2)
			assert.LessOrEqual(t, a.EnergyLossMin, a.EnergyLossMax)
			assert.GreaterOrEqual(t, a.EnergyLossMin, 0.0)
			assert.LessOrEqual(t, a.EnergyLossMax, 100.0)
		})
	}
}

func TestLookupReturnsCopies(t *testing.T) {
	a := Lookup(domain.IssueHotspot)
	a.Recommendations[0] = "changed"
	a.TypicalSeverity = domain.SeverityLow

	fresh := Lookup(domain.IssueHotspot)
	assert.NotEqual(t, "changed", fresh.Recommendations[0])
	assert.Equal(t, domain.SeverityHigh, fresh.TypicalSeverity)
}

func TestLookupUnknownType(t *testing.T) {
	assert.Equal(t, domain.IssueNone, Lookup("unknown").Type)
	assert.Equal(t, domain.IssueNone, Lookup("").Type)
}

func TestClassifyImage(t *testing.T) {
	tests := []struct {
		url        string
		kind       string
		confidence float64
		occlusion  *float64
		class      string
	}{
		{"https://cdn.example.com/site-1/row-a-shadow.jpg", ImageShading, 0.82, ptr(0.25), "shadow"},
		{"https://cdn.example.com/SHADE/panel.png", ImageShading, 0.82, ptr(0.25), "shadow"},
		{"https://cdn.example.com/dirty-panel.jpg", ImageSoiling, 0.79, ptr(0.15), "dirt"},
		{"https://cdn.example.com/soiled.jpg", ImageSoiling, 0.79, ptr(0.15), "dirt"},
		{"https://cdn.example.com/crack-closeup.jpg", ImageCrack, 0.88, nil, "crack"},
		{"https://cdn.example.com/panel-42.jpg", ImageClear, 0.92, nil, "solar_panel"},
		{"", ImageClear, 0.92, nil, "solar_panel"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := ClassifyImage(tt.url)
			assert.Equal(t, tt.kind, got.Type)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.Equal(t, tt.occlusion, got.OcclusionRatio)
			assert.Nil(t, got.MaskURL)
			require.Len(t, got.DetectedObjects, 1)
			assert.Equal(t, tt.class, got.DetectedObjects[0].Class)
		})
	}
}

func TestClassifyImageShadowWinsOverSoiling(t *testing.T) {
	assert.Equal(t, ImageShading, ClassifyImage("/img/shadow-and-dirt.jpg").Type)
}

func ptr(v float64) *float64 { return &v }
