package issues

import "strings"

// Image classifications.
const (
	ImageShading = "shading"
	ImageSoiling = "soiling"
	ImageCrack   = "crack"
	ImageClear   = "clear"
)

// DetectedObject is one labelled region reported by ClassifyImage.
type DetectedObject struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	AreaRatio  float64 `json:"area_ratio,omitempty"`
	Condition  string  `json:"condition,omitempty"`
	Severity   string  `json:"severity,omitempty"`
}

// ImageClassification is the result of ClassifyImage.
type ImageClassification struct {
	Type            string           `json:"type"`
	Confidence      float64          `json:"confidence"`
	OcclusionRatio  *float64         `json:"occlusion_ratio"`
	MaskURL         *string          `json:"mask_url"`
	DetectedObjects []DetectedObject `json:"detected_objects"`
}

// ClassifyImage labels a panel photo from keywords in its URL. It stands in for a vision model and never
// fetches the image.
func ClassifyImage(imageURL string) ImageClassification {
	url := strings.ToLower(imageURL)

	switch {
	case strings.Contains(url, "shadow") || strings.Contains(url, "shade"):
		return occluded(ImageShading, "shadow", 0.82, 0.25)
	case strings.Contains(url, "dirt") || strings.Contains(url, "soil"):
		return occluded(ImageSoiling, "dirt", 0.79, 0.15)
	case strings.Contains(url, "crack"):
		return ImageClassification{
			Type:       ImageCrack,
			Confidence: 0.88,
			DetectedObjects: []DetectedObject{
				{Class: "crack", Confidence: 0.88, Severity: string(Lookup("crack").TypicalSeverity)},
			},
		}
	default:
		return ImageClassification{
			Type:       ImageClear,
			Confidence: 0.92,
			DetectedObjects: []DetectedObject{
				{Class: "solar_panel", Confidence: 0.92, Condition: "good"},
			},
		}
	}
}

func occluded(kind, class string, confidence, ratio float64) ImageClassification {
	return ImageClassification{
		Type:            kind,
		Confidence:      confidence,
		OcclusionRatio:  &ratio,
		DetectedObjects: []DetectedObject{{Class: class, Confidence: confidence, AreaRatio: ratio}},
	}
}
