package llm

import (
	"fmt"
	"strings"

	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/tidwall/gjson"
)

const TextExtractionPrompt = `Extract garment attributes from this product description. Ignore marketing phrases and focus only on factual garment details.

Return a JSON object with these fields (use null if not mentioned):
{
  "garment_type": "the type of clothing (dress, blouse, pants, jacket, etc.)",
  "color": "the color if mentioned",
  "fabric": "the fabric/material (satin, cotton, silk, etc.)",
  "neckline": "neckline style if mentioned (V-neck, cowlneck, square, etc.)",
  "sleeves": "sleeve style if mentioned",
  "length": "garment length if mentioned (maxi, midi, mini, etc.)",
  "fit": "fit style if mentioned (fitted, relaxed, A-line, etc.)",
  "details": ["list", "of", "special", "details"]
}

Return ONLY the JSON object, no explanation.`

const VisionExtractionPrompt = `Analyze this garment image and describe its key visual attributes.

Return a JSON object with these fields (use null if you can't determine):
{
  "garment_type": "the type of clothing you see",
  "color": "the primary color",
  "fabric": "the apparent fabric/material",
  "neckline": "neckline style",
  "sleeves": "sleeve style",
  "length": "garment length",
  "fit": "how it fits (fitted, loose, etc.)",
  "details": ["list", "of", "notable", "visual", "details"]
}

Return ONLY the JSON object, no explanation.`

// textRequest appends the description to the extraction instructions.
func textRequest(description string) string {
	return TextExtractionPrompt + "\n\nProduct description:\n" + description
}

// ParseAttributes turns a model reply into GarmentAttributes. Replies wrapped in markdown
// fences or surrounded by chatter are accepted as long as they contain one JSON object.
func ParseAttributes(reply string) (domain.GarmentAttributes, error) {
	body := extractJSONObject(reply)
	if body == "" || !gjson.Valid(body) {
		return domain.GarmentAttributes{}, fmt.Errorf("%w: reply is not a JSON object: %s",
			domain.ErrExtractionDegraded, domain.Truncate(strings.TrimSpace(reply)))
	}

	obj := gjson.Parse(body)
	attrs := domain.GarmentAttributes{
		GarmentType: field(obj, "garment_type"),
		Color:       field(obj, "color"),
		Fabric:      field(obj, "fabric"),
		Neckline:    field(obj, "neckline"),
		Sleeves:     field(obj, "sleeves"),
		Length:      field(obj, "length"),
		Fit:         field(obj, "fit"),
	}

	details := obj.Get("details")
	switch {
	case details.IsArray():
		for _, d := range details.Array() {
			if d.Type == gjson.String || d.Type == gjson.Number {
				attrs.Details = append(attrs.Details, d.String())
			}
		}
	case details.Type == gjson.String:
		attrs.Details = strings.Split(details.String(), ",")
	}

	return attrs.Normalize(), nil
}

func field(obj gjson.Result, key string) string {
	v := obj.Get(key)
	switch v.Type {
	case gjson.String, gjson.Number:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return ""
	}
}

// extractJSONObject returns the outermost {...} span, or "" if there is none.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
