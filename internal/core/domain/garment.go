package domain

import (
	"fmt"
	"strings"
)

// DefaultGarmentType is the sentinel used when no specific garment noun is known.
// Prompt rendering always needs a noun, so it stands in for "absent".
const DefaultGarmentType = "outfit"

// MaxMergedDetails caps the detail tags kept after merging two sources.
const MaxMergedDetails = 4

// GarmentAttributes is the canonical, source-agnostic description of a garment.
// Empty strings mean "not known".
type GarmentAttributes struct {
	GarmentType string   `json:"garment_type"`
	Color       string   `json:"color,omitempty"`
	Fabric      string   `json:"fabric,omitempty"`
	Neckline    string   `json:"neckline,omitempty"`
	Sleeves     string   `json:"sleeves,omitempty"`
	Length      string   `json:"length,omitempty"`
	Fit         string   `json:"fit,omitempty"`
	Details     []string `json:"details"`
}

// DefaultAttributes returns the attribute set used when no source produced anything.
func DefaultAttributes() GarmentAttributes {
	return GarmentAttributes{
		GarmentType: DefaultGarmentType,
		Details:     []string{},
	}
}

// Normalize trims every field, collapses placeholder values ("null", "none", ...) to empty,
// drops blank or duplicate details and enforces the garment type sentinel.
func (a GarmentAttributes) Normalize() GarmentAttributes {
	out := GarmentAttributes{
		GarmentType: cleanValue(a.GarmentType),
		Color:       cleanValue(a.Color),
		Fabric:      cleanValue(a.Fabric),
		Neckline:    cleanValue(a.Neckline),
		Sleeves:     cleanValue(a.Sleeves),
		Length:      cleanValue(a.Length),
		Fit:         cleanValue(a.Fit),
		Details:     DedupeDetails(a.Details, 0),
	}
	if out.GarmentType == "" {
		out.GarmentType = DefaultGarmentType
	}
	return out
}

// HasSpecificType reports whether the garment type is something other than the sentinel.
func (a GarmentAttributes) HasSpecificType() bool {
	t := strings.TrimSpace(a.GarmentType)
	return t != "" && !strings.EqualFold(t, DefaultGarmentType)
}

// Description renders a short human-readable summary, e.g.
// "dusty turquoise dress with v-neckline, thin straps, pleated".
func (a GarmentAttributes) Description() string {
	garmentType := a.GarmentType
	if garmentType == "" {
		garmentType = DefaultGarmentType
	}
	head := garmentType
	if a.Color != "" {
		head = a.Color + " " + garmentType
	}

	var features []string
	if a.Neckline != "" {
		features = append(features, a.Neckline)
	}
	if a.Fabric != "" {
		features = append(features, a.Fabric+" fabric")
	}
	if a.Sleeves != "" {
		features = append(features, a.Sleeves)
	}
	if a.Fit != "" {
		features = append(features, a.Fit+" fit")
	}
	for i, d := range a.Details {
		if i >= 2 {
			break
		}
		if !containsFold(features, d) {
			features = append(features, d)
		}
	}
	if len(features) > 3 {
		features = features[:3]
	}
	if len(features) == 0 {
		return head
	}
	return fmt.Sprintf("%s with %s", head, strings.Join(features, ", "))
}

// DedupeDetails trims, drops blanks and case-insensitive duplicates while keeping first-seen
// order. A positive limit truncates the result.
func DedupeDetails(details []string, limit int) []string {
	out := make([]string, 0, len(details))
	seen := make(map[string]struct{}, len(details))
	for _, d := range details {
		d = cleanValue(d)
		if d == "" {
			continue
		}
		key := strings.ToLower(d)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

var placeholderValues = map[string]struct{}{
	"null":    {},
	"none":    {},
	"n/a":     {},
	"na":      {},
	"unknown": {},
	"-":       {},
}

func cleanValue(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if _, ok := placeholderValues[strings.ToLower(s)]; ok {
		return ""
	}
	return s
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
