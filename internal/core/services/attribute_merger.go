package services

import (
	"regexp"
	"strings"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

// garmentTypeCatalog is checked in order; multi-word phrases precede the single words
// they contain so "maxi dress" wins over "dress" and "tank top" over "top".
var garmentTypeCatalog = []string{
	"maxi dress", "midi dress", "mini dress", "slip dress", "wrap dress",
	"shirt dress", "bodycon dress", "a-line dress", "sundress", "dress",
	"tank top", "crop top", "t-shirt", "blouse", "camisole", "bodysuit", "top",
	"shirt", "tee",
	"pants", "trousers", "jeans", "shorts", "skirt", "culottes",
	"jacket", "blazer", "coat", "cardigan", "sweater", "jumper", "hoodie", "vest",
	"romper", "jumpsuit", "playsuit", "overalls",
}

var garmentTypePatterns = compileCatalog(garmentTypeCatalog, true)

// Noun forms: plurals, and compounds such as "sweatshirt" or "nightdress" that resolve to
// their base garment without matching inside unrelated words like "address".
const (
	compoundPrefix = `(?:sweat|over|under|night)?`
	pluralSuffix   = `(?:e?s)?`
)

type catalogPattern struct {
	phrase string
	re     *regexp.Regexp
}

func compileCatalog(phrases []string, nounForms bool) []catalogPattern {
	prefix, suffix := "", ""
	if nounForms {
		prefix, suffix = compoundPrefix, pluralSuffix
	}
	out := make([]catalogPattern, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, catalogPattern{
			phrase: p,
			re:     regexp.MustCompile(`\b` + prefix + regexp.QuoteMeta(p) + suffix + `\b`),
		})
	}
	return out
}

// firstCatalogMatch returns the first catalog phrase found in text, in catalog order.
func firstCatalogMatch(patterns []catalogPattern, text string) string {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		if p.re.MatchString(lower) {
			return p.phrase
		}
	}
	return ""
}

// MatchGarmentType scans a free-text description for a known garment noun.
func MatchGarmentType(description string) string {
	return firstCatalogMatch(garmentTypePatterns, description)
}

type mergeRule int

const (
	preferText mergeRule = iota
	preferImage
)

type fieldRule struct {
	name  string
	rule  mergeRule
	field func(*domain.GarmentAttributes) *string
}

// mergeTable is the per-field precedence used when both sources are present. garment_type
// and details have dedicated handling in Merge.
var mergeTable = []fieldRule{
	{"color", preferImage, func(a *domain.GarmentAttributes) *string { return &a.Color }},
	{"neckline", preferImage, func(a *domain.GarmentAttributes) *string { return &a.Neckline }},
	{"sleeves", preferImage, func(a *domain.GarmentAttributes) *string { return &a.Sleeves }},
	{"fit", preferImage, func(a *domain.GarmentAttributes) *string { return &a.Fit }},
	{"fabric", preferText, func(a *domain.GarmentAttributes) *string { return &a.Fabric }},
	{"length", preferText, func(a *domain.GarmentAttributes) *string { return &a.Length }},
}

// Merge combines text-derived and image-derived attributes. Either source may be nil.
// It never fails: with both sources absent the result is the default set.
func Merge(text, image *domain.GarmentAttributes, rawDescription string) domain.GarmentAttributes {
	switch {
	case text == nil && image == nil:
		return domain.DefaultAttributes()
	case image == nil:
		return applyKeywordFallback(text.Normalize(), rawDescription)
	case text == nil:
		return image.Normalize()
	}

	t := text.Normalize()
	i := image.Normalize()

	merged := domain.GarmentAttributes{GarmentType: t.GarmentType}
	for _, fr := range mergeTable {
		first, second := fr.field(&t), fr.field(&i)
		if fr.rule == preferImage {
			first, second = second, first
		}
		value := *first
		if value == "" {
			value = *second
		}
		*fr.field(&merged) = value
	}
	merged.Details = domain.DedupeDetails(append(append([]string{}, t.Details...), i.Details...), domain.MaxMergedDetails)

	merged = applyKeywordFallback(merged, rawDescription)
	if !merged.HasSpecificType() && i.HasSpecificType() {
		merged.GarmentType = i.GarmentType
	}
	return merged
}

func applyKeywordFallback(attrs domain.GarmentAttributes, rawDescription string) domain.GarmentAttributes {
	if attrs.HasSpecificType() || strings.TrimSpace(rawDescription) == "" {
		return attrs
	}
	if match := MatchGarmentType(rawDescription); match != "" {
		attrs.GarmentType = match
	}
	return attrs
}
