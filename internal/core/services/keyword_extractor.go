package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

const maxCleanDescriptionLength = 400

// Marketing copy, storefront UI text and article numbers that say nothing about the garment.
var noisePatterns = compilePatterns(
	`\bnew arrivals?\b`,
	`\bbest ?sellers?\b`,
	`\bsale\b`,
	`\blimited edition\b`,
	`\bexclusive\b`,
	`\bfree shipping\b`,
	`\bfree returns\b`,
	`\bmust.have\b`,
	`\btrending\b`,
	`\bpopular\b`,
	`\bfavou?rite\b`,
	`\bessential\b`,
	`\bwardrobe staple\b`,
	`\bread more\b`,
	`\bshow more\b`,
	`\bview details\b`,
	`\bexpand\b`,
	`\bcollapse\b`,
	`\bclick here\b`,
	`\badd to (?:cart|bag)\b`,
	`\bsize guide\b`,
	`\bdelivery\b`,
	`\bart\.?\s*no\.?:?\s*\d+`,
	`\bsku:?\s*\w+`,
	`\bproduct\s*code:?\s*\w+`,
	`\bitem\s*#?\s*\d+`,
	`\d+%`,
	`\badditional material information\b`,
	`\bthe total weight of this product contains\b`,
	`\bat least:?\s*\d+`,
)

var (
	colorPatterns = compileCatalog([]string{
		"dusty turquoise", "dusty pink", "dusty blue", "powder pink", "powder blue",
		"navy blue", "light blue", "dark blue", "sky blue", "dark green", "sage green",
		"emerald green", "off-white", "light grey", "dark grey",
		"black", "white", "navy", "blue", "red", "pink", "green", "olive", "khaki",
		"beige", "cream", "ivory", "grey", "gray", "burgundy", "maroon", "purple",
		"lavender", "lilac", "turquoise", "coral", "orange", "yellow", "gold", "silver",
		"brown", "tan", "camel", "mint", "teal", "rust",
	}, false)

	fabricRe = regexp.MustCompile(`\b(linen|cotton|silk|satin|velvet|jersey|chiffon|lace|denim|wool|cashmere|viscose|polyester|poplin|crepe|tulle|leather|knit|ribbed|woven)\b`)

	necklineRe = regexp.MustCompile(`\b(v-neckline|v-neck|v neckline|v neck|sweetheart neckline|sweetheart|scoop neck|scoop|crew ?neck|boat ?neck|square neckline|square neck|halter ?neck|halter|off[- ]shoulder|one[- ]shoulder|strapless|cowl ?neck|cowl|turtleneck|high neck|mock neck)\b`)

	sleevesRe = regexp.MustCompile(`\b(sleeveless|long[- ]sleeves?|short[- ]sleeves?|cap[- ]sleeves?|puff[- ]sleeves?|bell[- ]sleeves?|balloon[- ]sleeves?|3/4[- ]sleeves?|tie-top shoulder straps|shoulder straps|spaghetti straps|thin straps|wide straps|adjustable straps)\b`)

	lengthRe = regexp.MustCompile(`\b(floor[- ]length|ankle[- ]length|knee[- ]length|maxi|midi|mini|cropped)\b`)

	fitRe = regexp.MustCompile(`\b(fitted|relaxed|loose|a-line|flared|bodycon|oversized|slim|tailored|straight cut|wide[- ]leg)\b`)

	detailRe = regexp.MustCompile(`\b(accordion pleats|tie[- ]?details?|lace[- ]trim|ruffles?|ruched|gathered|pleated|pleats|embroidered|beaded|scalloped|cutouts?|slit|buttons?|zipper|bow|draped|smocked|belted|floral|striped|polka dots?|sequins?)\b`)
)

// KeywordExtractor derives attributes from text with fixed keyword catalogs. It cannot
// read images.
type KeywordExtractor struct {
	logger *slog.Logger
}

func NewKeywordExtractor(logger *slog.Logger) *KeywordExtractor {
	return &KeywordExtractor{logger: logger}
}

func (e *KeywordExtractor) ExtractFromText(ctx context.Context, description string) (domain.GarmentAttributes, error) {
	if err := ctx.Err(); err != nil {
		return domain.GarmentAttributes{}, err
	}
	text := cleanText(description)

	attrs := domain.GarmentAttributes{
		GarmentType: MatchGarmentType(text),
		Color:       firstCatalogMatch(colorPatterns, text),
		Fabric:      fabricRe.FindString(text),
		Neckline:    necklineRe.FindString(text),
		Sleeves:     sleevesRe.FindString(text),
		Length:      lengthRe.FindString(text),
		Fit:         fitRe.FindString(text),
		Details:     detailRe.FindAllString(text, -1),
	}.Normalize()
	attrs.Details = domain.DedupeDetails(attrs.Details, domain.MaxMergedDetails)

	if e.logger != nil {
		e.logger.Debug("keyword extraction", "garment_type", attrs.GarmentType, "color", attrs.Color)
	}
	return attrs, nil
}

func (e *KeywordExtractor) ExtractFromImage(ctx context.Context, image []byte) (domain.GarmentAttributes, error) {
	return domain.GarmentAttributes{}, fmt.Errorf("%w: keyword extractor cannot read images", domain.ErrExtractionDegraded)
}

// CleanDescription strips marketing noise, UI text and article numbers from a product
// description and returns it as capitalised sentences.
func CleanDescription(raw string) string {
	text := cleanText(raw)
	if text == "" {
		return ""
	}
	sentences := strings.Split(text, ".")
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, capitalize(s))
	}
	if len(out) == 0 {
		return ""
	}
	result := strings.Join(out, ". ") + "."
	if len(result) > maxCleanDescriptionLength {
		result = truncateRunes(result, maxCleanDescriptionLength)
	}
	return result
}

var (
	commaSpacing  = regexp.MustCompile(`\s*,\s*`)
	periodSpacing = regexp.MustCompile(`\s*\.\s*`)
	periodRuns    = regexp.MustCompile(`\.+`)
	spaceRuns     = regexp.MustCompile(`\s+`)
)

// cleanText lower-cases, removes noise and near-duplicate sentences. Sentences are
// separated by ". ".
func cleanText(raw string) string {
	text := strings.ToLower(raw)
	for _, re := range noisePatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = strings.NewReplacer("|", ". ", "•", ". ", "\n", ". ").Replace(text)
	text = commaSpacing.ReplaceAllString(text, ", ")
	text = periodSpacing.ReplaceAllString(text, ". ")
	text = periodRuns.ReplaceAllString(text, ".")
	text = spaceRuns.ReplaceAllString(text, " ")

	seen := make(map[string]struct{})
	var unique []string
	for _, s := range strings.Split(text, ".") {
		s = strings.Trim(strings.TrimSpace(s), ",")
		s = strings.TrimSpace(s)
		if !strings.ContainsFunc(s, isWordRune) {
			continue
		}
		// scraped pages often repeat a sentence with a different tail
		key := truncateRunes(s, 30)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, s)
	}
	return strings.Join(unique, ". ")
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
