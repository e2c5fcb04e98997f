package services

import (
	"testing"

	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestMerge_BothAbsent(t *testing.T) {
	got := Merge(nil, nil, "")
	assert.Equal(t, domain.DefaultAttributes(), got)

	got = Merge(nil, nil, "a black blazer")
	assert.Equal(t, domain.DefaultAttributes(), got, "no keyword scan without an extraction result")
}

func TestMerge_TextOnlyAppliesKeywordFallback(t *testing.T) {
	text := &domain.GarmentAttributes{GarmentType: "outfit", Color: "black", Details: []string{"belted"}}
	got := Merge(text, nil, "bias-cut cowlneck maxi dress")

	assert.Equal(t, "maxi dress", got.GarmentType)
	assert.Equal(t, "black", got.Color)
	assert.Equal(t, []string{"belted"}, got.Details)
}

func TestMerge_TextOnlyKeepsSpecificType(t *testing.T) {
	text := &domain.GarmentAttributes{GarmentType: "blouse"}
	got := Merge(text, nil, "blouse or maybe a dress")
	assert.Equal(t, "blouse", got.GarmentType)
}

func TestMerge_ImageOnlyIsReturnedAsIs(t *testing.T) {
	image := domain.GarmentAttributes{GarmentType: "outfit", Color: "red", Details: []string{}}
	got := Merge(nil, &image, "a lovely skirt")
	assert.Equal(t, image, got, "the raw description must not alter an image-only result")
}

func TestMerge_FieldPrecedence(t *testing.T) {
	text := &domain.GarmentAttributes{
		GarmentType: "dress",
		Color:       "turquoise",
		Fabric:      "satin",
		Neckline:    "v-neck",
		Sleeves:     "sleeveless",
		Length:      "maxi",
		Fit:         "relaxed",
		Details:     []string{"pleated", "tie detail"},
	}
	image := &domain.GarmentAttributes{
		GarmentType: "gown",
		Color:       "dusty turquoise",
		Fabric:      "silk",
		Neckline:    "",
		Sleeves:     "thin straps",
		Length:      "midi",
		Fit:         "fitted",
		Details:     []string{"Pleated", "ruched", "slit", "bow"},
	}

	got := Merge(text, image, "")

	assert.Equal(t, "dress", got.GarmentType, "garment type starts from text")
	assert.Equal(t, "dusty turquoise", got.Color, "color prefers image")
	assert.Equal(t, "v-neck", got.Neckline, "neckline falls back to text")
	assert.Equal(t, "thin straps", got.Sleeves, "sleeves prefer image")
	assert.Equal(t, "fitted", got.Fit, "fit prefers image")
	assert.Equal(t, "satin", got.Fabric, "fabric prefers text")
	assert.Equal(t, "maxi", got.Length, "length prefers text")
	assert.Equal(t, []string{"pleated", "tie detail", "ruched", "slit"}, got.Details)
}

func TestMerge_TextFallbackBeforeImageType(t *testing.T) {
	text := &domain.GarmentAttributes{GarmentType: "outfit"}
	image := &domain.GarmentAttributes{GarmentType: "jumpsuit"}

	assert.Equal(t, "tank top", Merge(text, image, "ribbed tank top").GarmentType)
	assert.Equal(t, "jumpsuit", Merge(text, image, "something nice").GarmentType)
	assert.Equal(t, "jumpsuit", Merge(text, image, "").GarmentType)
}

func TestMerge_GarmentTypeNeverEmpty(t *testing.T) {
	inputs := []*domain.GarmentAttributes{
		nil,
		{},
		{GarmentType: "  "},
		{GarmentType: "null"},
		{GarmentType: "shorts"},
	}
	for _, text := range inputs {
		for _, image := range inputs {
			got := Merge(text, image, "no garment words here")
			assert.NotEmpty(t, got.GarmentType)
			assert.LessOrEqual(t, len(got.Details), domain.MaxMergedDetails)
		}
	}
}

func TestMatchGarmentType_PrefersMultiWordPhrases(t *testing.T) {
	cases := map[string]string{
		"bias-cut cowlneck maxi dress":   "maxi dress",
		"Dusty turquoise Pleated Dress":  "dress",
		"Oversized cotton T-shirt":       "t-shirt",
		"denim shirt dress with buttons": "shirt dress",
		"ribbed tank top":                "tank top",
		"summer sundress":                "sundress",
		"high-waisted wide-leg trousers": "trousers",
		"no recognisable words":          "",
		"address line":                   "",
		"Black Pleated Dresses":          "dress",
		"Striped Skirts":                 "skirt",
		"grey sweatshirt":                "shirt",
		"linen nightdress":               "dress",
		"pack of two blouses":            "blouse",
		"basic crew tees":                "tee",
		"ribbed tank tops":               "tank top",
		"wool overcoat":                  "coat",
		"addresses and skirting boards":  "",
	}
	for input, want := range cases {
		assert.Equal(t, want, MatchGarmentType(input), input)
	}
}
