package services

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

// IdentityClause opens every prompt. Reference image 1 is the person photo.
const IdentityClause = "Keep the exact same person from reference image 1 and preserve their face, hair, skin tone, body shape, pose, and background environment exactly."

const (
	// MaxPromptLength is a hard cap; synthesized prompts are always shorter.
	MaxPromptLength = 1000

	maxPromptValueLength = 48
	maxPromptFeatures    = 3
	maxPromptDetails     = 2
)

var (
	promptStripper = strings.NewReplacer("*", "", "`", "", "#", "", "?", "")
	genericGarment = regexp.MustCompile(`(?i)\bgarments?\b`)
)

// SynthesizePrompt renders attributes into the generation instruction. It is a pure
// function: equal attributes give byte-identical prompts.
func SynthesizePrompt(attrs domain.GarmentAttributes) string {
	garmentType := promptNoun(attrs.GarmentType)
	subject := garmentType
	if color := sanitizePromptValue(attrs.Color); color != "" {
		subject = color + " " + garmentType
	}

	prompt := renderPrompt(garmentType, subject, promptFeatures(attrs))
	if len(prompt) >= MaxPromptLength {
		prompt = renderPrompt(garmentType, subject, nil)
	}
	return prompt
}

func renderPrompt(garmentType, subject string, features []string) string {
	var b strings.Builder
	b.WriteString(IdentityClause)
	fmt.Fprintf(&b, " Only change their clothing to the %s shown in reference image 2.", subject)
	if len(features) > 0 {
		fmt.Fprintf(&b, " The %s features %s.", garmentType, strings.Join(features, ", "))
	}
	fmt.Fprintf(&b, " The person should look identical except for wearing this %s.", garmentType)
	return b.String()
}

func promptFeatures(attrs domain.GarmentAttributes) []string {
	var features []string
	add := func(v string) {
		v = sanitizePromptValue(v)
		if v == "" || len(features) == maxPromptFeatures {
			return
		}
		for _, f := range features {
			if strings.EqualFold(f, v) {
				return
			}
		}
		features = append(features, v)
	}

	add(attrs.Neckline)
	if fabric := sanitizePromptValue(attrs.Fabric); fabric != "" {
		add(fabric + " fabric")
	}
	add(attrs.Sleeves)
	for i, d := range attrs.Details {
		if i == maxPromptDetails {
			break
		}
		add(d)
	}
	return features
}

// promptNoun returns the garment noun to name in the prompt. The generic word "garment"
// is never used.
func promptNoun(garmentType string) string {
	noun := sanitizePromptValue(garmentType)
	switch strings.ToLower(noun) {
	case "", "clothing":
		return domain.DefaultGarmentType
	}
	return noun
}

// sanitizePromptValue strips markup characters and the word "garment" from a value.
func sanitizePromptValue(v string) string {
	v = promptStripper.Replace(v)
	v = genericGarment.ReplaceAllString(v, "")
	v = strings.Join(strings.Fields(v), " ")
	v = strings.Trim(v, ".,;:- ")
	return strings.TrimSpace(truncateRunes(v, maxPromptValueLength))
}
