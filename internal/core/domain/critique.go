package domain

import (
	"fmt"
	"math"
)

const (
	// PoseChangedScoreCap bounds the overall score when the person's pose or background changed.
	PoseChangedScoreCap = 4.0
	// PatternMismatchScoreCap bounds the overall score when the garment pattern does not match.
	PatternMismatchScoreCap = 5.0
)

// ScoreBreakdown rates a generated image on nine 1..10 dimensions.
type ScoreBreakdown struct {
	PosePreservation   int `json:"pose_preservation"`
	SilhouetteAccuracy int `json:"silhouette_accuracy"`
	FabricAppearance   int `json:"fabric_appearance"`
	ColorFidelity      int `json:"color_fidelity"`
	PatternAccuracy    int `json:"pattern_accuracy"`
	FitAndDrape        int `json:"fit_and_drape"`
	DetailPreservation int `json:"detail_preservation"`
	OverallRealism     int `json:"overall_realism"`
	EditorialQuality   int `json:"editorial_quality"`
}

func (b ScoreBreakdown) values() []int {
	return []int{
		b.PosePreservation,
		b.SilhouetteAccuracy,
		b.FabricAppearance,
		b.ColorFidelity,
		b.PatternAccuracy,
		b.FitAndDrape,
		b.DetailPreservation,
		b.OverallRealism,
		b.EditorialQuality,
	}
}

// Validate checks that every dimension is within 1..10.
func (b ScoreBreakdown) Validate() error {
	for i, v := range b.values() {
		if v < 1 || v > 10 {
			return fmt.Errorf("%w: score dimension %d out of range: %d", ErrValidation, i, v)
		}
	}
	return nil
}

// Average is the mean of all dimensions rounded to one decimal.
func (b ScoreBreakdown) Average() float64 {
	vals := b.values()
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return math.Round(float64(sum)/float64(len(vals))*10) / 10
}

// Critique is a scored review of one iteration. Nothing in the generation path produces
// critiques yet; the type backs IterationResult scoring and BestIteration.
type Critique struct {
	Scores               ScoreBreakdown `json:"scores"`
	PosePreserved        bool           `json:"pose_preserved"`
	PoseIssues           string         `json:"pose_issues,omitempty"`
	PatternMatchesSource bool           `json:"pattern_matches_source"`
	PatternIssues        string         `json:"pattern_issues,omitempty"`
	Strengths            []string       `json:"strengths"`
	Weaknesses           []string       `json:"weaknesses"`
	SpecificFixes        []string       `json:"specific_fixes"`
	ShouldContinue       bool           `json:"should_continue"`
	Reasoning            string         `json:"reasoning"`
}

// OverallScore is the average with pose and pattern failures capped.
func (c Critique) OverallScore() float64 {
	score := c.Scores.Average()
	if !c.PosePreserved {
		return math.Min(score, PoseChangedScoreCap)
	}
	if !c.PatternMatchesSource {
		return math.Min(score, PatternMismatchScoreCap)
	}
	return score
}
