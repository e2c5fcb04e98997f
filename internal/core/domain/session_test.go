package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionStart = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func scored(avg int, pose, pattern bool) *Critique {
	return &Critique{
		Scores: ScoreBreakdown{
			PosePreservation: avg, SilhouetteAccuracy: avg, FabricAppearance: avg,
			ColorFidelity: avg, PatternAccuracy: avg, FitAndDrape: avg,
			DetailPreservation: avg, OverallRealism: avg, EditorialQuality: avg,
		},
		PosePreserved:        pose,
		PatternMatchesSource: pattern,
	}
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID(sessionStart, "a1b2c3d4")
	assert.Equal(t, SessionID("20260314_092653_a1b2c3"), id)
}

func TestSession_SuccessLifecycle(t *testing.T) {
	s := NewSession("s1", sessionStart)
	assert.Equal(t, SessionStatusInitialized, s.Status)
	assert.Equal(t, DefaultGarmentType, s.Attributes.GarmentType)

	require.NoError(t, s.Start())
	it, err := s.AddIteration(IterationResult{Prompt: "p", ImagePath: "result.png"})
	require.NoError(t, err)
	assert.Equal(t, 1, it.Iteration)

	done := sessionStart.Add(time.Minute)
	require.NoError(t, s.Complete(done))
	assert.Equal(t, SessionStatusCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, done, *s.CompletedAt)

	assert.ErrorIs(t, s.Fail("late", done), ErrInvalidTransition)
	assert.ErrorIs(t, s.Start(), ErrInvalidTransition)
}

func TestSession_FailLifecycle(t *testing.T) {
	s := NewSession("s1", sessionStart)
	require.NoError(t, s.Start())
	require.NoError(t, s.Fail("fetch failed", sessionStart))
	assert.Equal(t, SessionStatusFailed, s.Status)
	assert.Equal(t, "fetch failed", s.FailureMessage)

	assert.ErrorIs(t, s.Complete(sessionStart), ErrInvalidTransition)
	_, err := s.AddIteration(IterationResult{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSession_FailBeforeStart(t *testing.T) {
	s := NewSession("s1", sessionStart)
	require.NoError(t, s.Fail("", sessionStart))
	assert.Equal(t, "unknown error", s.FailureMessage)
}

func TestSession_CompleteRequiresIteration(t *testing.T) {
	s := NewSession("s1", sessionStart)
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Complete(sessionStart), ErrInvalidTransition)
}

func TestSession_IterationIndicesIncrease(t *testing.T) {
	s := NewSession("s1", sessionStart)
	require.NoError(t, s.Start())
	for i := 0; i < 3; i++ {
		// caller-supplied index is ignored
		_, err := s.AddIteration(IterationResult{Iteration: 42})
		require.NoError(t, err)
	}
	for i, it := range s.Iterations {
		assert.Equal(t, i+1, it.Iteration)
	}
}

func TestSession_BestIteration(t *testing.T) {
	s := NewSession("s1", sessionStart)
	_, ok := s.BestIteration()
	assert.False(t, ok)

	require.NoError(t, s.Start())
	_, _ = s.AddIteration(IterationResult{Prompt: "a"})
	_, _ = s.AddIteration(IterationResult{Prompt: "b"})

	best, ok := s.BestIteration()
	require.True(t, ok)
	assert.Equal(t, 2, best.Iteration, "falls back to the last iteration when none is scored")
	_, ok = s.BestScore()
	assert.False(t, ok)

	_, _ = s.AddIteration(IterationResult{Prompt: "c", Critique: scored(7, true, true)})
	_, _ = s.AddIteration(IterationResult{Prompt: "d", Critique: scored(9, false, true)})

	best, _ = s.BestIteration()
	assert.Equal(t, 3, best.Iteration)
	score, ok := s.BestScore()
	require.True(t, ok)
	assert.Equal(t, 7.0, score)
}

func TestSession_JSONCarriesComputedFields(t *testing.T) {
	s := NewSession("s1", sessionStart)
	require.NoError(t, s.Start())
	_, _ = s.AddIteration(IterationResult{Prompt: "p", Critique: scored(8, true, true)})
	require.NoError(t, s.Complete(sessionStart))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "s1", decoded["session_id"])
	assert.Equal(t, "completed", decoded["status"])
	assert.Equal(t, float64(1), decoded["best_iteration"])
	assert.Equal(t, 8.0, decoded["best_score"])

	var back Session
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Len(t, back.Iterations, 1)
	assert.Equal(t, SessionStatusCompleted, back.Status)
}

func TestCritique_OverallScoreCaps(t *testing.T) {
	assert.Equal(t, 9.0, scored(9, true, true).OverallScore())
	assert.Equal(t, PoseChangedScoreCap, scored(9, false, false).OverallScore())
	assert.Equal(t, PatternMismatchScoreCap, scored(9, true, false).OverallScore())
	assert.Equal(t, 3.0, scored(3, false, true).OverallScore())
}

func TestScoreBreakdown_AverageRounds(t *testing.T) {
	b := ScoreBreakdown{
		PosePreservation: 10, SilhouetteAccuracy: 9, FabricAppearance: 8,
		ColorFidelity: 7, PatternAccuracy: 7, FitAndDrape: 7,
		DetailPreservation: 7, OverallRealism: 7, EditorialQuality: 7,
	}
	// 69 / 9 = 7.666...
	assert.Equal(t, 7.7, b.Average())
	assert.NoError(t, b.Validate())

	b.EditorialQuality = 0
	assert.ErrorIs(t, b.Validate(), ErrValidation)
}
