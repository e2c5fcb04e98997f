package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionID is time-derived: YYYYMMDD_HHMMSS_<6 hex>.
type SessionID string

// SessionIDLayout is the time prefix of a SessionID.
const SessionIDLayout = "20060102_150405"

// NewSessionID formats an id from a timestamp and a random suffix.
func NewSessionID(t time.Time, suffix string) SessionID {
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return SessionID(fmt.Sprintf("%s_%s", t.UTC().Format(SessionIDLayout), suffix))
}

type SessionStatus string

const (
	SessionStatusInitialized SessionStatus = "initialized"
	SessionStatusRunning     SessionStatus = "running"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusFailed      SessionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// IterationResult is one generation pass within a session.
type IterationResult struct {
	Iteration int       `json:"iteration"`
	Prompt    string    `json:"prompt"`
	ImagePath string    `json:"image_path"`
	Critique  *Critique `json:"critique,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Score returns the critique's overall score, if the iteration was scored.
func (r IterationResult) Score() (float64, bool) {
	if r.Critique == nil {
		return 0, false
	}
	return r.Critique.OverallScore(), true
}

// Session aggregates one try-on request and its outcome.
type Session struct {
	ID             SessionID         `json:"session_id"`
	ModelImage     string            `json:"model_image"`
	GarmentImage   string            `json:"garment_image"`
	Description    string            `json:"description,omitempty"`
	Attributes     GarmentAttributes `json:"attributes"`
	Iterations     []IterationResult `json:"iterations"`
	Status         SessionStatus     `json:"status"`
	FailureMessage string            `json:"failure_message,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// NewSession creates a session in the initialized state.
func NewSession(id SessionID, startedAt time.Time) *Session {
	return &Session{
		ID:         id,
		Attributes: DefaultAttributes(),
		Iterations: []IterationResult{},
		Status:     SessionStatusInitialized,
		StartedAt:  startedAt,
	}
}

// Start moves an initialized session to running.
func (s *Session) Start() error {
	if s.Status != SessionStatusInitialized {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, SessionStatusRunning)
	}
	s.Status = SessionStatusRunning
	return nil
}

// Complete moves a running session to completed. At least one iteration must exist.
func (s *Session) Complete(at time.Time) error {
	if s.Status != SessionStatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, SessionStatusCompleted)
	}
	if len(s.Iterations) == 0 {
		return fmt.Errorf("%w: completing a session without iterations", ErrInvalidTransition)
	}
	s.Status = SessionStatusCompleted
	s.CompletedAt = &at
	return nil
}

// Fail records the failure from any non-terminal state.
func (s *Session) Fail(message string, at time.Time) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, SessionStatusFailed)
	}
	if message == "" {
		message = "unknown error"
	}
	s.Status = SessionStatusFailed
	s.FailureMessage = message
	s.CompletedAt = &at
	return nil
}

// AddIteration appends a result; its index is assigned here, starting at 1.
func (s *Session) AddIteration(r IterationResult) (IterationResult, error) {
	if s.Status != SessionStatusRunning {
		return IterationResult{}, fmt.Errorf("%w: iterations can only be added while running", ErrInvalidTransition)
	}
	r.Iteration = len(s.Iterations) + 1
	s.Iterations = append(s.Iterations, r)
	return r, nil
}

// BestIteration is the highest-scored iteration, or the last one when none is scored.
// Ties keep the earlier iteration.
func (s *Session) BestIteration() (IterationResult, bool) {
	if len(s.Iterations) == 0 {
		return IterationResult{}, false
	}
	best := -1
	var bestScore float64
	for i, it := range s.Iterations {
		score, ok := it.Score()
		if !ok {
			continue
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return s.Iterations[len(s.Iterations)-1], true
	}
	return s.Iterations[best], true
}

// BestScore returns the score of BestIteration, if it was scored.
func (s *Session) BestScore() (float64, bool) {
	it, ok := s.BestIteration()
	if !ok {
		return 0, false
	}
	return it.Score()
}

// MarshalJSON adds the computed best_iteration and best_score fields.
func (s *Session) MarshalJSON() ([]byte, error) {
	type plain Session
	out := struct {
		*plain
		BestIteration *int     `json:"best_iteration"`
		BestScore     *float64 `json:"best_score"`
	}{plain: (*plain)(s)}

	if it, ok := s.BestIteration(); ok {
		idx := it.Iteration
		out.BestIteration = &idx
	}
	if score, ok := s.BestScore(); ok {
		out.BestScore = &score
	}
	return json.Marshal(out)
}
