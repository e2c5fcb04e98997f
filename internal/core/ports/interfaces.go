package ports

import (
	"context"
	"time"

	"github.com/manthysbr/aule-vton/internal/core/domain"
)

// JobBackend abstracts the node-graph image generation backend (ComfyUI).
// Implementations must be safe for concurrent use by many requests.
type JobBackend interface {
	// CheckAvailability is a liveness probe. Connection failures report false, never an error.
	CheckAvailability(ctx context.Context) bool

	// StageInput places image bytes where the backend can load them and returns the
	// reference a LoadImage node should use.
	StageInput(ctx context.Context, data []byte, suggestedName string) (domain.StagedInput, error)

	// Release removes a staged input. It is safe to call for inputs that need no cleanup.
	Release(ctx context.Context, input domain.StagedInput) error

	// Submit validates and posts the graph.
	Submit(ctx context.Context, graph *domain.Graph) (domain.JobHandle, error)

	// AwaitCompletion polls until the handle's output node reports artifacts, the timeout
	// elapses (domain.ErrTimeout) or ctx is done.
	AwaitCompletion(ctx context.Context, handle domain.JobHandle, pollInterval, timeout time.Duration) ([]domain.ArtifactRef, error)

	// FetchArtifact downloads the raw bytes of one output.
	FetchArtifact(ctx context.Context, ref domain.ArtifactRef) ([]byte, error)
}

// AttributeExtractor derives garment attributes from one source. Failures are treated
// as degraded extraction by the caller.
type AttributeExtractor interface {
	ExtractFromText(ctx context.Context, description string) (domain.GarmentAttributes, error)
	ExtractFromImage(ctx context.Context, image []byte) (domain.GarmentAttributes, error)
}

// SessionRepository persists session records (DuckDB or JSON files).
type SessionRepository interface {
	// SaveSession upserts the session by id.
	SaveSession(ctx context.Context, session *domain.Session) error

	// GetSession returns domain.ErrSessionNotFound for unknown ids.
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)

	// ListSessions returns sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]*domain.Session, error)

	Close() error
}

// ArtifactStore keeps per-session files (descriptions, prompt, result image).
type ArtifactStore interface {
	// Write stores data under the session and returns its location.
	Write(ctx context.Context, session domain.SessionID, name string, data []byte) (string, error)

	Read(ctx context.Context, session domain.SessionID, name string) ([]byte, error)
}
