package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/manthysbr/aule-vton/internal/core/ports"
)

const sessionFile = "session.json"

var _ ports.SessionRepository = (*SessionFiles)(nil)

// SessionFiles stores each session as <root>/<session_id>/session.json, next to the
// artifacts a FileStore writes for it.
type SessionFiles struct {
	store  *FileStore
	logger *slog.Logger
}

func NewSessionFiles(store *FileStore, logger *slog.Logger) *SessionFiles {
	return &SessionFiles{store: store, logger: logger}
}

func (r *SessionFiles) SaveSession(ctx context.Context, session *domain.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if _, err := r.store.Write(ctx, session.ID, sessionFile, data); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

func (r *SessionFiles) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := r.store.Read(ctx, id, sessionFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, domain.ErrValidation) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, err
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// ListSessions scans the root directory. Unreadable records are logged and skipped.
func (r *SessionFiles) ListSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	entries, err := os.ReadDir(r.store.BasePath())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.store.BasePath(), entry.Name(), sessionFile)); err != nil {
			continue
		}
		session, err := r.GetSession(ctx, domain.SessionID(entry.Name()))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if r.logger != nil {
				r.logger.Warn("skipping unreadable session", "session_id", entry.Name(), "error", err)
			}
			continue
		}
		sessions = append(sessions, session)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (r *SessionFiles) Close() error { return nil }
