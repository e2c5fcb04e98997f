package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/manthysbr/aule-vton/internal/core/ports"
)

// Repository persists try-on sessions in a DuckDB file. The full session record is
// kept as JSON; id, status and timestamps are columns for listing.
type Repository struct {
	db *sql.DB
}

// Ensure Repository implements SessionRepository interface
var _ ports.SessionRepository = (*Repository)(nil)

// NewRepository opens (or creates) the database at path. An empty path opens an
// in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	// one writer per database file
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS sessions (
		id           VARCHAR PRIMARY KEY,
		status       VARCHAR NOT NULL,
		garment_type VARCHAR,
		started_at   TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		data         JSON NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("failed to migrate sessions table: %w", err)
	}
	return nil
}

func (r *Repository) SaveSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	query := `
	INSERT INTO sessions (id, status, garment_type, started_at, completed_at, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		garment_type = excluded.garment_type,
		completed_at = excluded.completed_at,
		data = excluded.data;
	`

	var completedAt *time.Time
	if session.CompletedAt != nil {
		t := session.CompletedAt.UTC()
		completedAt = &t
	}

	_, err = r.db.ExecContext(ctx, query,
		string(session.ID), string(session.Status), session.Attributes.GarmentType,
		session.StartedAt.UTC(), completedAt, string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT CAST(data AS TEXT) FROM sessions WHERE id = ?`, string(id))

	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, err
	}
	return decodeSession(id, data)
}

func (r *Repository) ListSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	query := `SELECT id, CAST(data AS TEXT) FROM sessions ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []*domain.Session{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		session, err := decodeSession(domain.SessionID(id), data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func decodeSession(id domain.SessionID, data string) (*domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &session, nil
}
