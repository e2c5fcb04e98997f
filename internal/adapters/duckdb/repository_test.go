package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/manthysbr/aule-vton/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_Sessions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	started := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	// 1. Save a running session
	session := domain.NewSession("20260504_093000_a1b2c3", started)
	session.Attributes = domain.GarmentAttributes{GarmentType: "dress", Color: "red", Details: []string{}}
	require.NoError(t, session.Start())
	require.NoError(t, repo.SaveSession(ctx, session))

	fetched, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusRunning, fetched.Status)
	assert.Equal(t, "red", fetched.Attributes.Color)
	assert.True(t, fetched.StartedAt.Equal(started))

	// 2. Upsert after completion
	_, err = session.AddIteration(domain.IterationResult{Prompt: "p", ImagePath: "result.png", Timestamp: started})
	require.NoError(t, err)
	require.NoError(t, session.Complete(started.Add(90*time.Second)))
	require.NoError(t, repo.SaveSession(ctx, session))

	fetched, err = repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, fetched.Status)
	require.Len(t, fetched.Iterations, 1)
	require.NotNil(t, fetched.CompletedAt)
	best, ok := fetched.BestIteration()
	require.True(t, ok)
	assert.Equal(t, 1, best.Iteration)

	// 3. Unknown id
	_, err = repo.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	for i, id := range []domain.SessionID{"s1", "s2", "s3"} {
		s := domain.NewSession(id, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Fail("backend unavailable", base))
		require.NoError(t, repo.SaveSession(ctx, s))
	}

	all, err := repo.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.SessionID("s3"), all[0].ID)
	assert.Equal(t, domain.SessionID("s1"), all[2].ID)
	assert.Equal(t, "backend unavailable", all[0].FailureMessage)

	two, err := repo.ListSessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestRepository_ReopensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	repo, err := NewRepository(path)
	require.NoError(t, err)
	s := domain.NewSession("keep", time.Now().UTC())
	require.NoError(t, repo.SaveSession(ctx, s))
	require.NoError(t, repo.Close())

	repo, err = NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	_, err = repo.GetSession(ctx, "keep")
	assert.NoError(t, err)
}
