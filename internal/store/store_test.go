// ABOUTME: Tests for the SQLite session registry: upsert, touch, list ordering, delete.
// ABOUTME: Each test opens a fresh database in a temp directory.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "operator.db"))
	require.NoError(t, err, "parent directories are created as needed")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, &RegisteredSession{
		SessionID:   "sess-1",
		Name:        "builder",
		CWD:         "/work/app",
		Hostname:    "devbox",
		TmuxSession: "main",
		TmuxPane:    "%4",
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "builder", got.Name)
	assert.Equal(t, "/work/app", got.CWD)
	assert.Equal(t, "%4", got.TmuxPane)
	assert.False(t, got.RegisteredAt.IsZero())
}

func TestStore_UpsertUpdatesExistingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &RegisteredSession{SessionID: "sess-1", Name: "old"}))
	require.NoError(t, s.Upsert(ctx, &RegisteredSession{SessionID: "sess-1", Name: "new", CWD: "/work"}))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
	assert.Equal(t, "/work", got.CWD)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &RegisteredSession{SessionID: "older"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Upsert(ctx, &RegisteredSession{SessionID: "newer"}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "newer", all[0].SessionID)
	assert.Equal(t, "older", all[1].SessionID)
}

func TestStore_TouchRefreshesLastSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &RegisteredSession{SessionID: "sess-1"}))
	before, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Touch(ctx, "sess-1"))

	after, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, after.LastSeen.After(before.LastSeen))
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &RegisteredSession{SessionID: "sess-1"}))
	require.NoError(t, s.Delete(ctx, "sess-1"))

	_, err := s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing row is a no-op.
	assert.NoError(t, s.Delete(ctx, "ghost"))
}
