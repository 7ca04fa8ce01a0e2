package process

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kandev/sandboxd/internal/common/logger"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "processes.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateGet(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	record := &Record{
		ID:        "proc-1",
		SessionID: "session-a",
		Source:    SourceShell,
		Command:   "echo hi",
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, record))

	fetched, err := store.Get(ctx, "proc-1")
	require.NoError(t, err)
	require.Equal(t, record.Command, fetched.Command)
	require.Equal(t, record.SessionID, fetched.SessionID)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.Get(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Update(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	record := &Record{ID: "proc-2", SessionID: "session-a", Status: StatusStarting, StartedAt: time.Now().UTC()}
	require.NoError(t, store.Create(ctx, record))

	updated, err := store.Update(ctx, "proc-2", func(r *Record) {
		r.Status = StatusCompleted
		r.AppendStdout("hi\n")
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)

	fetched, err := store.Get(ctx, "proc-2")
	require.NoError(t, err)
	require.Equal(t, "hi\n", fetched.Stdout)
}

func TestSQLiteStore_UpdateNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.Update(context.Background(), "missing", func(r *Record) {})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListFiltersBySessionAndStatus(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Record{ID: "a", SessionID: "s1", Status: StatusRunning, StartedAt: time.Now().UTC()}))
	require.NoError(t, store.Create(ctx, &Record{ID: "b", SessionID: "s1", Status: StatusCompleted, StartedAt: time.Now().UTC()}))
	require.NoError(t, store.Create(ctx, &Record{ID: "c", SessionID: "s2", Status: StatusRunning, StartedAt: time.Now().UTC()}))

	bySession, err := store.List(ctx, ListFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, bySession, 2)

	byStatus, err := store.List(ctx, ListFilter{SessionID: "s1", Status: StatusRunning})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "a", byStatus[0].ID)
}
