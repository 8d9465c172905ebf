package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/iammorganparry/runpad/internal/model"
	"github.com/iammorganparry/runpad/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *RunStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunStore(db)
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "/tmp/a.py", process.Result{
		SessionID: "s1", Status: model.RunStatusCompleted, ExitCode: 0, Duration: 250 * time.Millisecond,
	}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Record(ctx, "/tmp/b.py", process.Result{
		SessionID: "s2", Status: model.RunStatusSpawnFailed, ExitCode: -1, Err: errors.New("no python"),
	}))

	runs, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "s2", runs[0].ID, "newest first")
	assert.Equal(t, model.RunStatusSpawnFailed, runs[0].Status)
	assert.Equal(t, "no python", runs[0].Error)
	assert.Equal(t, "s1", runs[1].ID)
	assert.Equal(t, 250*time.Millisecond, runs[1].Duration)
	assert.Empty(t, runs[1].Error)

	runs, err = store.Recent(ctx, "/tmp/a.py", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "/tmp/a.py", runs[0].Path)
}

func TestRecordSkipsRunsWithoutSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "/tmp/a.py", process.Result{Status: model.RunStatusAborted, ExitCode: -1}))

	runs, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecentLimit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(ctx, "/x", process.Result{SessionID: id, Status: model.RunStatusCompleted}))
	}

	runs, err := store.Recent(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
