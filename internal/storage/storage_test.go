package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arche-ai/arche/pkg/types"
)

func snapshot(id string) *types.SessionSnapshot {
	return &types.SessionSnapshot{
		ID:        id,
		Name:      "test-" + id,
		State:     types.StateCompleted,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Model:     "claude-sonnet-4",
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.SaveSession(snapshot("s1")))

	got, err := store.LoadSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "test-s1", got.Name)
	assert.Equal(t, types.StateCompleted, got.State)
}

func TestLoadMissingSession(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.LoadSession("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsEmptyID(t *testing.T) {
	store := New(t.TempDir())
	assert.Error(t, store.SaveSession(&types.SessionSnapshot{}))
	assert.Error(t, store.SaveSession(nil))
}

func TestSaveOverwrites(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.SaveSession(snapshot("s1")))
	updated := snapshot("s1")
	updated.Name = "renamed"
	require.NoError(t, store.SaveSession(updated))

	got, err := store.LoadSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestDeleteSession(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.SaveSession(snapshot("s1")))
	require.NoError(t, store.DeleteSession("s1"))

	_, err := store.LoadSession("s1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.DeleteSession("s1"), "deleting a missing snapshot is fine")
}

func TestListSessions(t *testing.T) {
	store := New(t.TempDir())

	ids, err := store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.SaveSession(snapshot("b")))
	require.NoError(t, store.SaveSession(snapshot("a")))

	ids, err = store.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestScanSessionsSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	require.NoError(t, store.SaveSession(snapshot("good")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions", "bad.json"), []byte("{nope"), 0o644))

	var seen []string
	err := store.ScanSessions(func(snap *types.SessionSnapshot) error {
		seen = append(seen, snap.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, seen)
}

func TestConcurrentSaves(t *testing.T) {
	store := New(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.SaveSession(snapshot("shared")))
		}()
	}
	wg.Wait()

	got, err := store.LoadSession("shared")
	require.NoError(t, err)
	assert.Equal(t, "shared", got.ID)
}

func TestNoLockFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, store.SaveSession(snapshot("s1")))

	matches, err := filepath.Glob(filepath.Join(dir, "sessions", "*.lock"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
