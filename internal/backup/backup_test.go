package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/backup"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateWritesDocumentAndIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "SQLite uses WAL for concurrent readers",
		Type: types.TypeFact, Tags: []string{"sqlite", "wal"}, Confidence: 0.8, Strength: 1,
	}))
	_, err := store.SetMemoryEmbedding(ctx, "m1", []float32{1, 0, 0, 0})
	require.NoError(t, err)

	dir := t.TempDir()
	svc := backup.New(store, dir)

	path, err := svc.Create(ctx)
	require.NoError(t, err)
	require.FileExists(t, path)

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(path), entries[0].Path)
	require.NotEmpty(t, entries[0].SHA256)
}

func TestRestoreReplaceClearsExistingData(t *testing.T) {
	ctx := context.Background()
	source := openTestStore(t)
	require.NoError(t, source.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "The API listens on port 8443.",
		Type: types.TypeFact, Confidence: 0.8, Strength: 1,
	}))
	dir := t.TempDir()
	srcSvc := backup.New(source, dir)
	path, err := srcSvc.Create(ctx)
	require.NoError(t, err)

	target := openTestStore(t)
	require.NoError(t, target.CreateMemory(ctx, &types.Memory{
		ID: "stale", ProjectID: "demo", Content: "stale row that should be cleared",
		Type: types.TypeFact, Confidence: 0.8, Strength: 1,
	}))
	tgtSvc := backup.New(target, dir)

	report, err := tgtSvc.Restore(ctx, filepath.Base(path), backup.ModeReplace)
	require.NoError(t, err)
	require.Equal(t, 1, report.MemoriesRestored)

	_, err = target.GetMemory(ctx, "stale")
	require.ErrorIs(t, err, storage.ErrNotFound)
	restored, err := target.GetMemory(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "The API listens on port 8443.", restored.Content)
}

func TestRestoreMergeKeepsExistingOnCollision(t *testing.T) {
	ctx := context.Background()
	source := openTestStore(t)
	require.NoError(t, source.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "from backup",
		Type: types.TypeFact, Confidence: 0.8, Strength: 1,
	}))
	dir := t.TempDir()
	srcSvc := backup.New(source, dir)
	path, err := srcSvc.Create(ctx)
	require.NoError(t, err)

	target := openTestStore(t)
	require.NoError(t, target.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "already here",
		Type: types.TypeFact, Confidence: 0.8, Strength: 1,
	}))
	tgtSvc := backup.New(target, dir)

	report, err := tgtSvc.Restore(ctx, filepath.Base(path), backup.ModeMerge)
	require.NoError(t, err)
	require.Equal(t, 0, report.MemoriesRestored)
	require.Equal(t, 1, report.MemoriesSkipped)

	kept, err := target.GetMemory(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "already here", kept.Content)
}

func TestDueReportsTrueWhenNoBackupExistsOrStale(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	dir := t.TempDir()
	svc := backup.New(store, dir)

	due, err := svc.Due(ctx, time.Now().UTC(), 24*time.Hour)
	require.NoError(t, err)
	require.True(t, due)

	_, err = svc.Create(ctx)
	require.NoError(t, err)

	due, err = svc.Due(ctx, time.Now().UTC(), 24*time.Hour)
	require.NoError(t, err)
	require.False(t, due)

	due, err = svc.Due(ctx, time.Now().UTC().Add(25*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	require.True(t, due)
}

func TestListFallsBackToGlobWhenIndexMissing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	dir := t.TempDir()
	svc := backup.New(store, dir)

	path, err := svc.Create(ctx)
	require.NoError(t, err)

	indexPath := filepath.Join(dir, "index.toml")
	require.NoError(t, os.Remove(indexPath))

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(path), entries[0].Path)
}
