package engine_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/config"
	"github.com/mnemex/mnemex/internal/dispatch"
	"github.com/mnemex/mnemex/internal/engine"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DBPath:                  filepath.Join(dir, "memories.db"),
		BackupDir:               filepath.Join(dir, "backups"),
		EmbeddingDim:            8,
		VectorBackend:           "embedded",
		WriteLockMaxConcurrent:  1,
		EmbeddingWorkerBatch:    20,
		EmbeddingWorkerInterval: time.Minute,
		ConsolidationInterval:   time.Minute,
		ConsolidationIdleAfter:  time.Minute,
	}
	e, err := engine.New(context.Background(), cfg, "demo", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewWiresEveryServiceOntoDispatchImpl(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, e.Dispatch.Store)
	require.NotNil(t, e.Dispatch.Memory)
	require.NotNil(t, e.Dispatch.Search)
	require.NotNil(t, e.Dispatch.Graph)
	require.NotNil(t, e.Dispatch.Scratchpad)
	require.NotNil(t, e.Dispatch.Scheduler)
	require.NotNil(t, e.Dispatch.Contradiction)
	require.NotNil(t, e.Dispatch.Consolidation)
	require.NotNil(t, e.Dispatch.Backup)
	require.NotNil(t, e.Dispatch.Ingest)
	require.NotNil(t, e.Dispatch.Session)
	require.Equal(t, "demo", e.Dispatch.ActiveProject())
}

func TestEndToEndStoreAndSearchThroughDispatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	args, err := json.Marshal(map[string]any{
		"project_id": "demo", "content": "SQLite uses WAL for concurrent readers",
		"type": "fact", "confidence": 0.8,
	})
	require.NoError(t, err)
	storeResp := dispatch.Dispatch(ctx, e.Dispatch, "memory_store", args)
	require.False(t, storeResp.IsError)

	searchArgs, err := json.Marshal(map[string]any{
		"project_id": "demo", "query": "WAL concurrent readers", "k": 5,
	})
	require.NoError(t, err)
	searchResp := dispatch.Dispatch(ctx, e.Dispatch, "search", searchArgs)
	require.False(t, searchResp.IsError)
}

func TestShutdownClearsSessionState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Session.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Shutdown(ctx))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
