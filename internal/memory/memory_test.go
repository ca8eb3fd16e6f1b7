package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/contradiction"
	"github.com/mnemex/mnemex/internal/embedding"
	"github.com/mnemex/mnemex/internal/memory"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
	"github.com/mnemex/mnemex/internal/writelock"
)

func newService(t *testing.T) (*memory.Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embedder := embedding.NewLocal(32)
	engine := contradiction.New(store, nil, embedder, nil)
	svc := memory.New(store, nil, embedder, writelock.New(), engine, nil)
	return svc, store
}

func TestStoreAndRecallRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	res, err := svc.Store(ctx, memory.StoreInput{
		ProjectID: "demo",
		Content:   "SQLite uses WAL for concurrent readers",
		Type:      types.TypeFact,
		Tags:      []string{"sqlite", "wal"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Memory.ID)
	require.Empty(t, res.Contradictions)

	recalled, err := svc.Recall(ctx, res.Memory.ID)
	require.NoError(t, err)
	require.Equal(t, "SQLite uses WAL for concurrent readers", recalled.Memory.Content)
	require.Equal(t, 1, recalled.Memory.AccessCount)
	require.GreaterOrEqual(t, recalled.Memory.Confidence, 0.5)
}

func TestStoreDetectsAndLowersConfidenceOnContradiction(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, err := svc.Store(ctx, memory.StoreInput{ProjectID: "demo", Content: "The deployment is complete", Type: types.TypeFact})
	require.NoError(t, err)
	require.Empty(t, first.Contradictions)

	second, err := svc.Store(ctx, memory.StoreInput{ProjectID: "demo", Content: "The deployment is not complete", Type: types.TypeFact})
	require.NoError(t, err)
	require.NotEmpty(t, second.Contradictions)
	require.Less(t, second.Memory.Confidence, memory.DefaultInitialConfidence)
	require.GreaterOrEqual(t, second.Memory.Confidence, memory.MinConfidenceAfterContradiction)
}

func TestStoreRejectsOversizedContent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	huge := make([]byte, types.MaxContentBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := svc.Store(ctx, memory.StoreInput{ProjectID: "demo", Content: string(huge)})
	require.Error(t, err)
}

func TestUpdateRegeneratesEmbeddingOnContentChange(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	res, err := svc.Store(ctx, memory.StoreInput{ProjectID: "demo", Content: "original content", Type: types.TypeNote})
	require.NoError(t, err)

	newContent := "updated content entirely"
	_, err = svc.Update(ctx, res.Memory.ID, memory.UpdateInput{Content: &newContent})
	require.NoError(t, err)

	updated, err := store.GetMemory(ctx, res.Memory.ID)
	require.NoError(t, err)
	require.Equal(t, newContent, updated.Content)

	embs, err := store.EmbeddingsForProject(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, embs, 1)
	require.NotEqual(t, res.Memory.Embedding, embs[0].Embedding)
}

func TestDeleteSoftByDefault(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	res, err := svc.Store(ctx, memory.StoreInput{ProjectID: "demo", Content: "ephemeral note", Type: types.TypeNote})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, res.Memory.ID, false))
	_, err = store.GetMemory(ctx, res.Memory.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// A repeat soft-delete of the same memory is a no-op, not an error.
	require.NoError(t, svc.Delete(ctx, res.Memory.ID, false))
}

func TestDeletePermanentRemovesAdjacentEdges(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	first, err := svc.Store(ctx, memory.StoreInput{ProjectID: "demo", Content: "The rollout succeeded", Type: types.TypeFact})
	require.NoError(t, err)
	second, err := svc.Store(ctx, memory.StoreInput{ProjectID: "demo", Content: "The rollout did not succeed", Type: types.TypeFact})
	require.NoError(t, err)
	require.NotEmpty(t, second.Contradictions)

	edgesBefore, err := store.EdgesForMemory(ctx, first.Memory.ID)
	require.NoError(t, err)
	require.NotEmpty(t, edgesBefore)

	require.NoError(t, svc.Delete(ctx, second.Memory.ID, true))

	edgesAfter, err := store.EdgesForMemory(ctx, first.Memory.ID)
	require.NoError(t, err)
	require.Empty(t, edgesAfter)
}

func TestEffectiveConfidenceDecaysOverTime(t *testing.T) {
	m := &types.Memory{Confidence: 0.8, SourceCount: 1, LastAccessed: time.Now().Add(-90 * 24 * time.Hour)}
	now := time.Now()
	require.Less(t, memory.EffectiveConfidence(m, now), 0.8)
}

func TestRetentionDropsBelowThresholdForStaleWeakMemory(t *testing.T) {
	m := &types.Memory{Strength: 0.1, LastAccessed: time.Now().Add(-240 * time.Hour)}
	require.False(t, memory.IsRetained(m, time.Now()))
}

func TestRetentionHighForFreshStrongMemory(t *testing.T) {
	m := &types.Memory{Strength: 10, LastAccessed: time.Now()}
	require.True(t, memory.IsRetained(m, time.Now()))
}
