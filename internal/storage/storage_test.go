package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func TestCreateAndGetMemory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := &types.Memory{
		ProjectID:  "proj",
		Content:    "the deploy key rotates every 90 days",
		Type:       types.TypeFact,
		Tags:       []string{"ops", " ops ", "infra"},
		Importance: 0.7,
		Strength:   1,
		Confidence: 0.9,
	}
	require.NoError(t, s.CreateMemory(ctx, m))
	require.NotEmpty(t, m.ID)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Content, got.Content)
	require.ElementsMatch(t, []string{"ops", "infra"}, got.Tags)
}

func TestGetMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetMemory(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteMemoryIsTombstone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := &types.Memory{ProjectID: "proj", Content: "x", Type: types.TypeNote}
	require.NoError(t, s.CreateMemory(ctx, m))
	require.NoError(t, s.DeleteMemory(ctx, m.ID, time.Now()))

	_, err := s.GetMemory(ctx, m.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting again is an idempotent no-op (spec §8: repeat
	// delete(id, permanent=false) succeeds); only an id that never
	// existed reports ErrNotFound.
	require.NoError(t, s.DeleteMemory(ctx, m.ID, time.Now()))

	err = s.DeleteMemory(ctx, "never-existed", time.Now())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEdgeValidityWindow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := &types.Memory{ProjectID: "proj", Content: "a", Type: types.TypeFact}
	b := &types.Memory{ProjectID: "proj", Content: "b", Type: types.TypeFact}
	require.NoError(t, s.CreateMemory(ctx, a))
	require.NoError(t, s.CreateMemory(ctx, b))

	edge := &types.Edge{
		ProjectID:  "proj",
		FromID:     a.ID,
		ToID:       b.ID,
		Relation:   types.RelationContradicts,
		ValidFrom:  time.Now().Add(-time.Hour),
		Confidence: 0.8,
	}
	require.NoError(t, s.CreateEdge(ctx, edge))

	edges, err := s.EdgesForMemory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.True(t, edges[0].ValidAsOf(time.Now()))

	require.NoError(t, s.InvalidateEdge(ctx, edge.ID, time.Now()))
	edges, err = s.EdgesForMemory(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, edges[0].ValidAsOf(time.Now().Add(time.Minute)))
}

func TestScratchpadTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.SetScratchpad(ctx, &types.ScratchpadItem{
		ProjectID: "proj", Key: "ephemeral", Value: "v", ExpiresAt: &past,
	}))

	_, err := s.GetScratchpad(ctx, "proj", "ephemeral")
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.PurgeExpiredScratchpad(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestConversationDedupByHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := &types.Conversation{ProjectID: "proj", ContentHash: "abc123", StartedAt: time.Now(), EndedAt: time.Now()}
	require.NoError(t, s.CreateConversation(ctx, c))

	dup := &types.Conversation{ProjectID: "proj", ContentHash: "abc123", StartedAt: time.Now(), EndedAt: time.Now()}
	err := s.CreateConversation(ctx, dup)
	require.ErrorIs(t, err, storage.ErrConflict)

	found, err := s.ConversationByHash(ctx, "proj", "abc123")
	require.NoError(t, err)
	require.Equal(t, c.ID, found.ID)
}
