package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/embedding"
	"github.com/mnemex/mnemex/internal/search"
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

func TestHybridSearchFindsKeywordMatch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	embedder := embedding.NewLocal(32)
	engine := search.New(store, nil, embedder)

	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ProjectID: "demo", Content: "PostgreSQL connection pooling uses pgbouncer",
		Type: types.TypeFact, Importance: 0.5, Strength: 1, Confidence: 0.9,
	}))
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ProjectID: "demo", Content: "the cafeteria serves lunch at noon",
		Type: types.TypeNote, Importance: 0.5, Strength: 1, Confidence: 0.9,
	}))

	hits, err := engine.HybridSearch(ctx, search.Input{ProjectID: "demo", Query: "pgbouncer pooling", K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "PostgreSQL connection pooling uses pgbouncer", hits[0].Content)
	require.Greater(t, hits[0].KeywordScore, 0.0)
}

func TestHybridSearchFindsSemanticMatch(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	embedder := embedding.NewLocal(32)
	engine := search.New(store, nil, embedder)

	content := "The deployment pipeline runs integration tests before release"
	vec, err := embedder.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ProjectID: "demo", Content: content, Type: types.TypeFact,
		Importance: 0.5, Strength: 1, Confidence: 0.9, Embedding: vec,
	}))

	hits, err := engine.HybridSearch(ctx, search.Input{ProjectID: "demo", Query: content, K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, content, hits[0].Content)
	require.Greater(t, hits[0].SemanticScore, 0.0)
}

func TestHybridSearchExcludesLowConfidence(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	embedder := embedding.NewLocal(32)
	engine := search.New(store, nil, embedder)

	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ProjectID: "demo", Content: "obsolete rate limit was 10 requests per second",
		Type: types.TypeFact, Importance: 0.5, Strength: 1, Confidence: 0.1,
	}))

	hits, err := engine.HybridSearch(ctx, search.Input{
		ProjectID: "demo", Query: "rate limit requests", K: 5, ConfidenceThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestHybridSearchScopesToProjectAndGlobal(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	embedder := embedding.NewLocal(32)
	engine := search.New(store, nil, embedder)

	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ProjectID: types.GlobalProject, Content: "company wide holiday schedule published",
		Type: types.TypeFact, Importance: 0.5, Strength: 1, Confidence: 0.9,
	}))
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ProjectID: "other-project", Content: "holiday schedule for a different project",
		Type: types.TypeFact, Importance: 0.5, Strength: 1, Confidence: 0.9,
	}))

	hits, err := engine.HybridSearch(ctx, search.Input{ProjectID: "demo", Query: "holiday schedule", K: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "company wide holiday schedule published", hits[0].Content)
}

func TestHybridSearchTruncatesLongContent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	embedder := embedding.NewLocal(32)
	engine := search.New(store, nil, embedder)

	long := "widget "
	for len(long) < 400 {
		long += "widget "
	}
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ProjectID: "demo", Content: long, Type: types.TypeNote,
		Importance: 0.5, Strength: 1, Confidence: 0.9,
	}))

	hits, err := engine.HybridSearch(ctx, search.Input{ProjectID: "demo", Query: "widget", K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.True(t, hits[0].ContentTruncated)
	require.LessOrEqual(t, len([]rune(hits[0].Content)), 200)
}
