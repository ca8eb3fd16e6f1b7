package ingest_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/ingest"
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

const sampleArchive = `{"source_session_id":"s1","role":"user","content":"What port does the API listen on?","timestamp":"2026-01-01T10:00:00Z"}
{"source_session_id":"s1","role":"assistant","content":"The API listens on port 8443 in production. It uses TLS 1.3 exclusively.","timestamp":"2026-01-01T10:00:05Z"}
`

func TestParseArchiveCreatesConversationAndMessages(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := ingest.New(store)

	result, err := svc.ParseArchive(ctx, "demo", "claude-code", strings.NewReader(sampleArchive))
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Len(t, result.Messages, 2)
	require.Equal(t, types.RoleAssistant, result.Messages[1].Role)
}

func TestParseArchiveDedupsByContentHash(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := ingest.New(store)

	_, err := svc.ParseArchive(ctx, "demo", "claude-code", strings.NewReader(sampleArchive))
	require.NoError(t, err)

	second, err := svc.ParseArchive(ctx, "demo", "claude-code", strings.NewReader(sampleArchive))
	require.NoError(t, err)
	require.True(t, second.Skipped)
}

func TestIsQualityFactRejectsShortAndStopwordHeavyFragments(t *testing.T) {
	require.False(t, ingest.IsQualityFact("it is"))
	require.False(t, ingest.IsQualityFact("and so it was that the"))
	require.True(t, ingest.IsQualityFact("The API listens on port 8443 in production."))
}

func TestIsQualityFactRejectsMetaCommentaryAndStructuralNoise(t *testing.T) {
	require.False(t, ingest.IsQualityFact("Let me check the configuration file for you now."))
	require.False(t, ingest.IsQualityFact("| column one | column two | column three |"))
	require.False(t, ingest.IsQualityFact("commit abc123 fixes the database connection pool"))
	require.False(t, ingest.IsQualityFact("`fetchConfig`"))
}

func TestIsQualityFactRejectsTruncatedInlineCode(t *testing.T) {
	require.False(t, ingest.IsQualityFact("The function returns a pointer to `memory"))
}

func TestIsDuplicateFactMatchesExactAndSubstring(t *testing.T) {
	existing := []*types.Memory{{Content: "The API listens on port 8443 in production."}}
	require.True(t, ingest.IsDuplicateFact("The API listens on port 8443 in production.", existing))
	require.True(t, ingest.IsDuplicateFact("API listens on port 8443", existing))
	require.False(t, ingest.IsDuplicateFact("The database uses Postgres 16.", existing))
}

func TestStoreExtractedFactInsertsQualityCandidateWithAutoTag(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := ingest.New(store)

	require.NoError(t, store.CreateConversation(ctx, &types.Conversation{ID: "conv1", ProjectID: "demo", ContentHash: "h"}))
	require.NoError(t, store.CreateMessage(ctx, &types.Message{ID: "msg1", ConversationID: "conv1", Role: types.RoleAssistant}))

	mem, err := svc.StoreExtractedFact(ctx, "demo", ingest.Candidate{
		MessageID: "msg1", Content: "The API listens on port 8443 in production.", Type: types.TypeFact,
	})
	require.NoError(t, err)
	require.NotNil(t, mem)
	require.Equal(t, ingest.ExtractedFactConfidence, mem.Confidence)
	require.Contains(t, mem.Tags, ingest.AutoTag)
}

func TestStoreExtractedFactRejectsLowQualityCandidate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := ingest.New(store)

	require.NoError(t, store.CreateConversation(ctx, &types.Conversation{ID: "conv1", ProjectID: "demo", ContentHash: "h"}))
	require.NoError(t, store.CreateMessage(ctx, &types.Message{ID: "msg1", ConversationID: "conv1", Role: types.RoleAssistant}))

	mem, err := svc.StoreExtractedFact(ctx, "demo", ingest.Candidate{
		MessageID: "msg1", Content: "Let me check that for you.", Type: types.TypeFact,
	})
	require.NoError(t, err)
	require.Nil(t, mem)
}

func TestCleanupGarbageFactsRemovesLowQualityAutoMemories(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := ingest.New(store)

	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "Let me check that for you.",
		Tags: []string{"auto"}, Confidence: 0.7, Strength: 1,
	}))
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m2", ProjectID: "demo", Content: "The API listens on port 8443 in production.",
		Tags: []string{"auto"}, Confidence: 0.7, Strength: 1,
	}))

	result, err := svc.CleanupGarbageFacts(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, 1, result.LowQualityAutoMemories)

	_, err = store.GetMemory(ctx, "m1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	kept, err := store.GetMemory(ctx, "m2")
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestExtractConversationTopicsFiltersStopwords(t *testing.T) {
	messages := []*types.Message{
		{Content: "the database connection pool is the bottleneck"},
		{Content: "database latency spikes during peak traffic"},
	}
	topics := ingest.ExtractConversationTopics(messages, 3)
	require.NotEmpty(t, topics)
	require.Equal(t, "database", topics[0].Term)
	require.Equal(t, 2, topics[0].Count)
}

func TestSummarizeConversationProducesSummary(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	svc := ingest.New(store)

	conv := &types.Conversation{ID: "conv1", ProjectID: "demo", ContentHash: "h"}
	require.NoError(t, store.CreateConversation(ctx, conv))
	require.NoError(t, store.CreateMessage(ctx, &types.Message{
		ID: "m1", ConversationID: "conv1", Role: types.RoleAssistant,
		Content: "The API listens on port 8443.", Seq: 0,
	}))

	sum, err := svc.SummarizeConversation(ctx, conv)
	require.NoError(t, err)
	require.Contains(t, sum.Content, "8443")

	found, err := svc.SearchConversationSummaries(ctx, "demo", "8443")
	require.NoError(t, err)
	require.Len(t, found, 1)
}
