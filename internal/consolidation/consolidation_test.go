package consolidation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/consolidation"
	"github.com/mnemex/mnemex/internal/ingest"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeEmbedder returns a unit vector along axis (call count mod 4), so
// consecutive calls yield orthogonal vectors.
type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	v := make([]float32, 4)
	v[f.calls%4] = 1
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(context.Background(), t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dim() int        { return 4 }
func (f *fakeEmbedder) Version() string { return "fake-v1" }

// fakeVectorStore is a minimal vectorstore.Store that never reports ready,
// so consolidation's near-duplicate and re-embed paths exercise their
// brute-force / direct-upsert fallbacks rather than the KNN path.
type fakeVectorStore struct{ upserts int }

func (f *fakeVectorStore) Upsert(ctx context.Context, id string, vector []float32, payload vectorstore.Payload) error {
	f.upserts++
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	return nil, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeVectorStore) Count(ctx context.Context) (int, error)      { return 0, nil }
func (f *fakeVectorStore) IsReady() bool                               { return false }
func (f *fakeVectorStore) Backend() string                             { return "fake" }
func (f *fakeVectorStore) Close() error                                { return nil }

type fakeBackuper struct {
	due    bool
	ran    bool
	dueErr error
	runErr error
}

func (f *fakeBackuper) Due(ctx context.Context, now time.Time, interval time.Duration) (bool, error) {
	return f.due, f.dueErr
}
func (f *fakeBackuper) Run(ctx context.Context) error {
	f.ran = true
	return f.runErr
}

func TestRunStrengthensDecaysAndReportsCounts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ingestSvc := ingest.New(store)
	svc := consolidation.New(store, ingestSvc, nil, nil, nil, "session-1")

	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "heavily accessed fact",
		Type: types.TypeFact, Confidence: 0.5, Strength: 1, Importance: 0.5, AccessCount: 50,
	}))
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m2", ProjectID: "demo", Content: "Let me check that for you.",
		Tags: []string{"auto"}, Confidence: 0.7, Strength: 1, Importance: 0.5,
	}))

	report, err := svc.Run(ctx, "demo")
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Equal(t, int64(1), report.Strengthened)
	require.Equal(t, 1, report.Garbage.LowQualityAutoMemories)

	_, err = store.GetMemory(ctx, "m2")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunSkipsWhenCrossProcessLockHeld(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ingestSvc := ingest.New(store)
	svc := consolidation.New(store, ingestSvc, nil, nil, nil, "session-1")

	held, err := store.AcquireConsolidationLock(ctx, "other-holder", 5*time.Minute, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, held)

	report, err := svc.Run(ctx, "demo")
	require.NoError(t, err)
	require.True(t, report.Skipped)
}

func TestRunTakesOverStaleCrossProcessLock(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ingestSvc := ingest.New(store)
	svc := consolidation.New(store, ingestSvc, nil, nil, nil, "session-1")

	stale := time.Now().UTC().Add(-10 * time.Minute)
	held, err := store.AcquireConsolidationLock(ctx, "dead-holder", 5*time.Minute, stale)
	require.NoError(t, err)
	require.True(t, held)

	report, err := svc.Run(ctx, "demo")
	require.NoError(t, err)
	require.False(t, report.Skipped)
}

func TestRunReembedsOrphansAndRunsDueBackup(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ingestSvc := ingest.New(store)
	embedder := &fakeEmbedder{}
	vectors := &fakeVectorStore{}
	backup := &fakeBackuper{due: true}
	svc := consolidation.New(store, ingestSvc, vectors, embedder, backup, "session-1")

	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "The API listens on port 8443 in production.",
		Type: types.TypeFact, Confidence: 0.8, Strength: 1, Importance: 0.5,
	}))

	report, err := svc.Run(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, 1, report.ReEmbedded)
	require.Equal(t, 1, vectors.upserts)
	require.True(t, report.BackupRan)
	require.True(t, backup.ran)
}

func TestNearDuplicatesReportsSimilarPairsWithoutMerging(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ingestSvc := ingest.New(store)
	svc := consolidation.New(store, ingestSvc, nil, nil, nil, "session-1")

	vec := make([]float32, 4)
	vec[0] = 1
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m1", ProjectID: "demo", Content: "The API listens on port 8443.",
		Type: types.TypeFact, Confidence: 0.8, Strength: 1, Importance: 0.5,
	}))
	require.NoError(t, store.CreateMemory(ctx, &types.Memory{
		ID: "m2", ProjectID: "demo", Content: "The API listens on port 8443 exactly.",
		Type: types.TypeFact, Confidence: 0.8, Strength: 1, Importance: 0.5,
	}))
	_, err := store.SetMemoryEmbedding(ctx, "m1", vec)
	require.NoError(t, err)
	_, err = store.SetMemoryEmbedding(ctx, "m2", vec)
	require.NoError(t, err)

	report, err := svc.Run(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, report.NearDuplicates, 1)
	require.GreaterOrEqual(t, report.NearDuplicates[0].Similarity, 0.85)

	m1, err := store.GetMemory(ctx, "m1")
	require.NoError(t, err)
	m2, err := store.GetMemory(ctx, "m2")
	require.NoError(t, err)
	require.NotNil(t, m1)
	require.NotNil(t, m2)
}
