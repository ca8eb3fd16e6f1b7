package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubStore struct {
	pending []MemoryRow
	set     map[string][]float32
}

func (s *stubStore) PendingEmbeddingMemories(ctx context.Context, limit int) ([]MemoryRow, error) {
	return s.pending, nil
}

func (s *stubStore) SetMemoryEmbedding(ctx context.Context, id string, vector []float32) (string, error) {
	if s.set == nil {
		s.set = make(map[string][]float32)
	}
	s.set[id] = vector
	return "proj-1", nil
}

type stubVectors struct{ upserted []string }

func (s *stubVectors) Upsert(ctx context.Context, id string, vector []float32, payload Payload) error {
	s.upserted = append(s.upserted, id)
	return nil
}

type stubLock struct{}

func (stubLock) WithLock(ctx context.Context, timeout time.Duration, fn func() error) error {
	return fn()
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrUnavailable
}
func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnavailable
}
func (failingEmbedder) Dim() int        { return 8 }
func (failingEmbedder) Version() string { return "failing-test" }

func TestWorkerRunOnceEmbedsAllPendingRows(t *testing.T) {
	store := &stubStore{pending: []MemoryRow{
		{ID: "a", ProjectID: "proj-1", Content: "hello world"},
		{ID: "b", ProjectID: "proj-1", Content: "goodbye world"},
	}}
	vectors := &stubVectors{}
	w := NewWorker(store, vectors, NewLocal(16), stubLock{}, time.Hour, 10, nil)

	w.runOnce(context.Background())

	require.Len(t, store.set, 2)
	require.ElementsMatch(t, []string{"a", "b"}, vectors.upserted)
}

func TestWorkerRunOncePerRowFailureIsolated(t *testing.T) {
	store := &stubStore{pending: []MemoryRow{{ID: "a", ProjectID: "proj-1", Content: "x"}}}
	vectors := &stubVectors{}
	w := NewWorker(store, vectors, failingEmbedder{}, stubLock{}, time.Hour, 10, nil)

	require.NotPanics(t, func() { w.runOnce(context.Background()) })
	require.Empty(t, store.set)
	require.Empty(t, vectors.upserted)
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	store := &stubStore{}
	vectors := &stubVectors{}
	w := NewWorker(store, vectors, NewLocal(16), stubLock{}, time.Millisecond, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
