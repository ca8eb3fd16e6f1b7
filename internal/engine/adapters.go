package engine

import (
	"context"

	"github.com/mnemex/mnemex/internal/embedding"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

// storeAdapter satisfies embedding.Store over the real *storage.Store,
// translating between storage's *types.Memory rows and embedding's
// narrower MemoryRow view. embedding deliberately has no import-time
// dependency on internal/storage or internal/types, so this adapter is
// the one place that bridges them (spec §4.6).
type storeAdapter struct{ store *storage.Store }

func (a storeAdapter) PendingEmbeddingMemories(ctx context.Context, limit int) ([]embedding.MemoryRow, error) {
	rows, err := a.store.PendingEmbeddingMemories(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]embedding.MemoryRow, len(rows))
	for i, m := range rows {
		out[i] = embedding.MemoryRow{ID: m.ID, ProjectID: m.ProjectID, Content: m.Content}
	}
	return out, nil
}

func (a storeAdapter) SetMemoryEmbedding(ctx context.Context, id string, vector []float32) (string, error) {
	return a.store.SetMemoryEmbedding(ctx, id, vector)
}

// vectorAdapter satisfies embedding.VectorUpserter over the real
// vectorstore.Store, translating embedding.Payload (duplicated to keep
// that package's dependency graph one-directional) to vectorstore.Payload.
type vectorAdapter struct{ vectors vectorstore.Store }

func (a vectorAdapter) Upsert(ctx context.Context, id string, vector []float32, payload embedding.Payload) error {
	return a.vectors.Upsert(ctx, id, vector, vectorstore.Payload{
		ProjectID: payload.ProjectID,
		Deleted:   payload.Deleted,
	})
}
