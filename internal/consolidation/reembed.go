package consolidation

import (
	"context"
	"time"

	"github.com/mnemex/mnemex/internal/vectorstore"
)

// reembedOrphansBatch bounds one cycle's re-embed pass (spec §4.7, "backfill
// any memories still missing an embedding"); mirrors internal/embedding.Worker's
// batch default.
const reembedOrphansBatch = 20

// reembedOrphans backfills embeddings for projectID's memories that were
// stored with no vector (embedding best-effort at write time, spec §4.6),
// grounded on internal/embedding.Worker.embedOne's embed-then-upsert shape.
// A per-row failure is logged-equivalent (silently skipped) rather than
// aborting the rest of the batch or the cycle itself.
func (s *Service) reembedOrphans(ctx context.Context, projectID string) int {
	if s.embedder == nil || s.vectors == nil {
		return 0
	}

	rows, err := s.store.PendingEmbeddingMemories(ctx, reembedOrphansBatch)
	if err != nil {
		return 0
	}

	var n int
	for _, row := range rows {
		if row.ProjectID != projectID {
			continue
		}
		if s.reembedOne(ctx, row.ID, row.Content) {
			n++
		}
	}
	return n
}

func (s *Service) reembedOne(ctx context.Context, id, content string) bool {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return false
	}

	projectID, err := s.store.SetMemoryEmbedding(ctx, id, vector)
	if err != nil {
		return false
	}

	return s.vectors.Upsert(ctx, id, vector, vectorstore.Payload{ProjectID: projectID}) == nil
}
