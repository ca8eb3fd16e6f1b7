package consolidation

import (
	"context"
	"fmt"

	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

// nearDuplicates implements spec §4.7 step 6: a report (never
// auto-merged) of memory pairs whose embeddings are at least
// nearDupThreshold similar, over the nearDupSampleSize most recently
// created embedded memories in projectID. It prefers the vector store's
// own KNN search when one is wired in ("for scale"), falling back to
// pairwise cosine comparison otherwise.
func (s *Service) nearDuplicates(ctx context.Context, projectID string) ([]NearDuplicate, error) {
	candidates, err := s.store.RecentMemoryEmbeddings(ctx, projectID, nearDupSampleSize)
	if err != nil {
		return nil, fmt.Errorf("near duplicates: recent embeddings: %w", err)
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	if s.vectors != nil && s.vectors.IsReady() {
		return s.nearDuplicatesViaVectorStore(ctx, candidates)
	}
	return nearDuplicatesBruteForce(candidates), nil
}

func (s *Service) nearDuplicatesViaVectorStore(ctx context.Context, candidates []storage.MemoryEmbedding) ([]NearDuplicate, error) {
	inSample := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		inSample[c.ID] = true
	}
	seen := make(map[[2]string]bool)
	var out []NearDuplicate
	for _, c := range candidates {
		results, err := s.vectors.Search(ctx, c.Embedding, 2, vectorstore.Filter{ExcludeIDs: []string{c.ID}})
		if err != nil {
			if err == vectorstore.ErrUnavailable {
				// Backend went away mid-scan; fall back for the remainder.
				return nearDuplicatesBruteForce(candidates), nil
			}
			return nil, fmt.Errorf("near duplicates: vector search: %w", err)
		}
		for _, r := range results {
			if r.ID == c.ID || !inSample[r.ID] || r.Score < nearDupThreshold {
				continue
			}
			key := pairKey(c.ID, r.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, NearDuplicate{MemoryA: c.ID, MemoryB: r.ID, Similarity: r.Score})
		}
	}
	return out, nil
}

func nearDuplicatesBruteForce(candidates []storage.MemoryEmbedding) []NearDuplicate {
	var out []NearDuplicate
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			// Rescaled onto the same [0,1] scale the vector store's Score
			// reports, so nearDupThreshold means the same thing either way.
			sim := 0.5 + 0.5*cosineSimilarity(candidates[i].Embedding, candidates[j].Embedding)
			if sim >= nearDupThreshold {
				out = append(out, NearDuplicate{
					MemoryA: candidates[i].ID, MemoryB: candidates[j].ID, Similarity: sim,
				})
			}
		}
	}
	return out
}

// cosineSimilarity assumes both vectors are L2-normalized (spec §3), so
// the dot product alone equals cosine similarity — the same convention
// internal/contradiction's engine uses for memory-vs-memory similarity.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
