// Package search implements the hybrid keyword+semantic retrieval
// pipeline of spec §4.4: concurrent keyword and semantic sub-searches,
// fused by a weighted combination and truncated to k results.
package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemex/mnemex/internal/memory"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

// Fusion weights from spec §4.4 step 4.
const (
	keywordWeight    = 0.35
	semanticWeight   = 0.50
	importanceWeight = 0.15
)

// semanticScoreFloor and defaultRecallLimit are spec §4.4's "score > 0.1"
// semantic filter and an internal cap on how many rows each sub-pipeline
// considers before fusion.
const (
	semanticScoreFloor = 0.1
	defaultRecallLimit = 50
	previewChars       = 200
)

// Embedder is the subset of embedding.Embedder the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine runs hybrid search against a store and vector index.
type Engine struct {
	store    *storage.Store
	vectors  vectorstore.Store
	embedder Embedder
}

// New constructs an Engine. vectors may be nil (brute-force fallback only).
func New(store *storage.Store, vectors vectorstore.Store, embedder Embedder) *Engine {
	return &Engine{store: store, vectors: vectors, embedder: embedder}
}

// Hit is one fused, ranked search result (spec §4.4 step 4).
type Hit struct {
	MemoryID         string
	Content          string
	ContentTruncated bool
	Type             types.MemoryType
	Tags             []string
	Confidence       float64
	Importance       float64
	KeywordScore     float64
	SemanticScore    float64
	Combined         float64
}

// Input parameterizes HybridSearch.
type Input struct {
	ProjectID           string
	Query               string
	K                   int
	ConfidenceThreshold float64
}

// HybridSearch runs spec §4.4's hybridSearch(query, project, k,
// confidenceThreshold): keyword and semantic sub-searches fire
// concurrently, results are fused by weighted sum, and the list is
// truncated to k with a stable tie-break.
func (e *Engine) HybridSearch(ctx context.Context, in Input) ([]Hit, error) {
	if in.K <= 0 {
		in.K = 10
	}
	now := time.Now().UTC()

	var keywordScores, semanticScores map[string]float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scores, err := e.keywordSearch(gctx, in.ProjectID, in.Query, in.ConfidenceThreshold, now)
		if err != nil {
			return err
		}
		keywordScores = scores
		return nil
	})
	g.Go(func() error {
		scores, err := e.semanticSearch(gctx, in.ProjectID, in.Query, in.ConfidenceThreshold, now)
		if err != nil {
			return err
		}
		semanticScores = scores
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ids := make(map[string]struct{}, len(keywordScores)+len(semanticScores))
	for id := range keywordScores {
		ids[id] = struct{}{}
	}
	for id := range semanticScores {
		ids[id] = struct{}{}
	}

	hits := make([]Hit, 0, len(ids))
	for id := range ids {
		m, err := e.store.GetMemory(ctx, id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("search: get memory: %w", err)
		}
		kw := keywordScores[id]
		sem := semanticScores[id]
		combined := keywordWeight*kw + semanticWeight*sem + importanceWeight*m.Importance
		content, truncated := truncate(m.Content, previewChars)
		hits = append(hits, Hit{
			MemoryID:         m.ID,
			Content:          content,
			ContentTruncated: truncated,
			Type:             m.Type,
			Tags:             m.Tags,
			Confidence:       m.Confidence,
			Importance:       m.Importance,
			KeywordScore:     kw,
			SemanticScore:    sem,
			Combined:         combined,
		})
	}

	// Stable by descending combined, then descending confidence, then
	// ascending id (spec §4.4 "Ordering tie-break").
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Combined != hits[j].Combined {
			return hits[i].Combined > hits[j].Combined
		}
		if hits[i].Confidence != hits[j].Confidence {
			return hits[i].Confidence > hits[j].Confidence
		}
		return hits[i].MemoryID < hits[j].MemoryID
	})
	if len(hits) > in.K {
		hits = hits[:in.K]
	}
	return hits, nil
}

func (e *Engine) keywordSearch(ctx context.Context, projectID, query string, confidenceThreshold float64, now time.Time) (map[string]float64, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return map[string]float64{}, nil
	}

	hits, err := e.fetchKeywordCandidates(ctx, projectID, terms)
	if err != nil {
		return nil, fmt.Errorf("search: keyword candidates: %w", err)
	}

	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		m, err := e.store.GetMemory(ctx, h.ID)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		if memory.EffectiveConfidence(m, now) < confidenceThreshold || !memory.IsRetained(m, now) {
			continue
		}
		matched := countMatchedTerms(h.Content, terms)
		if matched == 0 {
			continue
		}
		scores[h.ID] = float64(matched) / float64(len(terms))
	}
	return scores, nil
}

// fetchKeywordCandidates prefers FTS5 BM25 and falls back to an escaped
// LIKE scan when the FTS query errors (spec §4.4 step 2).
func (e *Engine) fetchKeywordCandidates(ctx context.Context, projectID string, terms []string) ([]storage.KeywordHit, error) {
	hits, err := e.store.SearchKeywordFTS(ctx, projectID, buildFTSQuery(terms), defaultRecallLimit)
	if err == nil {
		return hits, nil
	}
	return e.store.SearchKeywordLike(ctx, projectID, terms, defaultRecallLimit)
}

func (e *Engine) semanticSearch(ctx context.Context, projectID, query string, confidenceThreshold float64, now time.Time) (map[string]float64, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		// Best-effort, mirroring the embedder's treatment everywhere else
		// in the system: an outage degrades to keyword-only results
		// rather than failing the whole search.
		return map[string]float64{}, nil
	}

	var raw map[string]float64
	if e.vectors != nil && e.vectors.IsReady() {
		raw, err = e.semanticFromVectorStore(ctx, projectID, vec)
	} else {
		raw, err = e.semanticBruteForce(ctx, projectID, vec)
	}
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(raw))
	for id, score := range raw {
		if score <= semanticScoreFloor {
			continue
		}
		m, err := e.store.GetMemory(ctx, id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		if memory.EffectiveConfidence(m, now) < confidenceThreshold {
			continue
		}
		scores[id] = score
	}
	return scores, nil
}

func (e *Engine) semanticFromVectorStore(ctx context.Context, projectID string, vec []float32) (map[string]float64, error) {
	out := make(map[string]float64)
	projects := []string{projectID}
	if projectID != types.GlobalProject {
		projects = append(projects, types.GlobalProject)
	}
	for _, p := range projects {
		results, err := e.vectors.Search(ctx, vec, defaultRecallLimit, vectorstore.Filter{
			ProjectID:      p,
			ExcludeDeleted: true,
		})
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		for _, r := range results {
			if prev, ok := out[r.ID]; !ok || r.Score > prev {
				out[r.ID] = r.Score
			}
		}
	}
	return out, nil
}

func (e *Engine) semanticBruteForce(ctx context.Context, projectID string, vec []float32) (map[string]float64, error) {
	rows, err := e.store.EmbeddingsForProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("embeddings for project: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.ID] = semanticScore(vec, row.Embedding)
	}
	return out, nil
}

// semanticScore implements spec §4.4's "1 − cosine_distance/2", which for
// L2-normalized vectors (spec §3) reduces to 0.5 + 0.5·dot(a, b).
func semanticScore(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return 0.5 + 0.5*dot
}

var wordRE = regexp.MustCompile(`[a-z0-9']+`)

// tokenize lowercases and splits query into alphanumeric terms.
func tokenize(query string) []string {
	return wordRE.FindAllString(strings.ToLower(query), -1)
}

// buildFTSQuery joins terms into an FTS5 MATCH expression that matches a
// document containing any one of them, so the caller can independently
// score matched-term fraction afterward.
func buildFTSQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// countMatchedTerms counts how many distinct terms occur in content,
// case-insensitively (spec §4.4 step 2's keyword score numerator).
func countMatchedTerms(content string, terms []string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// truncate returns content clipped to max runes plus whether it was
// clipped (spec §4.4 step 4's content_truncated flag).
func truncate(content string, max int) (string, bool) {
	r := []rune(content)
	if len(r) <= max {
		return content, false
	}
	return string(r[:max]), true
}
