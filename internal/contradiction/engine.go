// Package contradiction implements the candidate-recall, lexical-screen,
// and resolution pipeline of spec §4.5: semantic candidate recall narrows
// the field, lexical screens classify the pair, an optional NLI pass fuses
// in a model score, and confirmed conflicts become pending resolutions a
// caller later resolves.
package contradiction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mnemex/mnemex/internal/nli"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

// similarityThreshold is τ_sim from spec §4.5 step 1.
const similarityThreshold = 0.65

// maxCandidates bounds how many semantically-similar memories are screened
// per detection call.
const maxCandidates = 20

// edgeThreshold is the confidence above which a screened pair becomes a
// potential_contradiction edge and pending resolution (spec §4.5 "Effect
// on store").
const edgeThreshold = 0.5

// confidenceCeiling is the damping ceiling from spec §4.5 step 4.
const confidenceCeiling = 0.95

// Embedder is the subset of embedding.Embedder the engine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine runs contradiction detection and resolution against a store and
// vector index.
type Engine struct {
	store    *storage.Store
	vectors  vectorstore.Store
	embedder Embedder
	nli      nli.Classifier
}

// New constructs an Engine. classifier may be nli.Noop{} when no entailment
// model is configured — the pipeline degrades to lexical screens only.
func New(store *storage.Store, vectors vectorstore.Store, embedder Embedder, classifier nli.Classifier) *Engine {
	if classifier == nil {
		classifier = nli.Noop{}
	}
	return &Engine{store: store, vectors: vectors, embedder: embedder, nli: classifier}
}

type candidate struct {
	id         string
	similarity float64
}

// recallCandidates returns up to maxCandidates memories in projectID ∪
// global whose embedding similarity to queryVector is ≥ similarityThreshold
// (spec §4.5 step 1), preferring the vector store when ready and falling
// back to brute-force in-SQL cosine otherwise.
func (e *Engine) recallCandidates(ctx context.Context, projectID string, queryVector []float32) ([]candidate, error) {
	if e.vectors != nil && e.vectors.IsReady() {
		return e.recallFromVectorStore(ctx, projectID, queryVector)
	}
	return e.recallBruteForce(ctx, projectID, queryVector)
}

func (e *Engine) recallFromVectorStore(ctx context.Context, projectID string, queryVector []float32) ([]candidate, error) {
	seen := make(map[string]float64)
	projects := []string{projectID}
	if projectID != types.GlobalProject {
		projects = append(projects, types.GlobalProject)
	}
	for _, p := range projects {
		results, err := e.vectors.Search(ctx, queryVector, maxCandidates, vectorstore.Filter{
			ProjectID:      p,
			ExcludeDeleted: true,
		})
		if err != nil {
			return nil, fmt.Errorf("contradiction: vector search: %w", err)
		}
		for _, r := range results {
			if r.Score < similarityThreshold {
				continue
			}
			if prev, ok := seen[r.ID]; !ok || r.Score > prev {
				seen[r.ID] = r.Score
			}
		}
	}
	return topCandidates(seen), nil
}

func (e *Engine) recallBruteForce(ctx context.Context, projectID string, queryVector []float32) ([]candidate, error) {
	rows, err := e.store.EmbeddingsForProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("contradiction: embeddings for project: %w", err)
	}
	seen := make(map[string]float64, len(rows))
	for _, row := range rows {
		// Rescale the raw cosine dot product onto the same [0,1] scale the
		// vector store's Score reports (search.semanticScore), so
		// similarityThreshold means the same thing on both recall paths.
		sim := 0.5 + 0.5*cosineSimilarity(queryVector, row.Embedding)
		if sim < similarityThreshold {
			continue
		}
		seen[row.ID] = sim
	}
	return topCandidates(seen), nil
}

func topCandidates(seen map[string]float64) []candidate {
	out := make([]candidate, 0, len(seen))
	for id, sim := range seen {
		out = append(out, candidate{id: id, similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].similarity != out[j].similarity {
			return out[i].similarity > out[j].similarity
		}
		return out[i].id < out[j].id
	})
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

// cosineSimilarity assumes both vectors are L2-normalized (spec §3), so
// cosine similarity reduces to a dot product.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Detect runs the full pipeline of spec §4.5 for content in projectID,
// excluding excludeID (the memory being updated, if any). queryVector is
// the already-computed embedding of content; if nil, Detect embeds it.
func (e *Engine) Detect(ctx context.Context, projectID, content, excludeID string, queryVector []float32) ([]types.ContradictionCandidate, error) {
	if queryVector == nil {
		v, err := e.embedder.Embed(ctx, content)
		if err != nil {
			// Best-effort: candidate recall needs an embedding, but a
			// temporarily unavailable embedder shouldn't fail the store
			// (spec §4.3 treats embedding as best-effort everywhere else).
			return nil, nil
		}
		queryVector = v
	}

	candidates, err := e.recallCandidates(ctx, projectID, queryVector)
	if err != nil {
		return nil, err
	}

	out := make([]types.ContradictionCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.id == excludeID {
			continue
		}
		other, err := e.store.GetMemory(ctx, c.id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}

		hit, found := runLexicalScreens(other.Content, content)
		nliScore := 0.0
		if e.nli.Available() {
			if score, err := e.nli.ContradictionScore(ctx, other.Content, content); err == nil {
				nliScore = score
			}
		}

		var typ types.ContradictionType
		var conf float64
		var explanation string
		switch {
		case found && nliScore > hit.confidence:
			// NLI fusion by max (spec §4.5 step 3).
			typ, conf, explanation = types.ContradictionSemantic, nliScore, "entailment model scores this pair as contradictory"
		case found:
			typ, conf, explanation = hit.typ, hit.confidence, hit.explanation
		case nliScore >= edgeThreshold:
			typ, conf, explanation = types.ContradictionSemantic, nliScore, "entailment model scores this pair as contradictory"
		default:
			continue
		}

		// Damp by semantic similarity, ceiling 0.95 (spec §4.5 step 4).
		conf = types.Clamp(conf*(0.5+0.5*c.similarity), 0, confidenceCeiling)

		out = append(out, types.ContradictionCandidate{
			MemoryID:        c.id,
			Type:            typ,
			Similarity:      c.similarity,
			Confidence:      conf,
			Explanation:     explanation,
			SuggestedAction: suggestAction(typ, conf),
			Preview:         preview(other.Content),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].MemoryID < out[j].MemoryID
	})
	return out, nil
}

func suggestAction(typ types.ContradictionType, confidence float64) types.SuggestedAction {
	switch {
	case typ == types.ContradictionNegation && confidence >= 0.75:
		return types.ActionReplace
	case typ == types.ContradictionFactual && confidence >= 0.75:
		return types.ActionReplace
	case confidence < 0.4:
		return types.ActionKeepBoth
	default:
		return types.ActionFlag
	}
}

func preview(content string) string {
	const max = 100
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max]) + "..."
}

// PersistContradictions records each candidate above edgeThreshold as a
// potential_contradiction edge plus a pending contradiction_resolutions
// row (spec §4.5 "Effect on store"). Called by internal/memory's Store
// inside the write-lock section, alongside the memory insert itself.
func (e *Engine) PersistContradictions(ctx context.Context, projectID, memoryID string, candidates []types.ContradictionCandidate) error {
	now := time.Now().UTC()
	for _, c := range candidates {
		if c.Confidence < edgeThreshold {
			continue
		}
		edge := &types.Edge{
			ProjectID:  projectID,
			FromID:     memoryID,
			ToID:       c.MemoryID,
			Relation:   types.RelationPotentialContradiction,
			ValidFrom:  now,
			Confidence: c.Confidence,
		}
		if err := e.store.CreateEdge(ctx, edge); err != nil {
			return fmt.Errorf("contradiction: create edge: %w", err)
		}
		res := &types.ContradictionResolution{
			ProjectID:      projectID,
			EdgeID:         edge.ID,
			MemoryAID:      memoryID,
			MemoryBID:      c.MemoryID,
			Type:           c.Type,
			Confidence:     c.Confidence,
			ResolutionType: types.ResolutionPending,
			CreatedAt:      now,
		}
		if err := e.store.CreateContradictionResolution(ctx, res); err != nil {
			return fmt.Errorf("contradiction: create resolution: %w", err)
		}
	}
	return nil
}
