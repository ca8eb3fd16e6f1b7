package contradiction

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// ScanOpts configures ScanContradictions.
type ScanOpts struct {
	// AutoResolveHighConfidence applies the newer-supersedes-older policy
	// to high-confidence negation conflicts instead of leaving them
	// pending (spec §4.5 "Scan"; spec §9 notes this default is
	// reimplementation-defined — off by default here).
	AutoResolveHighConfidence bool
	// HighConfidenceThreshold gates auto-resolution; defaults to 0.85.
	HighConfidenceThreshold float64
}

// ScanResult summarizes one scan pass.
type ScanResult struct {
	EdgesWalked    int
	ResolutionsNew int
	AutoResolved   int
}

// ScanContradictions walks every live potential_contradiction edge in
// projectID, creates a pending resolution row for any that lacks one, and
// optionally auto-resolves high-confidence negation conflicts (spec §4.5
// "Scan").
func (e *Engine) ScanContradictions(ctx context.Context, projectID string, opts ScanOpts) (ScanResult, error) {
	if opts.HighConfidenceThreshold <= 0 {
		opts.HighConfidenceThreshold = 0.85
	}
	now := time.Now().UTC()

	edges, err := e.store.EdgesByRelation(ctx, projectID, types.RelationPotentialContradiction, &now)
	if err != nil {
		return ScanResult{}, fmt.Errorf("contradiction: edges by relation: %w", err)
	}

	var result ScanResult
	result.EdgesWalked = len(edges)

	for _, edge := range edges {
		existing, err := e.store.ContradictionByEdge(ctx, edge.ID)
		if err == nil && existing != nil {
			if opts.AutoResolveHighConfidence && existing.ResolutionType == types.ResolutionPending {
				if e.maybeAutoResolve(ctx, existing, opts) {
					result.AutoResolved++
				}
			}
			continue
		}

		res := &types.ContradictionResolution{
			ProjectID:      projectID,
			EdgeID:         edge.ID,
			MemoryAID:      edge.FromID,
			MemoryBID:      edge.ToID,
			Type:           types.ContradictionSemantic,
			Confidence:     edge.Confidence,
			ResolutionType: types.ResolutionPending,
			CreatedAt:      now,
		}
		if err := e.store.CreateContradictionResolution(ctx, res); err != nil {
			return result, fmt.Errorf("contradiction: create resolution: %w", err)
		}
		result.ResolutionsNew++

		if opts.AutoResolveHighConfidence && e.maybeAutoResolve(ctx, res, opts) {
			result.AutoResolved++
		}
	}

	return result, nil
}

// maybeAutoResolve applies newer-supersedes-older to high-confidence
// negation conflicts; returns true if it resolved the row.
func (e *Engine) maybeAutoResolve(ctx context.Context, res *types.ContradictionResolution, opts ScanOpts) bool {
	if res.Type != types.ContradictionNegation || res.Confidence < opts.HighConfidenceThreshold {
		return false
	}
	a, err := e.store.GetMemory(ctx, res.MemoryAID)
	if err != nil {
		return false
	}
	b, err := e.store.GetMemory(ctx, res.MemoryBID)
	if err != nil {
		return false
	}
	resolution := types.ResolutionKeepSecond
	if a.CreatedAt.After(b.CreatedAt) {
		resolution = types.ResolutionKeepFirst
	}
	if _, err := e.Resolve(ctx, res.ID, resolution, "auto-resolved: newer supersedes older", ""); err != nil {
		return false
	}
	return true
}
