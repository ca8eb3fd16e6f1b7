package contradiction

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

// Resolve applies a resolution to a pending contradiction (spec §4.5
// "Resolution"). mergedContent is only consulted when resolutionType is
// merge.
func (e *Engine) Resolve(ctx context.Context, resolutionID string, resolutionType types.ResolutionType, note, mergedContent string) (*types.ContradictionResolution, error) {
	res, err := e.store.GetContradictionResolution(ctx, resolutionID)
	if err != nil {
		return nil, fmt.Errorf("contradiction: get resolution: %w", err)
	}
	now := time.Now().UTC()

	var chosen *string
	switch resolutionType {
	case types.ResolutionKeepFirst:
		if err := e.store.DeleteMemory(ctx, res.MemoryBID, now); err != nil && err != storage.ErrNotFound {
			return nil, fmt.Errorf("contradiction: soft-delete memory_b: %w", err)
		}
		chosen = &res.MemoryAID

	case types.ResolutionKeepSecond:
		if err := e.store.DeleteMemory(ctx, res.MemoryAID, now); err != nil && err != storage.ErrNotFound {
			return nil, fmt.Errorf("contradiction: soft-delete memory_a: %w", err)
		}
		chosen = &res.MemoryBID

	case types.ResolutionKeepBoth:
		// No memory mutation; both sides stand.

	case types.ResolutionMerge:
		newID, err := e.mergeMemories(ctx, res, mergedContent, now)
		if err != nil {
			return nil, err
		}
		chosen = &newID

	case types.ResolutionDeleteBoth:
		if err := e.store.DeleteMemory(ctx, res.MemoryAID, now); err != nil && err != storage.ErrNotFound {
			return nil, fmt.Errorf("contradiction: soft-delete memory_a: %w", err)
		}
		if err := e.store.DeleteMemory(ctx, res.MemoryBID, now); err != nil && err != storage.ErrNotFound {
			return nil, fmt.Errorf("contradiction: soft-delete memory_b: %w", err)
		}

	default:
		return nil, fmt.Errorf("contradiction: unknown resolution type %q", resolutionType)
	}

	if err := e.store.InvalidateEdge(ctx, res.EdgeID, now); err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("contradiction: invalidate edge: %w", err)
	}
	if err := e.store.ResolveContradiction(ctx, resolutionID, resolutionType, chosen, note, now); err != nil {
		return nil, fmt.Errorf("contradiction: resolve: %w", err)
	}

	res.ResolutionType = resolutionType
	res.ChosenMemoryID = chosen
	res.Note = note
	res.ResolvedAt = &now
	return res, nil
}

// mergeMemories creates a new memory with mergedContent and soft-deletes
// both originals (spec §4.5 "merge"). The new row inherits the union of
// tags and the higher of the two importances; confidence is averaged.
func (e *Engine) mergeMemories(ctx context.Context, res *types.ContradictionResolution, mergedContent string, now time.Time) (string, error) {
	a, err := e.store.GetMemory(ctx, res.MemoryAID)
	if err != nil {
		return "", fmt.Errorf("contradiction: get memory_a: %w", err)
	}
	b, err := e.store.GetMemory(ctx, res.MemoryBID)
	if err != nil {
		return "", fmt.Errorf("contradiction: get memory_b: %w", err)
	}
	if mergedContent == "" {
		mergedContent = a.Content + "\n\n" + b.Content
	}

	merged := &types.Memory{
		ProjectID:   a.ProjectID,
		Content:     mergedContent,
		Type:        a.Type,
		Tags:        types.NormalizeTags(append(append([]string{}, a.Tags...), b.Tags...)),
		Importance:  maxFloat(a.Importance, b.Importance),
		Strength:    maxFloat(a.Strength, b.Strength),
		Confidence:  (a.Confidence + b.Confidence) / 2,
		SourceCount: a.SourceCount + b.SourceCount,
	}
	if err := e.store.CreateMemory(ctx, merged); err != nil {
		return "", fmt.Errorf("contradiction: create merged memory: %w", err)
	}
	if err := e.store.DeleteMemory(ctx, a.ID, now); err != nil && err != storage.ErrNotFound {
		return "", fmt.Errorf("contradiction: soft-delete memory_a: %w", err)
	}
	if err := e.store.DeleteMemory(ctx, b.ID, now); err != nil && err != storage.ErrNotFound {
		return "", fmt.Errorf("contradiction: soft-delete memory_b: %w", err)
	}
	return merged.ID, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
