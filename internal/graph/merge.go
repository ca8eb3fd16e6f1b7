package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemex/mnemex/internal/types"
)

// MergeResult reports one duplicate-entity merge.
type MergeResult struct {
	SurvivorID string
	MergedIDs  []string
	Name       string
}

// MergeDuplicates finds entities within projectID whose names collide
// once case and surrounding whitespace are normalized, and merges each
// group into a single survivor: observations are deduplicated and
// unioned, incoming entity_relations are rewired to the survivor, and
// the duplicates are deleted (spec §4.9 "entity duplicates... are
// merged: observations are deduplicated and unioned").
//
// The UNIQUE(project_id, name) constraint on entities means exact-name
// duplicates can't exist; this targets the case where normalization
// differs (e.g. "Redis" vs "redis") since every other Service method
// keys on exact-name lookups that treat them as distinct entities.
func (s *Service) MergeDuplicates(ctx context.Context, projectID string) ([]MergeResult, error) {
	entities, err := s.store.SearchEntities(ctx, projectID, "", "")
	if err != nil {
		return nil, fmt.Errorf("graph: search entities: %w", err)
	}

	groups := make(map[string][]*types.Entity)
	for _, e := range entities {
		key := strings.ToLower(strings.TrimSpace(e.Name))
		groups[key] = append(groups[key], e)
	}

	var results []MergeResult
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.Before(group[j].CreatedAt) })
		survivor := group[0]

		var observations []string
		for _, e := range group {
			observations = unionObservations(observations, e.Observations)
		}
		survivor.Observations = observations
		if err := s.store.UpsertEntity(ctx, survivor); err != nil {
			return nil, fmt.Errorf("graph: upsert merged entity: %w", err)
		}

		var merged []string
		for _, dup := range group[1:] {
			if err := s.store.RewireEntityRelations(ctx, dup.ID, survivor.ID); err != nil {
				return nil, fmt.Errorf("graph: rewire entity relations: %w", err)
			}
			if err := s.store.DeleteEntity(ctx, dup.ID); err != nil {
				return nil, fmt.Errorf("graph: delete merged duplicate: %w", err)
			}
			merged = append(merged, dup.ID)
		}
		results = append(results, MergeResult{SurvivorID: survivor.ID, MergedIDs: merged, Name: survivor.Name})
	}
	return results, nil
}
