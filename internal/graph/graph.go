// Package graph implements the entity/edge graph of spec §4.9: entity
// CRUD with observation accumulation, typed entity-to-entity links, a
// type-hierarchy transitive closure search, and duplicate-entity merging.
package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

// maxDescendants bounds the type-hierarchy closure walked by
// SearchByTypeHierarchy (spec §4.9, "capped at 100 descendants").
const maxDescendants = 100

// Service implements the entity/edge graph operations against a store.
type Service struct {
	store *storage.Store
}

// New constructs a Service.
func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// Create inserts a new entity, or if (projectID, name) already exists,
// merges observation into the existing one (spec §4.9: entities are
// unique by name within a project and accumulate observations).
func (s *Service) Create(ctx context.Context, projectID, name string, entityType types.EntityType, observation string) (*types.Entity, error) {
	return s.Observe(ctx, projectID, name, entityType, observation)
}

// Observe appends observation to the named entity, creating it first if
// it doesn't exist yet. Observations are deduplicated on merge.
func (s *Service) Observe(ctx context.Context, projectID, name string, entityType types.EntityType, observation string) (*types.Entity, error) {
	existing, err := s.store.GetEntityByName(ctx, projectID, name)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("graph: get entity by name: %w", err)
	}

	e := existing
	if e == nil {
		e = &types.Entity{ProjectID: projectID, Name: name, Type: entityType}
	} else if entityType != "" {
		e.Type = entityType
	}
	if observation != "" {
		e.Observations = unionObservations(e.Observations, []string{observation})
	}

	if err := s.store.UpsertEntity(ctx, e); err != nil {
		return nil, fmt.Errorf("graph: upsert entity: %w", err)
	}
	return e, nil
}

// Get fetches an entity by (projectID, name).
func (s *Service) Get(ctx context.Context, projectID, name string) (*types.Entity, error) {
	e, err := s.store.GetEntityByName(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Search lists entities in projectID matching q (substring on name),
// optionally restricted to entityType.
func (s *Service) Search(ctx context.Context, projectID, q string, entityType types.EntityType) ([]*types.Entity, error) {
	return s.store.SearchEntities(ctx, projectID, q, entityType)
}

// Delete removes an entity by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteEntity(ctx, id)
}

// Link creates a typed entity_relations row from one entity to another
// (spec §4.9's `link(from, relationType, to)`).
func (s *Service) Link(ctx context.Context, projectID, fromEntityID, relationType, toEntityID string) error {
	rel := &types.EntityRelation{
		ProjectID:    projectID,
		FromEntity:   fromEntityID,
		ToEntity:     toEntityID,
		RelationType: relationType,
	}
	if err := s.store.CreateEntityRelation(ctx, rel); err != nil {
		return fmt.Errorf("graph: create entity relation: %w", err)
	}
	return nil
}

// SearchByTypeHierarchy returns entities of rootType or any of its
// registered descendant types (transitively), optionally filtered by a
// substring match on name. The closure is reflexive: rootType itself is
// always included alongside its descendants.
func (s *Service) SearchByTypeHierarchy(ctx context.Context, projectID string, rootType types.EntityType, q string) ([]*types.Entity, error) {
	nodes, err := s.store.EntityTypeHierarchy(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: entity type hierarchy: %w", err)
	}

	children := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if n.ParentType != nil {
			children[*n.ParentType] = append(children[*n.ParentType], n.Name)
		}
	}

	types_ := descendantClosure(string(rootType), children, maxDescendants)

	seen := make(map[string]bool, len(types_))
	var out []*types.Entity
	for _, t := range types_ {
		entities, err := s.store.SearchEntities(ctx, projectID, q, types.EntityType(t))
		if err != nil {
			return nil, fmt.Errorf("graph: search entities for type %q: %w", t, err)
		}
		for _, e := range entities {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// descendantClosure breadth-first walks children starting at root,
// returning root plus every descendant discovered, capped at limit
// entries total.
func descendantClosure(root string, children map[string][]string, limit int) []string {
	out := []string{root}
	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 && len(out) < limit {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			queue = append(queue, child)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// unionObservations merges b into a, deduplicating by exact string match
// while preserving first-seen order (spec §4.9 "observations are
// deduplicated and unioned").
func unionObservations(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, o := range a {
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	for _, o := range b {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}
