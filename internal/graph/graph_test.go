package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/graph"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestObserveCreatesThenAccumulates(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	g := graph.New(store)

	e, err := g.Observe(ctx, "demo", "Redis", types.EntityTechnology, "used for caching")
	require.NoError(t, err)
	require.Equal(t, []string{"used for caching"}, e.Observations)

	e2, err := g.Observe(ctx, "demo", "Redis", "", "also used for pub/sub")
	require.NoError(t, err)
	require.Equal(t, e.ID, e2.ID)
	require.ElementsMatch(t, []string{"used for caching", "also used for pub/sub"}, e2.Observations)

	// Re-observing the same fact doesn't duplicate it.
	e3, err := g.Observe(ctx, "demo", "Redis", "", "also used for pub/sub")
	require.NoError(t, err)
	require.Len(t, e3.Observations, 2)
}

func TestLinkCreatesEntityRelation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	g := graph.New(store)

	a, err := g.Create(ctx, "demo", "Alice", types.EntityPerson, "")
	require.NoError(t, err)
	b, err := g.Create(ctx, "demo", "Acme Corp", types.EntityOrganization, "")
	require.NoError(t, err)

	require.NoError(t, g.Link(ctx, "demo", a.ID, "works_at", b.ID))
}

func TestSearchByTypeHierarchyIncludesDescendants(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	g := graph.New(store)

	require.NoError(t, store.RegisterEntityType(ctx, types.EntityTypeNode{
		Name: "database", ParentType: strPtr("technology"), Description: "a database system",
	}))

	_, err := g.Create(ctx, "demo", "PostgreSQL", types.EntityType("database"), "")
	require.NoError(t, err)
	_, err = g.Create(ctx, "demo", "Go", types.EntityTechnology, "")
	require.NoError(t, err)

	results, err := g.SearchByTypeHierarchy(ctx, "demo", types.EntityTechnology, "")
	require.NoError(t, err)
	names := make([]string, 0, len(results))
	for _, e := range results {
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{"PostgreSQL", "Go"}, names)
}

func TestMergeDuplicatesUnionsObservationsAndRewiresRelations(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	g := graph.New(store)

	a, err := g.Create(ctx, "demo", "redis", types.EntityTechnology, "in-memory store")
	require.NoError(t, err)
	other, err := g.Create(ctx, "demo", "Other", types.EntityTechnology, "")
	require.NoError(t, err)
	require.NoError(t, g.Link(ctx, "demo", other.ID, "depends_on", a.ID))

	// Force a case-variant duplicate directly, bypassing the unique
	// (project_id, name) constraint's exact-match scope.
	dup := &types.Entity{ProjectID: "demo", Name: "Redis", Type: types.EntityTechnology, Observations: []string{"supports pub/sub"}}
	require.NoError(t, store.UpsertEntity(ctx, dup))
	require.NoError(t, g.Link(ctx, "demo", other.ID, "also_depends_on", dup.ID))

	results, err := g.MergeDuplicates(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results[0].MergedIDs, dup.ID)

	survivor, err := store.GetEntity(ctx, results[0].SurvivorID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"in-memory store", "supports pub/sub"}, survivor.Observations)

	_, err = store.GetEntity(ctx, dup.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	rels, err := store.EntityRelationsTo(ctx, survivor.ID)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	for _, r := range rels {
		require.Equal(t, other.ID, r.FromEntity)
	}
}

func strPtr(s string) *string { return &s }
