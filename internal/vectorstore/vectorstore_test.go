package vectorstore_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/vectorstore"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func unit(i int, dim int) []float32 {
	v := make([]float32, dim)
	v[i%dim] = 1
	return v
}

func TestEmbeddedUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := vectorstore.NewEmbedded(ctx, db, 4)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "11111111111111111111111111111111", unit(0, 4), vectorstore.Payload{ProjectID: "p"}))
	require.NoError(t, store.Upsert(ctx, "22222222222222222222222222222222", unit(1, 4), vectorstore.Payload{ProjectID: "p"}))

	results, err := store.Search(ctx, unit(0, 4), 5, vectorstore.Filter{ProjectID: "p"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "11111111111111111111111111111111", results[0].ID)
	require.InDelta(t, 1.0, results[0].Score, 0.01)
}

func TestEmbeddedDeleteAndCount(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store, err := vectorstore.NewEmbedded(ctx, db, 3)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "a", unit(0, 3), vectorstore.Payload{ProjectID: "p"}))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, "a"))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// fakeStore is a minimal in-memory Store used to test Manager's fallback
// decision without spinning up a real sidecar process.
type fakeStore struct {
	backend string
	ready   bool
}

func (f *fakeStore) Backend() string { return f.backend }
func (f *fakeStore) IsReady() bool   { return f.ready }
func (f *fakeStore) Close() error    { return nil }
func (f *fakeStore) Upsert(ctx context.Context, id string, vector []float32, payload vectorstore.Payload) error {
	return nil
}
func (f *fakeStore) Search(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	return []vectorstore.Result{{ID: f.backend}}, nil
}
func (f *fakeStore) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeStore) Count(ctx context.Context) (int, error)      { return 0, nil }

func TestManagerFallsBackWhenPrimaryNotReady(t *testing.T) {
	primary := &fakeStore{backend: vectorstore.BackendSidecar, ready: false}
	embedded := &fakeStore{backend: vectorstore.BackendEmbedded, ready: true}
	m := vectorstore.NewManager(primary, embedded, nil)

	require.Equal(t, vectorstore.BackendEmbedded, m.Backend())

	results, err := m.Search(context.Background(), nil, 1, vectorstore.Filter{})
	require.NoError(t, err)
	require.Equal(t, vectorstore.BackendEmbedded, results[0].ID)
}

func TestManagerPrefersReadyPrimary(t *testing.T) {
	primary := &fakeStore{backend: vectorstore.BackendSidecar, ready: true}
	embedded := &fakeStore{backend: vectorstore.BackendEmbedded, ready: true}
	m := vectorstore.NewManager(primary, embedded, nil)

	require.Equal(t, vectorstore.BackendSidecar, m.Backend())
}

func TestManagerWithNoPrimaryUsesEmbedded(t *testing.T) {
	embedded := &fakeStore{backend: vectorstore.BackendEmbedded, ready: true}
	m := vectorstore.NewManager(nil, embedded, nil)

	require.Equal(t, vectorstore.BackendEmbedded, m.Backend())
	require.True(t, m.IsReady())
}
