// Package vectorstore is the pluggable ANN backend behind hybrid search
// and contradiction candidate recall (spec §4.2). Two backends implement
// the same Store contract: an embedded sqlite-vec virtual table, and a
// sidecar ANN service reached over loopback. The engine prefers the
// sidecar when configured and transparently falls back to the embedded
// backend if it fails to start or stops responding.
package vectorstore

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Upsert/Search/Delete when the backend is
// not currently ready (e.g. the sidecar hasn't finished starting).
var ErrUnavailable = errors.New("vectorstore: unavailable")

// Payload is the metadata stored alongside a vector, used for server-side
// filtering without a join back to SQL.
type Payload struct {
	ProjectID string
	Deleted   bool
}

// Filter restricts Search results by payload fields.
type Filter struct {
	ProjectID      string
	ExcludeDeleted bool
	ExcludeIDs     []string
}

// Result is one ranked hit, score in [0,1], higher is more similar.
type Result struct {
	ID    string
	Score float64
}

// Store is the capability set every backend variant implements (spec §4.2).
type Store interface {
	Upsert(ctx context.Context, id string, vector []float32, payload Payload) error
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	IsReady() bool
	Backend() string
	Close() error
}

// Backend discriminants, per spec §9 ("small backend: string discriminant").
const (
	BackendEmbedded = "embedded"
	BackendSidecar  = "sidecar"
)
