// Package embedding provides the Embedder contract used by memory CRUD,
// hybrid search, and contradiction candidate recall, plus a periodic
// worker that backfills embeddings for rows a best-effort Store call
// couldn't embed synchronously (spec §4.6).
package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrUnavailable is returned when the embedding backend cannot currently
// serve requests (remote API down, rate-limited, etc). Callers treat a
// store whose embedding failed this way as a best-effort miss: the row is
// still inserted with a NULL embedding and the worker retries later.
var ErrUnavailable = errors.New("embedding: unavailable")

// Embedder turns text into a fixed-dimension, L2-normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	Version() string
}

// normalize L2-normalizes v in place and returns it, matching the data
// model's invariant that stored embeddings are L2-normalized (spec §3).
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range v {
		v[i] *= norm
	}
	return v
}
