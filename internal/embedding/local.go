package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// Local is a deterministic, offline fallback Embedder: a hashing-trick
// bag-of-words projection into a fixed dimension. It exists so the system
// is fully operational (store, search, contradiction detection) without
// any network dependency or API key configured, and so tests never need
// network access to exercise the embedding-backed code paths.
//
// This is intentionally not a quality semantic embedder — when an
// embedding API key is configured the engine selects Remote instead (see
// engine.newEmbedder), and Local is the retry-free, network-free default
// otherwise.
type Local struct {
	dim int
}

// NewLocal returns a Local embedder producing dim-dimensional vectors.
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = 256
	}
	return &Local{dim: dim}
}

func (l *Local) Dim() int        { return l.dim }
func (l *Local) Version() string { return "local-hash-v1" }

func (l *Local) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, l.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % l.dim
		if idx < 0 {
			idx += l.dim
		}
		sign := float32(1)
		if h.Sum32()&1 == 1 {
			sign = -1
		}
		v[idx] += sign
	}
	return normalize(v), nil
}

func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
