package embedding_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/embedding"
)

func TestLocalEmbedIsDeterministicAndNormalized(t *testing.T) {
	e := embedding.NewLocal(64)
	a, err := e.Embed(context.Background(), "deploy key rotation policy")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "deploy key rotation policy")
	require.NoError(t, err)
	require.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 0.001)
}

func TestLocalEmbedDiffersForDifferentText(t *testing.T) {
	e := embedding.NewLocal(64)
	a, _ := e.Embed(context.Background(), "the sky is blue")
	b, _ := e.Embed(context.Background(), "rust borrow checker")
	require.NotEqual(t, a, b)
}

func TestLocalEmbedBatchMatchesEmbed(t *testing.T) {
	e := embedding.NewLocal(32)
	texts := []string{"alpha beta", "gamma delta"}
	batch, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		require.Equal(t, single, batch[i])
	}
}

func TestLocalDimAndVersion(t *testing.T) {
	e := embedding.NewLocal(0)
	require.Equal(t, 256, e.Dim())
	require.NotEmpty(t, e.Version())
}
