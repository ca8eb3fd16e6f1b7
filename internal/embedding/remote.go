package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

// Remote calls an OpenAI-compatible embeddings endpoint. The engine
// selects it when an API key is configured and uses Local otherwise; the
// embedding worker embeds still-pending rows with whichever of the two
// the engine selected.
type Remote struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// RemoteConfig configures the OpenAI-compatible client.
type RemoteConfig struct {
	APIKey  string
	BaseURL string // empty uses the default OpenAI API base
	Model   string
	Dim     int
}

// NewRemote constructs a Remote embedder from cfg.
func NewRemote(cfg RemoteConfig) *Remote {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}
	dim := cfg.Dim
	if dim <= 0 {
		dim = 1536
	}
	return &Remote{client: openai.NewClientWithConfig(clientCfg), model: model, dim: dim}
}

func (r *Remote) Dim() int        { return r.dim }
func (r *Remote) Version() string { return string(r.model) }

func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openai.EmbeddingResponse
	op := func() error {
		var err error
		resp, err = r.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: r.model,
		})
		if err != nil {
			return err
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrUnavailable, len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = normalize(d.Embedding)
	}
	return out, nil
}

// backoffDeadline is the embedding worker's per-row timeout around an
// Embed call, so it also bounds a Remote EmbedBatch's whole backoff run.
const backoffDeadline = 30 * time.Second
