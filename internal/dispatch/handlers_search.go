package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mnemex/mnemex/internal/search"
)

type searchArgs struct {
	ProjectID           string  `json:"project_id"`
	Query               string  `json:"query"`
	K                   int     `json:"k"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

func handleSearch(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a searchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return impl.Search.HybridSearch(ctx, search.Input{
		ProjectID:           a.ProjectID,
		Query:               a.Query,
		K:                   a.K,
		ConfidenceThreshold: a.ConfidenceThreshold,
	})
}
