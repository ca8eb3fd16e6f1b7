package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

type edgeArgs struct {
	Action     string         `json:"action"`
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	FromID     string         `json:"from_id"`
	ToID       string         `json:"to_id"`
	Relation   string         `json:"relation_type"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	AsOf       *time.Time     `json:"as_of,omitempty"`
}

// handleEdge fans out edge {create,query,invalidate} per spec §3/§4.12.
func handleEdge(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a edgeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "create":
		e := &types.Edge{
			ID:         types.NewID(),
			ProjectID:  a.ProjectID,
			FromID:     a.FromID,
			ToID:       a.ToID,
			Relation:   a.Relation,
			ValidFrom:  time.Now().UTC(),
			Confidence: a.Confidence,
			Metadata:   a.Metadata,
		}
		if err := impl.Store.CreateEdge(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	case "query":
		return impl.Store.EdgesByRelation(ctx, a.ProjectID, a.Relation, a.AsOf)
	case "invalidate":
		asOf := time.Now().UTC()
		if a.AsOf != nil {
			asOf = *a.AsOf
		}
		if err := impl.Store.InvalidateEdge(ctx, a.ID, asOf); err != nil {
			return nil, err
		}
		return map[string]any{"id": a.ID, "invalidated": true}, nil
	default:
		return unknownAction("edge", a.Action)
	}
}
