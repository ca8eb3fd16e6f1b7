package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mnemex/mnemex/internal/types"
)

type entityArgs struct {
	Action       string `json:"action"`
	ProjectID    string `json:"project_id"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Observation  string `json:"observation"`
	Query        string `json:"query"`
	FromEntityID string `json:"from_entity_id"`
	ToEntityID   string `json:"to_entity_id"`
	RelationType string `json:"relation_type"`
}

// handleEntity fans out entity {create,get,search,observe,delete,link,types}
// per spec §4.9/§4.12.
func handleEntity(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a entityArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "create":
		return impl.Graph.Create(ctx, a.ProjectID, a.Name, types.EntityType(a.Type), a.Observation)
	case "get":
		return impl.Graph.Get(ctx, a.ProjectID, a.Name)
	case "search":
		return impl.Graph.Search(ctx, a.ProjectID, a.Query, types.EntityType(a.Type))
	case "observe":
		return impl.Graph.Observe(ctx, a.ProjectID, a.Name, types.EntityType(a.Type), a.Observation)
	case "delete":
		if err := impl.Graph.Delete(ctx, a.ID); err != nil {
			return nil, err
		}
		return map[string]any{"id": a.ID, "deleted": true}, nil
	case "link":
		if err := impl.Graph.Link(ctx, a.ProjectID, a.FromEntityID, a.RelationType, a.ToEntityID); err != nil {
			return nil, err
		}
		return map[string]any{"linked": true}, nil
	case "types":
		return impl.Store.EntityTypeHierarchy(ctx)
	default:
		return unknownAction("entity", a.Action)
	}
}
