package dispatch

import (
	"context"
	"encoding/json"
)

type projectArgs struct {
	Action    string `json:"action"`
	ProjectID string `json:"project_id"`
}

// handleProject fans out project {list,set} per spec §6/§4.12. "set"
// overrides the process-detected project id for callers that omit
// project_id on subsequent calls.
func handleProject(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a projectArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "list":
		return impl.Store.DistinctProjects(ctx)
	case "set":
		impl.SetActiveProject(a.ProjectID)
		return map[string]any{"project_id": a.ProjectID, "set": true}, nil
	default:
		return unknownAction("project", a.Action)
	}
}
