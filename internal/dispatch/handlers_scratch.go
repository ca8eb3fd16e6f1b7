package dispatch

import (
	"context"
	"encoding/json"
	"time"
)

type scratchArgs struct {
	Action    string `json:"action"`
	ProjectID string `json:"project_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	TTLSecond int    `json:"ttl_seconds"`
}

// handleScratch fans out scratch {set,get,delete,list,clear} per spec §4.12.
func handleScratch(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a scratchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "set":
		ttl := time.Duration(a.TTLSecond) * time.Second
		if err := impl.Scratchpad.Set(ctx, a.ProjectID, a.Key, a.Value, ttl); err != nil {
			return nil, err
		}
		return map[string]any{"key": a.Key, "set": true}, nil
	case "get":
		return impl.Scratchpad.Get(ctx, a.ProjectID, a.Key)
	case "delete":
		if err := impl.Scratchpad.Delete(ctx, a.ProjectID, a.Key); err != nil {
			return nil, err
		}
		return map[string]any{"key": a.Key, "deleted": true}, nil
	case "list":
		return impl.Scratchpad.List(ctx, a.ProjectID)
	case "clear":
		n, err := impl.Scratchpad.Clear(ctx, a.ProjectID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cleared": n}, nil
	default:
		return unknownAction("scratch", a.Action)
	}
}
