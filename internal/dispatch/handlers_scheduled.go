package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mnemex/mnemex/internal/scheduler"
	"github.com/mnemex/mnemex/internal/types"
)

type scheduledArgs struct {
	Action    string  `json:"action"`
	ProjectID string  `json:"project_id"`
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Expr      string  `json:"schedule_expr"`
	MemoryID  *string `json:"memory_id,omitempty"`
	Status    string  `json:"status"`
}

// handleScheduled fans out scheduled {schedule,list,check,complete,cancel}
// per spec §4.10/§4.12.
func handleScheduled(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a scheduledArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "schedule":
		task, err := impl.Scheduler.Schedule(ctx, a.ProjectID, a.Title, a.Expr, a.MemoryID)
		if err != nil {
			var perr *scheduler.ParseError
			if errors.As(err, &perr) {
				return errorResult{Error: perr.Error(), Hint: perr.Hint}, nil
			}
			return nil, err
		}
		return task, nil
	case "list":
		return impl.Scheduler.List(ctx, a.ProjectID, types.TaskStatus(a.Status))
	case "check":
		return impl.Scheduler.Check(ctx, a.ProjectID)
	case "complete":
		if err := impl.Scheduler.Complete(ctx, a.ID); err != nil {
			return nil, err
		}
		return map[string]any{"id": a.ID, "completed": true}, nil
	case "cancel":
		if err := impl.Scheduler.Cancel(ctx, a.ID); err != nil {
			return nil, err
		}
		return map[string]any{"id": a.ID, "cancelled": true}, nil
	default:
		return unknownAction("scheduled", a.Action)
	}
}
