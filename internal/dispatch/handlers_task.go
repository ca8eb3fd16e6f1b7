package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

type taskArgs struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	TotalSteps  *int   `json:"total_steps,omitempty"`
	Step        int    `json:"step"`
	StepDesc    string `json:"step_description"`
	WorkingFile string `json:"working_file"`
}

// handleTask fans out task {set,update,clear,get} — the §4.8 current-task
// progress snapshot kept in the session's scratchpad row, distinct from
// the §4.10 scheduled-task tool family.
func handleTask(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a taskArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "set":
		task := &types.CurrentTask{
			Description: a.Description,
			TotalSteps:  a.TotalSteps,
			StartedAt:   time.Now().UTC(),
		}
		if err := impl.Session.SetCurrentTask(ctx, task); err != nil {
			return nil, err
		}
		return task, nil
	case "update":
		task, err := impl.Session.CurrentTask(ctx)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return unknownAction("task", "update (no current task set)")
		}
		task.CurrentStep = a.Step
		task.Steps = append(task.Steps, types.TaskStep{Step: a.Step, Description: a.StepDesc, Timestamp: time.Now().UTC()})
		if a.WorkingFile != "" {
			task.WorkingFiles = append(task.WorkingFiles, a.WorkingFile)
		}
		task.TrimSteps(5)
		if err := impl.Session.SetCurrentTask(ctx, task); err != nil {
			return nil, err
		}
		return task, nil
	case "clear":
		if err := impl.Store.DeleteScratchpad(ctx, impl.Session.ProjectID(), types.KeyCurrentTask); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true}, nil
	case "get":
		return impl.Session.CurrentTask(ctx)
	default:
		return unknownAction("task", a.Action)
	}
}
