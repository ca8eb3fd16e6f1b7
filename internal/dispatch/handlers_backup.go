package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mnemex/mnemex/internal/backup"
)

type backupArgs struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	Mode   string `json:"mode"`
}

// handleBackup fans out backup {create,restore,list} per spec §6/§4.12.
func handleBackup(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a backupArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "create":
		path, err := impl.Backup.Create(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": path}, nil
	case "restore":
		mode := backup.Mode(a.Mode)
		if mode == "" {
			mode = backup.ModeMerge
		}
		return impl.Backup.Restore(ctx, a.Path, mode)
	case "list":
		return impl.Backup.List(ctx)
	default:
		return unknownAction("backup", a.Action)
	}
}
