package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mnemex/mnemex/internal/contradiction"
	"github.com/mnemex/mnemex/internal/types"
)

type contradictionsArgs struct {
	Action                    string  `json:"action"`
	ProjectID                 string  `json:"project_id"`
	AutoResolveHighConfidence bool    `json:"auto_resolve_high_confidence"`
	HighConfidenceThreshold   float64 `json:"high_confidence_threshold"`
	ResolutionID              string  `json:"resolution_id"`
	ResolutionType            string  `json:"resolution_type"`
	Note                      string  `json:"note"`
	MergedContent             string  `json:"merged_content"`
}

// handleContradictions fans out contradictions {scan,pending,resolve}
// per spec §4.5/§4.12.
func handleContradictions(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a contradictionsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "scan":
		return impl.Contradiction.ScanContradictions(ctx, a.ProjectID, contradiction.ScanOpts{
			AutoResolveHighConfidence: a.AutoResolveHighConfidence,
			HighConfidenceThreshold:   a.HighConfidenceThreshold,
		})
	case "pending":
		return impl.Store.PendingContradictions(ctx, a.ProjectID)
	case "resolve":
		return impl.Contradiction.Resolve(ctx, a.ResolutionID, types.ResolutionType(a.ResolutionType), a.Note, a.MergedContent)
	default:
		return unknownAction("contradictions", a.Action)
	}
}
