package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mnemex/mnemex/internal/ingest"
)

type chatArgs struct {
	Action    string `json:"action"`
	ProjectID string `json:"project_id"`
	Source    string `json:"source"`
	Archive   string `json:"archive"`
	Query     string `json:"query"`
}

type chatIngestResult struct {
	Skipped       bool `json:"skipped"`
	MessagesSeen  int  `json:"messages_seen"`
	FactsStored   int  `json:"facts_stored"`
	FactsRejected int  `json:"facts_rejected"`
}

// handleChat fans out chat {discover,ingest,search} per spec §4.11/§4.12:
// "discover" lists existing conversation summaries for a project,
// "ingest" runs the full parse→extract→quality-gate→store pipeline over
// a line-delimited JSON archive, and "search" text-searches summaries.
// Per-conversation summarization and topic extraction are reached
// through the standalone conversation_summary/conversation_topics tools
// instead, since both need a conversation id rather than a project id.
func handleChat(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a chatArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch a.Action {
	case "discover":
		return impl.Store.ListSummaries(ctx, a.ProjectID)
	case "ingest":
		return runChatIngest(ctx, impl, a)
	case "search":
		return impl.Ingest.SearchConversationSummaries(ctx, a.ProjectID, a.Query)
	default:
		return unknownAction("chat", a.Action)
	}
}

func runChatIngest(ctx context.Context, impl *Impl, a chatArgs) (any, error) {
	result, err := impl.Ingest.ParseArchive(ctx, a.ProjectID, a.Source, strings.NewReader(a.Archive))
	if err != nil {
		return nil, err
	}
	out := chatIngestResult{Skipped: result.Skipped, MessagesSeen: len(result.Messages)}
	if result.Skipped {
		return out, nil
	}

	candidates := ingest.ExtractFactsFromConversation(result.Messages)
	for _, cand := range candidates {
		mem, err := impl.Ingest.StoreExtractedFact(ctx, a.ProjectID, cand)
		if err != nil {
			return nil, err
		}
		if mem == nil {
			out.FactsRejected++
			continue
		}
		out.FactsStored++
	}
	return out, nil
}
