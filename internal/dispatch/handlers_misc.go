package dispatch

import (
	"context"
	"encoding/json"

	"github.com/mnemex/mnemex/internal/ingest"
)

type consolidateArgs struct {
	ProjectID string `json:"project_id"`
}

// handleConsolidate runs one consolidation cycle on demand (spec §4.7);
// the same cycle the idle-triggered timer in cmd/mnemexd runs
// automatically, exposed here for on-demand runs over the tool-call
// surface (cmd/mnemexctl consolidate calls Consolidation.Run directly).
func handleConsolidate(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a consolidateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return impl.Consolidation.Run(ctx, a.ProjectID)
}

// handleBriefing returns the session's startup crash-recovery report and
// current task snapshot (spec §4.8).
func handleBriefing(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	report, err := impl.Session.Start(ctx)
	if err != nil {
		return nil, err
	}
	task, err := impl.Session.CurrentTask(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := impl.Session.BriefingSeq(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session_id":   impl.Session.ID(),
		"crash_report": report,
		"current_task": task,
		"briefing_seq": seq,
	}, nil
}

// handleHeartbeat updates the session's heartbeat row (spec §4.8); this
// tool is excluded from tool_calls logging since it fires continuously.
func handleHeartbeat(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	if err := impl.Session.Heartbeat(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

type entityMergeArgs struct {
	ProjectID string `json:"project_id"`
}

// handleEntityMerge merges duplicate entities for a project (spec §4.9).
func handleEntityMerge(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a entityMergeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return impl.Graph.MergeDuplicates(ctx, a.ProjectID)
}

type conversationIDArgs struct {
	ConversationID string `json:"conversation_id"`
}

// handleConversationSummary summarizes one conversation by id (spec §4.11
// "summarizeConversation").
func handleConversationSummary(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a conversationIDArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	conv, err := impl.Store.GetConversation(ctx, a.ConversationID)
	if err != nil {
		return nil, err
	}
	sum, err := impl.Ingest.SummarizeConversation(ctx, conv)
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": sum, "brief": ingest.BriefSummary(sum)}, nil
}

type conversationTopicsArgs struct {
	ConversationID string `json:"conversation_id"`
	TopN           int    `json:"top_n"`
}

// handleConversationTopics extracts top-N term-frequency topics from a
// conversation's messages (spec §4.11 "extractConversationTopics").
func handleConversationTopics(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a conversationTopicsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.TopN <= 0 {
		a.TopN = 10
	}
	messages, err := impl.Store.MessagesForConversation(ctx, a.ConversationID)
	if err != nil {
		return nil, err
	}
	return ingest.ExtractConversationTopics(messages, a.TopN), nil
}

type conversationSearchArgs struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
}

// handleConversationSearch text-searches conversation summaries (spec
// §4.11 "searchConversationSummaries").
func handleConversationSearch(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a conversationSearchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return impl.Ingest.SearchConversationSummaries(ctx, a.ProjectID, a.Query)
}

type statsArgs struct {
	ProjectID string `json:"project_id"`
}

// handleStats reports a lightweight project health snapshot: active
// memory count, pending contradictions, and the vector store's row count — a
// SPEC_FULL.md supplement useful for cmd/mnemexctl status.
func handleStats(ctx context.Context, impl *Impl, args json.RawMessage) (any, error) {
	var a statsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	active, err := impl.Store.AllActiveForProject(ctx, a.ProjectID)
	if err != nil {
		return nil, err
	}
	pending, err := impl.Store.PendingContradictions(ctx, a.ProjectID)
	if err != nil {
		return nil, err
	}
	vectorCount := 0
	if impl.Vectors != nil {
		if n, err := impl.Vectors.Count(ctx); err == nil {
			vectorCount = n
		}
	}
	return map[string]any{
		"active_memories":        len(active),
		"pending_contradictions": len(pending),
		"vector_count":           vectorCount,
	}, nil
}
