// Package dispatch implements spec §4.12's tool dispatcher: a pure
// name→handler routing layer over the wire protocol described in spec
// §6. It knows nothing about storage, locking, or embeddings directly —
// every handler is a thin adapter onto the internal/{memory,search,
// graph,scratchpad,scheduler,contradiction,consolidation,backup,ingest,
// session} services bundled in Impl.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mnemex/mnemex/internal/apperr"
	"github.com/mnemex/mnemex/internal/backup"
	"github.com/mnemex/mnemex/internal/consolidation"
	"github.com/mnemex/mnemex/internal/contradiction"
	"github.com/mnemex/mnemex/internal/graph"
	"github.com/mnemex/mnemex/internal/ingest"
	"github.com/mnemex/mnemex/internal/memory"
	"github.com/mnemex/mnemex/internal/scratchpad"
	"github.com/mnemex/mnemex/internal/scheduler"
	"github.com/mnemex/mnemex/internal/search"
	"github.com/mnemex/mnemex/internal/session"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

// Impl bundles every service a handler may call. All fields are
// optional except Store; a nil service degrades its tools to an
// error result rather than panicking (mirrors spec §7's degrade-not-
// crash propagation policy for unavailable subsystems).
type Impl struct {
	Store         *storage.Store
	Vectors       vectorstore.Store
	Memory        *memory.Service
	Search        *search.Engine
	Graph         *graph.Service
	Scratchpad    *scratchpad.Service
	Scheduler     *scheduler.Service
	Contradiction *contradiction.Engine
	Consolidation *consolidation.Service
	Backup        *backup.Service
	Ingest        *ingest.Service
	Session       *session.Session
	Log           *slog.Logger

	// activeProject is the "project set" tool's override of the
	// process-detected project id (spec §6 "project detection"; the
	// dispatcher, not the engine, owns this since it's purely a routing
	// convenience for callers that don't pass project_id explicitly).
	activeProjectMu sync.RWMutex
	activeProject   string
}

// ActiveProject returns the dispatcher-level project override set via
// the "project" tool's "set" action, or "" if none was set.
func (impl *Impl) ActiveProject() string {
	impl.activeProjectMu.RLock()
	defer impl.activeProjectMu.RUnlock()
	return impl.activeProject
}

// SetActiveProject sets the dispatcher-level project override.
func (impl *Impl) SetActiveProject(projectID string) {
	impl.activeProjectMu.Lock()
	defer impl.activeProjectMu.Unlock()
	impl.activeProject = projectID
}

// excludedFromToolLog mirrors spec §4.12's "non-excluded call" carve-out
// and config.Config.ToolLogExcluded's default (scratch_get/scratch_list):
// high-frequency read-only calls that would otherwise flood tool_calls.
// Keyed by "name" or "name action" for sub-action fan-out families.
var excludedFromToolLog = map[string]bool{
	"scratch get":  true,
	"scratch list": true,
	"heartbeat":    true,
}

// handler is the shape every registered tool implements: decode args,
// do the work, return a JSON-marshalable result or an error.
type handler func(ctx context.Context, impl *Impl, args json.RawMessage) (any, error)

var registry = map[string]handler{
	"memory_store":  handleMemoryStore,
	"memory_recall": handleMemoryRecall,
	"memory_update": handleMemoryUpdate,
	"memory_delete": handleMemoryDelete,
	"memory_list":   handleMemoryList,
	"search":        handleSearch,

	"scratch": handleScratch,
	"entity":  handleEntity,
	"edge":    handleEdge,

	"scheduled":      handleScheduled,
	"contradictions": handleContradictions,
	"backup":         handleBackup,
	"task":           handleTask,
	"project":        handleProject,
	"chat":           handleChat,

	"consolidate":          handleConsolidate,
	"briefing":             handleBriefing,
	"heartbeat":            handleHeartbeat,
	"entity_merge":         handleEntityMerge,
	"conversation_summary": handleConversationSummary,
	"conversation_topics":  handleConversationTopics,
	"conversation_search":  handleConversationSearch,
	"stats":                handleStats,
}

// Content is one element of a tool-call response's content list (spec §6).
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the wire shape every tool call returns (spec §6).
type Response struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// errorResult is the sanitized {error: string} shape named in spec §7.
type errorResult struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// Dispatch routes name/args to its handler, logs the call (unless
// excluded), and returns the wire Response. Unknown tool names fail with
// apperr.InvalidInput rather than panicking (spec §4.12).
func Dispatch(ctx context.Context, impl *Impl, name string, args json.RawMessage) Response {
	start := time.Now()
	h, ok := registry[name]
	if !ok {
		resp := errorResponse(apperr.Invalid("dispatch", "name", fmt.Sprintf("unknown tool %q; see the tool list for valid names", name)))
		logCall(ctx, impl, name, args, resp, start)
		return resp
	}

	var result any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = apperr.New(apperr.Fatal, "dispatch", fmt.Errorf("tool %q failed: %v", name, r))
			}
		}()
		result, err = h(ctx, impl, args)
	}()
	var resp Response
	if err != nil {
		resp = errorResponse(err)
	} else {
		resp = successResponse(result)
	}
	logCall(ctx, impl, name, args, resp, start)
	return resp
}

func successResponse(result any) Response {
	text, err := json.Marshal(result)
	if err != nil {
		return errorResponse(apperr.New(apperr.Fatal, "dispatch", err))
	}
	return Response{Content: []Content{{Type: "text", Text: string(text)}}}
}

func errorResponse(err error) Response {
	text, _ := json.Marshal(errorResult{Error: apperr.Sanitize(err)})
	return Response{Content: []Content{{Type: "text", Text: string(text)}}, IsError: true}
}

// unknownAction builds the result every sub-action fan-out family (scratch,
// entity, edge, scheduled, contradictions, backup, task, project, chat)
// returns for an unknown action: {error}, never a panic or exception
// (spec §4.12).
func unknownAction(family, action string) (any, error) {
	return errorResult{Error: fmt.Sprintf("%s: unknown action %q", family, action)}, nil
}

// decodeArgs unmarshals args into out, wrapping decode failures as
// apperr.InvalidInput so they flow through the same sanitized {error}
// path as validation failures.
func decodeArgs(args json.RawMessage, out any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, out); err != nil {
		return apperr.Invalid("dispatch", "arguments", "malformed argument JSON: "+err.Error())
	}
	return nil
}

// logCall records the call to tool_calls unless it's excluded (spec
// §4.12). Logging failures are swallowed (caught separately, per spec
// §7) so a full audit table can never crash the dispatcher.
func logCall(ctx context.Context, impl *Impl, name string, args json.RawMessage, resp Response, start time.Time) {
	if impl == nil || impl.Store == nil {
		return
	}
	logKey := name
	if action := actionOf(args); action != "" {
		logKey = name + " " + action
	}
	if excludedFromToolLog[logKey] {
		return
	}
	log := impl.Log
	if log == nil {
		log = slog.Default()
	}

	projectID := ""
	var argsPreview struct {
		ProjectID string `json:"project_id"`
	}
	_ = json.Unmarshal(args, &argsPreview)
	projectID = argsPreview.ProjectID

	errText := ""
	if resp.IsError && len(resp.Content) > 0 {
		errText = truncateText(resp.Content[0].Text, 500)
	}

	entry := storage.ToolCallLog{
		ProjectID:  projectID,
		ToolName:   name,
		Action:     actionOf(args),
		DurationMS: time.Since(start).Milliseconds(),
		OK:         !resp.IsError,
		Error:      errText,
	}
	if err := impl.Store.LogToolCall(ctx, entry); err != nil {
		log.Warn("dispatch: tool call logging failed", "tool", name, "error", err)
	}

	if impl.Session != nil {
		if err := impl.Session.RecordTool(ctx, name); err != nil {
			log.Warn("dispatch: session record tool failed", "tool", name, "error", err)
		}
	}
}

// actionOf extracts the optional {"action": "..."} field the sub-action
// fan-out families (scratch, entity, edge, ...) take, for the audit row.
func actionOf(args json.RawMessage) string {
	var a struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(args, &a)
	return a.Action
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
