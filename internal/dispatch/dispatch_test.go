package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/backup"
	"github.com/mnemex/mnemex/internal/consolidation"
	"github.com/mnemex/mnemex/internal/contradiction"
	"github.com/mnemex/mnemex/internal/dispatch"
	"github.com/mnemex/mnemex/internal/embedding"
	"github.com/mnemex/mnemex/internal/graph"
	"github.com/mnemex/mnemex/internal/ingest"
	"github.com/mnemex/mnemex/internal/memory"
	"github.com/mnemex/mnemex/internal/nli"
	"github.com/mnemex/mnemex/internal/scheduler"
	"github.com/mnemex/mnemex/internal/scratchpad"
	"github.com/mnemex/mnemex/internal/search"
	"github.com/mnemex/mnemex/internal/session"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
	"github.com/mnemex/mnemex/internal/vectorstore"
	"github.com/mnemex/mnemex/internal/writelock"
)

func memoryStub(projectID string) *types.Memory {
	return &types.Memory{
		ID: types.NewID(), ProjectID: projectID, Content: "a stored fact",
		Type: types.TypeFact, Confidence: 0.7, Strength: 1, Importance: 0.5,
	}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// nullVectorStore never reports ready, so the services wired against it
// fall back to their brute-force / SQL paths rather than needing a real
// ANN backend under test.
type nullVectorStore struct{}

func (nullVectorStore) Upsert(ctx context.Context, id string, vector []float32, payload vectorstore.Payload) error {
	return nil
}
func (nullVectorStore) Search(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	return nil, nil
}
func (nullVectorStore) Delete(ctx context.Context, id string) error { return nil }
func (nullVectorStore) Count(ctx context.Context) (int, error)      { return 0, nil }
func (nullVectorStore) IsReady() bool                               { return false }
func (nullVectorStore) Backend() string                             { return "null" }
func (nullVectorStore) Close() error                                { return nil }

func newTestImpl(t *testing.T) *dispatch.Impl {
	t.Helper()
	store := openTestStore(t)
	vectors := nullVectorStore{}
	embedder := embedding.NewLocal(8)
	lock := writelock.New()

	contradictionEngine := contradiction.New(store, vectors, embedder, nli.Noop{})
	ingestSvc := ingest.New(store)

	return &dispatch.Impl{
		Store:         store,
		Vectors:       vectors,
		Memory:        memory.New(store, vectors, embedder, lock, contradictionEngine, nil),
		Search:        search.New(store, vectors, embedder),
		Graph:         graph.New(store),
		Scratchpad:    scratchpad.New(store),
		Scheduler:     scheduler.New(store),
		Contradiction: contradictionEngine,
		Consolidation: consolidation.New(store, ingestSvc, vectors, embedder, nil, "test-session"),
		Backup:        backup.New(store, t.TempDir()),
		Ingest:        ingestSvc,
		Session:       session.New(store, "demo"),
	}
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func decodeContent(t *testing.T, resp dispatch.Response) map[string]any {
	t.Helper()
	require.Len(t, resp.Content, 1)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Content[0].Text), &out))
	return out
}

func TestDispatchUnknownToolNameReturnsError(t *testing.T) {
	impl := newTestImpl(t)
	resp := dispatch.Dispatch(context.Background(), impl, "not_a_tool", nil)
	require.True(t, resp.IsError)
	body := decodeContent(t, resp)
	require.Contains(t, body["error"], "unknown tool")
}

func TestDispatchUnknownSubActionReturnsErrorNotPanic(t *testing.T) {
	impl := newTestImpl(t)
	resp := dispatch.Dispatch(context.Background(), impl, "scratch", mustArgs(t, map[string]any{
		"action": "bogus", "project_id": "demo",
	}))
	require.False(t, resp.IsError)
	body := decodeContent(t, resp)
	require.Contains(t, body["error"], "unknown action")
}

func TestMemoryStoreAndRecallRoundTrip(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()

	storeResp := dispatch.Dispatch(ctx, impl, "memory_store", mustArgs(t, map[string]any{
		"project_id": "demo", "content": "SQLite uses WAL for concurrent readers",
		"type": "fact", "tags": []string{"sqlite"}, "confidence": 0.8,
	}))
	require.False(t, storeResp.IsError)
	stored := decodeContent(t, storeResp)
	require.NotEmpty(t, stored["id"])

	recallResp := dispatch.Dispatch(ctx, impl, "memory_recall", mustArgs(t, map[string]any{
		"id": stored["id"],
	}))
	require.False(t, recallResp.IsError)

	searchResp := dispatch.Dispatch(ctx, impl, "search", mustArgs(t, map[string]any{
		"project_id": "demo", "query": "WAL concurrent readers", "k": 5,
	}))
	require.False(t, searchResp.IsError)
}

func TestScratchSetGetClearRoundTrip(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()

	setResp := dispatch.Dispatch(ctx, impl, "scratch", mustArgs(t, map[string]any{
		"action": "set", "project_id": "demo", "key": "k1", "value": "v1", "ttl_seconds": 60,
	}))
	require.False(t, setResp.IsError)

	getResp := dispatch.Dispatch(ctx, impl, "scratch", mustArgs(t, map[string]any{
		"action": "get", "project_id": "demo", "key": "k1",
	}))
	require.False(t, getResp.IsError)
	got := decodeContent(t, getResp)
	require.Equal(t, "v1", got["value"])

	clearResp := dispatch.Dispatch(ctx, impl, "scratch", mustArgs(t, map[string]any{
		"action": "clear", "project_id": "demo",
	}))
	require.False(t, clearResp.IsError)
}

func TestEntityCreateAndGet(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()

	createResp := dispatch.Dispatch(ctx, impl, "entity", mustArgs(t, map[string]any{
		"action": "create", "project_id": "demo", "name": "SQLite", "type": "technology",
		"observation": "embedded relational database",
	}))
	require.False(t, createResp.IsError)

	getResp := dispatch.Dispatch(ctx, impl, "entity", mustArgs(t, map[string]any{
		"action": "get", "project_id": "demo", "name": "SQLite",
	}))
	require.False(t, getResp.IsError)
	got := decodeContent(t, getResp)
	require.Equal(t, "SQLite", got["name"])
}

func TestEdgeCreateAndQuery(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()

	a := memoryStub("demo")
	require.NoError(t, impl.Store.CreateMemory(ctx, a))
	b := memoryStub("demo")
	require.NoError(t, impl.Store.CreateMemory(ctx, b))

	createResp := dispatch.Dispatch(ctx, impl, "edge", mustArgs(t, map[string]any{
		"action": "create", "project_id": "demo", "from_id": a.ID, "to_id": b.ID,
		"relation_type": "depends_on", "confidence": 0.9,
	}))
	require.False(t, createResp.IsError)

	queryResp := dispatch.Dispatch(ctx, impl, "edge", mustArgs(t, map[string]any{
		"action": "query", "project_id": "demo", "relation_type": "depends_on",
	}))
	require.False(t, queryResp.IsError)
}

func TestScheduledScheduleWithInvalidExpressionReturnsHint(t *testing.T) {
	impl := newTestImpl(t)
	resp := dispatch.Dispatch(context.Background(), impl, "scheduled", mustArgs(t, map[string]any{
		"action": "schedule", "project_id": "demo", "title": "follow up",
		"schedule_expr": "not a real schedule",
	}))
	require.False(t, resp.IsError)
	body := decodeContent(t, resp)
	require.NotEmpty(t, body["error"])
	require.NotEmpty(t, body["hint"])
}

func TestScheduledScheduleWithValidExpressionSucceeds(t *testing.T) {
	impl := newTestImpl(t)
	resp := dispatch.Dispatch(context.Background(), impl, "scheduled", mustArgs(t, map[string]any{
		"action": "schedule", "project_id": "demo", "title": "follow up",
		"schedule_expr": "in 1 hour",
	}))
	require.False(t, resp.IsError)
	body := decodeContent(t, resp)
	require.NotEmpty(t, body["id"])
}

func TestContradictionsScanOnEmptyProject(t *testing.T) {
	impl := newTestImpl(t)
	resp := dispatch.Dispatch(context.Background(), impl, "contradictions", mustArgs(t, map[string]any{
		"action": "scan", "project_id": "demo",
	}))
	require.False(t, resp.IsError)
}

func TestBackupCreateAndList(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()
	require.NoError(t, impl.Store.CreateMemory(ctx, memoryStub("demo")))

	createResp := dispatch.Dispatch(ctx, impl, "backup", mustArgs(t, map[string]any{"action": "create"}))
	require.False(t, createResp.IsError)

	listResp := dispatch.Dispatch(ctx, impl, "backup", mustArgs(t, map[string]any{"action": "list"}))
	require.False(t, listResp.IsError)
}

func TestTaskSetUpdateGetClear(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()

	setResp := dispatch.Dispatch(ctx, impl, "task", mustArgs(t, map[string]any{
		"action": "set", "description": "migrate schema",
	}))
	require.False(t, setResp.IsError)

	updateResp := dispatch.Dispatch(ctx, impl, "task", mustArgs(t, map[string]any{
		"action": "update", "step": 1, "step_description": "add column",
	}))
	require.False(t, updateResp.IsError)

	getResp := dispatch.Dispatch(ctx, impl, "task", mustArgs(t, map[string]any{"action": "get"}))
	require.False(t, getResp.IsError)
	got := decodeContent(t, getResp)
	require.Equal(t, "migrate schema", got["description"])

	clearResp := dispatch.Dispatch(ctx, impl, "task", mustArgs(t, map[string]any{"action": "clear"}))
	require.False(t, clearResp.IsError)
}

func TestProjectListAndSet(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()
	require.NoError(t, impl.Store.CreateMemory(ctx, memoryStub("demo")))

	listResp := dispatch.Dispatch(ctx, impl, "project", mustArgs(t, map[string]any{"action": "list"}))
	require.False(t, listResp.IsError)

	setResp := dispatch.Dispatch(ctx, impl, "project", mustArgs(t, map[string]any{
		"action": "set", "project_id": "other",
	}))
	require.False(t, setResp.IsError)
	require.Equal(t, "other", impl.ActiveProject())
}

func TestConsolidateHeartbeatAndStats(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()
	require.NoError(t, impl.Store.CreateMemory(ctx, memoryStub("demo")))

	consolidateResp := dispatch.Dispatch(ctx, impl, "consolidate", mustArgs(t, map[string]any{"project_id": "demo"}))
	require.False(t, consolidateResp.IsError)

	heartbeatResp := dispatch.Dispatch(ctx, impl, "heartbeat", nil)
	require.False(t, heartbeatResp.IsError)

	statsResp := dispatch.Dispatch(ctx, impl, "stats", mustArgs(t, map[string]any{"project_id": "demo"}))
	require.False(t, statsResp.IsError)
	stats := decodeContent(t, statsResp)
	require.EqualValues(t, 1, stats["active_memories"])
}

func TestBriefingReturnsSessionIDAndCrashReport(t *testing.T) {
	impl := newTestImpl(t)
	resp := dispatch.Dispatch(context.Background(), impl, "briefing", nil)
	require.False(t, resp.IsError)
	body := decodeContent(t, resp)
	require.NotEmpty(t, body["session_id"])
	require.Contains(t, body, "crash_report")
}

func TestToolCallLoggingExcludesHeartbeatAndScratchGet(t *testing.T) {
	impl := newTestImpl(t)
	ctx := context.Background()

	dispatch.Dispatch(ctx, impl, "heartbeat", nil)
	dispatch.Dispatch(ctx, impl, "scratch", mustArgs(t, map[string]any{
		"action": "set", "project_id": "demo", "key": "k", "value": "v",
	}))
	dispatch.Dispatch(ctx, impl, "scratch", mustArgs(t, map[string]any{
		"action": "get", "project_id": "demo", "key": "k",
	}))

	rows, err := impl.Store.DB().QueryContext(ctx, `SELECT tool_name, action FROM tool_calls`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var toolName, action string
		require.NoError(t, rows.Scan(&toolName, &action))
		require.NotEqual(t, "heartbeat", toolName)
		require.False(t, toolName == "scratch" && action == "get")
	}
	require.NoError(t, rows.Err())
}
