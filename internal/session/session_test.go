package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/session"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStartOnFreshProjectReportsNoCrash(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sess := session.New(store, "demo")

	report, err := sess.Start(ctx)
	require.NoError(t, err)
	require.False(t, report.Detected)

	seq, err := sess.BriefingSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
}

func TestStartDetectsCrashWhenHeartbeatIsFresh(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first := session.New(store, "demo")
	_, err := first.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, first.RecordTool(ctx, "memory_search"))
	require.NoError(t, first.Heartbeat(ctx))
	require.NoError(t, first.SetCurrentTask(ctx, &types.CurrentTask{
		Description:  "refactor search",
		CurrentStep:  1,
		StartedAt:    time.Now().UTC(),
		WorkingFiles: []string{"internal/search/search.go"},
	}))
	// No Shutdown call: simulates a crash leaving heartbeat/state in place.

	second := session.New(store, "demo")
	report, err := second.Start(ctx)
	require.NoError(t, err)
	require.True(t, report.Detected)
	require.Equal(t, "memory_search", report.LastTool)
	require.Equal(t, []string{"internal/search/search.go"}, report.WorkingFiles)
	require.NotNil(t, report.LastHeartbeat)
	require.NotNil(t, report.PreviousSessionStart)
}

func TestStartDoesNotDetectCrashAfterGracefulShutdown(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first := session.New(store, "demo")
	_, err := first.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Heartbeat(ctx))

	// A graceful Shutdown would close the store; exercise just the state
	// clearing a real Shutdown performs, on the same store, then start a
	// second session against it.
	require.NoError(t, store.DeleteScratchpad(ctx, "demo", types.KeySeenSession))
	require.NoError(t, store.DeleteScratchpad(ctx, "demo", types.KeyHeartbeat))

	second := session.New(store, "demo")
	report, err := second.Start(ctx)
	require.NoError(t, err)
	require.False(t, report.Detected)
}

func TestCurrentTaskStepsAreTrimmedOnStart(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sess := session.New(store, "demo")
	_, err := sess.Start(ctx)
	require.NoError(t, err)

	var steps []types.TaskStep
	for i := 1; i <= 8; i++ {
		steps = append(steps, types.TaskStep{Step: i, Description: "step", Timestamp: time.Now().UTC()})
	}
	require.NoError(t, sess.SetCurrentTask(ctx, &types.CurrentTask{
		Description: "big task", CurrentStep: 8, Steps: steps, StartedAt: time.Now().UTC(),
	}))

	// A new session's Start trims the previous session's leftover steps.
	next := session.New(store, "demo")
	_, err = next.Start(ctx)
	require.NoError(t, err)

	task, err := next.CurrentTask(ctx)
	require.NoError(t, err)
	require.Len(t, task.Steps, 5)
	require.Equal(t, 8, task.Steps[len(task.Steps)-1].Step)
}

func TestShutdownClearsSessionStateAndClosesStore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sess := session.New(store, "demo")
	_, err := sess.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Heartbeat(ctx))

	require.NoError(t, sess.Shutdown(ctx, nil))

	// The store is now closed; further use should fail.
	_, err = store.GetScratchpad(ctx, "demo", types.KeyHeartbeat)
	require.Error(t, err)
}
