// Package session implements spec §4.8's session and crash-recovery state
// machine: a per-process session id, heartbeat/last-tool/current-task
// tracking in the scratchpad, startup crash detection, and graceful
// shutdown (drain write lock, clear session state, checkpoint, close).
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"encoding/json"

	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

// heartbeatFreshness bounds how stale a previous session's heartbeat may
// be before it's still considered a candidate crash (spec §4.8 "if the
// heartbeat is fresh").
const heartbeatFreshness = 2 * time.Minute

// maxTaskSteps is the number of CurrentTask.Steps kept across the
// trim performed on a session's first briefing (spec §4.8).
const maxTaskSteps = 5

// CrashReport is surfaced in a session's first briefing when the engine
// detects it restarted after the previous process never shut down
// cleanly (spec §4.8's `{detected, lastHeartbeat, lastTool, workingFiles,
// previousSessionStart}`).
type CrashReport struct {
	Detected             bool       `json:"detected"`
	LastHeartbeat        *time.Time `json:"last_heartbeat,omitempty"`
	LastTool             string     `json:"last_tool,omitempty"`
	WorkingFiles         []string   `json:"working_files,omitempty"`
	PreviousSessionStart *time.Time `json:"previous_session_start,omitempty"`
}

type lastToolRecord struct {
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
}

// Session tracks one process's lifetime worth of heartbeat/last-tool/
// current-task state in a project's scratchpad.
type Session struct {
	store     *storage.Store
	projectID string
	id        string
	startedAt time.Time
}

// New generates a fresh session id (millis + random, per spec §4.8) for
// projectID; it does not touch storage until Start is called.
func New(store *storage.Store, projectID string) *Session {
	return &Session{
		store:     store,
		projectID: projectID,
		id:        newID(),
		startedAt: time.Now().UTC(),
	}
}

func newID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// ID returns this session's id.
func (s *Session) ID() string { return s.id }

// ProjectID returns the project this session's scratchpad state is
// scoped to.
func (s *Session) ProjectID() string { return s.projectID }

// Start records this session as current and returns a crash report if the
// previously recorded session never cleared its state cleanly (spec §4.8
// "startup recovery"). It always marks this session "seen".
func (s *Session) Start(ctx context.Context) (*CrashReport, error) {
	report, err := s.detectCrash(ctx)
	if err != nil {
		return nil, err
	}

	prev, err := s.store.GetScratchpad(ctx, s.projectID, types.KeySeenSession)
	var previousID string
	if err == nil {
		previousID = prev.Value
	} else if err != storage.ErrNotFound {
		return nil, fmt.Errorf("session: read previous session id: %w", err)
	}
	if previousID != "" {
		if setErr := s.store.SetScratchpad(ctx, &types.ScratchpadItem{
			ProjectID: s.projectID, Key: types.KeyPreviousSession, Value: previousID,
		}); setErr != nil {
			return nil, fmt.Errorf("session: record previous session id: %w", setErr)
		}
	}

	if err := s.store.SetScratchpad(ctx, &types.ScratchpadItem{
		ProjectID: s.projectID, Key: types.KeySeenSession, Value: s.id,
	}); err != nil {
		return nil, fmt.Errorf("session: mark session seen: %w", err)
	}

	if err := s.trimCurrentTaskSteps(ctx); err != nil {
		return nil, err
	}
	if err := s.bumpBriefingSeq(ctx); err != nil {
		return nil, err
	}

	return report, nil
}

// detectCrash compares the previously "seen" session id against this
// session's id; if they differ and the last heartbeat is still fresh, the
// prior process is presumed to have crashed rather than exited cleanly.
func (s *Session) detectCrash(ctx context.Context) (*CrashReport, error) {
	seen, err := s.store.GetScratchpad(ctx, s.projectID, types.KeySeenSession)
	if err == storage.ErrNotFound {
		return &CrashReport{Detected: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read seen session: %w", err)
	}
	if seen.Value == s.id {
		return &CrashReport{Detected: false}, nil
	}

	hb, err := s.store.GetScratchpad(ctx, s.projectID, types.KeyHeartbeat)
	if err == storage.ErrNotFound {
		return &CrashReport{Detected: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read heartbeat: %w", err)
	}
	last, err := parseUnixMillis(hb.Value)
	if err != nil {
		return nil, fmt.Errorf("session: parse heartbeat: %w", err)
	}
	if time.Since(last) > heartbeatFreshness {
		return &CrashReport{Detected: false}, nil
	}

	report := &CrashReport{Detected: true, LastHeartbeat: &last}
	if lt, err := s.store.GetScratchpad(ctx, s.projectID, types.KeyLastTool); err == nil {
		var rec lastToolRecord
		if jsonErr := json.Unmarshal([]byte(lt.Value), &rec); jsonErr == nil {
			report.LastTool = rec.Tool
		}
	} else if err != storage.ErrNotFound {
		return nil, fmt.Errorf("session: read last tool: %w", err)
	}
	if task, err := s.getCurrentTask(ctx); err == nil && task != nil {
		report.WorkingFiles = task.WorkingFiles
	} else if err != nil {
		return nil, err
	}
	if prevStart, err := sessionIDStart(seen.Value); err == nil {
		report.PreviousSessionStart = &prevStart
	}
	return report, nil
}

// Heartbeat updates the heartbeat row; called on every tool call.
func (s *Session) Heartbeat(ctx context.Context) error {
	now := time.Now().UTC()
	return s.store.SetScratchpad(ctx, &types.ScratchpadItem{
		ProjectID: s.projectID, Key: types.KeyHeartbeat,
		Value: strconv.FormatInt(now.UnixMilli(), 10),
	})
}

// RecordTool updates the last-tool row.
func (s *Session) RecordTool(ctx context.Context, tool string) error {
	b, err := json.Marshal(lastToolRecord{Tool: tool, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("session: marshal last tool: %w", err)
	}
	return s.store.SetScratchpad(ctx, &types.ScratchpadItem{
		ProjectID: s.projectID, Key: types.KeyLastTool, Value: string(b),
	})
}

// SetCurrentTask replaces the current-task progress snapshot.
func (s *Session) SetCurrentTask(ctx context.Context, task *types.CurrentTask) error {
	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("session: marshal current task: %w", err)
	}
	return s.store.SetScratchpad(ctx, &types.ScratchpadItem{
		ProjectID: s.projectID, Key: types.KeyCurrentTask, Value: string(b),
	})
}

// CurrentTask returns the in-flight task snapshot, or nil if none is set.
func (s *Session) CurrentTask(ctx context.Context) (*types.CurrentTask, error) {
	return s.getCurrentTask(ctx)
}

func (s *Session) getCurrentTask(ctx context.Context) (*types.CurrentTask, error) {
	item, err := s.store.GetScratchpad(ctx, s.projectID, types.KeyCurrentTask)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read current task: %w", err)
	}
	var task types.CurrentTask
	if err := json.Unmarshal([]byte(item.Value), &task); err != nil {
		return nil, fmt.Errorf("session: unmarshal current task: %w", err)
	}
	return &task, nil
}

func (s *Session) trimCurrentTaskSteps(ctx context.Context) error {
	task, err := s.getCurrentTask(ctx)
	if err != nil || task == nil {
		return err
	}
	task.TrimSteps(maxTaskSteps)
	return s.SetCurrentTask(ctx, task)
}

func (s *Session) bumpBriefingSeq(ctx context.Context) error {
	item, err := s.store.GetScratchpad(ctx, s.projectID, types.KeyBriefingSeq)
	seq := int64(0)
	if err == nil {
		seq, _ = strconv.ParseInt(item.Value, 10, 64)
	} else if err != storage.ErrNotFound {
		return fmt.Errorf("session: read briefing seq: %w", err)
	}
	seq++
	return s.store.SetScratchpad(ctx, &types.ScratchpadItem{
		ProjectID: s.projectID, Key: types.KeyBriefingSeq, Value: strconv.FormatInt(seq, 10),
	})
}

// BriefingSeq returns the current briefing sequence number.
func (s *Session) BriefingSeq(ctx context.Context) (int64, error) {
	item, err := s.store.GetScratchpad(ctx, s.projectID, types.KeyBriefingSeq)
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("session: read briefing seq: %w", err)
	}
	seq, err := strconv.ParseInt(item.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: parse briefing seq: %w", err)
	}
	return seq, nil
}

// Shutdown performs spec §4.8's graceful-shutdown sequence: drain the
// write lock, clear the session state row (distinguishing a clean stop
// from a crash), checkpoint the WAL, and close the vector store and SQL
// handle. vs may be nil when no vector store is in play (e.g. tests).
func (s *Session) Shutdown(ctx context.Context, vs interface{ Close() error }) error {
	s.store.WriteLock.Drain()

	if err := s.store.DeleteScratchpad(ctx, s.projectID, types.KeySeenSession); err != nil {
		return fmt.Errorf("session: clear session state: %w", err)
	}
	if err := s.store.DeleteScratchpad(ctx, s.projectID, types.KeyHeartbeat); err != nil {
		return fmt.Errorf("session: clear heartbeat: %w", err)
	}

	if vs != nil {
		if err := vs.Close(); err != nil {
			return fmt.Errorf("session: close vector store: %w", err)
		}
	}
	if err := s.store.Checkpoint(ctx); err != nil {
		return err
	}
	return s.store.Close()
}

func parseUnixMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// sessionIDStart extracts the millis-since-epoch prefix a session id was
// minted with (see newID: "<millis>-<random hex>").
func sessionIDStart(id string) (time.Time, error) {
	idx := strings.IndexByte(id, '-')
	if idx < 0 {
		return time.Time{}, fmt.Errorf("session: malformed session id %q", id)
	}
	return parseUnixMillis(id[:idx])
}
