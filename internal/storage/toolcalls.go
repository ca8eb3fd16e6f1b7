package storage

import (
	"context"
	"time"
)

// ToolCallLog is one row of the tool-call audit trail the dispatcher writes
// on every invocation (spec §4.12).
type ToolCallLog struct {
	ProjectID  string
	ToolName   string
	Action     string
	DurationMS int64
	OK         bool
	Error      string
}

// LogToolCall appends an audit row.
func (s *Store) LogToolCall(ctx context.Context, l ToolCallLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (project_id, tool_name, action, duration_ms, ok, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ProjectID, l.ToolName, l.Action, l.DurationMS, boolToInt(l.OK), l.Error, iso(time.Now().UTC()))
	return wrapDBError("log tool call", err)
}

// PurgeToolCallsOlderThan deletes audit rows older than cutoff; used by the
// consolidation cycle's tool-log GC pass (spec §4.7).
func (s *Store) PurgeToolCallsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_calls WHERE created_at < ?`, iso(cutoff))
	if err != nil {
		return 0, wrapDBError("purge tool calls", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("purge tool calls", err)
}
