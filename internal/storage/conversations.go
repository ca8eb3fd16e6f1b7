package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// CreateConversation inserts c, returning ErrConflict if its content hash
// has already been ingested for this project (spec §4.11 dedup).
func (s *Store) CreateConversation(ctx context.Context, c *types.Conversation) error {
	if c.ID == "" {
		c.ID = types.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, project_id, source, content_hash, started_at, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Source, c.ContentHash, iso(c.StartedAt), iso(c.EndedAt), iso(c.CreatedAt))
	if err != nil {
		return wrapDBError("create conversation", classifyUnique(err))
	}
	return nil
}

// ConversationByHash reports whether a conversation with this content hash
// was already ingested, returning it if so.
func (s *Store) ConversationByHash(ctx context.Context, projectID, hash string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, source, content_hash, started_at, ended_at, created_at
		FROM conversations WHERE project_id = ? AND content_hash = ?`, projectID, hash)

	var c types.Conversation
	var started, ended, created string
	err := row.Scan(&c.ID, &c.ProjectID, &c.Source, &c.ContentHash, &started, &ended, &created)
	if err != nil {
		return nil, wrapDBError("conversation by hash", err)
	}
	if c.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if c.EndedAt, err = parseTime(ended); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a conversation by id; used by the
// conversation_summary/conversation_topics tools, which take a
// conversation id rather than a project id (spec §4.11).
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, source, content_hash, started_at, ended_at, created_at
		FROM conversations WHERE id = ?`, id)

	var c types.Conversation
	var started, ended, created string
	err := row.Scan(&c.ID, &c.ProjectID, &c.Source, &c.ContentHash, &started, &ended, &created)
	if err != nil {
		return nil, wrapDBError("get conversation", err)
	}
	if c.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if c.EndedAt, err = parseTime(ended); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateMessage inserts a message in a conversation.
func (s *Store) CreateMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		m.ID = types.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.Seq, iso(m.CreatedAt))
	return wrapDBError("create message", err)
}

// MessagesForConversation returns messages ordered by sequence.
func (s *Store) MessagesForConversation(ctx context.Context, conversationID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, seq, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, wrapDBError("messages for conversation", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var m types.Message
		var role, created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Seq, &created); err != nil {
			return nil, wrapDBError("scan message", err)
		}
		m.Role = types.MessageRole(role)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, wrapDBError("iterate messages", rows.Err())
}

// CreateToolUse records a tool invocation embedded in a message.
func (s *Store) CreateToolUse(ctx context.Context, t *types.ToolUse) error {
	if t.ID == "" {
		t.ID = types.NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_uses (id, message_id, tool_name, input, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.MessageID, t.ToolName, t.Input, t.Output, iso(t.CreatedAt))
	return wrapDBError("create tool use", err)
}

// LinkMemorySource records the message a memory was extracted from along
// with the fact-quality classifier's score.
func (s *Store) LinkMemorySource(ctx context.Context, src *types.MemorySource) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_sources (memory_id, message_id, score, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (memory_id, message_id) DO UPDATE SET score = excluded.score`,
		src.MemoryID, src.MessageID, src.Score, iso(src.CreatedAt))
	return wrapDBError("link memory source", err)
}

// CreateSummary inserts a conversation summary (written by
// internal/ingest's SummarizeConversation).
func (s *Store) CreateSummary(ctx context.Context, sum *types.Summary) error {
	if sum.ID == "" {
		sum.ID = types.NewID()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	ids, err := json.Marshal(sum.MemoryIDs)
	if err != nil {
		return fmt.Errorf("marshal memory ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, project_id, conversation_id, content, memory_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.ProjectID, sum.ConversationID, sum.Content, string(ids), iso(sum.CreatedAt))
	return wrapDBError("create summary", err)
}

// ListSummaries returns every summary for a project, most recent first.
func (s *Store) ListSummaries(ctx context.Context, projectID string) ([]*types.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, conversation_id, content, memory_ids, created_at
		FROM summaries WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, wrapDBError("list summaries", err)
	}
	defer rows.Close()

	var out []*types.Summary
	for rows.Next() {
		var sum types.Summary
		var convID sql.NullString
		var idsJSON, created string
		if err := rows.Scan(&sum.ID, &sum.ProjectID, &convID, &sum.Content, &idsJSON, &created); err != nil {
			return nil, wrapDBError("scan summary", err)
		}
		if convID.Valid {
			sum.ConversationID = &convID.String
		}
		if err := json.Unmarshal([]byte(idsJSON), &sum.MemoryIDs); err != nil {
			return nil, fmt.Errorf("unmarshal summary memory ids: %w", err)
		}
		if sum.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &sum)
	}
	return out, wrapDBError("iterate summaries", rows.Err())
}

// UpsertTopic creates or updates a named cluster of memories.
func (s *Store) UpsertTopic(ctx context.Context, t *types.Topic) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = types.NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	ids, err := json.Marshal(t.MemoryIDs)
	if err != nil {
		return fmt.Errorf("marshal topic memory ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topics (id, project_id, label, memory_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET memory_ids = excluded.memory_ids, updated_at = excluded.updated_at`,
		t.ID, t.ProjectID, t.Label, string(ids), iso(t.CreatedAt), iso(t.UpdatedAt))
	return wrapDBError("upsert topic", err)
}

// ListTopics returns topics for a project.
func (s *Store) ListTopics(ctx context.Context, projectID string) ([]*types.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, label, memory_ids, created_at, updated_at
		FROM topics WHERE project_id = ? ORDER BY updated_at DESC`, projectID)
	if err != nil {
		return nil, wrapDBError("list topics", err)
	}
	defer rows.Close()

	var out []*types.Topic
	for rows.Next() {
		var t types.Topic
		var idsJSON, created, updated string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Label, &idsJSON, &created, &updated); err != nil {
			return nil, wrapDBError("scan topic", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &t.MemoryIDs); err != nil {
			return nil, fmt.Errorf("unmarshal topic memory ids: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, wrapDBError("iterate topics", rows.Err())
}

// classifyUnique turns a SQLite UNIQUE constraint violation into ErrConflict.
func classifyUnique(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

var _ = sql.ErrNoRows
