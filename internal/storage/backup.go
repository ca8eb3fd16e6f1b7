package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mnemex/mnemex/internal/types"
)

// AllMemories returns every non-deleted memory across every project,
// embedding included when set, for the backup document (spec §6).
func (s *Store) AllMemories(ctx context.Context) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, type, tags, importance, strength,
		       access_count, confidence, source_count, contradiction_count,
		       created_at, last_accessed, updated_at, deleted_at, embedding
		FROM memories WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, wrapDBError("all memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		var m types.Memory
		var typ, tagsJSON string
		var createdAt, lastAccessed, updatedAt string
		var deletedAt sql.NullString
		var embedding []byte
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Content, &typ, &tagsJSON,
			&m.Importance, &m.Strength, &m.AccessCount, &m.Confidence,
			&m.SourceCount, &m.ContradictionCount, &createdAt, &lastAccessed,
			&updatedAt, &deletedAt, &embedding); err != nil {
			return nil, wrapDBError("scan memory", err)
		}
		m.Type = types.MemoryType(typ)
		if err := jsonUnmarshalTags(tagsJSON, &m.Tags); err != nil {
			return nil, err
		}
		var perr error
		if m.CreatedAt, perr = parseTime(createdAt); perr != nil {
			return nil, perr
		}
		if m.LastAccessed, perr = parseTime(lastAccessed); perr != nil {
			return nil, perr
		}
		if m.UpdatedAt, perr = parseTime(updatedAt); perr != nil {
			return nil, perr
		}
		if embedding != nil {
			m.Embedding = bytesToFloats(embedding)
		}
		out = append(out, &m)
	}
	return out, wrapDBError("iterate memories", rows.Err())
}

// AllEdges returns every edge across every project, for the backup
// document.
func (s *Store) AllEdges(ctx context.Context) ([]*types.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, from_id, to_id, relation, valid_from, valid_to, confidence, metadata
		FROM edges`)
	if err != nil {
		return nil, wrapDBError("all edges", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// AllScratchpad returns every scratchpad row across every project,
// including internal `__`-prefixed keys — a restore must reproduce the
// advisory-lock/recovery substrate exactly, not just user-visible rows.
func (s *Store) AllScratchpad(ctx context.Context) ([]*types.ScratchpadItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, key, value, expires_at, created_at, updated_at FROM scratchpad`)
	if err != nil {
		return nil, wrapDBError("all scratchpad", err)
	}
	defer rows.Close()

	var out []*types.ScratchpadItem
	for rows.Next() {
		item, err := scanScratchpad(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, wrapDBError("iterate scratchpad", rows.Err())
}

// RestoreMemory inserts m verbatim (including id, timestamps, and
// embedding), used by backup restore rather than CreateMemory, which
// would mint a fresh id and timestamps.
func (s *Store) RestoreMemory(ctx context.Context, m *types.Memory) error {
	tagsJSON, err := jsonMarshalTags(m.Tags)
	if err != nil {
		return err
	}
	var embedding any
	if len(m.Embedding) > 0 {
		embedding = floatsToBytes(m.Embedding)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, project_id, content, type, tags, importance, strength,
			access_count, confidence, source_count, contradiction_count,
			created_at, last_accessed, updated_at, deleted_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		m.ID, m.ProjectID, m.Content, string(m.Type), tagsJSON, m.Importance, m.Strength,
		m.AccessCount, m.Confidence, m.SourceCount, m.ContradictionCount,
		iso(m.CreatedAt), iso(m.LastAccessed), iso(m.UpdatedAt), embedding)
	return wrapDBError("restore memory", err)
}

// RestoreEdge inserts e verbatim; used by backup restore.
func (s *Store) RestoreEdge(ctx context.Context, e *types.Edge) error {
	return s.CreateEdge(ctx, e)
}

// RestoreScratchpad upserts item verbatim; used by backup restore.
func (s *Store) RestoreScratchpad(ctx context.Context, item *types.ScratchpadItem) error {
	return s.SetScratchpad(ctx, item)
}

// MemoryExists reports whether id names any row, deleted or not — a
// merge-mode restore treats either as a collision to keep (spec §6).
func (s *Store) MemoryExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM memories WHERE id = ?)`, id).Scan(&exists)
	return exists, wrapDBError("memory exists", err)
}

// EdgeExists reports whether id names any edge row.
func (s *Store) EdgeExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM edges WHERE id = ?)`, id).Scan(&exists)
	return exists, wrapDBError("edge exists", err)
}

// ClearAllData deletes every memory, edge, and scratchpad row across every
// project, for a replace-mode restore (spec §6: "replace (clear first)").
// The scheduled-task, conversation, and entity tables are out of scope for
// the backup document and are left untouched.
func (s *Store) ClearAllData(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("clear all data: begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"edges", "scratchpad", "memories"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrapDBError("clear all data: delete "+table, err)
		}
	}
	return wrapDBError("clear all data: commit", tx.Commit())
}

func jsonUnmarshalTags(raw string, out *[]string) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal tags: %w", err)
	}
	return nil
}

func jsonMarshalTags(tags []string) (string, error) {
	b, err := json.Marshal(types.NormalizeTags(tags))
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}
