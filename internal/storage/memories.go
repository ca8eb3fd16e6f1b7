package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// CreateMemory inserts m, generating an id and timestamps if unset.
func (s *Store) CreateMemory(ctx context.Context, m *types.Memory) error {
	if m.ID == "" {
		m.ID = types.NewID()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessed.IsZero() {
		m.LastAccessed = now
	}
	m.UpdatedAt = now

	tags, err := json.Marshal(types.NormalizeTags(m.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	var embedding []byte
	if m.Embedding != nil {
		embedding = floatsToBytes(m.Embedding)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, project_id, content, type, tags, importance, strength,
			access_count, confidence, source_count, contradiction_count,
			created_at, last_accessed, updated_at, embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.Content, string(m.Type), string(tags),
		m.Importance, m.Strength, m.AccessCount, m.Confidence, m.SourceCount,
		m.ContradictionCount, iso(m.CreatedAt), iso(m.LastAccessed), iso(m.UpdatedAt), embedding,
	)
	return wrapDBError("create memory", err)
}

// SetMemoryEmbedding writes the embedding bytes for id, used by the
// embedding worker's backfill pass (spec §4.6) and by Update when content
// changes. It returns the memory's project_id, which the caller needs to
// upsert into the vector store outside the write lock.
func (s *Store) SetMemoryEmbedding(ctx context.Context, id string, vector []float32) (projectID string, err error) {
	err = s.db.QueryRowContext(ctx, `
		UPDATE memories SET embedding = ? WHERE id = ? AND deleted_at IS NULL
		RETURNING project_id`, floatsToBytes(vector), id).Scan(&projectID)
	if err != nil {
		return "", wrapDBError("set memory embedding", err)
	}
	return projectID, nil
}

// ClearMemoryEmbedding nulls out a memory's embedding, e.g. when content
// changes but the regenerated embedding couldn't be computed — the
// embedding worker picks the row back up on its next pass (spec §4.6).
func (s *Store) ClearMemoryEmbedding(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET embedding = NULL WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return wrapDBError("clear memory embedding", err)
	}
	return checkRowsAffected(res, "clear memory embedding")
}

// PendingEmbeddingMemories returns up to limit non-deleted memories with no
// embedding yet, newest first (spec §4.6 step 1).
func (s *Store) PendingEmbeddingMemories(ctx context.Context, limit int) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, type, tags, importance, strength,
		       access_count, confidence, source_count, contradiction_count,
		       created_at, last_accessed, updated_at, deleted_at
		FROM memories WHERE embedding IS NULL AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapDBError("pending embedding memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate pending embedding memories", rows.Err())
}

// MemoryEmbedding pairs a memory id with its stored vector, for the
// in-SQL cosine fallback used when the vector store isn't ready (spec
// §4.4, §4.5).
type MemoryEmbedding struct {
	ID         string
	Embedding  []float32
	Confidence float64
}

// EmbeddingsForProject returns every non-deleted, embedded memory visible
// to project (itself plus "global"), for the brute-force cosine fallback.
func (s *Store) EmbeddingsForProject(ctx context.Context, projectID string) ([]MemoryEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, confidence FROM memories
		WHERE (project_id = ? OR project_id = 'global')
		  AND deleted_at IS NULL AND embedding IS NOT NULL`, projectID)
	if err != nil {
		return nil, wrapDBError("embeddings for project", err)
	}
	defer rows.Close()

	var out []MemoryEmbedding
	for rows.Next() {
		var e MemoryEmbedding
		var blob []byte
		if err := rows.Scan(&e.ID, &blob, &e.Confidence); err != nil {
			return nil, wrapDBError("scan memory embedding", err)
		}
		e.Embedding = bytesToFloats(blob)
		out = append(out, e)
	}
	return out, wrapDBError("iterate memory embeddings", rows.Err())
}

// RecentMemoryEmbeddings returns the embeddings of the limit most
// recently created active memories in a project (plus the global
// namespace), used by the consolidation cycle's pairwise near-duplicate
// scan (spec §4.7 "pairwise cosine on the 100 most recent").
func (s *Store) RecentMemoryEmbeddings(ctx context.Context, projectID string, limit int) ([]MemoryEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, confidence FROM memories
		WHERE (project_id = ? OR project_id = 'global')
		  AND deleted_at IS NULL AND embedding IS NOT NULL
		ORDER BY created_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, wrapDBError("recent memory embeddings", err)
	}
	defer rows.Close()

	var out []MemoryEmbedding
	for rows.Next() {
		var e MemoryEmbedding
		var blob []byte
		if err := rows.Scan(&e.ID, &blob, &e.Confidence); err != nil {
			return nil, wrapDBError("scan memory embedding", err)
		}
		e.Embedding = bytesToFloats(blob)
		out = append(out, e)
	}
	return out, wrapDBError("iterate recent memory embeddings", rows.Err())
}

// floatsToBytes encodes a []float32 as little-endian bytes, per the data
// model's "little-endian float32 bytes" embedding storage format (spec §3).
func floatsToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(buf[i*4:], bits)
	}
	return buf
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// GetMemory fetches a non-deleted memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, type, tags, importance, strength,
		       access_count, confidence, source_count, contradiction_count,
		       created_at, last_accessed, updated_at, deleted_at
		FROM memories WHERE id = ? AND deleted_at IS NULL`, id)
	return scanMemory(row)
}

// TouchMemory bumps access_count and last_accessed on recall, per spec §4.3
// ("retrieval reinforces strength").
func (s *Store) TouchMemory(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ? AND deleted_at IS NULL`, iso(now), id)
	return wrapDBError("touch memory", err)
}

// UpdateMemory persists mutable fields of m (content, type, tags,
// importance, strength, confidence, source/contradiction counts).
func (s *Store) UpdateMemory(ctx context.Context, m *types.Memory) error {
	tags, err := json.Marshal(types.NormalizeTags(m.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET
			content = ?, type = ?, tags = ?, importance = ?, strength = ?,
			confidence = ?, source_count = ?, contradiction_count = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		m.Content, string(m.Type), string(tags), m.Importance, m.Strength,
		m.Confidence, m.SourceCount, m.ContradictionCount, iso(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return wrapDBError("update memory", err)
	}
	return checkRowsAffected(res, "update memory")
}

// DeleteMemory soft-deletes a memory (spec §4.3: deletions are tombstones,
// never hard removals, so contradiction/edge history stays coherent). A
// repeat soft-delete of an already-deleted memory is a no-op, not an error
// (spec §8: delete(id, permanent=false) is idempotent); only a memory that
// never existed at all is reported as ErrNotFound.
func (s *Store) DeleteMemory(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, iso(now), id)
	if err != nil {
		return wrapDBError("delete memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("delete memory", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("delete memory: %w", ErrNotFound)
	}
	if err != nil {
		return wrapDBError("delete memory", err)
	}
	return nil
}

// PermanentlyDeleteMemory removes a memory row and every edge touching it
// (spec §4.3: "permanent=true removes the row and all adjacent edges").
func (s *Store) PermanentlyDeleteMemory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin permanent delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return wrapDBError("delete adjacent edges", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return wrapDBError("delete memory row", err)
	}
	if err := checkRowsAffected(res, "permanently delete memory"); err != nil {
		return err
	}
	return wrapDBError("commit permanent delete", tx.Commit())
}

// UpdateMemoryStats persists the recall-time mutations of spec §4.3
// ("Recall"): access_count, strength, confidence, and last_accessed move
// together under the write lock.
func (s *Store) UpdateMemoryStats(ctx context.Context, id string, accessCount int, strength, confidence float64, lastAccessed time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = ?, strength = ?, confidence = ?, last_accessed = ?
		WHERE id = ? AND deleted_at IS NULL`, accessCount, strength, confidence, iso(lastAccessed), id)
	if err != nil {
		return wrapDBError("update memory stats", err)
	}
	return checkRowsAffected(res, "update memory stats")
}

// ListMemoriesOpts filters ListMemories.
type ListMemoriesOpts struct {
	ProjectID string
	Type      types.MemoryType // empty = any
	Tag       string           // empty = any
	Limit     int
	Offset    int
}

// ListMemories returns non-deleted memories for a project, newest first.
func (s *Store) ListMemories(ctx context.Context, opts ListMemoriesOpts) ([]*types.Memory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, project_id, content, type, tags, importance, strength,
		       access_count, confidence, source_count, contradiction_count,
		       created_at, last_accessed, updated_at, deleted_at
		FROM memories WHERE project_id = ? AND deleted_at IS NULL`
	args := []any{opts.ProjectID}
	if opts.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(opts.Type))
	}
	if opts.Tag != "" {
		query += ` AND tags LIKE ?`
		args = append(args, "%\""+opts.Tag+"\"%")
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate memories", rows.Err())
}

// AllActiveForProject returns every non-deleted memory for a project,
// unpaged; used by consolidation and the in-process keyword scorer.
func (s *Store) AllActiveForProject(ctx context.Context, projectID string) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, type, tags, importance, strength,
		       access_count, confidence, source_count, contradiction_count,
		       created_at, last_accessed, updated_at, deleted_at
		FROM memories WHERE project_id = ? AND deleted_at IS NULL`, projectID)
	if err != nil {
		return nil, wrapDBError("scan all active memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate memories", rows.Err())
}

// DistinctProjects returns every project id with at least one non-deleted
// memory, sorted ascending; used by the project-listing tool (spec §6).
func (s *Store) DistinctProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT project_id FROM memories WHERE deleted_at IS NULL ORDER BY project_id`)
	if err != nil {
		return nil, wrapDBError("list distinct projects", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrapDBError("scan distinct project", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("iterate distinct projects", rows.Err())
}

// StrengthenMemories implements spec §4.7 step 1: confidence += 0.05
// (clamped to 1) for memories whose access_count exceeds the store-wide
// average access count (floor 1) and whose confidence is still below
// 0.95. Returns the number of rows touched.
func (s *Store) StrengthenMemories(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET confidence = MIN(1.0, confidence + 0.05), updated_at = ?
		WHERE deleted_at IS NULL
		  AND confidence < 0.95
		  AND access_count > MAX((SELECT AVG(access_count) FROM memories WHERE deleted_at IS NULL), 1)`,
		iso(now))
	if err != nil {
		return 0, wrapDBError("strengthen memories", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("strengthen memories", err)
}

// DecayMemories implements spec §4.7 step 2: strength = max(strength -
// 0.1, 0.1) for memories not accessed since cutoff with strength > 0.2
// and importance < 0.8. Returns the number of rows touched.
func (s *Store) DecayMemories(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET strength = MAX(strength - 0.1, 0.1), updated_at = ?
		WHERE deleted_at IS NULL
		  AND last_accessed <= ?
		  AND strength > 0.2
		  AND importance < 0.8`,
		iso(now), iso(cutoff))
	if err != nil {
		return 0, wrapDBError("decay memories", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("decay memories", err)
}

// RecentMemories returns the n most recently created active memories
// across all projects. (The consolidation cycle's near-duplicate scan
// uses RecentMemoryEmbeddings, not this.)
func (s *Store) RecentMemories(ctx context.Context, n int) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, type, tags, importance, strength,
		       access_count, confidence, source_count, contradiction_count,
		       created_at, last_accessed, updated_at, deleted_at
		FROM memories WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, wrapDBError("recent memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate recent memories", rows.Err())
}

// AutoSourcedMemories returns active memories tagged "auto" (spec §4.11's
// extraction pipeline tag), the population the consolidation cycle's
// garbage-cleanup pass filters through the fact-quality classifier.
func (s *Store) AutoSourcedMemories(ctx context.Context, projectID string) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, type, tags, importance, strength,
		       access_count, confidence, source_count, contradiction_count,
		       created_at, last_accessed, updated_at, deleted_at
		FROM memories WHERE project_id = ? AND deleted_at IS NULL`, projectID)
	if err != nil {
		return nil, wrapDBError("auto-sourced memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		for _, tag := range m.Tags {
			if tag == "auto" {
				out = append(out, m)
				break
			}
		}
	}
	return out, wrapDBError("iterate auto-sourced memories", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row *sql.Row) (*types.Memory, error) {
	return scanMemoryScanner(row)
}

func scanMemoryRows(rows *sql.Rows) (*types.Memory, error) {
	return scanMemoryScanner(rows)
}

func scanMemoryScanner(r rowScanner) (*types.Memory, error) {
	var m types.Memory
	var typ, tagsJSON string
	var createdAt, lastAccessed, updatedAt string
	var deletedAt sql.NullString

	err := r.Scan(&m.ID, &m.ProjectID, &m.Content, &typ, &tagsJSON,
		&m.Importance, &m.Strength, &m.AccessCount, &m.Confidence,
		&m.SourceCount, &m.ContradictionCount, &createdAt, &lastAccessed,
		&updatedAt, &deletedAt)
	if err != nil {
		return nil, wrapDBError("scan memory", err)
	}

	m.Type = types.MemoryType(typ)
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.LastAccessed, err = parseTime(lastAccessed); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		m.DeletedAt = &t
	}
	return &m, nil
}

func checkRowsAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func iso(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		// SQLite's strftime default (no millis) for rows seeded outside Go.
		t, err = time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}
