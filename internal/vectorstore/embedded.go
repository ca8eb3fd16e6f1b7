package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

// Embedded is the always-available backend: a sqlite-vec vec0 virtual
// table living in the same database file as the rest of the store.
// KNN is computed via vec0's `MATCH` operator, which returns L2 distance
// over the (L2-normalized) vectors; Search converts that to the
// cosine-based score the search contract promises.
type Embedded struct {
	db    *sql.DB
	dim   int
	ready atomic.Bool
}

// NewEmbedded creates (if absent) the `memory_vectors` virtual table sized
// for dim-dimensional vectors and returns a ready Store.
func NewEmbedded(ctx context.Context, db *sql.DB, dim int) (*Embedded, error) {
	e := &Embedded{db: db, dim: dim}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
			id TEXT PRIMARY KEY,
			embedding FLOAT[%d],
			+project_id TEXT,
			+deleted INTEGER
		)`, dim))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create vec0 table: %w", err)
	}
	e.ready.Store(true)
	return e, nil
}

func (e *Embedded) Backend() string { return BackendEmbedded }
func (e *Embedded) IsReady() bool   { return e.ready.Load() }

func (e *Embedded) Close() error {
	e.ready.Store(false)
	return nil
}

// Upsert replaces any existing row for id (vec0 has no native ON CONFLICT,
// so this is delete-then-insert inside one statement pair).
func (e *Embedded) Upsert(ctx context.Context, id string, vector []float32, payload Payload) error {
	if len(vector) != e.dim {
		return fmt.Errorf("vectorstore: vector has dim %d, want %d", len(vector), e.dim)
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("vectorstore: serialize vector: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE id = ?`, id); err != nil {
		return fmt.Errorf("vectorstore: delete before upsert: %w", err)
	}
	deleted := 0
	if payload.Deleted {
		deleted = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_vectors (id, embedding, project_id, deleted) VALUES (?, ?, ?, ?)`,
		id, blob, payload.ProjectID, deleted); err != nil {
		return fmt.Errorf("vectorstore: insert: %w", err)
	}
	return tx.Commit()
}

func (e *Embedded) Delete(ctx context.Context, id string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("vectorstore: delete: %w", err)
	}
	return nil
}

func (e *Embedded) Count(ctx context.Context) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `SELECT count(*) FROM memory_vectors`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

// Search runs a vec0 KNN query and converts L2 distance over normalized
// vectors to the [0,1] score the search contract promises: for
// L2-normalized a, b, distance^2 = 2 - 2*cos(a,b), so the cosine distance
// 1 - cos(a,b) is distance^2/2 and spec §4.2's `(1 - cosine_distance/2)`
// is 1 - distance^2/4 (the same 0.5 + 0.5*cos(a,b) the brute-force paths use).
func (e *Embedded) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	if len(vector) != e.dim {
		return nil, fmt.Errorf("vectorstore: query vector has dim %d, want %d", len(vector), e.dim)
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: serialize query vector: %w", err)
	}

	var b strings.Builder
	b.WriteString(`
		SELECT id, distance FROM memory_vectors
		WHERE embedding MATCH ? AND k = ?`)
	args := []any{blob, k}

	if filter.ProjectID != "" {
		b.WriteString(` AND (project_id = ? OR project_id = 'global')`)
		args = append(args, filter.ProjectID)
	}
	if filter.ExcludeDeleted {
		b.WriteString(` AND deleted = 0`)
	}
	for _, id := range filter.ExcludeIDs {
		b.WriteString(` AND id != ?`)
		args = append(args, id)
	}
	b.WriteString(` ORDER BY distance ASC`)

	rows, err := e.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore: scan result: %w", err)
		}
		score := 1 - distance*distance/4
		if score < 0 {
			score = 0
		}
		out = append(out, Result{ID: id, Score: score})
	}
	return out, rows.Err()
}
