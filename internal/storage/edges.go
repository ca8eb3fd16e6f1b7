package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// CreateEdge inserts e, generating an id if unset.
func (s *Store) CreateEdge(ctx context.Context, e *types.Edge) error {
	if e.ID == "" {
		e.ID = types.NewID()
	}
	if e.ValidFrom.IsZero() {
		e.ValidFrom = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal edge metadata: %w", err)
	}
	var validTo any
	if e.ValidTo != nil {
		validTo = iso(*e.ValidTo)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edges (id, project_id, from_id, to_id, relation, valid_from, valid_to, confidence, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.FromID, e.ToID, e.Relation, iso(e.ValidFrom), validTo, e.Confidence, string(meta))
	return wrapDBError("create edge", err)
}

// InvalidateEdge sets valid_to = asOf, ending an edge's validity window
// instead of deleting it (spec §4.9: edges are bi-temporal).
func (s *Store) InvalidateEdge(ctx context.Context, id string, asOf time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE edges SET valid_to = ? WHERE id = ?`, iso(asOf), id)
	if err != nil {
		return wrapDBError("invalidate edge", err)
	}
	return checkRowsAffected(res, "invalidate edge")
}

// EdgesForMemory returns every edge touching memoryID, either direction.
func (s *Store) EdgesForMemory(ctx context.Context, memoryID string) ([]*types.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, from_id, to_id, relation, valid_from, valid_to, confidence, metadata
		FROM edges WHERE from_id = ? OR to_id = ?`, memoryID, memoryID)
	if err != nil {
		return nil, wrapDBError("edges for memory", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// EdgesByRelation returns edges of a given relation type for a project,
// optionally restricted to those still valid at asOf.
func (s *Store) EdgesByRelation(ctx context.Context, projectID, relation string, asOf *time.Time) ([]*types.Edge, error) {
	query := `
		SELECT id, project_id, from_id, to_id, relation, valid_from, valid_to, confidence, metadata
		FROM edges WHERE project_id = ? AND relation = ?`
	args := []any{projectID, relation}
	if asOf != nil {
		query += ` AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)`
		args = append(args, iso(*asOf), iso(*asOf))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("edges by relation", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]*types.Edge, error) {
	var out []*types.Edge
	for rows.Next() {
		var e types.Edge
		var validFrom string
		var validTo sql.NullString
		var meta string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.FromID, &e.ToID, &e.Relation,
			&validFrom, &validTo, &e.Confidence, &meta); err != nil {
			return nil, wrapDBError("scan edge", err)
		}
		var err error
		if e.ValidFrom, err = parseTime(validFrom); err != nil {
			return nil, err
		}
		if validTo.Valid {
			t, err := parseTime(validTo.String)
			if err != nil {
				return nil, err
			}
			e.ValidTo = &t
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal edge metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, wrapDBError("iterate edges", rows.Err())
}
