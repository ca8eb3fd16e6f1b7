package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// CreateContradictionResolution inserts a pending (or pre-resolved) conflict row.
func (s *Store) CreateContradictionResolution(ctx context.Context, r *types.ContradictionResolution) error {
	if r.ID == "" {
		r.ID = types.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.ResolutionType == "" {
		r.ResolutionType = types.ResolutionPending
	}
	var resolvedAt any
	if r.ResolvedAt != nil {
		resolvedAt = iso(*r.ResolvedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contradiction_resolutions (
			id, project_id, edge_id, memory_a_id, memory_b_id, type, confidence,
			resolution_type, chosen_memory_id, note, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.EdgeID, r.MemoryAID, r.MemoryBID, string(r.Type), r.Confidence,
		string(r.ResolutionType), r.ChosenMemoryID, r.Note, iso(r.CreatedAt), resolvedAt)
	return wrapDBError("create contradiction resolution", err)
}

// PendingContradictions returns unresolved conflicts for a project.
func (s *Store) PendingContradictions(ctx context.Context, projectID string) ([]*types.ContradictionResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, edge_id, memory_a_id, memory_b_id, type, confidence,
		       resolution_type, chosen_memory_id, note, created_at, resolved_at
		FROM contradiction_resolutions WHERE project_id = ? AND resolution_type = ?
		ORDER BY created_at ASC`, projectID, string(types.ResolutionPending))
	if err != nil {
		return nil, wrapDBError("pending contradictions", err)
	}
	defer rows.Close()
	return scanContradictions(rows)
}

// ContradictionsForMemory returns pending contradiction resolutions
// touching memoryID on either side, newest first.
func (s *Store) ContradictionsForMemory(ctx context.Context, memoryID string) ([]*types.ContradictionResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, edge_id, memory_a_id, memory_b_id, type, confidence,
		       resolution_type, chosen_memory_id, note, created_at, resolved_at
		FROM contradiction_resolutions
		WHERE (memory_a_id = ? OR memory_b_id = ?) AND resolution_type = ?
		ORDER BY created_at DESC`, memoryID, memoryID, string(types.ResolutionPending))
	if err != nil {
		return nil, wrapDBError("contradictions for memory", err)
	}
	defer rows.Close()
	return scanContradictions(rows)
}

// GetContradictionResolution fetches a single resolution row by id.
func (s *Store) GetContradictionResolution(ctx context.Context, id string) (*types.ContradictionResolution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, edge_id, memory_a_id, memory_b_id, type, confidence,
		       resolution_type, chosen_memory_id, note, created_at, resolved_at
		FROM contradiction_resolutions WHERE id = ?`, id)
	return scanContradiction(row)
}

// ContradictionByEdge returns the resolution row for edgeID, if one exists.
// Used by scanContradictions (spec §4.5) to avoid creating duplicate rows
// for edges that already have one.
func (s *Store) ContradictionByEdge(ctx context.Context, edgeID string) (*types.ContradictionResolution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, edge_id, memory_a_id, memory_b_id, type, confidence,
		       resolution_type, chosen_memory_id, note, created_at, resolved_at
		FROM contradiction_resolutions WHERE edge_id = ?`, edgeID)
	return scanContradiction(row)
}

// ResolveContradiction records the chosen resolution.
func (s *Store) ResolveContradiction(ctx context.Context, id string, resolution types.ResolutionType, chosen *string, note string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contradiction_resolutions
		SET resolution_type = ?, chosen_memory_id = ?, note = ?, resolved_at = ?
		WHERE id = ?`, string(resolution), chosen, note, iso(now), id)
	if err != nil {
		return wrapDBError("resolve contradiction", err)
	}
	return checkRowsAffected(res, "resolve contradiction")
}

func scanContradictions(rows *sql.Rows) ([]*types.ContradictionResolution, error) {
	var out []*types.ContradictionResolution
	for rows.Next() {
		r, err := scanContradictionScanner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, wrapDBError("iterate contradiction resolutions", rows.Err())
}

func scanContradiction(row *sql.Row) (*types.ContradictionResolution, error) {
	return scanContradictionScanner(row)
}

func scanContradictionScanner(r rowScanner) (*types.ContradictionResolution, error) {
	var res types.ContradictionResolution
	var typ, resType, created string
	var resolved sql.NullString
	var chosen sql.NullString
	if err := r.Scan(&res.ID, &res.ProjectID, &res.EdgeID, &res.MemoryAID, &res.MemoryBID,
		&typ, &res.Confidence, &resType, &chosen, &res.Note, &created, &resolved); err != nil {
		return nil, wrapDBError("scan contradiction resolution", err)
	}
	res.Type = types.ContradictionType(typ)
	res.ResolutionType = types.ResolutionType(resType)
	if chosen.Valid {
		res.ChosenMemoryID = &chosen.String
	}
	var err error
	if res.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if resolved.Valid {
		t, err := parseTime(resolved.String)
		if err != nil {
			return nil, err
		}
		res.ResolvedAt = &t
	}
	return &res, nil
}
