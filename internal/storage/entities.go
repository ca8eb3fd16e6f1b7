package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// UpsertEntity creates the entity or, if (project_id, name) already
// exists, appends observations to it (spec §4.9: entities are unique by
// name within a project and accumulate observations over time).
func (s *Store) UpsertEntity(ctx context.Context, e *types.Entity) error {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = types.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	obs, err := json.Marshal(e.Observations)
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, project_id, name, type, observations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, name) DO UPDATE SET
			observations = ?, updated_at = ?`,
		e.ID, e.ProjectID, e.Name, string(e.Type), string(obs), iso(e.CreatedAt), iso(e.UpdatedAt),
		string(obs), iso(e.UpdatedAt))
	return wrapDBError("upsert entity", err)
}

// GetEntityByName fetches an entity by its unique (project, name) key.
func (s *Store) GetEntityByName(ctx context.Context, projectID, name string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, type, observations, created_at, updated_at
		FROM entities WHERE project_id = ? AND name = ?`, projectID, name)
	return scanEntity(row)
}

// ListEntities returns all entities for a project, optionally filtered by type.
func (s *Store) ListEntities(ctx context.Context, projectID string, entityType types.EntityType) ([]*types.Entity, error) {
	query := `SELECT id, project_id, name, type, observations, created_at, updated_at FROM entities WHERE project_id = ?`
	args := []any{projectID}
	if entityType != "" {
		query += ` AND type = ?`
		args = append(args, string(entityType))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list entities", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, wrapDBError("iterate entities", rows.Err())
}

func scanEntity(r rowScanner) (*types.Entity, error) {
	var e types.Entity
	var typ, obsJSON, createdAt, updatedAt string
	if err := r.Scan(&e.ID, &e.ProjectID, &e.Name, &typ, &obsJSON, &createdAt, &updatedAt); err != nil {
		return nil, wrapDBError("scan entity", err)
	}
	e.Type = types.EntityType(typ)
	if err := json.Unmarshal([]byte(obsJSON), &e.Observations); err != nil {
		return nil, fmt.Errorf("unmarshal observations: %w", err)
	}
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, type, observations, created_at, updated_at
		FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

// SearchEntities lists entities in projectID whose name contains q
// (case-insensitive), optionally restricted to entityType. An empty q
// matches every entity of the given type.
func (s *Store) SearchEntities(ctx context.Context, projectID, q string, entityType types.EntityType) ([]*types.Entity, error) {
	query := `SELECT id, project_id, name, type, observations, created_at, updated_at FROM entities WHERE project_id = ?`
	args := []any{projectID}
	if q != "" {
		query += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(q)+"%")
	}
	if entityType != "" {
		query += ` AND type = ?`
		args = append(args, string(entityType))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("search entities", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, wrapDBError("iterate search entities", rows.Err())
}

// DeleteEntity removes an entity; ON DELETE CASCADE on entity_relations
// drops any relation referencing it.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return wrapDBError("delete entity", err)
	}
	return checkRowsAffected(res, "delete entity")
}

// RewireEntityRelations repoints every entity_relations row referencing
// oldID (on either side) to newID, used when merging duplicate entities.
func (s *Store) RewireEntityRelations(ctx context.Context, oldID, newID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE entity_relations SET from_entity = ? WHERE from_entity = ?`, newID, oldID); err != nil {
		return wrapDBError("rewire entity relations from", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE entity_relations SET to_entity = ? WHERE to_entity = ?`, newID, oldID); err != nil {
		return wrapDBError("rewire entity relations to", err)
	}
	return nil
}

// CreateEntityRelation links two entities.
func (s *Store) CreateEntityRelation(ctx context.Context, r *types.EntityRelation) error {
	if r.ID == "" {
		r.ID = types.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_relations (id, project_id, from_entity, to_entity, relation_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.FromEntity, r.ToEntity, r.RelationType, iso(r.CreatedAt))
	return wrapDBError("create entity relation", err)
}

// EntityRelationsTo returns every relation pointing at entityID, used by
// callers that need to know what references an entity before merging or
// deleting it.
func (s *Store) EntityRelationsTo(ctx context.Context, entityID string) ([]*types.EntityRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, from_entity, to_entity, relation_type, created_at
		FROM entity_relations WHERE to_entity = ?`, entityID)
	if err != nil {
		return nil, wrapDBError("entity relations to", err)
	}
	defer rows.Close()

	var out []*types.EntityRelation
	for rows.Next() {
		var r types.EntityRelation
		var createdAt string
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FromEntity, &r.ToEntity, &r.RelationType, &createdAt); err != nil {
			return nil, wrapDBError("scan entity relation", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, wrapDBError("iterate entity relations", rows.Err())
}

// EntityTypeHierarchy returns every registered entity_types row.
func (s *Store) EntityTypeHierarchy(ctx context.Context) ([]types.EntityTypeNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, parent_type, description FROM entity_types`)
	if err != nil {
		return nil, wrapDBError("entity type hierarchy", err)
	}
	defer rows.Close()

	var out []types.EntityTypeNode
	for rows.Next() {
		var n types.EntityTypeNode
		var parent sql.NullString
		if err := rows.Scan(&n.Name, &parent, &n.Description); err != nil {
			return nil, wrapDBError("scan entity type", err)
		}
		if parent.Valid {
			n.ParentType = &parent.String
		}
		out = append(out, n)
	}
	return out, wrapDBError("iterate entity types", rows.Err())
}

// RegisterEntityType adds a user-defined entity type to the hierarchy.
func (s *Store) RegisterEntityType(ctx context.Context, n types.EntityTypeNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_types (name, parent_type, description) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET parent_type = excluded.parent_type, description = excluded.description`,
		n.Name, n.ParentType, n.Description)
	return wrapDBError("register entity type", err)
}
