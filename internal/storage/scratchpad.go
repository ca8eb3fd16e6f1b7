package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// SetScratchpad upserts a key/value row, optionally with a TTL.
func (s *Store) SetScratchpad(ctx context.Context, item *types.ScratchpadItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	var expires any
	if item.ExpiresAt != nil {
		expires = iso(*item.ExpiresAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scratchpad (project_id, key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, key) DO UPDATE SET
			value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		item.ProjectID, item.Key, item.Value, expires, iso(item.CreatedAt), iso(item.UpdatedAt))
	return wrapDBError("set scratchpad", err)
}

// GetScratchpad fetches a key, returning ErrNotFound if absent or expired.
func (s *Store) GetScratchpad(ctx context.Context, projectID, key string) (*types.ScratchpadItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, key, value, expires_at, created_at, updated_at
		FROM scratchpad WHERE project_id = ? AND key = ?`, projectID, key)

	item, err := scanScratchpad(row)
	if err != nil {
		return nil, err
	}
	if item.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	return item, nil
}

// DeleteScratchpad removes a key.
func (s *Store) DeleteScratchpad(ctx context.Context, projectID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scratchpad WHERE project_id = ? AND key = ?`, projectID, key)
	return wrapDBError("delete scratchpad", err)
}

// ListScratchpad returns all non-expired, non-internal keys for a project
// (internal __-prefixed keys are filtered out; use GetScratchpad for those).
func (s *Store) ListScratchpad(ctx context.Context, projectID string) ([]*types.ScratchpadItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, key, value, expires_at, created_at, updated_at
		FROM scratchpad WHERE project_id = ? AND key NOT LIKE '\_\_%' ESCAPE '\'
		ORDER BY updated_at DESC`, projectID)
	if err != nil {
		return nil, wrapDBError("list scratchpad", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []*types.ScratchpadItem
	for rows.Next() {
		item, err := scanScratchpad(rows)
		if err != nil {
			return nil, err
		}
		if item.Expired(now) {
			continue
		}
		out = append(out, item)
	}
	return out, wrapDBError("iterate scratchpad", rows.Err())
}

// ClearScratchpad deletes every non-internal key for a project.
func (s *Store) ClearScratchpad(ctx context.Context, projectID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scratchpad WHERE project_id = ? AND key NOT LIKE '\_\_%' ESCAPE '\'`, projectID)
	if err != nil {
		return 0, wrapDBError("clear scratchpad", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("clear scratchpad", err)
}

// AcquireConsolidationLock implements spec §4.7's cross-process advisory
// lock: it atomically inserts the `__system_consolidation_lock` row for
// holder if absent, or takes it over if the existing row is older than
// staleAfter. Returns false if a live lock is held by someone else.
func (s *Store) AcquireConsolidationLock(ctx context.Context, holder string, staleAfter time.Duration, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapDBError("acquire consolidation lock: begin", err)
	}
	defer tx.Rollback()

	var value, updatedAt string
	err = tx.QueryRowContext(ctx, `
		SELECT value, updated_at FROM scratchpad
		WHERE project_id = ? AND key = ?`, types.GlobalProject, types.KeyConsolidationLock).
		Scan(&value, &updatedAt)
	switch {
	case err == sql.ErrNoRows:
		// no existing lock, fall through to acquire
	case err != nil:
		return false, wrapDBError("acquire consolidation lock: read", err)
	default:
		last, perr := parseTime(updatedAt)
		if perr != nil {
			return false, perr
		}
		if now.Sub(last) < staleAfter {
			return false, wrapDBError("acquire consolidation lock: commit", tx.Commit())
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scratchpad (project_id, key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)
		ON CONFLICT (project_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		types.GlobalProject, types.KeyConsolidationLock, holder, iso(now), iso(now))
	if err != nil {
		return false, wrapDBError("acquire consolidation lock: write", err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapDBError("acquire consolidation lock: commit", err)
	}
	return true, nil
}

// ReleaseConsolidationLock clears the advisory lock row if still held by
// holder, run in a finally-equivalent defer by the consolidation cycle
// regardless of success or failure.
func (s *Store) ReleaseConsolidationLock(ctx context.Context, holder string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM scratchpad WHERE project_id = ? AND key = ? AND value = ?`,
		types.GlobalProject, types.KeyConsolidationLock, holder)
	return wrapDBError("release consolidation lock", err)
}

// PurgeExpiredScratchpad deletes expired rows; used by the consolidation
// cycle's scratchpad GC pass.
func (s *Store) PurgeExpiredScratchpad(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scratchpad WHERE expires_at IS NOT NULL AND expires_at <= ?`, iso(now))
	if err != nil {
		return 0, wrapDBError("purge expired scratchpad", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("purge expired scratchpad", err)
}

func scanScratchpad(r rowScanner) (*types.ScratchpadItem, error) {
	var item types.ScratchpadItem
	var expiresAt sql.NullString
	var createdAt, updatedAt string
	if err := r.Scan(&item.ProjectID, &item.Key, &item.Value, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, wrapDBError("scan scratchpad", err)
	}
	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, err
		}
		item.ExpiresAt = &t
	}
	return &item, nil
}
