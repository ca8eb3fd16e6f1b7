package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// CreateScheduledTask inserts a new task.
func (s *Store) CreateScheduledTask(ctx context.Context, t *types.ScheduledTask) error {
	if t.ID == "" {
		t.ID = types.NewID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = types.TaskPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, project_id, title, schedule_expr, status, next_run, recurring, memory_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.ScheduleExpr, string(t.Status), iso(t.NextRun),
		boolToInt(t.Recurring), t.MemoryID, iso(t.CreatedAt), iso(t.UpdatedAt))
	return wrapDBError("create scheduled task", err)
}

// GetScheduledTask fetches a task by id.
func (s *Store) GetScheduledTask(ctx context.Context, id string) (*types.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, schedule_expr, status, next_run, recurring, memory_id, created_at, updated_at
		FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return nil, wrapDBError("get scheduled task", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return tasks[0], nil
}

// CheckDueTasks atomically flips every pending task whose next_run has
// elapsed as of now to "triggered" and returns the rows as they were
// just before the flip (spec §4.10 "check()": "atomically flips due rows
// from pending to triggered and returns them").
func (s *Store) CheckDueTasks(ctx context.Context, projectID string, now time.Time) ([]*types.ScheduledTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("check due tasks: begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, project_id, title, schedule_expr, status, next_run, recurring, memory_id, created_at, updated_at
		FROM scheduled_tasks
		WHERE project_id = ? AND status = ? AND next_run <= ?
		ORDER BY next_run ASC`, projectID, string(types.TaskPending), iso(now))
	if err != nil {
		return nil, wrapDBError("check due tasks: select", err)
	}
	due, err := scanTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, wrapDBError("check due tasks: commit", tx.Commit())
	}

	for _, t := range due {
		if _, err := tx.ExecContext(ctx, `
			UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(types.TaskTriggered), iso(now), t.ID); err != nil {
			return nil, wrapDBError("check due tasks: flip", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("check due tasks: commit", err)
	}
	for _, t := range due {
		t.Status = types.TaskTriggered
	}
	return due, nil
}

// DueTasks returns pending tasks whose next_run has elapsed as of now.
func (s *Store) DueTasks(ctx context.Context, projectID string, now time.Time) ([]*types.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, schedule_expr, status, next_run, recurring, memory_id, created_at, updated_at
		FROM scheduled_tasks
		WHERE project_id = ? AND status = ? AND next_run <= ?
		ORDER BY next_run ASC`, projectID, string(types.TaskPending), iso(now))
	if err != nil {
		return nil, wrapDBError("due tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListScheduledTasks returns tasks for a project, optionally filtered by status.
func (s *Store) ListScheduledTasks(ctx context.Context, projectID string, status types.TaskStatus) ([]*types.ScheduledTask, error) {
	query := `
		SELECT id, project_id, title, schedule_expr, status, next_run, recurring, memory_id, created_at, updated_at
		FROM scheduled_tasks WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY next_run ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list scheduled tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// UpdateTaskStatus transitions a task's status, and for recurring tasks
// that trigger, advances next_run to newNextRun instead of completing it.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus, newNextRun *time.Time) error {
	now := time.Now().UTC()
	var err error
	if newNextRun != nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE scheduled_tasks SET status = ?, next_run = ?, updated_at = ? WHERE id = ?`,
			string(status), iso(*newNextRun), iso(now), id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), iso(now), id)
	}
	return wrapDBError("update task status", err)
}

func scanTasks(rows *sql.Rows) ([]*types.ScheduledTask, error) {
	var out []*types.ScheduledTask
	for rows.Next() {
		var t types.ScheduledTask
		var status, nextRun, createdAt, updatedAt string
		var recurring int
		var memoryID sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.ScheduleExpr, &status,
			&nextRun, &recurring, &memoryID, &createdAt, &updatedAt); err != nil {
			return nil, wrapDBError("scan scheduled task", err)
		}
		t.Status = types.TaskStatus(status)
		t.Recurring = recurring != 0
		if memoryID.Valid {
			t.MemoryID = &memoryID.String
		}
		var err error
		if t.NextRun, err = parseTime(nextRun); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, wrapDBError("iterate scheduled tasks", rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
