// Package scheduler implements spec §4.10's scheduled tasks: an
// expression is parsed as either cron (5-6 fields) or a natural-language
// phrase, check() atomically flips due rows to triggered and re-arms
// recurring ones, and complete/cancel are idempotent on terminal states.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/robfig/cron/v3"

	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

// ParseError is returned when expr matches neither cron nor natural
// language syntax, carrying a hint for the caller (spec §4.10: "On parse
// failure return {error, hint}").
type ParseError struct {
	Input string
	Hint  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scheduler: could not parse schedule expression %q", e.Input)
}

const parseHint = `expected a 5-6 field cron expression (e.g. "0 9 * * 1-5") or a natural-language phrase (e.g. "tomorrow at 9am", "in 30 minutes", "every weekday")`

// Service schedules, checks, and resolves scheduled tasks.
type Service struct {
	store      *storage.Store
	cronParser cron.Parser
	nlParser   *when.Parser
}

// New constructs a Service with English natural-language rules loaded.
func New(store *storage.Store) *Service {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Service{
		store:      store,
		cronParser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		nlParser:   w,
	}
}

// Schedule creates a task for title, parsing expr as cron or natural
// language to compute the initial next_run (spec §4.10 "schedule").
func (s *Service) Schedule(ctx context.Context, projectID, title, expr string, memoryID *string) (*types.ScheduledTask, error) {
	now := time.Now().UTC()
	next, recurring, err := s.parseExpr(expr, now)
	if err != nil {
		return nil, err
	}
	t := &types.ScheduledTask{
		ProjectID:    projectID,
		Title:        title,
		ScheduleExpr: expr,
		NextRun:      next,
		Recurring:    recurring,
		MemoryID:     memoryID,
	}
	if err := s.store.CreateScheduledTask(ctx, t); err != nil {
		return nil, fmt.Errorf("scheduler: create scheduled task: %w", err)
	}
	return t, nil
}

// List returns tasks for a project, optionally filtered by status.
func (s *Service) List(ctx context.Context, projectID string, status types.TaskStatus) ([]*types.ScheduledTask, error) {
	return s.store.ListScheduledTasks(ctx, projectID, status)
}

// Check atomically flips every due pending task to triggered and returns
// them; recurring tasks are immediately re-armed by recomputing next_run
// from their original expression and resetting to pending (spec §4.10).
func (s *Service) Check(ctx context.Context, projectID string) ([]*types.ScheduledTask, error) {
	now := time.Now().UTC()
	due, err := s.store.CheckDueTasks(ctx, projectID, now)
	if err != nil {
		return nil, fmt.Errorf("scheduler: check due tasks: %w", err)
	}
	for _, t := range due {
		if !t.Recurring {
			continue
		}
		next, _, err := s.parseExpr(t.ScheduleExpr, now)
		if err != nil {
			// The expression no longer parses (shouldn't happen since it
			// parsed at schedule time); leave the row triggered rather
			// than silently dropping it.
			continue
		}
		if err := s.store.UpdateTaskStatus(ctx, t.ID, types.TaskPending, &next); err != nil {
			return nil, fmt.Errorf("scheduler: re-arm recurring task: %w", err)
		}
	}
	return due, nil
}

// Complete marks id completed. Idempotent: a no-op if already in a
// terminal state (spec §4.10 "complete and cancel are idempotent on
// terminal states").
func (s *Service) Complete(ctx context.Context, id string) error {
	return s.transitionTerminal(ctx, id, types.TaskCompleted)
}

// Cancel marks id cancelled. Idempotent, same as Complete.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.transitionTerminal(ctx, id, types.TaskCancelled)
}

func (s *Service) transitionTerminal(ctx context.Context, id string, target types.TaskStatus) error {
	t, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return fmt.Errorf("scheduler: get scheduled task: %w", err)
	}
	if t.Status == types.TaskCompleted || t.Status == types.TaskCancelled {
		return nil
	}
	if err := s.store.UpdateTaskStatus(ctx, id, target, nil); err != nil {
		return fmt.Errorf("scheduler: update task status: %w", err)
	}
	return nil
}

// parseExpr tries expr as a cron schedule first, then as a
// natural-language phrase. Cron expressions are always recurring;
// natural-language phrases are recurring only when they read as a
// repeating rule ("every weekday", "every monday at 9am").
func (s *Service) parseExpr(expr string, now time.Time) (nextRun time.Time, recurring bool, err error) {
	if sched, cerr := s.cronParser.Parse(expr); cerr == nil {
		return sched.Next(now), true, nil
	}

	r, werr := s.nlParser.Parse(expr, now)
	if werr != nil || r == nil {
		return time.Time{}, false, &ParseError{Input: expr, Hint: parseHint}
	}
	return r.Time, strings.Contains(strings.ToLower(expr), "every"), nil
}
