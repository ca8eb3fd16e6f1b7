package types

import "time"

// TaskStatus is the lifecycle state of a ScheduledTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskTriggered TaskStatus = "triggered"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// ScheduledTask is a cron- or natural-language-scheduled reminder (spec §4.10).
type ScheduledTask struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	ScheduleExpr string    `json:"schedule_expr"`
	Status      TaskStatus `json:"status"`
	NextRun     time.Time  `json:"next_run"`
	Recurring   bool       `json:"recurring"`
	MemoryID    *string    `json:"memory_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskStep is one recorded step of a CurrentTask progress log (spec §4.8).
type TaskStep struct {
	Step        int       `json:"step"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// CurrentTask is the in-flight task-progress snapshot kept in the
// scratchpad under KeyCurrentTask.
type CurrentTask struct {
	Description  string     `json:"description"`
	TotalSteps   *int       `json:"total_steps,omitempty"`
	CurrentStep  int        `json:"current_step"`
	Steps        []TaskStep `json:"steps"`
	StartedAt    time.Time  `json:"started_at"`
	WorkingFiles []string   `json:"working_files,omitempty"`
}

// TrimSteps keeps only the last n steps, per spec §4.8 ("trims task steps
// to the last 5" on the first briefing of a session).
func (c *CurrentTask) TrimSteps(n int) {
	if len(c.Steps) > n {
		c.Steps = c.Steps[len(c.Steps)-n:]
	}
}
