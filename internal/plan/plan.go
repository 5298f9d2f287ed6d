// Package plan implements the multi-step plan executor. A plan is a DAG of
// tool invocations: creation validates the graph and assigns each task an
// execution level, and execution walks the levels in order with same-level
// tasks running concurrently through the dispatch pipeline. Plans are held
// in memory only and do not survive a restart.
package plan

import "time"

// Plan and task statuses. Plans move pending -> running -> one of completed,
// failed or cancelled. Tasks move pending -> running -> completed or failed;
// a task that never runs because of a failure policy or a cancellation ends
// up skipped.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// Failure policies, applied per task from its override or the plan default.
const (
	PolicyStop           = "stop"
	PolicySkipDependents = "skip_dependents"
	PolicyContinue       = "continue"
)

func validPolicy(p string) bool {
	switch p {
	case PolicyStop, PolicySkipDependents, PolicyContinue:
		return true
	}
	return false
}

// Task is the executor's mutable record of one plan step. All fields are
// guarded by the owning Service's mutex once the plan is registered.
type Task struct {
	ID           string
	Name         string
	ToolCategory string
	ToolName     string
	Params       map[string]any
	DependsOn    []string
	RequireHITL  bool
	OnFailure    string
	Level        int

	Status      string
	Output      map[string]any
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Plan holds the task graph and its execution state. Tasks are ordered by
// (level, id); Levels holds the task ids that run together at each level.
type Plan struct {
	ID        string
	Name      string
	OnFailure string
	Status    string
	CreatedAt time.Time

	StartedAt   *time.Time
	CompletedAt *time.Time

	Tasks  []*Task
	Levels [][]string

	byID   map[string]*Task
	cancel func()
}

// completedOutputs snapshots the outputs of every completed task, keyed by
// task id. Callers must hold the service mutex.
func (p *Plan) completedOutputs() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, t := range p.Tasks {
		if t.Status == StatusCompleted {
			out[t.ID] = t.Output
		}
	}
	return out
}

// TaskInput describes one task of a plan to create.
type TaskInput struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	ToolCategory string         `json:"tool_category"`
	ToolName     string         `json:"tool_name"`
	Params       map[string]any `json:"params,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	RequireHITL  bool           `json:"require_hitl,omitempty"`
	OnFailure    string         `json:"on_failure,omitempty"`
}

// CreateInput is the request to register a new plan. OnFailure defaults to
// "stop" when empty.
type CreateInput struct {
	Name      string      `json:"name"`
	Tasks     []TaskInput `json:"tasks"`
	OnFailure string      `json:"on_failure,omitempty"`
}

// CreateResult reports the validated plan and its level-indexed execution
// order.
type CreateResult struct {
	PlanID          string     `json:"plan_id"`
	Name            string     `json:"name"`
	TaskCount       int        `json:"task_count"`
	ExecutionLevels int        `json:"execution_levels"`
	ExecutionOrder  [][]string `json:"execution_order"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ExecuteResult summarizes a finished run.
type ExecuteResult struct {
	PlanID         string `json:"plan_id"`
	Status         string `json:"status"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
	TasksSkipped   int    `json:"tasks_skipped"`
	DurationMs     int64  `json:"duration_ms"`
}

// TaskView is the per-task slice of a status response.
type TaskView struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	ToolCategory   string         `json:"tool_category"`
	ToolName       string         `json:"tool_name"`
	Status         string         `json:"status"`
	Output         map[string]any `json:"output,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	DependsOn      []string       `json:"depends_on"`
	ExecutionLevel int            `json:"execution_level"`
}

// StatusResult reports plan progress with per-task detail and status counts.
type StatusResult struct {
	PlanID         string     `json:"plan_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	OnFailure      string     `json:"on_failure"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Tasks          []TaskView `json:"tasks"`
	TasksTotal     int        `json:"tasks_total"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	TasksSkipped   int        `json:"tasks_skipped"`
	TasksRunning   int        `json:"tasks_running"`
}

// ListItem is the summary row for one plan.
type ListItem struct {
	PlanID      string     `json:"plan_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	OnFailure   string     `json:"on_failure"`
	TaskCount   int        `json:"task_count"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListResult lists all known plans, newest first.
type ListResult struct {
	Plans []ListItem `json:"plans"`
	Total int        `json:"total"`
}

// CancelResult reports how many tasks a cancellation skipped.
type CancelResult struct {
	PlanID         string `json:"plan_id"`
	CancelledTasks int    `json:"cancelled_tasks"`
	Status         string `json:"status"`
}
