package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/hostbridge/internal/dispatch"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// Dispatcher runs one tool invocation through the dispatch pipeline.
// *dispatch.Engine satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv *dispatch.Invocation) (map[string]any, error)
}

// Service owns the in-memory plan registry and the executor. One mutex
// guards every plan and task; task transitions and output publication are
// atomic under it.
type Service struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	mu    sync.Mutex
	plans map[string]*Plan
	order []string // plan ids in creation order
}

// NewService returns a Service executing tasks through dispatcher.
func NewService(dispatcher Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		dispatcher: dispatcher,
		logger:     logger,
		plans:      make(map[string]*Plan),
	}
}

// Create validates the task graph and registers the plan in pending state.
// Nothing executes until Execute is called.
func (s *Service) Create(in CreateInput) (*CreateResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, toolerr.InvalidParamf("Plan requires a name")
	}
	if len(in.Tasks) == 0 {
		return nil, toolerr.InvalidParamf("Plan must contain at least one task")
	}

	onFailure := in.OnFailure
	if onFailure == "" {
		onFailure = PolicyStop
	}
	if !validPolicy(onFailure) {
		return nil, toolerr.InvalidParamf("Invalid on_failure '%s'. Must be one of: stop, skip_dependents, continue", in.OnFailure)
	}

	seen := make(map[string]bool, len(in.Tasks))
	duped := make(map[string]bool)
	var dupes []string
	for i, t := range in.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return nil, toolerr.InvalidParamf("Task %d requires an id", i+1)
		}
		if t.ToolCategory == "" || t.ToolName == "" {
			return nil, toolerr.InvalidParamf("Task '%s' requires tool_category and tool_name", t.ID)
		}
		if t.OnFailure != "" && !validPolicy(t.OnFailure) {
			return nil, toolerr.InvalidParamf("Task '%s' has invalid on_failure '%s'", t.ID, t.OnFailure)
		}
		if seen[t.ID] && !duped[t.ID] {
			duped[t.ID] = true
			dupes = append(dupes, t.ID)
		}
		seen[t.ID] = true
	}
	if len(dupes) > 0 {
		return nil, toolerr.InvalidParamf("Duplicate task IDs: %s", strings.Join(dupes, ", "))
	}

	p := &Plan{
		ID:        uuid.NewString(),
		Name:      name,
		OnFailure: onFailure,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		byID:      make(map[string]*Task, len(in.Tasks)),
	}
	for _, ti := range in.Tasks {
		params := ti.Params
		if params == nil {
			params = map[string]any{}
		}
		t := &Task{
			ID:           ti.ID,
			Name:         ti.Name,
			ToolCategory: ti.ToolCategory,
			ToolName:     ti.ToolName,
			Params:       params,
			DependsOn:    append([]string{}, ti.DependsOn...),
			RequireHITL:  ti.RequireHITL,
			OnFailure:    ti.OnFailure,
			Status:       StatusPending,
		}
		p.Tasks = append(p.Tasks, t)
		p.byID[t.ID] = t
	}

	levels, err := computeLevels(p.Tasks)
	if err != nil {
		return nil, err
	}
	p.Levels = levels
	for i, level := range levels {
		for _, id := range level {
			p.byID[id].Level = i
		}
	}
	sort.Slice(p.Tasks, func(i, j int) bool {
		if p.Tasks[i].Level != p.Tasks[j].Level {
			return p.Tasks[i].Level < p.Tasks[j].Level
		}
		return p.Tasks[i].ID < p.Tasks[j].ID
	})

	s.mu.Lock()
	s.plans[p.ID] = p
	s.order = append(s.order, p.ID)
	s.mu.Unlock()

	s.logger.Info("plan created",
		"plan_id", p.ID,
		"name", p.Name,
		"tasks", len(p.Tasks),
		"levels", len(levels))

	return &CreateResult{
		PlanID:          p.ID,
		Name:            p.Name,
		TaskCount:       len(p.Tasks),
		ExecutionLevels: len(levels),
		ExecutionOrder:  levels,
		CreatedAt:       p.CreatedAt,
	}, nil
}

// resolveLocked finds a plan by id first, then by unique name. Name matches
// are considered newest first. Callers must hold s.mu.
func (s *Service) resolveLocked(ref string) (*Plan, error) {
	if p, ok := s.plans[ref]; ok {
		return p, nil
	}

	var matches []*Plan
	for i := len(s.order) - 1; i >= 0; i-- {
		if p := s.plans[s.order[i]]; p.Name == ref {
			matches = append(matches, p)
		}
	}
	switch {
	case len(matches) == 1:
		s.logger.Debug("plan reference resolved", "reference", ref, "plan_id", matches[0].ID)
		return matches[0], nil
	case len(matches) > 1:
		sample := make([]string, 0, 5)
		for _, p := range matches {
			if len(sample) == 5 {
				break
			}
			sample = append(sample, p.ID)
		}
		extra := ""
		if n := len(matches) - len(sample); n > 0 {
			extra = fmt.Sprintf(" (+%d more)", n)
		}
		return nil, toolerr.InvalidParamf("Multiple plans named '%s' found (plan_ids: %s%s). Use the exact plan_id returned by plan_create.", ref, strings.Join(sample, ", "), extra)
	}
	return nil, toolerr.NotFoundf("Plan '%s' not found. Pass the plan_id returned by plan_create.", ref)
}

// Status reports plan progress with per-task detail, tasks ordered by
// (level, id).
func (s *Service) Status(ref string) (*StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.resolveLocked(ref)
	if err != nil {
		return nil, err
	}

	res := &StatusResult{
		PlanID:      p.ID,
		Name:        p.Name,
		Status:      p.Status,
		OnFailure:   p.OnFailure,
		CreatedAt:   p.CreatedAt,
		StartedAt:   p.StartedAt,
		CompletedAt: p.CompletedAt,
		Tasks:       make([]TaskView, 0, len(p.Tasks)),
		TasksTotal:  len(p.Tasks),
	}
	for _, t := range p.Tasks {
		res.Tasks = append(res.Tasks, TaskView{
			ID:             t.ID,
			Name:           t.Name,
			ToolCategory:   t.ToolCategory,
			ToolName:       t.ToolName,
			Status:         t.Status,
			Output:         t.Output,
			Error:          t.Error,
			StartedAt:      t.StartedAt,
			CompletedAt:    t.CompletedAt,
			DependsOn:      t.DependsOn,
			ExecutionLevel: t.Level,
		})
		switch t.Status {
		case StatusCompleted:
			res.TasksCompleted++
		case StatusFailed:
			res.TasksFailed++
		case StatusSkipped:
			res.TasksSkipped++
		case StatusRunning:
			res.TasksRunning++
		}
	}
	return res, nil
}

// List returns a summary of every plan, newest first.
func (s *Service) List() *ListResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]ListItem, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		p := s.plans[s.order[i]]
		items = append(items, ListItem{
			PlanID:      p.ID,
			Name:        p.Name,
			Status:      p.Status,
			OnFailure:   p.OnFailure,
			TaskCount:   len(p.Tasks),
			CreatedAt:   p.CreatedAt,
			StartedAt:   p.StartedAt,
			CompletedAt: p.CompletedAt,
		})
	}
	return &ListResult{Plans: items, Total: len(items)}
}

// Cancel marks every pending and running task skipped and the plan
// cancelled. In-flight tasks get their context cancelled; side effects they
// already committed stay committed. Completed and cancelled plans refuse.
func (s *Service) Cancel(ref string) (*CancelResult, error) {
	s.mu.Lock()
	p, err := s.resolveLocked(ref)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if p.Status == StatusCompleted || p.Status == StatusCancelled {
		status := p.Status
		planID := p.ID
		s.mu.Unlock()
		return nil, toolerr.InvalidParamf("Plan '%s' is already '%s' and cannot be cancelled", planID, status)
	}

	cancelled := cancelPlanLocked(p, time.Now().UTC())
	stop := p.cancel
	p.cancel = nil
	planID := p.ID
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.logger.Info("plan cancelled", "plan_id", planID, "cancelled_tasks", cancelled)

	return &CancelResult{
		PlanID:         planID,
		CancelledTasks: cancelled,
		Status:         StatusCancelled,
	}, nil
}

// cancelPlanLocked skips every non-terminal task and marks the plan
// cancelled. Callers must hold the service mutex.
func cancelPlanLocked(p *Plan, now time.Time) int {
	cancelled := 0
	for _, t := range p.Tasks {
		if t.Status == StatusPending || t.Status == StatusRunning {
			t.Status = StatusSkipped
			ts := now
			t.CompletedAt = &ts
			cancelled++
		}
	}
	p.Status = StatusCancelled
	p.CompletedAt = &now
	return cancelled
}
