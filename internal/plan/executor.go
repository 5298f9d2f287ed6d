package plan

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostbridge/hostbridge/internal/dispatch"
	"github.com/hostbridge/hostbridge/internal/template"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// Execute runs a pending plan to completion, level by level. All tasks in a
// level reach a terminal status before the next level starts, so a task's
// output is visible to its dependents by the time they are scheduled. The
// call blocks until the plan finishes, fails or is cancelled.
func (s *Service) Execute(ctx context.Context, ref string) (*ExecuteResult, error) {
	s.mu.Lock()
	p, err := s.resolveLocked(ref)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var guard error
	switch p.Status {
	case StatusRunning:
		guard = toolerr.InvalidParamf("Plan '%s' is already running", p.ID)
	case StatusCompleted, StatusFailed:
		guard = toolerr.InvalidParamf("Plan '%s' already finished with status '%s'. Create a new plan to re-run.", p.ID, p.Status)
	case StatusCancelled:
		guard = toolerr.InvalidParamf("Plan '%s' is cancelled and cannot be executed", p.ID)
	}
	if guard != nil {
		s.mu.Unlock()
		return nil, guard
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now().UTC()
	p.Status = StatusRunning
	p.StartedAt = &now
	p.cancel = cancel
	levels := p.Levels
	s.mu.Unlock()

	start := time.Now()
	skipIDs := make(map[string]bool)
	stopAll := false

	for _, level := range levels {
		s.mu.Lock()
		if p.Status != StatusCancelled && runCtx.Err() != nil {
			// The surrounding request went away; wind the plan down the
			// same way an explicit cancel would.
			cancelPlanLocked(p, time.Now().UTC())
		}
		if p.Status == StatusCancelled {
			s.mu.Unlock()
			break
		}

		skipNow := time.Now().UTC()
		var run []*Task
		for _, id := range level {
			t := p.byID[id]
			if t.Status != StatusPending {
				continue
			}
			blocked := stopAll || skipIDs[t.ID]
			for _, dep := range t.DependsOn {
				if skipIDs[dep] {
					blocked = true
					break
				}
			}
			if blocked {
				t.Status = StatusSkipped
				ts := skipNow
				t.CompletedAt = &ts
				continue
			}
			run = append(run, t)
		}
		outputs := p.completedOutputs()
		s.mu.Unlock()

		if len(run) == 0 {
			continue
		}

		g := new(errgroup.Group)
		for _, t := range run {
			g.Go(func() error {
				return s.runTask(runCtx, p, t, outputs)
			})
		}
		if err := g.Wait(); err != nil {
			s.logger.Debug("plan level had failures", "plan_id", p.ID, "first_error", err)
		}

		s.mu.Lock()
		for _, t := range run {
			if t.Status != StatusFailed {
				continue
			}
			policy := t.OnFailure
			if policy == "" {
				policy = p.OnFailure
			}
			switch policy {
			case PolicyStop:
				stopAll = true
				skipIDs[t.ID] = true
			case PolicySkipDependents:
				for id := range transitiveDependents(t.ID, p.Tasks) {
					skipIDs[id] = true
				}
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	p.cancel = nil
	var completed, failed, skipped int
	for _, t := range p.Tasks {
		switch t.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	finalStatus := p.Status
	if finalStatus != StatusCancelled {
		finalStatus = StatusCompleted
		if failed > 0 {
			finalStatus = StatusFailed
		}
		p.Status = finalStatus
		done := time.Now().UTC()
		p.CompletedAt = &done
	}
	s.mu.Unlock()

	durationMs := time.Since(start).Milliseconds()
	s.logger.Info("plan executed",
		"plan_id", p.ID,
		"status", finalStatus,
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"duration_ms", durationMs)

	return &ExecuteResult{
		PlanID:         p.ID,
		Status:         finalStatus,
		TasksCompleted: completed,
		TasksFailed:    failed,
		TasksSkipped:   skipped,
		DurationMs:     durationMs,
	}, nil
}

// runTask resolves task references, dispatches the tool call and records the
// terminal status. The returned error only feeds the level's failure log;
// failure handling works off the recorded task status.
func (s *Service) runTask(ctx context.Context, p *Plan, t *Task, outputs map[string]map[string]any) error {
	params, err := template.ExpandTaskRefs(t.Params, outputs)
	if err != nil {
		msg := "Failed to resolve task references: " + err.Error()
		s.finishTask(t, StatusFailed, nil, msg)
		return errors.New(msg)
	}

	s.mu.Lock()
	if t.Status != StatusPending {
		s.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	s.mu.Unlock()

	out, err := s.dispatcher.Dispatch(ctx, &dispatch.Invocation{
		Protocol:    "plan",
		Category:    t.ToolCategory,
		Name:        t.ToolName,
		Params:      params,
		Context:     map[string]any{"plan_id": p.ID, "task_id": t.ID},
		RequireHITL: t.RequireHITL,
	})
	if err != nil {
		s.finishTask(t, StatusFailed, nil, err.Error())
		return err
	}
	if out == nil {
		out = map[string]any{}
	}
	s.finishTask(t, StatusCompleted, out, "")
	return nil
}

// finishTask records a terminal status. A task already skipped by a cancel
// keeps that status; whatever the dispatch produced is dropped.
func (s *Service) finishTask(t *Task, status string, output map[string]any, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status != StatusPending && t.Status != StatusRunning {
		return
	}
	now := time.Now().UTC()
	t.Status = status
	t.Output = output
	t.Error = errMsg
	t.CompletedAt = &now
}
