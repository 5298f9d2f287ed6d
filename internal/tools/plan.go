package tools

import (
	"context"
	"encoding/json"

	"github.com/hostbridge/hostbridge/internal/plan"
	"github.com/hostbridge/hostbridge/internal/registry"
)

// planTools adapts the plan service to the tool surface.
type planTools struct {
	svc *plan.Service
}

func registerPlan(reg *registry.Registry, deps Deps) error {
	if deps.Plans == nil {
		return nil
	}
	t := &planTools{svc: deps.Plans}

	descriptors := []*registry.Descriptor{
		{
			Category:    "plan",
			Name:        "create",
			Description: "Register a multi-step plan of tool calls with dependencies. The plan is validated and ordered but not run until plan_execute.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"on_failure": {"type": "string", "enum": ["stop", "skip_dependents", "continue"], "default": "stop"},
				"tasks": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"properties": {
							"id": {"type": "string"},
							"name": {"type": "string"},
							"tool_category": {"type": "string"},
							"tool_name": {"type": "string"},
							"params": {"type": "object"},
							"depends_on": {"type": "array", "items": {"type": "string"}},
							"require_hitl": {"type": "boolean", "default": false},
							"on_failure": {"type": "string", "enum": ["stop", "skip_dependents", "continue"]}
						},
						"required": ["id", "tool_category", "tool_name"]
					}
				}
			},
			"required": ["name", "tasks"]
		}`),
			Handler: t.create,
		},
		{
			Category:    "plan",
			Name:        "execute",
			Description: "Run a created plan: independent tasks in parallel, dependents level by level, honoring the failure policy.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"plan_id": {"type": "string"}
			},
			"required": ["plan_id"]
		}`),
			Handler: t.execute,
		},
		{
			Category:    "plan",
			Name:        "status",
			Description: "Report the state of a plan and its tasks, including per-task outputs and errors.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"plan_id": {"type": "string"}
			},
			"required": ["plan_id"]
		}`),
			Handler: t.status,
		},
		{
			Category:    "plan",
			Name:        "list",
			Description: "List all known plans with their status and task counts.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler:     t.list,
		},
		{
			Category:    "plan",
			Name:        "cancel",
			Description: "Cancel a pending or running plan. Finished plans cannot be cancelled.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"plan_id": {"type": "string"}
			},
			"required": ["plan_id"]
		}`),
			Handler: t.cancel,
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

type planRefRequest struct {
	PlanID string `json:"plan_id"`
}

func (t *planTools) create(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in plan.CreateInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Create(in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *planTools) execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req planRefRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	res, err := t.svc.Execute(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *planTools) status(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req planRefRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	res, err := t.svc.Status(req.PlanID)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *planTools) list(ctx context.Context, _ map[string]any) (map[string]any, error) {
	return out(t.svc.List())
}

func (t *planTools) cancel(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req planRefRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	res, err := t.svc.Cancel(req.PlanID)
	if err != nil {
		return nil, err
	}
	return out(res)
}
