// Package dispatch runs every tool invocation through one uniform pipeline:
// descriptor lookup, policy, the approval gate, secret expansion, schema
// validation, the handler, and the audit write. Both protocol adapters call
// into this engine and nothing else executes tools.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hostbridge/hostbridge/internal/audit"
	"github.com/hostbridge/hostbridge/internal/hitl"
	"github.com/hostbridge/hostbridge/internal/policy"
	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/secrets"
	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/template"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// Invocation is the protocol-independent form of one tool call. Params hold
// the caller's original values; secret templates are expanded only after
// policy and approval have seen the template form. RequireHITL forces the
// approval gate regardless of policy, used by plan tasks flagged
// require_hitl.
type Invocation struct {
	ID          string
	Protocol    string // "rest" or "mcp"
	Category    string
	Name        string
	Params      map[string]any
	Context     map[string]any
	RequireHITL bool
}

// Engine glues policy, approvals, secrets, validation and audit around tool
// handlers.
type Engine struct {
	registry       *registry.Registry
	policy         *policy.Engine
	hitl           *hitl.Manager
	secrets        *secrets.Store
	audit          *audit.Logger
	handlerTimeout time.Duration
	logger         *slog.Logger
}

// NewEngine wires the dispatch pipeline. handlerTimeout bounds a single
// handler execution; zero disables the bound.
func NewEngine(
	reg *registry.Registry,
	pol *policy.Engine,
	approvals *hitl.Manager,
	sec *secrets.Store,
	auditLogger *audit.Logger,
	handlerTimeout time.Duration,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry:       reg,
		policy:         pol,
		hitl:           approvals,
		secrets:        sec,
		audit:          auditLogger,
		handlerTimeout: handlerTimeout,
		logger:         logger,
	}
}

// Dispatch executes one invocation. The audit entry is written before the
// result or error is returned, so observers querying the log after a
// response always find the matching entry.
func (e *Engine) Dispatch(ctx context.Context, inv *Invocation) (map[string]any, error) {
	start := time.Now()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}

	fullName := inv.Category + "_" + inv.Name
	desc, ok := e.registry.Get(inv.Category, inv.Name)
	if !ok {
		return nil, toolerr.NotFoundf("Tool '%s' not found", fullName)
	}

	var decision policy.Decision
	if inv.RequireHITL {
		decision = policy.Decision{
			Action:     policy.ActionHITL,
			Reason:     "Task requires approval (require_hitl)",
			TTLSeconds: e.policy.TTLSeconds(inv.Category, inv.Name),
		}
	} else {
		decision = e.policy.Evaluate(policy.Input{
			Category:     inv.Category,
			Name:         inv.Name,
			Params:       inv.Params,
			Context:      inv.Context,
			RequiresHITL: desc.RequiresHITL,
			HITLReason:   desc.HITLReason,
		})
	}

	if decision.Action == policy.ActionBlock {
		e.record(inv, start, store.AuditStatusBlocked, "", nil, decision.Reason)
		return nil, toolerr.Blockedf("Operation blocked: %s", decision.Reason)
	}

	hitlID := ""
	approved := false
	if decision.Action == policy.ActionHITL {
		e.logger.Info("approval required", "tool", fullName, "reason", decision.Reason)

		req := &hitl.Request{
			ID:                inv.ID,
			ToolCategory:      inv.Category,
			ToolName:          inv.Name,
			RequestParams:     inv.Params,
			RequestContext:    inv.Context,
			PolicyRuleMatched: decision.Reason,
			TTLSeconds:        decision.TTLSeconds,
		}
		hitlID = req.ID

		_, err := e.hitl.Submit(ctx, req)
		switch {
		case err == nil:
			approved = true
			e.logger.Info("approval granted, executing", "tool", fullName)
		case errors.Is(err, hitl.ErrRejected):
			e.record(inv, start, store.AuditStatusHITLRejected, hitlID, nil,
				"Operation rejected by administrator")
			return nil, toolerr.Newf(toolerr.KindHITLRejected,
				"Operation not permitted. The request was reviewed and rejected.")
		case errors.Is(err, hitl.ErrExpired):
			e.record(inv, start, store.AuditStatusHITLExpired, hitlID, nil,
				"Operation timed out waiting for approval")
			return nil, toolerr.Wrap(toolerr.KindTimeout, hitl.ErrExpired,
				"Operation timed out waiting for processing. Please try again later.")
		default:
			e.record(inv, start, store.AuditStatusError, hitlID, nil,
				"client disconnected while awaiting approval")
			return nil, err
		}
	}

	expanded, err := template.ExpandSecrets(inv.Params, e.secrets)
	if err != nil {
		e.record(inv, start, store.AuditStatusError, hitlID, nil, err.Error())
		return nil, err
	}

	if err := desc.ValidateParams(expanded); err != nil {
		classified := toolerr.Wrap(toolerr.KindInvalidParameter, err, err.Error())
		e.record(inv, start, store.AuditStatusError, hitlID, nil, classified.Message)
		return nil, classified
	}

	hctx := ctx
	if e.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, e.handlerTimeout)
		defer cancel()
	}

	result, herr := desc.Handler(hctx, expanded)
	if herr != nil {
		if errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			herr = toolerr.Wrap(toolerr.KindTimeout, context.DeadlineExceeded,
				fmt.Sprintf("Tool execution timed out after %s", e.handlerTimeout))
		}

		// Audit keeps the original message; the caller sees the classified,
		// masked form.
		e.record(inv, start, store.AuditStatusError, hitlID, nil, e.secrets.Mask(herr.Error()))

		classified := toolerr.Classify(herr)
		if masked := e.secrets.Mask(classified.Message); masked != classified.Message {
			c := *classified
			c.Message = masked
			classified = &c
		}
		return nil, classified
	}

	status := store.AuditStatusSuccess
	if approved {
		status = store.AuditStatusHITLApproved
	}
	e.record(inv, start, status, hitlID, result, "")
	return result, nil
}

// record writes the audit entry for a finished invocation. Request params
// are recorded in their pre-expansion form. The write uses a fresh context
// so a cancelled caller still leaves a record; failures are logged, not
// propagated.
func (e *Engine) record(
	inv *Invocation,
	start time.Time,
	status string,
	hitlID string,
	result map[string]any,
	errorMessage string,
) {
	params, err := json.Marshal(inv.Params)
	if err != nil {
		params = []byte("{}")
	}

	entry := &store.AuditEntry{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Protocol:        inv.Protocol,
		ToolCategory:    inv.Category,
		ToolName:        inv.Name,
		Status:          status,
		DurationMs:      float64(time.Since(start).Microseconds()) / 1000.0,
		ErrorMessage:    errorMessage,
		RequestParams:   params,
		ResponseSummary: e.secrets.Mask(audit.Summarize(result)),
		HITLRequestID:   hitlID,
	}

	if err := e.audit.Record(context.Background(), entry); err != nil {
		e.logger.Error("audit record failed",
			"tool", inv.Category+"_"+inv.Name, "status", status, "error", err)
	}
}
