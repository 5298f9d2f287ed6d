// Package policy decides whether a tool invocation runs, is blocked, or is
// held for human approval. Evaluation is pure and synchronous: pattern
// checks, scripted rule conditions, then the tool's configured base action.
package policy

import (
	"fmt"
	"log/slog"
)

// Action is a policy outcome.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
	ActionHITL  Action = "hitl"
)

// Decision is the result of evaluating one invocation.
type Decision struct {
	Action     Action
	Reason     string
	TTLSeconds int // approval window, set when Action is ActionHITL
}

// ToolPolicy configures policy for a single tool or the defaults applied
// when no per-tool entry exists.
type ToolPolicy struct {
	Action            Action   `yaml:"action"`
	WorkspaceOverride Action   `yaml:"workspace_override"`
	BlockPatterns     []string `yaml:"block_patterns"`
	HITLPatterns      []string `yaml:"hitl_patterns"`
	PatternParam      string   `yaml:"pattern_param"`
	TTLSeconds        int      `yaml:"ttl_seconds"`
}

// Config is the policy section of the application configuration.
type Config struct {
	// Defaults applies to tools without their own entry. Its zero Action
	// means allow with workspace overrides requiring approval.
	Defaults ToolPolicy `yaml:"defaults"`
	// Tools is keyed by full tool name, e.g. "fs_write".
	Tools map[string]ToolPolicy `yaml:"tools"`
	// Rules are scripted conditions evaluated after pattern checks.
	Rules []RuleConfig `yaml:"rules"`
	// DefaultTTLSeconds is the approval window when a tool policy does not
	// set its own.
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
}

// Input carries everything the engine needs about one invocation.
type Input struct {
	Category string
	Name     string
	Params   map[string]any
	// Context is exposed to scripted rule conditions (protocol, request id).
	Context map[string]any
	// RequiresHITL is the tool descriptor's default, consulted last.
	// HITLReason labels the approval request when that default fires.
	RequiresHITL bool
	HITLReason   string
}

// Engine evaluates invocations against the configured policy table.
type Engine struct {
	defaults ToolPolicy
	tools    map[string]ToolPolicy
	rules    []*scriptRule
	ttl      int
	logger   *slog.Logger
}

// NewEngine compiles the scripted rules and returns a ready engine.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	defaults := cfg.Defaults
	if defaults.Action == "" {
		defaults.Action = ActionAllow
	}
	if defaults.WorkspaceOverride == "" {
		defaults.WorkspaceOverride = ActionHITL
	}

	ttl := cfg.DefaultTTLSeconds
	if ttl <= 0 {
		ttl = 300
	}

	rules := make([]*scriptRule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		r, err := compileRule(rc)
		if err != nil {
			return nil, fmt.Errorf("policy rule %q: %w", rc.Name, err)
		}
		rules = append(rules, r)
	}

	return &Engine{
		defaults: defaults,
		tools:    cfg.Tools,
		rules:    rules,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

// Evaluate decides the outcome for one invocation. Order: block patterns,
// HITL patterns, workspace override gate, scripted rules, the tool's base
// action, then the descriptor default.
func (e *Engine) Evaluate(in Input) Decision {
	tool := in.Category + "_" + in.Name
	tp := e.toolPolicy(tool)

	if primary := e.primaryParam(tp, in.Params); primary != "" {
		if MatchAny(tp.BlockPatterns, primary) {
			return e.block(tool, "Matches block pattern")
		}
		if MatchAny(tp.HITLPatterns, primary) {
			return e.hitl(tool, "Matches HITL pattern", tp)
		}
	}

	if override, ok := in.Params["workspace_dir"].(string); ok && override != "" {
		switch tp.WorkspaceOverride {
		case ActionBlock:
			return e.block(tool, "Workspace override not allowed")
		case ActionHITL:
			return e.hitl(tool, "Workspace override requires approval", tp)
		}
	}

	for _, rule := range e.rules {
		if !rule.appliesTo(tool) {
			continue
		}
		matched, err := rule.eval(in.Params, in.Context)
		if err != nil {
			e.logger.Warn("policy rule condition failed",
				"rule", rule.name, "tool", tool, "error", err)
			continue
		}
		if !matched {
			continue
		}
		switch rule.action {
		case ActionBlock:
			return e.block(tool, rule.reason)
		case ActionHITL:
			return e.hitl(tool, rule.reason, tp)
		case ActionAllow:
			e.logger.Debug("policy allowed", "tool", tool, "rule", rule.name)
			return Decision{Action: ActionAllow}
		}
	}

	switch tp.Action {
	case ActionBlock:
		return e.block(tool, "Tool is blocked by policy")
	case ActionHITL:
		return e.hitl(tool, "Tool requires approval by policy", tp)
	}

	if in.RequiresHITL {
		reason := in.HITLReason
		if reason == "" {
			reason = "Requires approval"
		}
		return e.hitl(tool, reason, tp)
	}

	e.logger.Debug("policy allowed", "tool", tool)
	return Decision{Action: ActionAllow}
}

// TTLSeconds returns the approval window for a tool, falling back to the
// engine default.
func (e *Engine) TTLSeconds(category, name string) int {
	tp := e.toolPolicy(category + "_" + name)
	if tp.TTLSeconds > 0 {
		return tp.TTLSeconds
	}
	return e.ttl
}

func (e *Engine) toolPolicy(tool string) ToolPolicy {
	tp, ok := e.tools[tool]
	if !ok {
		return e.defaults
	}
	if tp.Action == "" {
		tp.Action = e.defaults.Action
	}
	if tp.WorkspaceOverride == "" {
		tp.WorkspaceOverride = e.defaults.WorkspaceOverride
	}
	return tp
}

// primaryParam extracts the parameter value patterns are matched against.
// Defaults to "path", then "command" for tools without one.
func (e *Engine) primaryParam(tp ToolPolicy, params map[string]any) string {
	if tp.PatternParam != "" {
		s, _ := params[tp.PatternParam].(string)
		return s
	}
	if s, _ := params["path"].(string); s != "" {
		return s
	}
	s, _ := params["command"].(string)
	return s
}

func (e *Engine) block(tool, reason string) Decision {
	e.logger.Info("policy blocked", "tool", tool, "reason", reason)
	return Decision{Action: ActionBlock, Reason: reason}
}

func (e *Engine) hitl(tool, reason string, tp ToolPolicy) Decision {
	e.logger.Info("policy requires approval", "tool", tool, "reason", reason)
	ttl := tp.TTLSeconds
	if ttl <= 0 {
		ttl = e.ttl
	}
	return Decision{Action: ActionHITL, Reason: reason, TTLSeconds: ttl}
}
