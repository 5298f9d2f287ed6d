package policy

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// scriptTimeout bounds a single condition evaluation.
const scriptTimeout = 50 * time.Millisecond

// RuleConfig is one scripted policy rule. Condition is a JavaScript
// expression evaluated with `params` and `context` in scope; a truthy result
// triggers the rule's action. An empty condition always triggers.
type RuleConfig struct {
	Name      string   `yaml:"name"`
	Tools     []string `yaml:"tools"`
	Condition string   `yaml:"condition"`
	Action    Action   `yaml:"action"`
	Reason    string   `yaml:"reason"`
}

type scriptRule struct {
	name    string
	tools   []string
	action  Action
	reason  string
	program *goja.Program
}

func compileRule(rc RuleConfig) (*scriptRule, error) {
	switch rc.Action {
	case ActionAllow, ActionBlock, ActionHITL:
	default:
		return nil, fmt.Errorf("unknown action %q", rc.Action)
	}

	r := &scriptRule{
		name:   rc.Name,
		tools:  rc.Tools,
		action: rc.Action,
		reason: rc.Reason,
	}
	if r.reason == "" {
		r.reason = fmt.Sprintf("Matches policy rule '%s'", rc.Name)
	}

	if rc.Condition != "" {
		prog, err := goja.Compile(rc.Name, rc.Condition, true)
		if err != nil {
			return nil, fmt.Errorf("compile condition: %w", err)
		}
		r.program = prog
	}
	return r, nil
}

func (r *scriptRule) appliesTo(tool string) bool {
	if len(r.tools) == 0 {
		return true
	}
	return MatchAny(r.tools, tool)
}

// eval runs the compiled condition in a fresh VM. The VM sees only the two
// injected globals, and a runaway script is interrupted after scriptTimeout.
func (r *scriptRule) eval(params, context map[string]any) (bool, error) {
	if r.program == nil {
		return true, nil
	}

	vm := goja.New()
	if err := vm.Set("params", params); err != nil {
		return false, err
	}
	if err := vm.Set("context", context); err != nil {
		return false, err
	}

	timer := time.AfterFunc(scriptTimeout, func() {
		vm.Interrupt("condition timed out")
	})
	defer timer.Stop()

	v, err := vm.RunProgram(r.program)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}
