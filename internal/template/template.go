// Package template expands {{secret:KEY}} and {{task:ID.FIELD}} placeholders
// inside tool parameter trees. Expansion rebuilds the tree, so callers keep
// the unexpanded form for audit and approval display.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hostbridge/hostbridge/internal/toolerr"
)

var (
	secretRe   = regexp.MustCompile(`\{\{secret:([A-Za-z0-9_]+)\}\}`)
	taskRe     = regexp.MustCompile(`\{\{task:([^.}\s]+)(?:\.([^}\s]+))?\}\}`)
	taskFullRe = regexp.MustCompile(`^\{\{task:([^.}\s]+)(?:\.([^}\s]+))?\}\}$`)
)

// SecretSource is the subset of the secrets store needed for expansion.
type SecretSource interface {
	Get(key string) (string, bool)
	Keys() []string
}

// ContainsSecretRef reports whether any string leaf of params carries a
// {{secret:KEY}} placeholder.
func ContainsSecretRef(params map[string]any) bool {
	found := false
	walkStrings(params, func(s string) {
		if secretRe.MatchString(s) {
			found = true
		}
	})
	return found
}

// ExpandSecrets replaces every {{secret:KEY}} in the string leaves of params
// with the key's current value. An unknown key fails the whole expansion.
func ExpandSecrets(params map[string]any, src SecretSource) (map[string]any, error) {
	out, err := expandSecretValue(params, src)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func expandSecretValue(v any, src SecretSource) (any, error) {
	switch t := v.(type) {
	case string:
		var expandErr error
		replaced := secretRe.ReplaceAllStringFunc(t, func(m string) string {
			key := secretRe.FindStringSubmatch(m)[1]
			val, ok := src.Get(key)
			if !ok {
				available := strings.Join(src.Keys(), ", ")
				if available == "" {
					available = "(none)"
				}
				expandErr = toolerr.InvalidParamf("Secret key '%s' not found. Available keys: %s", key, available)
				return m
			}
			return val
		})
		if expandErr != nil {
			return nil, expandErr
		}
		return replaced, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			ev, err := expandSecretValue(vv, src)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			ev, err := expandSecretValue(vv, src)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

// ExpandTaskRefs replaces {{task:ID.FIELD}} and {{task:ID}} placeholders with
// values from completed task outputs. A string that is exactly one field-less
// reference is replaced by the whole output object, preserving its type;
// field references substitute the field's value, stringified when it is not
// already a string. Unknown tasks and missing fields fail the expansion.
func ExpandTaskRefs(params map[string]any, outputs map[string]map[string]any) (map[string]any, error) {
	out, err := expandTaskValue(params, outputs)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func expandTaskValue(v any, outputs map[string]map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if m := taskFullRe.FindStringSubmatch(t); m != nil {
			output, err := taskOutput(outputs, m[1])
			if err != nil {
				return nil, err
			}
			if m[2] == "" {
				return output, nil
			}
			val, err := taskField(output, m[1], m[2])
			if err != nil {
				return nil, err
			}
			return stringify(val), nil
		}

		var expandErr error
		replaced := taskRe.ReplaceAllStringFunc(t, func(match string) string {
			m := taskRe.FindStringSubmatch(match)
			output, err := taskOutput(outputs, m[1])
			if err != nil {
				if expandErr == nil {
					expandErr = err
				}
				return match
			}
			var val any = output
			if m[2] != "" {
				val, err = taskField(output, m[1], m[2])
				if err != nil {
					if expandErr == nil {
						expandErr = err
					}
					return match
				}
			}
			return stringify(val)
		})
		if expandErr != nil {
			return nil, expandErr
		}
		return replaced, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			ev, err := expandTaskValue(vv, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			ev, err := expandTaskValue(vv, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

func taskOutput(outputs map[string]map[string]any, id string) (map[string]any, error) {
	output, ok := outputs[id]
	if !ok {
		return nil, toolerr.InvalidParamf("template references unknown task '%s'", id)
	}
	return output, nil
}

func taskField(output map[string]any, id, field string) (any, error) {
	val, ok := output[field]
	if !ok {
		return nil, toolerr.InvalidParamf("task '%s' output has no field '%s'", id, field)
	}
	return val, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func walkStrings(v any, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case map[string]any:
		for _, vv := range t {
			walkStrings(vv, fn)
		}
	case []any:
		for _, vv := range t {
			walkStrings(vv, fn)
		}
	}
}
