package audit

import (
	"encoding/json"
	"strings"
)

// globalRedactPatterns are key substrings that always trigger redaction.
var globalRedactPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"authorization",
	"cookie",
	"credential",
}

const redactedValue = "[REDACTED]"

// Redact replaces sensitive values in a JSON params object with [REDACTED].
// Values that are still {{secret:KEY}} templates are kept: the template form
// names the key without exposing the value, and reviewers need to see it.
func Redact(params json.RawMessage) json.RawMessage {
	if len(params) == 0 {
		return params
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err != nil {
		return params
	}

	changed := false
	for key, val := range obj {
		if shouldRedact(key) && !isSecretTemplate(val) {
			redacted, _ := json.Marshal(redactedValue)
			obj[key] = redacted
			changed = true
			continue
		}
		// Recurse into nested objects
		if redacted := Redact(val); !jsonEqual(val, redacted) {
			obj[key] = redacted
			changed = true
		}
	}

	if !changed {
		return params
	}

	result, err := json.Marshal(obj)
	if err != nil {
		return params
	}
	return result
}

// shouldRedact checks if a key matches any global pattern.
func shouldRedact(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range globalRedactPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// isSecretTemplate reports whether a JSON value is a string carrying a
// secret template reference.
func isSecretTemplate(val json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return false
	}
	return strings.Contains(s, "{{secret:")
}

func jsonEqual(a, b json.RawMessage) bool {
	return string(a) == string(b)
}
