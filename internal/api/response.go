package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// errorEnvelope is the failure body shared by every endpoint. ErrorType is
// the toolerr kind string; Suggestion and SuggestionTool are filled where a
// recovery hint exists.
type errorEnvelope struct {
	Error          bool   `json:"error"`
	ErrorType      string `json:"error_type"`
	Message        string `json:"message"`
	Suggestion     string `json:"suggestion,omitempty"`
	SuggestionTool string `json:"suggestion_tool,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error envelope with an explicit status and kind.
func writeError(w http.ResponseWriter, status int, kind toolerr.Kind, msg string) {
	writeJSON(w, status, errorEnvelope{
		Error:     true,
		ErrorType: string(kind),
		Message:   msg,
	})
}

// writeClassified maps a classified error onto its HTTP status and envelope.
// Schema validation failures get 422 rather than the generic 400; the
// engine's handler-timeout wrap (which carries context.DeadlineExceeded)
// gets 504 while approval expiry and tool-level timeouts get 408.
func writeClassified(w http.ResponseWriter, err error) {
	te := toolerr.Classify(err)

	status := http.StatusInternalServerError
	suggestion := ""
	switch te.Kind {
	case toolerr.KindInvalidParameter:
		status = http.StatusBadRequest
		if errors.Is(err, registry.ErrSchema) {
			status = http.StatusUnprocessableEntity
		}
	case toolerr.KindSecurity:
		status = http.StatusForbidden
		suggestion = "Ensure the path is within the workspace boundary"
	case toolerr.KindBlocked, toolerr.KindHITLRejected:
		status = http.StatusForbidden
	case toolerr.KindNotFound:
		status = http.StatusNotFound
	case toolerr.KindTimeout, toolerr.KindHITLExpired:
		status = http.StatusRequestTimeout
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		suggestion = "Retry the request or contact the administrator"
	case toolerr.KindInternal:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorEnvelope{
		Error:          true,
		ErrorType:      string(te.Kind),
		Message:        te.Message,
		Suggestion:     suggestion,
		SuggestionTool: te.SuggestionTool,
	})
}

// decodeJSON reads a JSON request body into v. Unknown fields and trailing
// values are rejected.
func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON value")
	}
	return nil
}
