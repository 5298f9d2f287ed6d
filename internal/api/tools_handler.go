package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hostbridge/hostbridge/internal/cache"
	"github.com/hostbridge/hostbridge/internal/dispatch"
	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

type toolsHandler struct {
	engine   *dispatch.Engine
	registry *registry.Registry
	lists    *cache.ListCache
}

// dispatch executes one tool invocation. The body is the tool's params
// object; an empty body means no params.
func (h *toolsHandler) dispatch(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &params); err != nil {
			writeError(w, http.StatusBadRequest, toolerr.KindInvalidParameter,
				"Invalid JSON request body")
			return
		}
	}

	inv := &dispatch.Invocation{
		ID:       requestID(r.Context()),
		Protocol: "rest",
		Category: r.PathValue("category"),
		Name:     r.PathValue("name"),
		Params:   params,
		Context: map[string]any{
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		},
	}

	result, err := h.engine.Dispatch(r.Context(), inv)
	if err != nil {
		writeClassified(w, err)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	writeJSON(w, http.StatusOK, result)
}

// toolSchema is the catalog entry for one tool.
type toolSchema struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	RequiresHITL bool            `json:"requires_hitl"`
	HITLReason   string          `json:"hitl_reason,omitempty"`
}

func descriptorSchema(d *registry.Descriptor) toolSchema {
	schema := d.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage("{}")
	}
	return toolSchema{
		Name:         d.Name,
		Category:     d.Category,
		Description:  d.Description,
		InputSchema:  schema,
		RequiresHITL: d.RequiresHITL,
		HITLReason:   d.HITLReason,
	}
}

// list serves the full catalog. The rendered payload is cached; secrets
// reloads invalidate it.
func (h *toolsHandler) list(w http.ResponseWriter, r *http.Request) {
	payload, err := h.lists.GetOrBuild(cache.ViewAPITools, func() (json.RawMessage, error) {
		descs := h.registry.List()
		tools := make([]toolSchema, 0, len(descs))
		for _, d := range descs {
			tools = append(tools, descriptorSchema(d))
		}
		return json.Marshal(map[string]any{"tools": tools, "total": len(tools)})
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, toolerr.KindInternal,
			"Failed to render tool catalog")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// get serves a single tool descriptor.
func (h *toolsHandler) get(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	name := r.PathValue("name")
	d, ok := h.registry.Get(category, name)
	if !ok {
		writeError(w, http.StatusNotFound, toolerr.KindNotFound,
			fmt.Sprintf("Tool '%s_%s' not found", category, name))
		return
	}
	writeJSON(w, http.StatusOK, descriptorSchema(d))
}
