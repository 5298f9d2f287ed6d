package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hostbridge/hostbridge/internal/hitl"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

type hitlHandler struct {
	manager *hitl.Manager
}

func (h *hitlHandler) pending(w http.ResponseWriter, r *http.Request) {
	requests := h.manager.ListPending()
	if requests == nil {
		requests = []*hitl.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

func (h *hitlHandler) decide(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Decision string `json:"decision"`
		Note     string `json:"note"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, toolerr.KindInvalidParameter,
			"Invalid JSON request body")
		return
	}

	var approve bool
	switch body.Decision {
	case "approve":
		approve = true
	case "reject":
		approve = false
	case "":
		writeError(w, http.StatusBadRequest, toolerr.KindInvalidParameter,
			"Missing required field: decision")
		return
	default:
		writeError(w, http.StatusBadRequest, toolerr.KindInvalidParameter,
			fmt.Sprintf("Invalid decision: %s", body.Decision))
		return
	}

	req, err := h.manager.Decide(id, approve, "admin", body.Note)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, req)
	case errors.Is(err, hitl.ErrNotFound):
		writeError(w, http.StatusNotFound, toolerr.KindNotFound,
			fmt.Sprintf("HITL request %s not found", id))
	case errors.Is(err, hitl.ErrAlreadyDecided):
		writeError(w, http.StatusConflict, toolerr.KindInvalidParameter,
			"Approval request already decided")
	case errors.Is(err, hitl.ErrExpired):
		writeError(w, http.StatusGone, toolerr.KindTimeout,
			"Approval request expired before a decision was made")
	default:
		writeError(w, http.StatusInternalServerError, toolerr.KindInternal,
			"Failed to record decision")
	}
}
