package api

import (
	"fmt"
	"net/http"

	"github.com/hostbridge/hostbridge/internal/cache"
	"github.com/hostbridge/hostbridge/internal/secrets"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// secretsHandler exposes secret key names to admins. Values never appear in
// any response.
type secretsHandler struct {
	store *secrets.Store
	lists *cache.ListCache
}

func (h *secretsHandler) list(w http.ResponseWriter, r *http.Request) {
	keys := h.store.Keys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":         keys,
		"count":        len(keys),
		"secrets_file": h.store.Path(),
	})
}

func (h *secretsHandler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, toolerr.KindInternal,
			fmt.Sprintf("Failed to reload secrets: %v", err))
		return
	}
	h.lists.Invalidate()

	count := h.store.Len()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      fmt.Sprintf("Secrets reloaded successfully. %d secret(s) loaded.", count),
		"count":        count,
		"secrets_file": h.store.Path(),
	})
}
