package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// exportPageSize bounds each store read while streaming an export.
const exportPageSize = 1000

type auditHandler struct {
	store store.AuditStore
}

// parseAuditFilter reads the shared query params for audit endpoints.
func parseAuditFilter(r *http.Request) store.AuditFilter {
	q := r.URL.Query()
	filter := store.AuditFilter{Limit: 100}

	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := q.Get("tool_category"); v != "" {
		filter.ToolCategory = &v
	}
	if v := q.Get("tool_name"); v != "" {
		filter.ToolName = &v
	}
	if v := q.Get("protocol"); v != "" {
		filter.Protocol = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.After = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Before = &t
		}
	}
	filter.Search = q.Get("search")
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	return filter
}

func (h *auditHandler) query(w http.ResponseWriter, r *http.Request) {
	filter := parseAuditFilter(r)

	entries, total, err := h.store.QueryAuditEntries(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, toolerr.KindInternal,
			"Failed to query audit log")
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":     entries,
		"total":    total,
		"filtered": total,
	})
}

// export streams the full filtered set as a JSON or CSV attachment, paging
// through the store so the filter's limit does not cap the export.
func (h *auditHandler) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		writeError(w, http.StatusBadRequest, toolerr.KindInvalidParameter,
			fmt.Sprintf("Invalid export format: %s (expected json or csv)", format))
		return
	}

	filter := parseAuditFilter(r)
	filter.Limit = exportPageSize
	filter.Offset = 0

	var entries []store.AuditEntry
	for {
		page, total, err := h.store.QueryAuditEntries(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, toolerr.KindInternal,
				"Failed to query audit log")
			return
		}
		entries = append(entries, page...)
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			break
		}
	}

	stamp := time.Now().Format("20060102_150405")
	switch format {
	case "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			writeError(w, http.StatusInternalServerError, toolerr.KindInternal,
				"Failed to encode export")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=audit_logs_%s.json", stamp))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)

	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=audit_logs_%s.csv", stamp))
		w.WriteHeader(http.StatusOK)

		cw := csv.NewWriter(w)
		_ = cw.Write([]string{
			"id", "timestamp", "protocol", "tool_category", "tool_name",
			"status", "duration_ms", "error_message", "request_params",
			"response_summary", "hitl_request_id", "created_at",
		})
		for _, e := range entries {
			_ = cw.Write([]string{
				e.ID,
				e.Timestamp.Format(time.RFC3339),
				e.Protocol,
				e.ToolCategory,
				e.ToolName,
				e.Status,
				strconv.FormatFloat(e.DurationMs, 'f', -1, 64),
				e.ErrorMessage,
				string(e.RequestParams),
				e.ResponseSummary,
				e.HITLRequestID,
				e.CreatedAt.Format(time.RFC3339),
			})
		}
		cw.Flush()
	}
}
