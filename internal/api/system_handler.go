package api

import (
	"math"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/hostbridge/hostbridge/internal/cache"
	"github.com/hostbridge/hostbridge/internal/hitl"
	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

type systemHandler struct {
	audit     store.AuditStore
	hitl      *hitl.Manager
	workspace *workspace.Resolver
	lists     *cache.ListCache
	dbPath    string
	version   string
}

type systemResponse struct {
	UptimeSeconds        int         `json:"uptime_seconds"`
	Version              string      `json:"version"`
	PendingHITL          int         `json:"pending_hitl"`
	ToolsExecuted        int         `json:"tools_executed"`
	ErrorRate            float64     `json:"error_rate"`
	MemoryUsedMB         float64     `json:"memory_used_mb"`
	MemoryTotalMB        float64     `json:"memory_total_mb"`
	MemoryPercent        float64     `json:"memory_percent"`
	CPUPercent           float64     `json:"cpu_percent"`
	GoVersion            string      `json:"go_version"`
	Goroutines           int         `json:"goroutines"`
	Platform             string      `json:"platform"`
	DBPath               string      `json:"db_path"`
	DBSizeMB             float64     `json:"db_size_mb"`
	WorkspacePath        string      `json:"workspace_path"`
	WorkspaceSizeMB      float64     `json:"workspace_size_mb"`
	WorkspaceFiles       int         `json:"workspace_files"`
	WorkspaceDirectories int         `json:"workspace_directories"`
	WebSocketConnections int         `json:"websocket_connections"`
	Cache                cache.Stats `json:"cache"`
}

// get reports process, store and workspace health for the admin dashboard.
// Host metrics are best-effort: a probe failure leaves its fields zero.
func (h *systemHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := systemResponse{
		UptimeSeconds: int(time.Since(startTime).Seconds()),
		Version:       h.version,
		PendingHITL:   h.hitl.PendingCount(),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		DBPath:        h.dbPath,
		Cache:         h.lists.Stats(),

		WebSocketConnections: int(wsConnections.Load()),
	}

	if _, total, err := h.audit.QueryAuditEntries(ctx, store.AuditFilter{Limit: 1}); err == nil {
		resp.ToolsExecuted = total
	}

	hourAgo := time.Now().UTC().Add(-time.Hour)
	errStatus := store.AuditStatusError
	if _, total, err := h.audit.QueryAuditEntries(ctx, store.AuditFilter{
		After: &hourAgo, Limit: 1,
	}); err == nil && total > 0 {
		if _, errs, err := h.audit.QueryAuditEntries(ctx, store.AuditFilter{
			Status: &errStatus, After: &hourAgo, Limit: 1,
		}); err == nil {
			resp.ErrorRate = float64(errs) / float64(total)
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			resp.MemoryUsedMB = roundMB(float64(mi.RSS))
		}
		if pct, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = math.Round(pct*100) / 100
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryTotalMB = roundMB(float64(vm.Total))
		resp.MemoryPercent = math.Round(vm.UsedPercent*100) / 100
	}

	if st, err := os.Stat(h.dbPath); err == nil {
		resp.DBSizeMB = roundMB(float64(st.Size()))
	}

	info := h.workspace.Info()
	resp.WorkspacePath = info.Root
	resp.WorkspaceSizeMB = roundMB(float64(info.TotalSizeBytes))
	resp.WorkspaceFiles = info.Files
	resp.WorkspaceDirectories = info.Directories

	writeJSON(w, http.StatusOK, resp)
}

func roundMB(bytes float64) float64 {
	return math.Round(bytes/(1024*1024)*100) / 100
}
