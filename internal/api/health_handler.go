package api

import (
	"net/http"
	"time"
)

var startTime = time.Now()

type healthHandler struct {
	version string
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
}

func (h *healthHandler) check(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int(time.Since(startTime).Seconds()),
	})
}
