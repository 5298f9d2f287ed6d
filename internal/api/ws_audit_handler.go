package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostbridge/hostbridge/internal/audit"
	"github.com/hostbridge/hostbridge/internal/store"
)

// recentEntriesLimit is how many audit entries the connect snapshot carries.
const recentEntriesLimit = 50

// wsAuditHandler streams new audit entries to admin clients. On connect the
// client receives the most recent entries, then one audit_entry frame per
// dispatch.
type wsAuditHandler struct {
	store  store.AuditStore
	bus    *audit.Bus
	logger *slog.Logger
}

func (h *wsAuditHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	wsConnections.Add(1)
	defer wsConnections.Add(-1)

	entries := h.bus.Subscribe()
	defer h.bus.Unsubscribe(entries)

	recent, _, err := h.store.QueryAuditEntries(r.Context(), store.AuditFilter{
		Limit: recentEntriesLimit,
	})
	if err != nil {
		h.logger.Warn("audit snapshot query failed", "error", err)
		recent = nil
	}
	if recent == nil {
		recent = []store.AuditEntry{}
	}

	if err := h.writeFrame(conn, wsFrame{Type: "recent_entries", Data: recent}); err != nil {
		return
	}

	// Inbound frames carry nothing; the read pump only services control
	// frames and detects disconnects.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readerDone:
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := h.writeFrame(conn, wsFrame{Type: "audit_entry", Data: entry}); err != nil {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (h *wsAuditHandler) writeFrame(conn *websocket.Conn, f wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(f)
}
