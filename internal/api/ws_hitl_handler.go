package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostbridge/hostbridge/internal/hitl"
)

// wsConnections counts live WebSocket clients for the system endpoint.
var wsConnections atomic.Int64

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isLocalOrigin(origin)
	},
}

// wsFrame is the {type, data} shape every socket message uses.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// inboundFrame defers data decoding until the type is known.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func errorFrame(msg string) wsFrame {
	return wsFrame{Type: "error", Data: map[string]string{"message": msg}}
}

// wsHITLHandler streams approval events to admin clients and accepts their
// decisions. On connect the client receives a snapshot of pending requests,
// then hitl_request/hitl_update events as state changes.
type wsHITLHandler struct {
	manager *hitl.Manager
	bus     *hitl.Bus
	logger  *slog.Logger
}

func (h *wsHITLHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	wsConnections.Add(1)
	defer wsConnections.Add(-1)

	// Subscribe before the snapshot so no event falls between them.
	events := h.bus.Subscribe()
	defer h.bus.Unsubscribe(events)

	// The read pump forwards client frames; this goroutine is the single
	// writer. Both stop when either side of the connection goes away.
	outbound := make(chan wsFrame, 16)
	readerDone := make(chan struct{})
	go h.readPump(conn, outbound, readerDone)

	if err := h.writeFrame(conn, h.snapshotFrame()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-readerDone:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			frameType := "hitl_update"
			if evt.Type == "created" {
				frameType = "hitl_request"
			}
			if err := h.writeFrame(conn, wsFrame{Type: frameType, Data: evt.Request}); err != nil {
				return
			}
		case f := <-outbound:
			if err := h.writeFrame(conn, f); err != nil {
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

func (h *wsHITLHandler) readPump(conn *websocket.Conn, outbound chan<- wsFrame, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		var reply wsFrame
		switch frame.Type {
		case "request_pending":
			reply = h.snapshotFrame()
		case "hitl_decision":
			reply = h.handleDecision(frame.Data)
		default:
			continue
		}
		// Non-blocking: if the writer is saturated the client reconnects
		// and re-snapshots.
		select {
		case outbound <- reply:
		default:
		}
	}
}

func (h *wsHITLHandler) snapshotFrame() wsFrame {
	pending := h.manager.ListPending()
	if pending == nil {
		pending = []*hitl.Request{}
	}
	return wsFrame{Type: "pending_requests", Data: pending}
}

func (h *wsHITLHandler) handleDecision(raw json.RawMessage) wsFrame {
	var d struct {
		ID       string `json:"id"`
		Decision string `json:"decision"`
		Note     string `json:"note"`
	}
	if err := json.Unmarshal(raw, &d); err != nil || d.ID == "" || d.Decision == "" {
		return errorFrame("Missing required fields: id and decision")
	}

	var approve bool
	switch d.Decision {
	case "approve":
		approve = true
	case "reject":
		approve = false
	default:
		return errorFrame(fmt.Sprintf("Invalid decision: %s", d.Decision))
	}

	_, err := h.manager.Decide(d.ID, approve, "admin", d.Note)
	switch {
	case err == nil:
		decision := "rejected"
		if approve {
			decision = "approved"
		}
		return wsFrame{Type: "decision_accepted", Data: map[string]string{
			"id":       d.ID,
			"decision": decision,
		}}
	case errors.Is(err, hitl.ErrNotFound):
		return errorFrame(fmt.Sprintf("HITL request %s not found", d.ID))
	default:
		return errorFrame(err.Error())
	}
}

func (h *wsHITLHandler) writeFrame(conn *websocket.Conn, f wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(f); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			h.logger.Debug("websocket write failed", "error", err)
		}
		return err
	}
	return nil
}
