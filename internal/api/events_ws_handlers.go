// Package api provides the operator WebSocket stream of live decisions and
// anomaly signals.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/agentgate/internal/events"
	"github.com/onnwee/agentgate/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Admin-token gated; origin filtering is left to the deployment edge.
		return true
	},
}

// writeWait bounds a single WebSocket write.
const writeWait = 10 * time.Second

// EventStreamHandlers holds dependencies for the operator event stream.
type EventStreamHandlers struct {
	hub *events.Hub
}

// NewEventStreamHandlers creates a new EventStreamHandlers instance.
func NewEventStreamHandlers(hub *events.Hub) *EventStreamHandlers {
	return &EventStreamHandlers{hub: hub}
}

// Stream handles GET /v1/events/ws.
// Upgrades the connection and forwards decision, escalation, and anomaly
// events until the client disconnects.
func (h *EventStreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}

	ch, cancel := h.hub.Subscribe()
	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "operator subscribed to event stream", "request_id", requestID)

	defer func() {
		cancel()
		_ = conn.Close()
		slog.InfoContext(ctx, "operator unsubscribed from event stream", "request_id", requestID)
	}()

	// Reader goroutine exists only to detect disconnection; operators never
	// send messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					slog.WarnContext(ctx, "event stream closed unexpectedly", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				slog.WarnContext(ctx, "failed to write event to stream", "error", err)
				return
			}
		}
	}
}
