package run

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// StreamHandler serves LifecycleStream events to local dashboard/CLI clients
// over a websocket, one connection per subscriber. Grounded on the teacher's
// coder/websocket client wrapper (internal/channels/zalo/.../ws_client.go),
// mirrored server-side: no compression negotiated, a bounded read limit, and
// a normal-closure frame on shutdown.
type StreamHandler struct {
	lifecycle *LifecycleStream
}

func NewStreamHandler(lifecycle *LifecycleStream) *StreamHandler {
	return &StreamHandler{lifecycle: lifecycle}
}

// ServeHTTP upgrades the request to a websocket and pushes every subsequent
// LifecycleEvent as a JSON text frame until the client disconnects or the
// request context is cancelled.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled})
	if err != nil {
		slog.Warn("run: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	subID := "stream-" + r.RemoteAddr
	events := make(chan LifecycleEvent, 64)

	h.lifecycle.Subscribe(subID, func(ev LifecycleEvent) {
		select {
		case events <- ev:
		default:
			slog.Warn("run: stream subscriber too slow, dropping event", "run_id", ev.RunID)
		}
	})
	defer h.lifecycle.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "context cancelled")
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
