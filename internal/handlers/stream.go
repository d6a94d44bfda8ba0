package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/logging"
)

const streamWriteTimeout = 3 * time.Second

// StatusStreamHandler pushes session status changes over a websocket.
type StatusStreamHandler struct {
	Bot            BotSession
	OriginPatterns []string
}

type statusMessage struct {
	Type   string             `json:"type"`
	Status coordinator.Status `json:"status"`
}

// Handle implements GET /api/v1/bot/status/stream. The first frame is the current status;
// later frames follow every change until either side goes away.
func (h StatusStreamHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Bot == nil {
		respondError(r.Context(), w, http.StatusServiceUnavailable, "bot session unavailable")
		return
	}
	logger := logging.FromContext(r.Context())

	// The server's write timeout is sized for request/response calls, not streams.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("clear write deadline", "error", err)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	updates, unsubscribe := h.Bot.Subscribe()
	defer unsubscribe()

	// Reads only detect the client leaving; the stream is one-way.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session stopped")
				return
			}
			if err := writeStatus(ctx, conn, st); err != nil {
				logger.Debug("status stream closed", "error", err)
				return
			}
		}
	}
}

func writeStatus(ctx context.Context, conn *websocket.Conn, st coordinator.Status) error {
	payload, err := json.Marshal(statusMessage{Type: "status", Status: st})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
