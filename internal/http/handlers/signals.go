package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	httpmiddleware "github.com/wolfman30/consult-escrow/internal/http/middleware"
	"github.com/wolfman30/consult-escrow/internal/relay"
	"github.com/wolfman30/consult-escrow/internal/reservations"
	"github.com/wolfman30/consult-escrow/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// SignalsHandler upgrades to a websocket and pushes a canonical snapshot of
// the caller's room every time the relay wakes it.
type SignalsHandler struct {
	watcher  *reservations.Watcher
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewSignalsHandler builds the websocket endpoint. An empty origin policy
// accepts any origin.
func NewSignalsHandler(watcher *reservations.Watcher, origins httpmiddleware.OriginPolicy, logger *logging.Logger) *SignalsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SignalsHandler{
		watcher: watcher,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
	}
}

// Serve handles GET /ws/signals?peer=<user id>.
func (h *SignalsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	peer := strings.TrimSpace(r.URL.Query().Get("peer"))
	if peer == "" || peer == uid {
		jsonError(w, "peer query parameter required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "user_id", uid)
		return
	}
	defer conn.Close()

	// The request context is not cancelled when a hijacked connection drops.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	snapshots := make(chan reservations.Snapshot, 16)
	go h.readPump(conn, cancel)
	go func() {
		snapshots <- h.watcher.Snapshot(ctx, uid, peer, relay.SignalEvent{})
		if err := h.watcher.Watch(ctx, uid, peer, func(s reservations.Snapshot) {
			select {
			case snapshots <- s:
			case <-ctx.Done():
			}
		}); err != nil {
			h.logger.Warn("signal subscription ended", "error", err, "user_id", uid, "peer_id", peer)
		}
		cancel()
	}()

	h.writePump(ctx, conn, snapshots, uid)
}

// readPump discards client frames and cancels ctx when the socket closes.
func (h *SignalsHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (h *SignalsHandler) writePump(ctx context.Context, conn *websocket.Conn, snapshots <-chan reservations.Snapshot, uid string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case snap := <-snapshots:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.Warn("websocket write failed", "error", err, "user_id", uid)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
