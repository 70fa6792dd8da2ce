package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"classwatch/internal/config"
	"classwatch/internal/router"
)

var upgrader = websocket.Upgrader{
	// Origin checking is owned by the deployment's proxy layer; the relay
	// accepts whatever reaches it.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler owns the session lifecycle: upgrade, an Unidentified logical
// session bound to the transport handle, the read loop, and removal with
// roster notification on close. Identification itself happens in-band via
// the identify envelope, handled by the router.
type Handler struct {
	router *router.Router
	cfg    *config.WebSocketConfig
	log    zerolog.Logger
}

func NewHandler(r *router.Router, cfg *config.WebSocketConfig, log zerolog.Logger) *Handler {
	return &Handler{
		router: r,
		cfg:    cfg,
		log:    log,
	}
}

// HandleWebSocket upgrades the request and runs the connection until it
// closes. No query parameters are required; a connection stays Unidentified
// (and unrouted) until its identify envelope arrives.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, h.cfg.WriteBuffer, h.cfg.WriteTimeout)
	h.log.Info().Str("conn", wsConn.ID()).Str("remote", r.RemoteAddr).Msg("connection opened")

	go h.handleConnection(wsConn)
}

// handleConnection is the read pump. Every inbound frame goes through the
// router inline, preserving per-sender ordering; a malformed frame is the
// router's problem and never terminates the session. Exit always removes
// the registry entry exactly once.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.router.HandleDisconnect(conn)
		_ = conn.Close()
		h.log.Info().Str("conn", conn.ID()).Msg("connection closed")
	}()

	conn.conn.SetReadLimit(h.cfg.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn", conn.ID()).Msg("websocket read error")
			}
			return
		}

		if messageType == websocket.TextMessage {
			h.router.HandleEnvelope(conn, data)
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
