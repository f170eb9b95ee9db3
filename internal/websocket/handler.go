package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"lectern/internal/session"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// Router is the inbound dispatch the handler feeds. Forget releases any
// per-connection state the router keeps.
type Router interface {
	interfaces.MessageRouter
	Forget(conn interfaces.Connection)
}

// Handler upgrades /ws/{role}/{sessionID} requests and runs the read loop.
type Handler struct {
	sessions interfaces.SessionRegistry
	router   Router
	config   Config
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler.
func NewHandler(sessions interfaces.SessionRegistry, router Router, config Config) *Handler {
	return &Handler{
		sessions: sessions,
		router:   router,
		config:   config,
		upgrader: websocket.Upgrader{
			// TECHNICAL DISCOVERY: Clients are served from arbitrary origins
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// ServeHTTP expects chi URL params role and sessionID.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	sessionID := chi.URLParam(r, "sessionID")

	if !types.IsValidRole(role) {
		http.Error(w, types.ErrInvalidRole.Error(), http.StatusBadRequest)
		return
	}
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Printf("[ws] upgrade failed for session %s: %v", sessionID, err)
		return
	}

	conn := NewConnection(wsConn, role, sessionID, h.config)
	if err := h.sessions.Join(conn); err != nil {
		code, reason := refusal(err)
		log.Printf("[ws] refused %s for session %s: %v", role, sessionID, err)
		reject(wsConn, code, reason, h.config.WriteTimeout)
		return
	}
	conn.Start()

	h.serve(conn, wsConn)
}

// refusal maps a join error to a close code and reason.
func refusal(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return websocket.ClosePolicyViolation, ReasonSessionNotFound
	case errors.Is(err, session.ErrSessionClosed):
		return websocket.ClosePolicyViolation, ReasonSessionClosed
	case errors.Is(err, session.ErrLecturerAlreadyConnected):
		return websocket.ClosePolicyViolation, ReasonLecturerPresent
	default:
		return websocket.CloseInternalServerErr, ReasonInternalError
	}
}

func (h *Handler) serve(conn *Connection, wsConn *websocket.Conn) {
	defer func() {
		h.sessions.Leave(conn)
		h.router.Forget(conn)
		_ = conn.Close()
	}()

	wsConn.SetReadLimit(h.config.MaxMessageBytes)
	_ = wsConn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.heartbeat(conn, wsConn)

	ctx := conn.Context()
	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error on %s: %v", conn.ID(), err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg types.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.WriteJSON(types.NewErrorMessage(ErrInvalidJSON.Error()))
			continue
		}

		if err := h.router.RouteMessage(ctx, conn, &msg); err != nil {
			log.Printf("[ws] %s %s in session %s: %v", conn.Role(), conn.ID(), conn.SessionID(), err)
		}
	}
}

// heartbeat pings until the connection is torn down.
func (h *Handler) heartbeat(conn *Connection, wsConn *websocket.Conn) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Context().Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := wsConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
