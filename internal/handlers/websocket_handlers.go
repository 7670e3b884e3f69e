package handlers

import (
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/session"
	"chat-core/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authenticator auth.Authenticator
	deps          session.Deps
	upgrader      websocket.Upgrader
}

func NewWebSocketHandlers(authenticator auth.Authenticator, deps session.Deps) *WebSocketHandlers {
	return &WebSocketHandlers{
		authenticator: authenticator,
		deps:          deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket upgrades the connection and runs the session. Identity
// checks happen after the upgrade so failures surface as an error frame
// plus a policy-violation close, which clients can distinguish from a
// transport drop.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claimedUserID := r.URL.Query().Get("userId")
	tokenStr := r.URL.Query().Get("token")

	var authenticatedUserID string
	if tokenStr != "" {
		userID, err := h.authenticator.UserIDFromToken(tokenStr)
		if err != nil {
			logger.Warn("Rejected token on WS handshake: %v", err)
		} else {
			authenticatedUserID = userID
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	s := session.New(conn, claimedUserID, h.deps)
	go s.Run(authenticatedUserID)
}
