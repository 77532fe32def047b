package realtime

import (
	"net/http"

	"go-foodie/internal/apperr"
	myMiddleware "go-foodie/internal/middleware"
	"go-foodie/internal/response"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // bearer token is required; cookies are not used
	},
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWs upgrades an authenticated request and starts the session pumps.
// The session receives nothing until it subscribes to channels.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, nil, apperr.Unauthorized("unauthorized", nil))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, userID, username)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
