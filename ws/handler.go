package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/middleware"
	chatservice "fixwork_backend/internal/services/chat"
	"fixwork_backend/internal/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin check happens in the auth middleware
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type WebSocketHandler struct {
	Manager     *WebSocketManager
	ChatService chatservice.ChatService
	Transport   *transport.Adapter
}

func NewWebSocketHandler(manager *WebSocketManager, chatService chatservice.ChatService, adapter *transport.Adapter) *WebSocketHandler {
	return &WebSocketHandler{
		Manager:     manager,
		ChatService: chatService,
		Transport:   adapter,
	}
}

// ServeWS upgrades the connection. The route runs behind the auth
// middleware, so the user id comes from the validated token.
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithError(err).Warn("ws upgrade failed", "user_id", userID)
		return
	}

	client := newClient(userID, conn, h.Manager, h.ChatService, h.Transport)

	if err := client.attach(); err != nil {
		logger.WithError(err).Error("ws subscribe failed", "user_id", userID)
		client.teardown()
		return
	}

	h.Manager.register <- client

	go client.readPump()
	go client.writePump()
}
