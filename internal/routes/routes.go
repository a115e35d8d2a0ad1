package routes

import (
	"github.com/gin-gonic/gin"

	"fixwork_backend/internal/handlers"
	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/middleware"
	"fixwork_backend/ws"
)

// AppHandlers bundles every HTTP handler for route registration.
type AppHandlers struct {
	NotificationHandler *handlers.NotificationHandler
	ChatHandler         *handlers.ChatHandler
	JobHandler          *handlers.JobHandler
}

// RegisterRoutes registers the HTTP API and the WebSocket endpoint.
func RegisterRoutes(ginRouter *gin.Engine, appHandlers *AppHandlers, wsHandler *ws.WebSocketHandler) {
	api := ginRouter.Group("/api/v1")
	{
		appHandlers.NotificationHandler.RegisterRoutes(api)
		appHandlers.ChatHandler.RegisterRoutes(api)
		appHandlers.JobHandler.RegisterRoutes(api)
	}

	wsGroup := ginRouter.Group("/ws")
	wsGroup.Use(middleware.AuthMiddleware())
	{
		wsGroup.GET("", wsHandler.ServeWS)
	}
	logger.Info("WebSocket route /ws registered")
}
