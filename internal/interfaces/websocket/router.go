package websocket

import (
	"github.com/gin-gonic/gin"

	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
)

// InitWebSocketRouter initializes WebSocket routes
func InitWebSocketRouter(
	logger logger.Logger,
	registry *hub.Registry,
	queueSize int,
	allowedOrigins []string,
	rg *gin.RouterGroup,
) {
	wsHandler := NewWebSocketHandler(registry, queueSize, allowedOrigins, logger)

	rg.GET("/api/ws", wsHandler.Connect)

	apiGroup := rg.Group("/api/v1/ws")
	apiGroup.GET("/connections", wsHandler.GetConnections)
}
