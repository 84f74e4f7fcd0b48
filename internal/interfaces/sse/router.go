package sse

import (
	"github.com/gin-gonic/gin"

	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
)

func InitSSERouter(logger logger.Logger, registry *hub.Registry, queueSize int, rg *gin.RouterGroup) {
	sseHandler := NewServerSentEventHandler(registry, queueSize, logger)

	rg.GET("/api/sse", sseHandler.Connect)
}
