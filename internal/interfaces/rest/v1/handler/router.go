package handler

import (
	"github.com/gin-gonic/gin"

	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/port/inbound"
)

// InitEventRouter mounts the operator event endpoints behind OperatorAuth.
// Nothing is mounted when token is empty.
func InitEventRouter(logger logger.Logger, events inbound.EventUseCase, token string, rg *gin.RouterGroup) {
	if token == "" {
		logger.Info("OPERATOR_TOKEN not set, operator event endpoints disabled")
		return
	}

	eventHandler := NewEventHandler(events, logger)

	eventGroup := rg.Group("/api/v1/events", OperatorAuth(token))
	{
		eventGroup.POST("/dispatch", eventHandler.Dispatch)
		eventGroup.POST("/publish", eventHandler.Publish)
	}
}
