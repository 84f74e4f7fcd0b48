package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"avito-realtime-relay/internal/application/relay"
	"avito-realtime-relay/internal/infrastructure/config"
	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/infrastructure/metrics"
	"avito-realtime-relay/internal/interfaces/rest/v1/handler"
	"avito-realtime-relay/internal/interfaces/sse"
	"avito-realtime-relay/internal/interfaces/websocket"
	"avito-realtime-relay/internal/port/inbound"
)

func InitRouter(
	cfg config.Config,
	registry *hub.Registry,
	relays []*relay.Relay,
	events inbound.EventUseCase,
	m *metrics.Metrics,
	log logger.Logger,
) http.Handler {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	rootGroup.GET("/debug", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"debug": "working"})
	})

	rootGroup.GET("/hub/status", func(c *gin.Context) {
		states := make(gin.H, len(relays))
		for _, r := range relays {
			states[r.Name()] = r.State().String()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":           "healthy",
			"registry_running": registry.IsRunning(),
			"connections":      registry.ConnectionCount(),
			"relays":           states,
		})
	})

	rootGroup.GET("/metrics", gin.WrapH(m.Handler()))

	handler.InitEventRouter(log, events, cfg.OperatorToken, rootGroup)

	sse.InitSSERouter(log, registry, cfg.ConnectionQueueSize, rootGroup)
	websocket.InitWebSocketRouter(log, registry, cfg.ConnectionQueueSize, cfg.AllowedOrigins, rootGroup)

	return router
}
