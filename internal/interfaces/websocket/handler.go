package websocket

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
)

// WebSocketHandler upgrades client connections and hands them to the registry
type WebSocketHandler struct {
	registry  *hub.Registry
	logger    logger.Logger
	upgrader  websocket.Upgrader
	queueSize int
}

// NewWebSocketHandler creates a new WebSocket handler instance. An empty
// allowedOrigins accepts any origin.
func NewWebSocketHandler(
	registry *hub.Registry,
	queueSize int,
	allowedOrigins []string,
	logger logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		registry:  registry,
		logger:    logger.WithField("handler", "websocket"),
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Connect upgrades the request and serves the connection until it closes.
// Query parameters user_id and request_id select what the client receives.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if !h.registry.IsRunning() {
		h.logger.Error("Registry is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	identity := hub.ParseIdentity(c.Request.URL.Query())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	wsConn := hub.NewWebSocketConnection(h.registry, conn, identity, h.queueSize, h.logger)
	wsConn.Serve(c.Request.Context())
}

// GetConnections lists the connections currently in the registry
func (h *WebSocketHandler) GetConnections(c *gin.Context) {
	connections := h.registry.Connections()

	c.JSON(http.StatusOK, gin.H{
		"total_connections": len(connections),
		"connections":       connections,
		"registry_running":  h.registry.IsRunning(),
	})
}
