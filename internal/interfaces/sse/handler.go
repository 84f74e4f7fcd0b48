package sse

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
)

type ServerSentEventHandler struct {
	registry  *hub.Registry
	logger    logger.Logger
	queueSize int
}

func NewServerSentEventHandler(registry *hub.Registry, queueSize int, logger logger.Logger) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		registry:  registry,
		logger:    logger.WithField("handler", "sse"),
		queueSize: queueSize,
	}
}

// Connect streams events for the user_id/request_id in the query string until
// the client disconnects or the registry stops.
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	if !h.registry.IsRunning() {
		h.logger.Error("Registry is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	identity := hub.ParseIdentity(c.Request.URL.Query())
	conn := hub.NewSSEConnection(h.registry, c.Writer, identity, h.queueSize, h.logger)

	h.logger.Infof("SSE connection %s open (user: %s, request: %s)", conn.ID(), identity.UserID, identity.JobID)

	err := conn.Serve(c.Request.Context())
	switch {
	case err == nil:
		h.logger.Infof("SSE client %s disconnected", conn.ID())
	case errors.Is(err, hub.ErrClosed):
		h.logger.Infof("SSE connection %s closed by registry shutdown", conn.ID())
	default:
		h.logger.Warnf("SSE connection %s ended: %v", conn.ID(), err)
	}
}
