package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"avito-realtime-relay/internal/application/facade"
	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/port/inbound"
)

const maxEventSize = 1 << 20

type EventHandler struct {
	events inbound.EventUseCase
	logger logger.Logger
}

func NewEventHandler(events inbound.EventUseCase, logger logger.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger.WithField("handler", "events"),
	}
}

// Dispatch routes the request body to live connections the same way the
// relays route broker messages.
func (h *EventHandler) Dispatch(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	res, err := h.events.Dispatch(c.Request.Context(), body)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "dispatched",
		"result": res,
	})
}

// Publish sends the request body to the exchange. The routing_key query
// parameter is optional; without it the key is derived from the payload's
// user_id.
func (h *EventHandler) Publish(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	key, err := h.events.Publish(c.Request.Context(), c.Query("routing_key"), body)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "published",
		"routing_key": key,
	})
}

func (h *EventHandler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventSize+1))
	if err != nil {
		h.logger.Errorf("Failed to read request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return nil, false
	}
	if len(body) > maxEventSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Event too large"})
		return nil, false
	}
	return body, true
}

func (h *EventHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, facade.ErrInvalidPayload), errors.Is(err, facade.ErrInvalidRoutingKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, facade.ErrPublisherUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Errorf("Event request failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to publish event"})
	}
}
