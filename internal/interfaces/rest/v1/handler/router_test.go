package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"avito-realtime-relay/internal/application/facade"
	"avito-realtime-relay/internal/application/relay"
	"avito-realtime-relay/internal/infrastructure/hub"
	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/port/inbound"
)

const operatorToken = "s3cret"

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

func newEventRouter(events inbound.EventUseCase, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	InitEventRouter(logger.Nop(), events, token, r.Group(""))
	return r
}

func authorized(r http.Handler, target, token, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestInitEventRouter_RequiresToken(t *testing.T) {
	events := &mockEvents{}
	r := newEventRouter(events, operatorToken)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "missing token", status: http.StatusUnauthorized},
		{name: "wrong token", token: "guess", status: http.StatusUnauthorized},
		{name: "valid token", token: operatorToken, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := authorized(r, "/api/v1/events/dispatch", tt.token, `{"foo":"bar"}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
	assert.Len(t, events.dispatched, 1)
}

func TestInitEventRouter_DisabledWithoutToken(t *testing.T) {
	r := newEventRouter(&mockEvents{}, "")

	w := authorized(r, "/api/v1/events/publish", "", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInitEventRouter_RejectsForeignRoutingKey(t *testing.T) {
	pub := &recordingPublisher{}
	router := relay.NewRouter(hub.New(logger.Nop()), logger.Nop())
	events := facade.NewEventApplicationService(router, pub, "avito_exchange", "progress",
		[]string{"progress.*", "result.*"}, logger.Nop())
	r := newEventRouter(events, operatorToken)

	w := authorized(r, "/api/v1/events/publish?routing_key=task.crawl.u1", operatorToken, `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pub.keys)

	w = authorized(r, "/api/v1/events/publish?routing_key=result.u1", operatorToken, `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"result.u1"}, pub.keys)
}
