package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avito-realtime-relay/internal/application/facade"
	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/port/inbound"
)

type mockEvents struct {
	dispatched [][]byte
	publishKey string
	err        error
}

func (m *mockEvents) Dispatch(ctx context.Context, payload []byte) (inbound.DispatchResult, error) {
	if m.err != nil {
		return inbound.DispatchResult{}, m.err
	}
	m.dispatched = append(m.dispatched, payload)
	return inbound.DispatchResult{Target: "user", Key: "u1", Delivered: 2}, nil
}

func (m *mockEvents) Publish(ctx context.Context, routingKey string, payload []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.publishKey = routingKey
	if routingKey == "" {
		routingKey = "progress.u1"
	}
	return routingKey, nil
}

func newRouter(events inbound.EventUseCase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewEventHandler(events, logger.Nop())
	r.POST("/dispatch", h.Dispatch)
	r.POST("/publish", h.Publish)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	r.ServeHTTP(w, req)
	return w
}

func TestEventHandler_Dispatch(t *testing.T) {
	events := &mockEvents{}
	w := do(newRouter(events), http.MethodPost, "/dispatch", `{"user_id":"u1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status string                 `json:"status"`
		Result inbound.DispatchResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dispatched", resp.Status)
	assert.Equal(t, inbound.DispatchResult{Target: "user", Key: "u1", Delivered: 2}, resp.Result)
	assert.Equal(t, [][]byte{[]byte(`{"user_id":"u1"}`)}, events.dispatched)
}

func TestEventHandler_Publish(t *testing.T) {
	events := &mockEvents{}
	r := newRouter(events)

	w := do(r, http.MethodPost, "/publish?routing_key=result.u7", `{}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "result.u7", events.publishKey)
	assert.Contains(t, w.Body.String(), `"routing_key":"result.u7"`)

	w = do(r, http.MethodPost, "/publish", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, events.publishKey)
	assert.Contains(t, w.Body.String(), `"routing_key":"progress.u1"`)
}

func TestEventHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		path   string
		status int
	}{
		{name: "invalid payload", err: facade.ErrInvalidPayload, path: "/dispatch", status: http.StatusBadRequest},
		{name: "missing routing key", err: facade.ErrInvalidRoutingKey, path: "/publish", status: http.StatusBadRequest},
		{name: "no publisher", err: facade.ErrPublisherUnavailable, path: "/publish", status: http.StatusServiceUnavailable},
		{name: "broker failure", err: errors.New("channel closed"), path: "/publish", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(&mockEvents{err: tt.err}), http.MethodPost, tt.path, `{}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestEventHandler_TooLarge(t *testing.T) {
	events := &mockEvents{}
	body := `{"pad":"` + strings.Repeat("x", maxEventSize) + `"}`

	w := do(newRouter(events), http.MethodPost, "/dispatch", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, events.dispatched)
}
