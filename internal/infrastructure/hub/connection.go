package hub

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"

	"avito-realtime-relay/internal/infrastructure/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must stay below pongWait
	maxMessageSize = 4096

	sseKeepAlive = 30 * time.Second
)

var ErrClosed = errors.New("connection closed")

// WebSocketConnection owns one upgraded websocket from registration to
// teardown. Inbound frames are read on one goroutine and queued messages are
// written on another; whichever ends first ends the connection.
type WebSocketConnection struct {
	id       string
	identity Identity
	conn     *websocket.Conn
	registry *Registry
	send     chan []byte
	logger   logger.Logger

	closeOnce sync.Once

	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingPeriod   time.Duration
}

// NewWebSocketConnection wraps an upgraded connection. queueSize bounds the
// outbound queue; messages beyond it are dropped by the registry.
func NewWebSocketConnection(
	registry *Registry,
	conn *websocket.Conn,
	identity Identity,
	queueSize int,
	log logger.Logger,
) *WebSocketConnection {
	if queueSize < 1 {
		queueSize = 1
	}
	id := NewConnectionID()

	return &WebSocketConnection{
		id:           id,
		identity:     identity,
		conn:         conn,
		registry:     registry,
		send:         make(chan []byte, queueSize),
		logger:       log.WithField("connection_id", id),
		writeTimeout: writeWait,
		pongTimeout:  pongWait,
		pingPeriod:   pingPeriod,
	}
}

func (c *WebSocketConnection) ID() string { return c.id }

func (c *WebSocketConnection) Identity() Identity { return c.identity }

// Serve registers the connection, pumps frames until the client goes away,
// ctx is cancelled or the registry stops, then deregisters and closes the
// socket. It blocks for the lifetime of the connection.
func (c *WebSocketConnection) Serve(ctx context.Context) {
	c.registry.Register(c.id, c.identity.UserID, c.send)
	if c.identity.JobID != "" {
		c.registry.RegisterForJob(c.id, c.identity.JobID)
	}
	c.logger.Infof("WebSocket connection open (user: %s, request: %s)", c.identity.UserID, c.identity.JobID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readPump()
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.writePump(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-c.registry.Done():
		c.logger.Info("Registry stopping, closing connection")
		cancel()
	}

	c.registry.Deregister(c.id)
	c.close()
	wg.Wait()

	c.logger.Info("WebSocket connection closed")
}

// close sends a close frame and tears the socket down. Safe to call more than
// once and concurrently with the pumps.
func (c *WebSocketConnection) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout),
		)
		_ = c.conn.Close()
	})
}

func (c *WebSocketConnection) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Errorf("WebSocket read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.logger.Debugf("Received text message: %s", string(data))
		case websocket.BinaryMessage:
			c.logger.Debugf("Ignoring binary message of length %d", len(data))
		}
	}
}

// validText replaces invalid UTF-8 sequences with U+FFFD. Text frames must be
// valid UTF-8 and clients fail the connection otherwise.
func validText(message []byte) []byte {
	if utf8.Valid(message) {
		return message
	}
	return []byte(strings.ToValidUTF8(string(message), "\uFFFD"))
}

func (c *WebSocketConnection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, validText(message)); err != nil {
				c.logger.Errorf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Errorf("Failed to send ping: %v", err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// SSEConnection streams queued messages as Server-Sent Events for clients
// that cannot hold a websocket. It shares the registry and its routing.
type SSEConnection struct {
	id       string
	identity Identity
	writer   http.ResponseWriter
	registry *Registry
	send     chan []byte
	logger   logger.Logger

	keepAlive time.Duration
}

func NewSSEConnection(
	registry *Registry,
	w http.ResponseWriter,
	identity Identity,
	queueSize int,
	log logger.Logger,
) *SSEConnection {
	if queueSize < 1 {
		queueSize = 1
	}
	id := NewConnectionID()

	return &SSEConnection{
		id:        id,
		identity:  identity,
		writer:    w,
		registry:  registry,
		send:      make(chan []byte, queueSize),
		logger:    log.WithField("connection_id", id),
		keepAlive: sseKeepAlive,
	}
}

func (c *SSEConnection) ID() string { return c.id }

// Serve writes the stream until ctx (normally the request context) ends, a
// write fails or the registry stops.
func (c *SSEConnection) Serve(ctx context.Context) error {
	flusher, ok := c.writer.(http.Flusher)
	if !ok {
		return errors.New("response writer does not support flushing")
	}

	c.setupHeaders()

	c.registry.Register(c.id, c.identity.UserID, c.send)
	if c.identity.JobID != "" {
		c.registry.RegisterForJob(c.id, c.identity.JobID)
	}
	defer c.registry.Deregister(c.id)

	if err := c.encode(sse.Event{
		Event: "connected",
		Data:  map[string]string{"connection_id": c.id, "user_id": c.identity.UserID},
	}, flusher); err != nil {
		return err
	}

	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			if err := c.encode(sse.Event{Event: "message", Data: string(validText(message))}, flusher); err != nil {
				c.logger.Errorf("Failed to write SSE message: %v", err)
				return err
			}

		case <-ticker.C:
			if _, err := c.writer.Write([]byte(":keepalive\n\n")); err != nil {
				return err
			}
			flusher.Flush()

		case <-ctx.Done():
			return nil

		case <-c.registry.Done():
			return ErrClosed
		}
	}
}

func (c *SSEConnection) encode(event sse.Event, flusher http.Flusher) error {
	if err := sse.Encode(c.writer, event); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (c *SSEConnection) setupHeaders() {
	h := c.writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // For nginx
}
