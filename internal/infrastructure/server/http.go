package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"avito-realtime-relay/internal/infrastructure/logger"
)

type HTTPServer struct {
	addr    string
	handler http.Handler
	logger  logger.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	stopped  bool
}

var _ Server = (*HTTPServer)(nil)

func NewHTTPServer(addr string, handler http.Handler, log logger.Logger) *HTTPServer {
	return &HTTPServer{
		addr:    addr,
		handler: handler,
		logger:  log.WithField("component", "http"),
	}
}

// Start listens on addr and serves until Stop is called. It returns nil after
// a clean shutdown. Request contexts are not tied to ctx so live streams end
// through the registry, not the listener.
func (h *HTTPServer) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		h.mu.Unlock()
		return err
	}

	// WriteTimeout stays zero: websocket and SSE responses are long lived.
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	h.srv = srv
	h.listener = ln
	h.mu.Unlock()

	h.logger.Infof("HTTP server listening on %s", ln.Addr())

	var eg errgroup.Group
	eg.Go(func() error {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

// Addr returns the bound address once Start is listening, nil before.
func (h *HTTPServer) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop shuts the server down. Called before Start, it makes Start return
// without listening.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	srv := h.srv
	h.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
