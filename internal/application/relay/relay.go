package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"avito-realtime-relay/internal/infrastructure/broker"
	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/infrastructure/metrics"
)

var ErrAlreadyRunning = errors.New("relay is already running")

// State is the relay lifecycle. The numeric values are exported as the
// relay_state metric.
type State int32

const (
	StateStopped State = iota
	StateConsuming
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConsuming:
		return "consuming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "stopped"
	}
}

// Source opens a subscription. The channel closes when the subscription dies.
type Source interface {
	Subscribe(ctx context.Context, b broker.Binding) (<-chan broker.Delivery, error)
}

type Config struct {
	Name    string
	Binding broker.Binding
	// Concurrency caps in-flight dispatch goroutines.
	Concurrency int
	Backoff     broker.Backoff
}

// Relay consumes one broker subscription and hands every message to the
// Router on its own goroutine. Messages are acknowledged as soon as they are
// decoded; delivery to clients is best effort.
type Relay struct {
	cfg     Config
	source  Source
	router  *Router
	sem     *semaphore.Weighted
	logger  logger.Logger
	metrics *metrics.Metrics

	state    atomic.Int32
	running  atomic.Bool
	inflight sync.WaitGroup
}

func New(cfg Config, source Source, router *Router, log logger.Logger, m *metrics.Metrics) *Relay {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Relay{
		cfg:     cfg,
		source:  source,
		router:  router,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:  log.WithFields(logger.Fields{"component": "relay", "relay": cfg.Name}),
		metrics: m,
	}
}

func (r *Relay) Name() string { return r.cfg.Name }

func (r *Relay) State() State { return State(r.state.Load()) }

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
	r.metrics.SetRelayState(r.cfg.Name, int(s))
}

// Run subscribes and consumes until ctx is cancelled. A lost or failed
// subscription is retried with backoff. Run waits for in-flight dispatches
// before returning.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)
	defer r.setState(StateStopped)
	defer r.inflight.Wait()

	bo := backoff.WithContext(r.cfg.Backoff.New(), ctx)
	attempt := 0
	for {
		deliveries, err := r.source.Subscribe(ctx, r.cfg.Binding)
		if err == nil {
			r.setState(StateConsuming)
			r.logger.Infof("Consuming %s on %s", r.cfg.Binding.Key, r.cfg.Binding.Exchange)
			attempt = 0
			bo.Reset()
			r.consume(ctx, deliveries)
		}

		if ctx.Err() != nil {
			r.logger.Info("Relay stopped")
			return nil
		}

		r.setState(StateReconnecting)
		if err != nil {
			r.logger.Errorf("Subscribe failed (attempt %d): %v", attempt+1, err)
		} else {
			r.logger.Warn("Subscription closed, reconnecting")
		}

		if err := broker.Wait(ctx, bo); err != nil {
			r.logger.Info("Relay stopped while reconnecting")
			return nil
		}
		attempt++
		r.metrics.Reconnected(r.cfg.Name)
	}
}

func (r *Relay) consume(ctx context.Context, deliveries <-chan broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if err := r.handle(ctx, d); err != nil {
				return
			}
		}
	}
}

// handle decodes, acknowledges and schedules dispatch. It only blocks when
// Concurrency dispatches are already in flight.
func (r *Relay) handle(ctx context.Context, d broker.Delivery) error {
	env := Decode(d.Body)
	r.metrics.MessageReceived(r.cfg.Name, env.Kind.String())
	if env.Kind == KindRaw {
		r.logger.Warnf("Message on %s is not JSON, broadcasting raw payload", d.RoutingKey)
	}

	if err := d.Ack(); err != nil {
		r.logger.Errorf("Failed to acknowledge message on %s: %v", d.RoutingKey, err)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire dispatch slot: %w", err)
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer r.sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				r.metrics.DispatchPanicked(r.cfg.Name)
				r.logger.Errorf("Dispatch panic: %v\n%s", p, debug.Stack())
			}
		}()

		r.router.Dispatch(env)
	}()
	return nil
}
