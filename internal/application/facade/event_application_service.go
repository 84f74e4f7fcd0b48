package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"avito-realtime-relay/internal/application/relay"
	"avito-realtime-relay/internal/infrastructure/logger"
	"avito-realtime-relay/internal/port/inbound"
)

var (
	ErrInvalidPayload       = errors.New("payload must be valid JSON")
	ErrInvalidRoutingKey    = errors.New("invalid routing key")
	ErrPublisherUnavailable = errors.New("publisher is not configured")
)

// Publisher sends a message to a broker exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

type EventApplicationService struct {
	router    *relay.Router
	publisher Publisher
	exchange  string
	prefix    string
	allowed   []string
	logger    logger.Logger
}

var _ inbound.EventUseCase = (*EventApplicationService)(nil)

// NewEventApplicationService builds the service. prefix is the routing key
// prefix used when Publish derives a key, e.g. "progress". Publish only
// accepts keys matched by one of bindingKeys, the patterns the relays
// consume (e.g. "progress.*"), so it cannot reach other consumers on the
// exchange.
func NewEventApplicationService(
	router *relay.Router,
	publisher Publisher,
	exchange, prefix string,
	bindingKeys []string,
	log logger.Logger,
) *EventApplicationService {
	allowed := make([]string, 0, len(bindingKeys))
	for _, key := range bindingKeys {
		if p := strings.TrimRight(key, "*#"); p != "" {
			allowed = append(allowed, p)
		}
	}

	return &EventApplicationService{
		router:    router,
		publisher: publisher,
		exchange:  exchange,
		prefix:    prefix,
		allowed:   allowed,
		logger:    log.WithField("component", "events"),
	}
}

// allowedKey reports whether key is a concrete key under one of the relay
// prefixes.
func (s *EventApplicationService) allowedKey(key string) bool {
	if strings.ContainsAny(key, "*# ") {
		return false
	}
	for _, p := range s.allowed {
		if rest, ok := strings.CutPrefix(key, p); ok && rest != "" {
			return true
		}
	}
	return false
}

func (s *EventApplicationService) Dispatch(ctx context.Context, payload []byte) (inbound.DispatchResult, error) {
	if !json.Valid(payload) {
		return inbound.DispatchResult{}, ErrInvalidPayload
	}

	d, n := s.router.Dispatch(relay.Decode(payload))
	return inbound.DispatchResult{
		Target:    d.Target.String(),
		Key:       d.Key,
		Delivered: n,
	}, nil
}

func (s *EventApplicationService) Publish(ctx context.Context, routingKey string, payload []byte) (string, error) {
	if s.publisher == nil {
		return "", ErrPublisherUnavailable
	}
	if !json.Valid(payload) {
		return "", ErrInvalidPayload
	}

	routingKey = strings.TrimSpace(routingKey)
	if routingKey == "" {
		env := relay.Decode(payload)
		if env.UserID == "" {
			return "", fmt.Errorf("%w: required when the payload has no user_id", ErrInvalidRoutingKey)
		}
		routingKey = s.prefix + "." + env.UserID
	}
	if !s.allowedKey(routingKey) {
		s.logger.Warnf("Rejected publish with routing key %q", routingKey)
		return "", fmt.Errorf("%w: %q is outside the relay bindings", ErrInvalidRoutingKey, routingKey)
	}

	if err := s.publisher.Publish(ctx, s.exchange, routingKey, payload); err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}

	s.logger.Infof("Published event to %s with routing key %s", s.exchange, routingKey)
	return routingKey, nil
}
