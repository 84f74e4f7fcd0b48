package inbound

import "context"

// DispatchResult describes where an injected event went.
type DispatchResult struct {
	Target    string `json:"target"`
	Key       string `json:"key,omitempty"`
	Delivered int    `json:"delivered"`
}

// EventUseCase is the operator entry point into the fan-out path.
type EventUseCase interface {
	// Dispatch routes payload to live connections in-process.
	Dispatch(ctx context.Context, payload []byte) (DispatchResult, error)
	// Publish sends payload to the exchange. An empty routingKey is derived
	// from the payload's user.
	Publish(ctx context.Context, routingKey string, payload []byte) (string, error)
}
