package broker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff configures the delay between reconnect attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter spreads each delay by up to 25% either way.
	Jitter bool
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// New returns a fresh exponential policy that never gives up on its own.
// Wrap it with backoff.WithContext to stop on cancellation.
func (b Backoff) New() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 100 * time.Millisecond
	}
	eb.MaxInterval = b.Max
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Multiplier = b.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 2.0
	}
	eb.RandomizationFactor = 0
	if b.Jitter {
		eb.RandomizationFactor = 0.25
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Wait sleeps for the next delay of bo. It returns ctx.Err() when ctx ends
// first, or when bo has stopped.
func Wait(ctx context.Context, bo backoff.BackOff) error {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
