// Package retry drives every network-backed mutation in the engine
// through a single policy: run the operation, ask the policy on
// failure, wait out the delay, run again.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"chatsync/internal/transport"
)

// Policy decides whether a failed attempt is worth repeating and how
// long to wait before it.
type Policy interface {
	ShouldRetry(attempt int, err error) bool
	RetryDelay(attempt int, err error) time.Duration
}

// DefaultPolicy retries transient errors indefinitely with a capped
// exponential delay and never retries permanent ones.
type DefaultPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func NewDefaultPolicy() DefaultPolicy {
	return DefaultPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      backoff.DefaultMultiplier,
	}
}

func (p DefaultPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !transport.IsPermanent(err)
}

// RetryDelay replays the backoff curve up to the given attempt so the
// same (attempt, error) pair always yields the same delay.
func (p DefaultPolicy) RetryDelay(attempt int, err error) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Run executes op, consulting the policy after each failure. The delay
// is a suspension point: cancelling ctx aborts the wait immediately.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.ShouldRetry(attempt, err) {
			return err
		}

		timer := time.NewTimer(p.RetryDelay(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
