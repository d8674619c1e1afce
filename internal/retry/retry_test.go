package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatsync/internal/transport"
)

func testPolicy() DefaultPolicy {
	return DefaultPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestDefaultPolicy_ShouldRetry(t *testing.T) {
	p := testPolicy()

	transient := transport.NewError(60, 503, "service unavailable")
	if !p.ShouldRetry(0, transient) {
		t.Error("5xx must be retried")
	}

	permanent := transport.NewError(17, 403, "forbidden")
	if p.ShouldRetry(0, permanent) {
		t.Error("4xx must not be retried")
	}

	if p.ShouldRetry(0, context.Canceled) {
		t.Error("cancellation must not be retried")
	}
	if p.ShouldRetry(0, nil) {
		t.Error("nil error must not be retried")
	}
	if !p.ShouldRetry(0, errors.New("connection reset")) {
		t.Error("unknown errors count as transient")
	}
}

func TestDefaultPolicy_RetryDelayGrows(t *testing.T) {
	p := testPolicy()
	err := errors.New("transient")

	prev := time.Duration(-1)
	for attempt := 0; attempt < 5; attempt++ {
		d := p.RetryDelay(attempt, err)
		if d < prev {
			t.Fatalf("delay shrank at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > p.MaxInterval {
			t.Fatalf("delay %v exceeds max %v", d, p.MaxInterval)
		}
		prev = d
	}

	// Same inputs, same delay.
	if p.RetryDelay(3, err) != p.RetryDelay(3, err) {
		t.Error("RetryDelay must be deterministic")
	}
}

func TestRun_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Run(context.Background(), testPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return transport.NewError(60, 503, "busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRun_PermanentErrorShortCircuits(t *testing.T) {
	attempts := 0
	wantErr := transport.NewError(16, 404, "no such channel")
	err := Run(context.Background(), testPolicy(), func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the permanent error back, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestRun_CancelAbortsWait(t *testing.T) {
	p := DefaultPolicy{
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, p, func(ctx context.Context) error {
			return errors.New("transient")
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not abort the backoff wait on cancel")
	}
}
