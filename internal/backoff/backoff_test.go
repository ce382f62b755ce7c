package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 5}
	attempts := 0
	err := p.Do(context.Background(), func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 5}
	attempts := 0
	sentinel := errors.New("fatal")
	err := p.Do(context.Background(), func(error) bool { return false }, func() error {
		attempts++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3}
	attempts := 0
	err := p.Do(context.Background(), func(error) bool { return true }, func() error {
		attempts++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := Policy{Base: 50 * time.Millisecond, Max: time.Second, MaxAttempts: 5}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := p.Do(ctx, func(error) bool { return true }, func() error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
