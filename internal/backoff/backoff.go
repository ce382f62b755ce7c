// Package backoff implements the bounded exponential retry spec §7 requires
// for transient IoError conditions (connection reset, 5xx) at call sites
// such as the OCI kit store's registry pulls.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds an exponential backoff schedule.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps any single delay.
	Max time.Duration
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
}

// DefaultPolicy matches the retry behavior spec §7 describes: bounded
// exponential backoff on transient signals only.
var DefaultPolicy = Policy{
	Base:        200 * time.Millisecond,
	Max:         10 * time.Second,
	MaxAttempts: 5,
}

// Retryable reports whether err should trigger a retry under this policy.
// Call sites supply this since "transient" (connection reset, 5xx) is
// protocol-specific.
type Retryable func(error) bool

// Do runs fn until it succeeds, fn's error is non-retryable, the policy's
// attempt budget is exhausted, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, retryable Retryable, fn func() error) error {
	var err error
	delay := p.Base

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)))
		if jittered > p.Max {
			jittered = p.Max
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > p.Max {
			delay = p.Max
		}
	}

	return err
}
