package fetch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/eventstore"
)

// StoreError wraps a non-transient backing-store failure, or a transient one
// that exhausted the retry budget. Surfaced to callers as a 500-class error.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return "backing store error: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Policy is the single retry policy shared by all store calls: max attempts,
// base delay, transient-error predicate. One instance is constructed at
// startup and injected everywhere a store call happens.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Transient reports whether an error is worth retrying. Defaults to
	// matching eventstore.ErrTimeout.
	Transient func(error) bool
}

// DefaultPolicy returns the policy used in production.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: config.RetryMaxAttempts,
		BaseDelay:   config.RetryBaseDelay,
		MaxDelay:    config.RetryMaxDelay,
		Jitter:      config.RetryJitter,
	}
}

func (p Policy) transient(err error) bool {
	if p.Transient != nil {
		return p.Transient(err)
	}
	return errors.Is(err, eventstore.ErrTimeout)
}

// Do runs fn, retrying transient failures with exponential backoff plus
// jitter. A non-transient error aborts immediately. The returned error is
// wrapped in *StoreError once the budget is exhausted or the failure is
// fatal; context cancellation is returned as-is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.transient(err) {
			return &StoreError{Err: err}
		}
		if i == attempts-1 {
			break
		}

		// backoff = base * 2^i + jitter, capped at MaxDelay
		delay := time.Duration(math.Pow(2, float64(i))) * p.BaseDelay
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if p.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(p.Jitter)))
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &StoreError{Err: err}
}
