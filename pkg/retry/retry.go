// Package retry re-runs operations that failed with a storage error.
// Validation, not-found and conflict errors are returned immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
)

type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// OnRetry is called before each new attempt, if set.
	OnRetry func(attempt int, err error)
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:     3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
	}
}

// BackOff builds the exponential schedule for p, capped at p.Attempts calls
// and bound to ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, fails with a non-storage error, the attempts
// are exhausted or ctx is done. In the last case the last storage error is
// returned rather than the context error.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var (
		last    error
		attempt int
	)
	op := func() error {
		err := fn()
		if err != nil && !apperrors.IsStorage(err) {
			return backoff.Permanent(err)
		}
		last = err
		return err
	}
	notify := func(err error, _ time.Duration) {
		attempt++
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	}

	err := backoff.RetryNotify(op, p.BackOff(ctx), notify)
	if err != nil && ctx.Err() != nil && last != nil {
		return last
	}
	return err
}
