// Package retry holds the retry policy applied to every CRM call made by the
// bulk refresh engine. It wraps cenkalti/backoff so that the permission
// short-circuit and the generic error path share one code path.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tbourn/checkin-kiosk/internal/crm"
)

// Policy retries an operation with exponential backoff: the n-th retry
// (n starting at 0) waits BaseDelay * 2^n, capped at MaxDelay when set.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// IsRetryable decides whether a failed try may be repeated. Nil means
	// DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultPolicy is three tries with a one-second base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, IsRetryable: DefaultIsRetryable}
}

// DefaultIsRetryable never retries permission or not-found failures; those
// cannot succeed on a second try. Rate limits, network and other errors are
// retried.
func DefaultIsRetryable(err error) bool {
	switch crm.Classify(err) {
	case crm.KindPermissionDenied, crm.KindNotFound:
		return false
	default:
		return true
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, MaxAttempts is
// reached or ctx is done. It returns the number of tries made and the last
// error from fn (or the context error).
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = DefaultIsRetryable
	}
	maxTries := p.MaxAttempts
	if maxTries <= 0 {
		maxTries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = p.BaseDelay << maxTries
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := fn(ctx); err != nil {
			if !isRetryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithMaxElapsedTime(0),
	)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return attempts, err
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
