// Package retry applies the service's bounded exponential backoff policy to
// transport operations. Semantic failures must be marked Permanent by the
// caller so they surface immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Do runs op under p. The attempt budget counts the first call, so
// MaxAttempts=3 means at most two retries. Context expiry stops the loop
// between attempts.
func Do(ctx context.Context, p Policy, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		bo.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		bo.MaxInterval = p.MaxDelay
	}
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
	return backoff.Retry(op, b)
}

// Permanent marks err as non-retryable; Do returns it as-is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
