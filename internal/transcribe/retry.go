package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds how often a backend call is attempted. The delay before
// attempt n+1 is BaseDelay*n, so a base of 800ms waits 800ms then 1600ms.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration

	// OnRetry, if set, observes each scheduled retry before its delay.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, the attempts are exhausted, or ctx is done.
// ErrNotConfigured is never retried. The error of the last attempt is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.Attempts, 1)

	var n int
	var lastErr error
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.BackoffFunc(func() (time.Duration, bool) {
		delay := p.BaseDelay * time.Duration(n)
		if p.OnRetry != nil {
			p.OnRetry(n, delay, lastErr)
		}
		return delay, false
	}))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		n++
		err := fn(ctx, n)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrNotConfigured) {
			return err
		}
		return retry.RetryableError(err)
	})
}
