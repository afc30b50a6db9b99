package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/amaumene/yggsync/internal/services/ygg"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a source call is repeated
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// attemptBackOff waits a fixed delay between attempts and stops once the
// attempt budget is spent. Rate-limited attempts wait at least the server's
// Retry-After and are not counted.
type attemptBackOff struct {
	policy   RetryPolicy
	attempts int
	lastErr  error
}

func (b *attemptBackOff) Reset() {
	b.attempts = 0
	b.lastErr = nil
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	if errors.Is(b.lastErr, ygg.ErrSourceRateLimited) {
		wait := b.policy.Delay
		var rl *ygg.RateLimitError
		if errors.As(b.lastErr, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		return wait
	}

	b.attempts++
	if b.attempts >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	return b.policy.Delay
}

// withRetry runs op until it succeeds, fails permanently, exhausts the
// policy or ctx is done. notify may be nil.
func withRetry[T any](ctx context.Context, policy RetryPolicy, notify backoff.Notify, op func() (T, error)) (T, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	b := &attemptBackOff{policy: policy}

	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op()
		b.lastErr = err
		if err != nil && !ygg.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(b, ctx), notify)
}
