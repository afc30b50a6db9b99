package controllers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amaumene/yggsync/internal/services/ygg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := withRetry(context.Background(), RetryPolicy{MaxAttempts: 3}, nil, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, ygg.ErrSourceUnavailable
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	var notified []time.Duration
	_, err := withRetry(context.Background(), RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond},
		func(_ error, wait time.Duration) { notified = append(notified, wait) },
		func() (string, error) {
			calls++
			return "", &ygg.StatusError{StatusCode: 500}
		})
	assert.ErrorIs(t, err, ygg.ErrSourceUnavailable)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Millisecond}, notified)
}

func TestWithRetry_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), RetryPolicy{MaxAttempts: 5}, nil, func() (int, error) {
		calls++
		return 0, ygg.ErrNotFound
	})
	assert.ErrorIs(t, err, ygg.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RateLimitUsesRetryAfter(t *testing.T) {
	calls := 0
	var waits []time.Duration
	_, err := withRetry(context.Background(), RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond},
		func(_ error, wait time.Duration) { waits = append(waits, wait) },
		func() (int, error) {
			calls++
			if calls == 1 {
				return 0, &ygg.RateLimitError{RetryAfter: 20 * time.Millisecond}
			}
			if calls == 2 {
				return 0, &ygg.RateLimitError{}
			}
			return 1, nil
		})
	require.NoError(t, err, "a single-attempt budget still survives rate limiting")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, time.Millisecond}, waits)
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := withRetry(ctx, RetryPolicy{MaxAttempts: 10, Delay: time.Hour}, nil, func() (int, error) {
		calls++
		cancel()
		return 0, ygg.ErrSourceUnavailable
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}
