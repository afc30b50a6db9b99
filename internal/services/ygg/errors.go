package ygg

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSourceUnavailable covers transport failures, server errors and
	// undecodable responses
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceRateLimited is returned when the API explicitly throttles us
	ErrSourceRateLimited = errors.New("source rate limited")

	// ErrNotFound is returned for unknown torrent IDs. It also matches
	// ErrSourceUnavailable but is never worth retrying.
	ErrNotFound = fmt.Errorf("%w: torrent not found", ErrSourceUnavailable)
)

// RateLimitError carries the server's requested wait, if any
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source rate limited, retry after %s", e.RetryAfter)
	}
	return "source rate limited"
}

func (e *RateLimitError) Unwrap() error {
	return ErrSourceRateLimited
}

// StatusError is a non-success HTTP response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrSourceUnavailable
}

// Retryable reports whether the request may succeed if repeated
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSourceRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == 408
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable)
}
