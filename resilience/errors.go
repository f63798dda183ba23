package resilience

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimited is returned when no token is available in time.
	ErrRateLimited = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation exceeds its own timeout.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// IsRetryable reports whether err is worth another attempt.
//
// Errors that carry a Retryable() bool method decide for themselves.
// Cancellation and guard rejections are never retried. Anything else is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrBulkheadFull),
		errors.Is(err, ErrRateLimited):
		return false
	}
	return true
}

// retryAfter extracts a server supplied backoff hint, if any.
func retryAfter(err error) time.Duration {
	var h interface{ RetryAfter() time.Duration }
	if errors.As(err, &h) {
		return h.RetryAfter()
	}
	return 0
}
