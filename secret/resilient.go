package secret

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jonwraymond/secretops/resilience"
)

// ResilienceConfig configures NewResilientBackend.
type ResilienceConfig struct {
	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration

	// Retry configures retries of KindUnavailable failures. MaxAttempts of 1
	// disables retrying. RetryIf is always replaced.
	Retry resilience.RetryConfig

	// Breaker configures the circuit breaker. DisableBreaker removes it.
	Breaker        resilience.CircuitBreakerConfig
	DisableBreaker bool

	// MaxConcurrent limits in-flight fetches. Zero means unlimited.
	MaxConcurrent int
	MaxWait       time.Duration

	// RatePerSecond throttles fetches. Zero means unlimited.
	RatePerSecond float64
	Burst         int
}

// DefaultResilienceConfig returns a 5s per-attempt timeout, three attempts
// and a breaker that opens after five consecutive failures.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout: 5 * time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 3},
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 5},
	}
}

// ResilientBackend guards a Backend with timeout, retry, circuit breaker,
// bulkhead and rate limit.
//
// Only KindUnavailable failures are retried. The breaker counts Unavailable
// and Unknown failures; NotFound and Unauthorized mean the backend answered.
type ResilientBackend struct {
	inner   Backend
	exec    *resilience.Executor
	breaker *resilience.CircuitBreaker
}

// NewResilientBackend wraps b.
func NewResilientBackend(b Backend, cfg ResilienceConfig) *ResilientBackend {
	var opts []resilience.ExecutorOption

	if cfg.RatePerSecond > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:    cfg.RatePerSecond,
			Burst:   cfg.Burst,
			MaxWait: cfg.MaxWait,
		})))
	}
	if cfg.MaxConcurrent > 0 {
		opts = append(opts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxWait:       cfg.MaxWait,
		})))
	}

	var breaker *resilience.CircuitBreaker
	if !cfg.DisableBreaker {
		bc := cfg.Breaker
		if bc.Name == "" {
			bc.Name = b.Name()
		}
		bc.IsFailure = breakerFailure
		breaker = resilience.NewCircuitBreaker(bc)
		opts = append(opts, resilience.WithCircuitBreaker(breaker))
	}

	rc := cfg.Retry
	rc.RetryIf = retryable
	opts = append(opts, resilience.WithRetry(resilience.NewRetry(rc)))

	if cfg.Timeout > 0 {
		opts = append(opts, resilience.WithTimeout(cfg.Timeout))
	}

	return &ResilientBackend{
		inner:   b,
		exec:    resilience.NewExecutor(opts...),
		breaker: breaker,
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindUnavailable
}

func breakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

// Name returns the wrapped backend's name.
func (r *ResilientBackend) Name() string {
	return r.inner.Name()
}

// Fetch calls the wrapped backend under the guards.
func (r *ResilientBackend) Fetch(ctx context.Context, name, version string) (Secret, error) {
	return resilience.Do(ctx, r.exec, func(ctx context.Context) (Secret, error) {
		return r.inner.Fetch(ctx, name, version)
	})
}

// Ping probes the wrapped backend directly. It returns nil when the backend
// has no probe.
func (r *ResilientBackend) Ping(ctx context.Context) error {
	if p, ok := r.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the wrapped backend if it implements io.Closer.
func (r *ResilientBackend) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CircuitState reports the breaker state. Without a breaker it is always
// closed.
func (r *ResilientBackend) CircuitState() resilience.State {
	if r.breaker == nil {
		return resilience.StateClosed
	}
	return r.breaker.State()
}

// Unwrap returns the wrapped backend.
func (r *ResilientBackend) Unwrap() Backend {
	return r.inner
}
