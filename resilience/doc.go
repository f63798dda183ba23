// Package resilience guards calls to remote secret stores.
//
// Each guard can be used alone or composed with an Executor:
//
//   - CircuitBreaker: stops calling a backend after consecutive failures and
//     probes it again after a cool-down.
//   - Retry: re-runs transient failures with exponential, linear, or constant
//     backoff, honoring RetryAfter hints from throttled backends.
//   - RateLimiter: token bucket that keeps request volume under a store's
//     throttling threshold.
//   - Bulkhead: caps concurrent calls to one backend.
//   - Timeout: bounds a single attempt.
//
// Usage:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	        Name:         "keyvault",
//	        MaxFailures:  5,
//	        ResetTimeout: 30 * time.Second,
//	    })),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//
//	s, err := resilience.Do(ctx, exec, func(ctx context.Context) (secret.Secret, error) {
//	    return backend.Fetch(ctx, name, version)
//	})
//
// Errors that implement Retryable() bool decide whether Retry tries again;
// errors that implement RetryAfter() time.Duration stretch the next delay.
package resilience
