package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of calls allowed per second.
	// Default: 50
	Rate float64

	// Burst is the bucket size.
	// Default: 10
	Burst int

	// MaxWait bounds how long Execute waits for a token. Zero rejects
	// immediately when the bucket is empty.
	MaxWait time.Duration

	// Now overrides time.Now.
	Now func() time.Time
}

// RateLimiter is a token bucket that keeps request volume to a remote
// secret store under its throttling threshold.
type RateLimiter struct {
	config RateLimiterConfig

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 50
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{
		config: config,
		tokens: float64(config.Burst),
		last:   config.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.reserve()
	return ok
}

// reserve takes a token or reports how long until one is available.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Now()
	rl.tokens += now.Sub(rl.last).Seconds() * rl.config.Rate
	rl.last = now
	if burst := float64(rl.config.Burst); rl.tokens > burst {
		rl.tokens = burst
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}
	return time.Duration((1 - rl.tokens) / rl.config.Rate * float64(time.Second)), false
}

// Wait blocks until a token is taken, MaxWait would be exceeded, or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	deadline := rl.config.Now().Add(rl.config.MaxWait)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, ok := rl.reserve()
		if ok {
			return nil
		}
		if rl.config.Now().Add(wait).After(deadline) {
			return ErrRateLimited
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Execute runs op once a token is available.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	return op(ctx)
}

// Tokens returns the number of tokens currently in the bucket.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	elapsed := rl.config.Now().Sub(rl.last).Seconds()
	t := rl.tokens + elapsed*rl.config.Rate
	if burst := float64(rl.config.Burst); t > burst {
		t = burst
	}
	return t
}
