package cache

import "time"

// Policy configures caching behavior.
type Policy struct {
	// DefaultTTL is the TTL used when a provider does not set one.
	// If zero, caching is disabled by default.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Larger TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// FailureTTL is how long a failed load is remembered and replayed.
	// If zero, failures are never cached and the next caller loads again.
	FailureTTL time.Duration
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 5 minutes, MaxTTL: 1 hour, FailureTTL: 0 (failures not cached)
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     1 * time.Hour,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use for an override, applying the default
// for a negative override and clamping to MaxTTL. A zero override stays zero
// and means "do not cache".
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl < 0 {
		ttl = p.DefaultTTL
	}

	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}

	return ttl
}

// clampFailureTTL keeps negative entries from outliving MaxTTL.
func (p Policy) clampFailureTTL() time.Duration {
	if p.FailureTTL <= 0 {
		return 0
	}
	if p.MaxTTL > 0 && p.FailureTTL > p.MaxTTL {
		return p.MaxTTL
	}
	return p.FailureTTL
}
