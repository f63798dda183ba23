package secret

import (
	"context"
	"fmt"

	"github.com/jonwraymond/secretops/cache"
	"github.com/jonwraymond/secretops/health"
	"github.com/jonwraymond/secretops/resilience"
)

// CacheCheckerName is the name RegisterHealth uses for the cache checker.
const CacheCheckerName = "secret.cache"

// minLoadsForRatio is the number of loads below which the cache failure
// ratio is not graded.
const minLoadsForRatio = 10

type circuitReporter interface {
	CircuitState() resilience.State
}

// Checker reports the provider's health.
//
// An open circuit is unhealthy and a half-open one degraded. A failing
// Pinger is unhealthy when the backend rejects credentials and degraded
// otherwise.
func (p *Provider) Checker() health.Checker {
	return health.NewCheckerFunc(p.Name(), func(ctx context.Context) health.Result {
		details := map[string]any{
			"backend": p.Name(),
		}
		if p.ttl >= 0 {
			details["ttl"] = p.ttl.String()
		}

		if cr, ok := p.backend.(circuitReporter); ok {
			state := cr.CircuitState()
			details["circuit"] = state.String()
			switch state {
			case resilience.StateOpen:
				return health.Unhealthy("circuit open", resilience.ErrCircuitOpen).WithDetails(details)
			case resilience.StateHalfOpen:
				return health.Degraded("circuit half-open").WithDetails(details)
			}
		}

		if pinger, ok := p.backend.(Pinger); ok {
			if err := pinger.Ping(ctx); err != nil {
				details["error.kind"] = KindOf(err).String()
				if KindOf(err) == KindUnauthorized {
					return health.Unhealthy("backend rejected credentials", err).WithDetails(details)
				}
				return health.Degraded("backend probe failed").WithError(err).WithDetails(details)
			}
		}

		return health.Healthy("ok").WithDetails(details)
	})
}

// RegisterHealth registers one checker per provider and a cache checker
// grading the share of failed backend loads.
func (c *Composite) RegisterHealth(agg *health.Aggregator) {
	seen := make(map[string]int)
	for _, p := range c.providers {
		name := p.Name()
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s#%d", name, n+1)
		}
		seen[p.Name()]++
		agg.Register(name, p.Checker())
	}

	stores := c.stores()
	agg.Register(CacheCheckerName, health.NewThresholdChecker(health.ThresholdConfig{
		Name: CacheCheckerName,
		Sample: func() (float64, map[string]any, bool) {
			var total cache.Stats
			for _, s := range stores {
				st := s.Stats()
				total.Hits += st.Hits
				total.Misses += st.Misses
				total.Loads += st.Loads
				total.Shared += st.Shared
				total.Failures += st.Failures
				total.Entries += st.Entries
			}
			details := map[string]any{
				"hits":     total.Hits,
				"misses":   total.Misses,
				"loads":    total.Loads,
				"shared":   total.Shared,
				"failures": total.Failures,
				"entries":  total.Entries,
			}
			if total.Loads < minLoadsForRatio {
				return 0, details, false
			}
			return float64(total.Failures) / float64(total.Loads), details, true
		},
	}))
}

func (c *Composite) stores() []*cache.Store[Secret] {
	var out []*cache.Store[Secret]
	seen := make(map[*cache.Store[Secret]]bool)
	for _, p := range c.providers {
		if s := p.Store(); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
