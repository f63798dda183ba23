// Package health provides health checking for secret providers.
//
// A Checker reports Healthy, Degraded or Unhealthy. Secret providers expose
// one checker each; an Aggregator runs them together and the HTTP handlers
// publish the outcome:
//
//	agg := health.NewAggregator()
//	composite.RegisterHealth(agg)
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg) // /healthz, /readyz, /health
//
// ThresholdChecker grades a sampled ratio, for example the share of failed
// secret loads, against warning and critical thresholds.
package health
