// Package observe provides the logging, tracing and metrics used around
// secret lookups.
//
// It is a pure instrumentation library. Callers build an Observer from
// Config, derive a Middleware from it and hand that to the secret package,
// which wraps every lookup and backend fetch with a span, a set of metrics
// and a log line.
package observe
