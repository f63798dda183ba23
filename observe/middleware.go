package observe

import (
	"context"
	"time"
)

// Middleware instruments secret operations with a span, metrics and a log
// line.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: the span context is passed to fn.
//   - Errors: fn's error is recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// NopMiddleware returns a Middleware that records nothing.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Run executes fn inside the instrumentation.
func (m *Middleware) Run(ctx context.Context, meta LookupMeta, fn func(context.Context) error) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, err)
	m.metrics.RecordLookup(ctx, meta, duration, err)

	fields := []Field{
		{Key: "secret.operation", Value: meta.Operation},
		{Key: "secret.name", Value: meta.Name},
		{Key: "duration_ms", Value: float64(duration) / float64(time.Millisecond)},
	}
	if meta.Provider != "" {
		fields = append(fields, Field{Key: "secret.provider", Value: meta.Provider})
	}
	if meta.Version != "" {
		fields = append(fields, Field{Key: "secret.version", Value: meta.Version})
	}

	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err.Error()})
		if kind := errorKind(err); kind != "" {
			fields = append(fields, Field{Key: "error.kind", Value: kind})
		}
		m.logger.Debug(ctx, "secret operation failed", fields...)
	} else {
		m.logger.Debug(ctx, "secret operation completed", fields...)
	}

	return err
}

// MiddlewareFromObserver builds a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
