package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records secret operation metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	RecordLookup(ctx context.Context, meta LookupMeta, duration time.Duration, err error)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics registers the secret instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"secret.lookup.total",
		metric.WithDescription("Total number of secret lookups and backend fetches"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"secret.lookup.errors",
		metric.WithDescription("Total number of failed secret lookups and backend fetches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"secret.lookup.duration_ms",
		metric.WithDescription("Secret lookup duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
	}, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta LookupMeta, duration time.Duration, err error) {
	op := meta.Operation
	if op == "" {
		op = OpLookup
	}
	attrs := []attribute.KeyValue{attribute.String("secret.operation", op)}
	if meta.Provider != "" {
		attrs = append(attrs, attribute.String("secret.provider", meta.Provider))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)

	if err != nil {
		kind := errorKind(err)
		if kind == "" {
			kind = "unknown"
		}
		m.errorCount.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("error.kind", kind))...))
	}
}

// errorKind reads the classification from errors that expose one.
func errorKind(err error) string {
	var k interface{ ErrorKind() string }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return ""
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(ctx context.Context, meta LookupMeta, duration time.Duration, err error) {
}
