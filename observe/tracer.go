package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Operation names used for spans and metrics.
const (
	OpLookup = "lookup"
	OpFetch  = "fetch"
)

// LookupMeta describes one secret operation for telemetry. It never carries
// the secret value.
type LookupMeta struct {
	Operation string // lookup|fetch
	Provider  string // provider or backend name; empty for a composite lookup
	Name      string // secret name
	Version   string // requested version; empty means latest
	Bypass    bool   // cache bypass requested
}

// SpanName returns secret.<operation>.
func (m LookupMeta) SpanName() string {
	op := m.Operation
	if op == "" {
		op = OpLookup
	}
	return "secret." + op
}

func (m LookupMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("secret.name", m.Name),
	}
	if m.Provider != "" {
		attrs = append(attrs, attribute.String("secret.provider", m.Provider))
	}
	if m.Version != "" {
		attrs = append(attrs, attribute.String("secret.version", m.Version))
	}
	if m.Bypass {
		attrs = append(attrs, attribute.Bool("secret.bypass_cache", true))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing for secret operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta LookupMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return newNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta LookupMeta) (context.Context, trace.Span) {
	kind := trace.SpanKindInternal
	if meta.Operation == OpFetch {
		kind = trace.SpanKindClient
	}
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(kind),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if kind := errorKind(err); kind != "" {
			span.SetAttributes(attribute.String("error.kind", kind))
		}
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta LookupMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
