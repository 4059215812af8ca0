// Package otel provides OpenTelemetry instrumentation utilities for the data source orchestrator.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys used across the application.
// Using shared keys ensures consistent attribute naming in traces.
const (
	AttrSourceID     = attribute.Key("source.id")
	AttrSourceType   = attribute.Key("source.type")
	AttrSourceMethod = attribute.Key("source.method")
	AttrSourceStatus = attribute.Key("source.status")
	AttrBatchID      = attribute.Key("batch.id")
	AttrBatchSize    = attribute.Key("batch.size")
	AttrResultCount  = attribute.Key("result.count")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
// This provides graceful degradation when tracing is disabled.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors.
// The status description is generic; the error itself is kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
