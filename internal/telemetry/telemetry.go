// Package telemetry wraps OpenTelemetry tracing so the replication core
// never imports the otel SDK directly at its call sites.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer for a service or component.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan opens a span on the named tracer with the given attributes and
// returns the updated context and a finish function. Callers defer the
// finish function; it records the error, if any, onto the span before
// ending it.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
