package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/storacha/freeway"

// StartSpan starts a span using the global tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// Error records err on the span and marks the span as failed.
func Error(s trace.Span, err error, msg string) {
	s.RecordError(err)
	s.SetStatus(codes.Error, msg)
}
