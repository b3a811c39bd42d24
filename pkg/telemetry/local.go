package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

// SetupLocalTelemetry installs a tracer provider for the standalone server
// and the CLI. Spans are exported over OTLP/HTTP to OTEL_EXPORTER_OTLP_ENDPOINT
// when the exporter can be created, otherwise they are only used for
// propagation.
func SetupLocalTelemetry(ctx context.Context) (func(context.Context) error, error) {
	var opts []tracesdk.TracerProviderOption

	// sample everything so requests without a parent still produce traces
	opts = append(opts, tracesdk.WithSampler(tracesdk.AlwaysSample()))

	exp, err := otlptracehttp.New(ctx)
	if err == nil {
		opts = append(opts, tracesdk.WithBatcher(exp))
	}

	opts = append(opts, tracesdk.WithResource(sdkresource.Empty()))

	tp := tracesdk.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
