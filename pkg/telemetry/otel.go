package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	lambdadetector "go.opentelemetry.io/contrib/detectors/aws/lambda"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

// SetupTelemetry configures the OpenTelemetry SDK for the Lambda gateway by
// setting up a global tracer provider that exports to the collector layer.
func SetupTelemetry(ctx context.Context) (*trace.TracerProvider, func(context.Context), error) {
	// the collector runs in a layer within the lambda's execution environment
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}

	// the resource detector populates some span attributes with information about the environment
	detector := lambdadetector.NewResourceDetector()
	resource, err := detector.Detect(ctx)
	if err != nil {
		return nil, nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(resource),
	)

	shutdownFunc := func(ctx context.Context) {
		err := tp.Shutdown(ctx)
		if err != nil {
			fmt.Printf("error shutting down tracer provider: %v", err)
		}
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, shutdownFunc, nil
}

// GetInstrumentedHTTPClient returns an HTTP client that records a span for
// every outbound request. Requests time out after the passed duration, or
// never if it is zero.
func GetInstrumentedHTTPClient(timeout time.Duration) *http.Client {
	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConnsPerHost: 16,
	}

	instrumentedTransport := otelhttp.NewTransport(transport)

	return &http.Client{
		Transport: instrumentedTransport,
		Timeout:   timeout,
	}
}

func GetInstrumentedRedisClient(opts *redis.Options) *redis.Client {
	client := redis.NewClient(opts)
	redisotel.InstrumentTracing(client)
	return client
}
