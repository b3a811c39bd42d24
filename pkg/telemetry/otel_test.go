package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestInstrumentedHTTPClientPropagatesTrace(t *testing.T) {
	otel.SetTracerProvider(trace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var traceparent string
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
	}))
	defer svr.Close()

	ctx, s := StartSpan(context.Background(), "test")
	defer s.End()

	client := GetInstrumentedHTTPClient(time.Second)
	require.Equal(t, time.Second, client.Timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svr.URL, nil)
	require.NoError(t, err)
	res, err := client.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	require.Contains(t, traceparent, s.SpanContext().TraceID().String())
}
