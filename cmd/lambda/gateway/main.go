package main

import (
	"os"

	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/storacha/freeway/cmd/lambda"
	"github.com/storacha/freeway/pkg/construct"
	"github.com/storacha/freeway/pkg/server"
	"github.com/storacha/freeway/pkg/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	lambda.Start(makeHandler)
}

func makeHandler(gateway *construct.Gateway) any {
	opts := gateway.ServerOptions()
	if os.Getenv("SENTRY_DSN") != "" {
		opts = append(opts, server.WithLogger(telemetry.NewSentryLogger("server")))
	}
	handler := otelhttp.NewHandler(server.NewServer(gateway.Claims, opts...), "freeway")
	return httpadapter.NewV2(handler).ProxyWithContext
}
