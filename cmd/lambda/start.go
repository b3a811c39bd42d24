package lambda

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/freeway/pkg/construct"
	"github.com/storacha/freeway/pkg/telemetry"
)

var log = logging.Logger("lambda")

// handlerFactory is a factory function that returns a function suitable to use as a lambda handler. See
// https://docs.aws.amazon.com/lambda/latest/dg/golang-handler.html#golang-handler-signatures for information on the
// valid signatures a handler function can have to be used as a lambda handler.
type handlerFactory func(gateway *construct.Gateway) any

// Start starts the lambda with the handler obtained from the factory function.
// Tracing is enabled when OTEL_EXPORTER_OTLP_ENDPOINT is set and errors are
// reported to Sentry when SENTRY_DSN is set.
func Start(makeHandler handlerFactory) {
	ctx := context.Background()
	cfg, err := construct.FromEnv()
	if err != nil {
		panic(err)
	}

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		_, telemetryShutdown, err := telemetry.SetupTelemetry(ctx)
		if err != nil {
			panic(err)
		}
		defer telemetryShutdown(ctx)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		flush, err := telemetry.InitSentry(dsn, os.Getenv("SENTRY_ENVIRONMENT"))
		if err != nil {
			panic(err)
		}
		defer flush()
	}

	gateway, err := construct.Construct(cfg)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := gateway.Close(ctx); err != nil {
			log.Warnf("closing gateway: %s", err)
		}
	}()

	lambda.StartWithOptions(makeHandler(gateway), lambda.WithContext(ctx))
}
