package main

import (
	"fmt"

	"github.com/storacha/freeway/pkg/server"
	"github.com/storacha/freeway/pkg/telemetry"
	"github.com/urfave/cli/v2"
)

var serverCmd = &cli.Command{
	Name:  "server",
	Usage: "HTTP gateway serving raw blocks located by content claims",
	Subcommands: []*cli.Command{
		{
			Name:  "start",
			Usage: "start a freeway HTTP server",
			Flags: append([]cli.Flag{
				&cli.IntFlag{
					Name:    "port",
					Aliases: []string{"p"},
					EnvVars: []string{"PORT"},
					Value:   9000,
					Usage:   "port to bind the server to",
				},
				&cli.StringFlag{
					Name:    "sentry-dsn",
					EnvVars: []string{"SENTRY_DSN"},
					Usage:   "report errors to Sentry at this DSN",
				},
				&cli.StringFlag{
					Name:    "sentry-environment",
					EnvVars: []string{"SENTRY_ENVIRONMENT"},
					Value:   "development",
					Usage:   "environment reported to Sentry",
				},
			}, gatewayFlags...),
			Action: func(cCtx *cli.Context) error {
				addr := fmt.Sprintf(":%d", cCtx.Int("port"))

				telemetryShutdown, err := telemetry.SetupLocalTelemetry(cCtx.Context)
				if err != nil {
					return fmt.Errorf("setting up telemetry: %w", err)
				}
				defer telemetryShutdown(cCtx.Context)

				gateway, err := constructFromFlags(cCtx)
				if err != nil {
					return err
				}
				defer gateway.Close(cCtx.Context)

				opts := gateway.ServerOptions()
				if dsn := cCtx.String("sentry-dsn"); dsn != "" {
					flush, err := telemetry.InitSentry(dsn, cCtx.String("sentry-environment"))
					if err != nil {
						return err
					}
					defer flush()
					opts = append(opts, server.WithLogger(telemetry.NewSentryLogger("server")))
				}

				return server.ListenAndServe(addr, gateway.Claims, opts...)
			},
		},
	},
}
