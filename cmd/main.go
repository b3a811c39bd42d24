package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("cmd")

func main() {
	logging.SetLogLevel("*", "info")

	app := &cli.App{
		Name:  "freeway",
		Usage: "Serve and fetch blocks located by content claims.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
				Usage:   "log level for all subsystems",
			},
		},
		Before: func(cCtx *cli.Context) error {
			return logging.SetLogLevel("*", cCtx.String("log-level"))
		},
		Commands: []*cli.Command{
			serverCmd,
			blockCmd,
			indexCmd,
			claimsCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
