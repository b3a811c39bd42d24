package main

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/storacha/freeway/internal/digestutil"
	"github.com/storacha/freeway/pkg/index"
	"github.com/storacha/freeway/pkg/mhindex"
	"github.com/urfave/cli/v2"
)

var indexCmd = &cli.Command{
	Name:  "index",
	Usage: "resolve and inspect block indexes",
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			Usage:     "resolve the location of a block from content claims",
			ArgsUsage: "<cid>",
			Flags:     gatewayFlags,
			Action: func(cCtx *cli.Context) error {
				if cCtx.NArg() != 1 {
					return fmt.Errorf("expected a single CID or multihash")
				}
				c, err := digestutil.ParseCID(cCtx.Args().First())
				if err != nil {
					return fmt.Errorf("parsing CID/multihash: %w", err)
				}

				gateway, err := constructFromFlags(cCtx)
				if err != nil {
					return err
				}
				defer gateway.Close(cCtx.Context)

				idx := index.New(gateway.Claims, index.WithHTTPClient(gateway.HTTPClient), index.WithConcurrency(gateway.Concurrency))
				res, err := idx.Resolve(cCtx.Context, c)
				if err != nil {
					return fmt.Errorf("resolving %s: %w", c, err)
				}

				w := cCtx.App.Writer
				fmt.Fprintln(w, "")
				fmt.Fprintf(w, "%s\n", c)
				if res.Entry == nil {
					fmt.Fprintln(w, "  (Not Found)")
				} else {
					fmt.Fprintln(w, "  Location:")
					fmt.Fprintf(w, "    %s\n", res.Entry.Location.String())
					fmt.Fprintf(w, "  Offset: %d\n", res.Entry.Offset)
				}
				if len(res.Gaps) > 0 {
					fmt.Fprintf(w, "  Gaps (%d):\n", len(res.Gaps))
					for _, gap := range res.Gaps {
						fmt.Fprintf(w, "    %s\n", gap.Error())
					}
				}
				return nil
			},
		},
		{
			Name:      "decode",
			Usage:     "print the entries of a multihash sorted CAR index",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "location",
					Aliases: []string{"l"},
					Usage:   "URL of the CAR the index describes",
				},
			},
			Action: func(cCtx *cli.Context) error {
				var r io.Reader = os.Stdin
				if cCtx.NArg() > 0 && cCtx.Args().First() != "-" {
					f, err := os.Open(cCtx.Args().First())
					if err != nil {
						return fmt.Errorf("opening index: %w", err)
					}
					defer f.Close()
					r = f
				}

				var location url.URL
				if cCtx.IsSet("location") {
					u, err := url.Parse(cCtx.String("location"))
					if err != nil {
						return fmt.Errorf("parsing location: %w", err)
					}
					location = *u
				}

				w := cCtx.App.Writer
				count := 0
				for entry, err := range mhindex.Entries(location, r) {
					if err != nil {
						return fmt.Errorf("decoding index: %w", err)
					}
					if location.String() == "" {
						fmt.Fprintf(w, "%s @ %d\n", digestutil.Format(entry.Multihash), entry.Offset)
					} else {
						fmt.Fprintf(w, "%s @ %d in %s\n", digestutil.Format(entry.Multihash), entry.Offset, entry.Location.String())
					}
					count++
				}
				log.Infof("decoded %d entries", count)
				return nil
			},
		},
	},
}
