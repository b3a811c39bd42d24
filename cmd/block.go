package main

import (
	"fmt"

	"github.com/storacha/freeway/internal/digestutil"
	"github.com/storacha/freeway/pkg/blockstore"
	"github.com/storacha/freeway/pkg/index"
	"github.com/urfave/cli/v2"
)

var blockCmd = &cli.Command{
	Name:  "block",
	Usage: "fetch blocks located by content claims",
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			Usage:     "fetch a block and write its bytes to stdout",
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
				bs := blockstore.New(idx, blockstore.WithHTTPClient(gateway.HTTPClient))
				blk, err := bs.Get(cCtx.Context, c)
				if err != nil {
					return fmt.Errorf("getting block %s: %w", c, err)
				}
				_, err = cCtx.App.Writer.Write(blk.RawData())
				return err
			},
		},
	},
}
