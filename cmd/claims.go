package main

import (
	"fmt"

	"github.com/storacha/freeway/internal/digestutil"
	"github.com/storacha/freeway/pkg/claims"
	"github.com/urfave/cli/v2"
)

var claimsCmd = &cli.Command{
	Name:      "claims",
	Usage:     "read content claims for a CID and print out the results",
	ArgsUsage: "<cid>",
	Flags: append([]cli.Flag{
		&cli.StringSliceFlag{
			Name:    "walk",
			Aliases: []string{"w"},
			Value:   cli.NewStringSlice(string(claims.WalkParts), string(claims.WalkIncludes)),
			Usage:   "claim relations the claims service should follow",
		},
	}, gatewayFlags...),
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() != 1 {
			return fmt.Errorf("expected a single CID or multihash")
		}
		digest, err := digestutil.ParseCIDOrDigest(cCtx.Args().First())
		if err != nil {
			return fmt.Errorf("parsing CID/multihash: %w", err)
		}

		gateway, err := constructFromFlags(cCtx)
		if err != nil {
			return err
		}
		defer gateway.Close(cCtx.Context)

		var walk []claims.Walk
		for _, w := range cCtx.StringSlice("walk") {
			walk = append(walk, claims.Walk(w))
		}
		cs, err := gateway.Claims.Read(cCtx.Context, digest, walk...)
		if err != nil {
			return fmt.Errorf("reading claims: %w", err)
		}

		w := cCtx.App.Writer
		fmt.Fprintln(w, "")
		fmt.Fprintf(w, "Claims (%d):\n", len(cs))
		for _, c := range cs {
			fmt.Fprintf(w, "  %s\n", c.Delegation().Link())
			fmt.Fprintln(w, "    Type:")
			fmt.Fprintf(w, "      %s\n", c.Ability())
			fmt.Fprintln(w, "    Content:")
			fmt.Fprintf(w, "      %s\n", digestutil.Format(c.Content()))
			switch c := c.(type) {
			case claims.LocationClaim:
				fmt.Fprintln(w, "    Locations:")
				for _, location := range c.Location {
					fmt.Fprintf(w, "      %s\n", location.String())
				}
				if c.Range != nil {
					fmt.Fprintf(w, "    Range: %s\n", formatRange(c.Range.Offset, c.Range.Length))
				}
			case claims.PartitionClaim:
				if c.Blocks != nil {
					fmt.Fprintln(w, "    Blocks:")
					fmt.Fprintf(w, "      %s\n", c.Blocks)
				}
				fmt.Fprintf(w, "    Parts (%d):\n", len(c.Parts))
				for _, part := range c.Parts {
					fmt.Fprintf(w, "      %s\n", part)
				}
			case claims.InclusionClaim:
				fmt.Fprintln(w, "    Includes:")
				fmt.Fprintf(w, "      %s\n", c.Includes)
				if c.Proof != nil {
					fmt.Fprintln(w, "    Proof:")
					fmt.Fprintf(w, "      %s\n", c.Proof)
				}
			}
		}
		return nil
	},
}
