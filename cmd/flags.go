package main

import (
	"fmt"
	"net/url"

	"github.com/storacha/freeway/pkg/construct"
	"github.com/storacha/freeway/pkg/index"
	"github.com/urfave/cli/v2"
)

// gatewayFlags configure how claims are read and cached.
var gatewayFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "claims-url",
		EnvVars: []string{"CONTENT_CLAIMS_SERVICE_URL"},
		Value:   construct.DefaultClaimsServiceURL,
		Usage:   "URL of the content claims service",
	},
	&cli.StringFlag{
		Name:    "redis-url",
		Aliases: []string{"redis"},
		EnvVars: []string{"REDIS_URL"},
		Usage:   "url for a running redis database, used to cache claims",
	},
	&cli.StringFlag{
		Name:    "redis-passwd",
		Aliases: []string{"rp"},
		EnvVars: []string{"REDIS_PASSWD"},
		Usage:   "passwd for redis",
	},
	&cli.IntFlag{
		Name:    "claims-cache-size",
		EnvVars: []string{"CLAIMS_CACHE_SIZE"},
		Usage:   "number of claims queries cached in memory when redis is not configured",
	},
	&cli.DurationFlag{
		Name:    "claims-cache-ttl",
		EnvVars: []string{"CLAIMS_CACHE_TTL"},
		Value:   construct.DefaultClaimsCacheTTL,
		Usage:   "how long cached claims live",
	},
	&cli.IntFlag{
		Name:    "concurrency",
		EnvVars: []string{"INDEX_CONCURRENCY"},
		Value:   index.DefaultConcurrency,
		Usage:   "number of CAR indexes fetched in parallel",
	},
	&cli.DurationFlag{
		Name:  "http-timeout",
		Value: construct.DefaultHTTPTimeout,
		Usage: "timeout for requests to the claims service and object stores",
	},
}

func configFromFlags(cCtx *cli.Context) (construct.Config, error) {
	serviceURL, err := url.Parse(cCtx.String("claims-url"))
	if err != nil {
		return construct.Config{}, fmt.Errorf("parsing claims service URL: %w", err)
	}
	return construct.Config{
		ClaimsServiceURL: *serviceURL,
		RedisURL:         cCtx.String("redis-url"),
		RedisPassword:    cCtx.String("redis-passwd"),
		ClaimsCacheSize:  cCtx.Int("claims-cache-size"),
		ClaimsCacheTTL:   cCtx.Duration("claims-cache-ttl"),
		Concurrency:      cCtx.Int("concurrency"),
		HTTPTimeout:      cCtx.Duration("http-timeout"),
	}, nil
}

func constructFromFlags(cCtx *cli.Context) (*construct.Gateway, error) {
	cfg, err := configFromFlags(cCtx)
	if err != nil {
		return nil, err
	}
	return construct.Construct(cfg)
}

func formatRange(offset uint64, length *uint64) string {
	if length == nil {
		return fmt.Sprintf("%d-", offset)
	}
	return fmt.Sprintf("%d-%d", offset, offset+*length)
}
