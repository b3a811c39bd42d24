package construct

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	logging "github.com/ipfs/go-log/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/storacha/freeway/pkg/claims"
	"github.com/storacha/freeway/pkg/index"
	"github.com/storacha/freeway/pkg/redis"
	"github.com/storacha/freeway/pkg/server"
	"github.com/storacha/freeway/pkg/telemetry"
)

var log = logging.Logger("construct")

const (
	DefaultClaimsServiceURL = "https://claims.web3.storage"
	DefaultClaimsCacheTTL   = time.Hour
	DefaultHTTPTimeout      = 30 * time.Second
)

// Config sets specific config values for the gateway.
type Config struct {
	// ClaimsServiceURL is the content claims service that claims are read from.
	ClaimsServiceURL url.URL
	// RedisURL enables a shared claims cache when set, e.g.
	// redis://localhost:6379/0.
	RedisURL string
	// RedisPassword overrides any password in RedisURL.
	RedisPassword string
	// ClaimsCacheSize is the number of entries in the in-process claims cache,
	// used when no redis is configured. Zero disables it.
	ClaimsCacheSize int
	// ClaimsCacheTTL is how long cached claims live.
	ClaimsCacheTTL time.Duration
	// HTTPTimeout bounds every outbound request.
	HTTPTimeout time.Duration
	// Concurrency is the number of CAR indexes fetched in parallel per request.
	Concurrency int
}

// FromEnv reads the gateway config from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWD"),
		ClaimsCacheTTL: DefaultClaimsCacheTTL,
		HTTPTimeout:    DefaultHTTPTimeout,
		Concurrency:    index.DefaultConcurrency,
	}

	serviceURL := os.Getenv("CONTENT_CLAIMS_SERVICE_URL")
	if serviceURL == "" {
		serviceURL = DefaultClaimsServiceURL
	}
	u, err := url.Parse(serviceURL)
	if err != nil {
		return Config{}, fmt.Errorf("parsing CONTENT_CLAIMS_SERVICE_URL: %w", err)
	}
	cfg.ClaimsServiceURL = *u

	if v := os.Getenv("CLAIMS_CACHE_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing CLAIMS_CACHE_SIZE: %w", err)
		}
		cfg.ClaimsCacheSize = size
	}
	if v := os.Getenv("CLAIMS_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing CLAIMS_CACHE_TTL: %w", err)
		}
		cfg.ClaimsCacheTTL = ttl
	}
	if v := os.Getenv("INDEX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing INDEX_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}
	return cfg, nil
}

type config struct {
	httpClient  *http.Client
	redisClient redis.Client
}

// Option configures how the gateway is constructed
type Option func(*config) error

// WithHTTPClient overrides the instrumented HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(cfg *config) error {
		cfg.httpClient = httpClient
		return nil
	}
}

// WithRedisClient configures the redis client used for caching content
// claims, in place of one created from [Config.RedisURL].
func WithRedisClient(client redis.Client) Option {
	return func(cfg *config) error {
		cfg.redisClient = client
		return nil
	}
}

// Gateway is the set of dependencies a freeway server needs.
type Gateway struct {
	Claims      claims.Reader
	HTTPClient  *http.Client
	Concurrency int
	closers     []io.Closer
}

// ServerOptions returns the options for [server.NewServer].
func (g *Gateway) ServerOptions() []server.Option {
	return []server.Option{
		server.WithHTTPClient(g.HTTPClient),
		server.WithConcurrency(g.Concurrency),
	}
}

// Close releases connections held by the gateway.
func (g *Gateway) Close(ctx context.Context) error {
	for _, c := range g.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Construct constructs a gateway from config, using real dependencies
func Construct(sc Config, opts ...Option) (*Gateway, error) {
	var cfg config
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	g := &Gateway{Concurrency: sc.Concurrency}
	if g.Concurrency <= 0 {
		g.Concurrency = index.DefaultConcurrency
	}

	g.HTTPClient = cfg.httpClient
	if g.HTTPClient == nil {
		timeout := sc.HTTPTimeout
		if timeout == 0 {
			timeout = DefaultHTTPTimeout
		}
		g.HTTPClient = telemetry.GetInstrumentedHTTPClient(timeout)
	}

	ttl := sc.ClaimsCacheTTL
	if ttl == 0 {
		ttl = DefaultClaimsCacheTTL
	}

	var reader claims.Reader = claims.NewClient(sc.ClaimsServiceURL, claims.WithHTTPClient(g.HTTPClient))

	redisClient := cfg.redisClient
	if redisClient == nil && sc.RedisURL != "" {
		redisOpts, err := goredis.ParseURL(sc.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		if sc.RedisPassword != "" {
			redisOpts.Password = sc.RedisPassword
		}
		client := telemetry.GetInstrumentedRedisClient(redisOpts)
		g.closers = append(g.closers, client)
		redisClient = client
	}

	switch {
	case redisClient != nil:
		log.Infof("caching claims in redis for %s", ttl)
		reader = claims.WithCache(reader, redis.NewClaimsStore(redisClient, redis.WithExpiration(ttl)))
	case sc.ClaimsCacheSize > 0:
		log.Infof("caching up to %d claims queries in memory for %s", sc.ClaimsCacheSize, ttl)
		reader = claims.WithCache(reader, claims.NewMemoryCache(sc.ClaimsCacheSize, ttl))
	default:
		log.Warn("claims cache not configured, every request reads claims from the claims service")
	}
	g.Claims = reader

	return g, nil
}
