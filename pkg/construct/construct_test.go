package construct_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/storacha/freeway/pkg/construct"
	"github.com/storacha/freeway/pkg/internal/testutil"
	"github.com/storacha/freeway/pkg/redis"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("CONTENT_CLAIMS_SERVICE_URL", "")
		t.Setenv("CLAIMS_CACHE_SIZE", "")
		t.Setenv("CLAIMS_CACHE_TTL", "")
		t.Setenv("INDEX_CONCURRENCY", "")
		t.Setenv("REDIS_URL", "")

		cfg := testutil.Must(construct.FromEnv())(t)
		require.Equal(t, construct.DefaultClaimsServiceURL, cfg.ClaimsServiceURL.String())
		require.Zero(t, cfg.ClaimsCacheSize)
		require.Equal(t, construct.DefaultClaimsCacheTTL, cfg.ClaimsCacheTTL)
		require.Empty(t, cfg.RedisURL)
	})

	t.Run("configured", func(t *testing.T) {
		t.Setenv("CONTENT_CLAIMS_SERVICE_URL", "https://claims.example.com")
		t.Setenv("CLAIMS_CACHE_SIZE", "100")
		t.Setenv("CLAIMS_CACHE_TTL", "5m")
		t.Setenv("INDEX_CONCURRENCY", "8")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("REDIS_PASSWD", "secret")

		cfg := testutil.Must(construct.FromEnv())(t)
		require.Equal(t, "https://claims.example.com", cfg.ClaimsServiceURL.String())
		require.Equal(t, 100, cfg.ClaimsCacheSize)
		require.Equal(t, 5*time.Minute, cfg.ClaimsCacheTTL)
		require.Equal(t, 8, cfg.Concurrency)
		require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
		require.Equal(t, "secret", cfg.RedisPassword)
	})

	t.Run("invalid", func(t *testing.T) {
		for env, value := range map[string]string{
			"CLAIMS_CACHE_SIZE": "lots",
			"CLAIMS_CACHE_TTL":  "forever",
			"INDEX_CONCURRENCY": "many",
		} {
			t.Run(env, func(t *testing.T) {
				t.Setenv(env, value)
				_, err := construct.FromEnv()
				require.ErrorContains(t, err, env)
			})
		}
	})
}

// newClaimsService counts reads of a claims service that has no claims for
// anything but one unrelated location.
func newClaimsService(t *testing.T) (url.URL, *atomic.Int64) {
	var reads atomic.Int64
	body := testutil.ClaimsResponse(testutil.LocationDelegation(testutil.RandomCID(), *testutil.TestURL, nil))
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reads.Add(1)
		w.Write(body)
	}))
	t.Cleanup(svr.Close)
	return *testutil.Must(url.Parse(svr.URL))(t), &reads
}

type mapRedis struct {
	data map[string]string
}

var _ redis.Client = (*mapRedis)(nil)

func (m *mapRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	cmd := goredis.NewStringCmd(ctx)
	val, ok := m.data[key]
	if !ok {
		cmd.SetErr(goredis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (m *mapRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	m.data[key] = value.(string)
	cmd := goredis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *mapRedis) Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	return goredis.NewBoolCmd(ctx)
}

func (m *mapRedis) Persist(ctx context.Context, key string) *goredis.BoolCmd {
	return goredis.NewBoolCmd(ctx)
}

func TestConstruct(t *testing.T) {
	ctx := context.Background()
	digest := testutil.RandomMultihash()

	testCases := []struct {
		name          string
		cfg           func(construct.Config) construct.Config
		opts          func() []construct.Option
		expectedReads int64
	}{
		{
			name:          "uncached",
			cfg:           func(c construct.Config) construct.Config { return c },
			expectedReads: 3,
		},
		{
			name: "memory cache",
			cfg: func(c construct.Config) construct.Config {
				c.ClaimsCacheSize = 10
				return c
			},
			expectedReads: 1,
		},
		{
			name: "redis cache",
			cfg:  func(c construct.Config) construct.Config { return c },
			opts: func() []construct.Option {
				return []construct.Option{construct.WithRedisClient(&mapRedis{data: map[string]string{}})}
			},
			expectedReads: 1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			serviceURL, reads := newClaimsService(t)
			var opts []construct.Option
			if tc.opts != nil {
				opts = tc.opts()
			}
			g := testutil.Must(construct.Construct(tc.cfg(construct.Config{ClaimsServiceURL: serviceURL}), opts...))(t)
			defer g.Close(ctx)

			require.NotNil(t, g.HTTPClient)
			require.Len(t, g.ServerOptions(), 2)
			for range 3 {
				cs := testutil.Must(g.Claims.Read(ctx, digest))(t)
				require.Len(t, cs, 1)
			}
			require.Equal(t, tc.expectedReads, reads.Load())
		})
	}
}

func TestConstructInvalidRedisURL(t *testing.T) {
	_, err := construct.Construct(construct.Config{RedisURL: "http://not-redis"})
	require.Error(t, err)
}
