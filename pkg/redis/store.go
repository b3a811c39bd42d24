// Package redis implements caches backed by a Redis server, for sharing claims
// between gateway instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storacha/freeway/pkg/types"
)

// DefaultExpire is how long expirable keys live.
const DefaultExpire = time.Hour

// Client is the subset of the redis client used by [Store].
type Client interface {
	Get(context.Context, string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Persist(ctx context.Context, key string) *redis.BoolCmd
}

// Store is a generic cache of values serialized to redis strings.
type Store[Key, Value any] struct {
	fromRedis func(string) (Value, error)
	toRedis   func(Value) (string, error)
	keyString func(Key) string
	client    Client
	expire    time.Duration
}

var (
	_ Client                = (*redis.Client)(nil)
	_ types.Cache[any, any] = (*Store[any, any])(nil)
)

type Option func(*storeConfig)

type storeConfig struct {
	expire time.Duration
}

// WithExpiration sets the TTL of expirable keys. The default is
// [DefaultExpire].
func WithExpiration(d time.Duration) Option {
	return func(cfg *storeConfig) {
		cfg.expire = d
	}
}

func NewStore[Key, Value any](
	fromRedis func(string) (Value, error),
	toRedis func(Value) (string, error),
	keyString func(Key) string,
	client Client,
	opts ...Option) *Store[Key, Value] {
	cfg := storeConfig{expire: DefaultExpire}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store[Key, Value]{fromRedis, toRedis, keyString, client, cfg.expire}
}

// Get returns the value stored for the key or [types.ErrKeyNotFound].
func (rs *Store[Key, Value]) Get(ctx context.Context, key Key) (Value, error) {
	data, err := rs.client.Get(ctx, rs.keyString(key)).Result()
	if err != nil {
		var v Value
		if errors.Is(err, redis.Nil) {
			return v, types.ErrKeyNotFound
		}
		return v, fmt.Errorf("error accessing redis: %w", err)
	}
	return rs.fromRedis(data)
}

// Set stores the value, with a TTL if expires is true.
func (rs *Store[Key, Value]) Set(ctx context.Context, key Key, value Value, expires bool) error {
	data, err := rs.toRedis(value)
	if err != nil {
		return err
	}
	duration := time.Duration(0)
	if expires {
		duration = rs.expire
	}
	err = rs.client.Set(ctx, rs.keyString(key), data, duration).Err()
	if err != nil {
		return fmt.Errorf("error accessing redis: %w", err)
	}
	return nil
}

// SetExpirable adds or removes the TTL of an existing key.
func (rs *Store[Key, Value]) SetExpirable(ctx context.Context, key Key, expires bool) error {
	var err error
	if expires {
		err = rs.client.Expire(ctx, rs.keyString(key), rs.expire).Err()
	} else {
		err = rs.client.Persist(ctx, rs.keyString(key)).Err()
	}
	if err != nil {
		return fmt.Errorf("error accessing redis: %w", err)
	}
	return nil
}
