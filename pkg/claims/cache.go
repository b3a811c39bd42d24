package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/freeway/internal/digestutil"
	"github.com/storacha/freeway/pkg/types"
)

// Cache caches the claims read for a query, keyed by [CacheKey].
type Cache = types.Cache[string, []Claim]

// CacheKey is the cache key for claims read for content with the given walk
// relations.
func CacheKey(content mh.Multihash, walk []Walk) string {
	key := digestutil.Format(content)
	if len(walk) > 0 {
		key += "?walk=" + joinWalk(walk)
	}
	return key
}

type cachingReader struct {
	reader Reader
	cache  Cache
}

var _ Reader = (*cachingReader)(nil)

// WithCache augments a Reader with claims cached from previous reads
func WithCache(reader Reader, cache Cache) Reader {
	return &cachingReader{reader, cache}
}

// Read attempts to read claims from the cache, falling back to the underlying
// reader (caching the result if it is fetched)
func (cr *cachingReader) Read(ctx context.Context, content mh.Multihash, walk ...Walk) ([]Claim, error) {
	key := CacheKey(content, walk)
	claims, err := cr.cache.Get(ctx, key)
	if err == nil {
		return claims, nil
	}

	// if an error occurred other than the claims not being in the cache, return it
	if !errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("reading from claims cache: %w", err)
	}

	claims, err = cr.reader.Read(ctx, content, walk...)
	if err != nil {
		return nil, err
	}

	if err := cr.cache.Set(ctx, key, claims, true); err != nil {
		return nil, fmt.Errorf("caching claims: %w", err)
	}
	return claims, nil
}

type memoryCache struct {
	lru *expirable.LRU[string, []Claim]
}

var _ Cache = (*memoryCache)(nil)

// NewMemoryCache creates an in-process LRU claims cache holding at most size
// entries, each for at most ttl.
func NewMemoryCache(size int, ttl time.Duration) Cache {
	return &memoryCache{expirable.NewLRU[string, []Claim](size, nil, ttl)}
}

func (mc *memoryCache) Get(ctx context.Context, key string) ([]Claim, error) {
	claims, ok := mc.lru.Get(key)
	if !ok {
		return nil, types.ErrKeyNotFound
	}
	return claims, nil
}

// Set adds claims to the cache. Every entry expires after the cache TTL.
func (mc *memoryCache) Set(ctx context.Context, key string, claims []Claim, expires bool) error {
	mc.lru.Add(key, claims)
	return nil
}

// SetExpirable is a no-op, entries always expire after the cache TTL.
func (mc *memoryCache) SetExpirable(ctx context.Context, key string, expires bool) error {
	return nil
}
