package types

import (
	"context"
	"errors"
	"net/url"

	mh "github.com/multiformats/go-multihash"
)

// ErrKeyNotFound means the key did not exist in the cache
var ErrKeyNotFound = errors.New("key not found")

// ErrNotFound means no location could be resolved for the requested content
var ErrNotFound = errors.New("not found")

// Cache describes a generic cache interface
type Cache[Key, Value any] interface {
	Set(ctx context.Context, key Key, value Value, expires bool) error
	SetExpirable(ctx context.Context, key Key, expires bool) error
	// Get retrieves an existing item from the cache. If the item does not exist,
	// it should return [ErrKeyNotFound].
	Get(ctx context.Context, key Key) (Value, error)
}

// IndexEntry is the resolved location of a single block: a byte range within
// the object at Location that starts with the block's frame header.
type IndexEntry struct {
	Multihash mh.Multihash
	Offset    uint64
	// Length is the length of the encoded frame, or 0 when the index format
	// does not record it.
	Length   uint64
	Location url.URL
}
