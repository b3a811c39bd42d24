// Package bytemap provides maps keyed by byte slices such as multihashes, so
// that equal digests share an entry regardless of the slice they came from.
package bytemap

import (
	"iter"
	"maps"

	"github.com/storacha/go-ucanto/core/iterable"
)

// ByteMap maps byte slice like keys (e.g. multihashes) to arbitrary values. It
// is not safe for concurrent use.
type ByteMap[K ~[]byte, T any] interface {
	// Get returns the value for a key, or the zero value.
	Get(K) T
	// Lookup returns the value for a key and whether it was present.
	Lookup(K) (T, bool)
	Has(K) bool
	Set(K, T)
	// SetIfAbsent sets the value only when no value exists for the key and
	// reports whether it did.
	SetIfAbsent(K, T) bool
	Size() int
	Keys() iter.Seq[K]
}

type byteMap[K ~[]byte, T any] struct {
	data map[string]T
}

// NewByteMap returns a new map of byte keys to a data type. A sizeHint of -1
// means no hint.
func NewByteMap[K ~[]byte, T any](sizeHint int) ByteMap[K, T] {
	if sizeHint < 0 {
		return &byteMap[K, T]{make(map[string]T)}
	}
	return &byteMap[K, T]{make(map[string]T, sizeHint)}
}

func (bm *byteMap[K, T]) Get(b K) T {
	return bm.data[string(b)]
}

func (bm *byteMap[K, T]) Lookup(b K) (T, bool) {
	v, ok := bm.data[string(b)]
	return v, ok
}

func (bm *byteMap[K, T]) Has(b K) bool {
	_, ok := bm.data[string(b)]
	return ok
}

func (bm *byteMap[K, T]) Set(b K, t T) {
	bm.data[string(b)] = t
}

func (bm *byteMap[K, T]) SetIfAbsent(b K, t T) bool {
	if _, ok := bm.data[string(b)]; ok {
		return false
	}
	bm.data[string(b)] = t
	return true
}

func (bm *byteMap[K, T]) Size() int {
	return len(bm.data)
}

func (bm *byteMap[K, T]) Keys() iter.Seq[K] {
	return iterable.Map(func(str string) K {
		return K(str)
	}, maps.Keys(bm.data))
}
