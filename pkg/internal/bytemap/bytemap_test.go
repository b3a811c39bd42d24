package bytemap

import (
	"testing"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func digests(t *testing.T, n int) []multihash.Multihash {
	var ds []multihash.Multihash
	for i := range n {
		d, err := multihash.Sum([]byte{byte(i)}, multihash.SHA2_256, -1)
		require.NoError(t, err)
		ds = append(ds, d)
	}
	return ds
}

func TestKeys(t *testing.T) {
	bm := NewByteMap[multihash.Multihash, struct{}](-1)

	ds := digests(t, 3)
	for _, d := range ds {
		bm.Set(d, struct{}{})
	}

	var keys []multihash.Multihash
	for d := range bm.Keys() {
		keys = append(keys, d)
	}

	require.ElementsMatch(t, ds, keys)
	require.Equal(t, 3, bm.Size())
}

func TestLookup(t *testing.T) {
	bm := NewByteMap[multihash.Multihash, int](1)
	ds := digests(t, 2)

	bm.Set(ds[0], 1)
	v, ok := bm.Lookup(ds[0])
	require.True(t, ok)
	require.Equal(t, 1, v)
	// keys are compared by value, not by slice identity
	require.True(t, bm.Has(append(multihash.Multihash{}, ds[0]...)))

	v, ok = bm.Lookup(ds[1])
	require.False(t, ok)
	require.Zero(t, v)
	require.Zero(t, bm.Get(ds[1]))
}

func TestSetIfAbsent(t *testing.T) {
	bm := NewByteMap[multihash.Multihash, string](-1)
	d := digests(t, 1)[0]

	require.True(t, bm.SetIfAbsent(d, "first"))
	require.False(t, bm.SetIfAbsent(d, "second"))
	require.Equal(t, "first", bm.Get(d))

	bm.Set(d, "third")
	require.Equal(t, "third", bm.Get(d))
}
