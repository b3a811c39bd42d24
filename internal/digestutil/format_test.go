package digestutil

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func TestFormatParse(t *testing.T) {
	digest, err := multihash.Sum([]byte("hello"), multihash.SHA2_256, -1)
	require.NoError(t, err)

	str := Format(digest)
	require.Equal(t, byte('z'), str[0])

	parsed, err := Parse(str)
	require.NoError(t, err)
	require.Equal(t, digest, parsed)

	_, err = Parse("not multibase")
	require.Error(t, err)

	_, err = Parse("zabc")
	require.Error(t, err)
}

func TestParseCID(t *testing.T) {
	digest, err := multihash.Sum([]byte("hello"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	dagpb := cid.NewCidV1(cid.DagProtobuf, digest)

	c, err := ParseCID(dagpb.String())
	require.NoError(t, err)
	require.Equal(t, dagpb, c)

	c, err = ParseCID(Format(digest))
	require.NoError(t, err)
	require.Equal(t, cid.NewCidV1(cid.Raw, digest), c)

	mh, err := ParseCIDOrDigest(dagpb.String())
	require.NoError(t, err)
	require.Equal(t, digest, mh)
}

func TestParseCIDv0(t *testing.T) {
	digest, err := multihash.Sum([]byte("hello"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	v0 := cid.NewCidV0(digest)

	c, err := ParseCID(v0.String())
	require.NoError(t, err)
	require.Equal(t, v0, c)
}
