package digestutil

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Format encodes a multihash as base58btc multibase, the form used in claims
// service URLs and cache keys.
func Format(digest multihash.Multihash) string {
	key, _ := multibase.Encode(multibase.Base58BTC, digest)
	return key
}

func Parse(input string) (multihash.Multihash, error) {
	_, bytes, err := multibase.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("decoding multibase encoded digest: %w", err)
	}
	digest, err := multihash.Cast(bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid multihash digest: %w", err)
	}
	return digest, nil
}

// ParseCIDOrDigest accepts either a CID string or a multibase encoded
// multihash and returns the multihash.
func ParseCIDOrDigest(input string) (multihash.Multihash, error) {
	if c, err := cid.Decode(input); err == nil {
		return c.Hash(), nil
	}
	return Parse(input)
}

// ParseCID accepts either a CID string or a multibase encoded multihash. A
// bare multihash is returned as a raw CID.
//
// A multibase sha2-256 multihash also decodes as a CIDv0, so only unprefixed
// base58 strings are accepted as CIDv0.
func ParseCID(input string) (cid.Cid, error) {
	if c, err := cid.Decode(input); err == nil && (c.Version() == 1 || strings.HasPrefix(input, "Qm")) {
		return c, nil
	}
	digest, err := Parse(input)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}
