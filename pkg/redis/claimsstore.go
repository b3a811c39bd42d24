package redis

import (
	"bytes"
	"io"

	"github.com/storacha/freeway/pkg/claims"
)

// ClaimsStore caches the claims read for a query as a claims archive.
type ClaimsStore = Store[string, []claims.Claim]

var _ claims.Cache = (*ClaimsStore)(nil)

// NewClaimsStore returns a claims cache using the given redis client. Keys are
// [claims.CacheKey] values.
func NewClaimsStore(client Client, opts ...Option) *ClaimsStore {
	return NewStore(claimsFromRedis, claimsToRedis, claimsKeyString, client, opts...)
}

// An empty result is cached as an empty string.
func claimsFromRedis(data string) ([]claims.Claim, error) {
	if data == "" {
		return []claims.Claim{}, nil
	}
	return claims.Decode(bytes.NewReader([]byte(data)))
}

func claimsToRedis(cs []claims.Claim) (string, error) {
	if len(cs) == 0 {
		return "", nil
	}
	r, err := claims.Encode(cs)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func claimsKeyString(key string) string {
	return "claims/" + key
}
