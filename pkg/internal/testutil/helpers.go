package testutil

import (
	"testing"

	"github.com/storacha/freeway/pkg/claims"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/stretchr/testify/require"
)

// Must takes return values from a function and returns the non-error one. If
// the error value is non-nil then it fails the test
func Must[T any](val T, err error) func(*testing.T) T {
	return func(t *testing.T) T {
		require.NoError(t, err)
		return val
	}
}

// RequireEqualDelegation compares two delegations to verify their equality
func RequireEqualDelegation(t *testing.T, expectedDelegation delegation.Delegation, actualDelegation delegation.Delegation) {
	if expectedDelegation == nil {
		require.Nil(t, actualDelegation)
		return
	}
	require.Equal(t, expectedDelegation.Link(), actualDelegation.Link())
	require.Equal(t, expectedDelegation.Issuer(), actualDelegation.Issuer())
	require.Equal(t, expectedDelegation.Audience(), actualDelegation.Audience())
	require.Equal(t, expectedDelegation.Expiration(), actualDelegation.Expiration())
	require.Equal(t, expectedDelegation.Signature(), actualDelegation.Signature())
}

// RequireEqualClaims compares claims by ability, subject and the delegation
// they were decoded from.
func RequireEqualClaims(t *testing.T, expected []claims.Claim, actual []claims.Claim) {
	require.Len(t, actual, len(expected))
	for i, c := range expected {
		require.Equal(t, c.Ability(), actual[i].Ability())
		require.Equal(t, c.Content(), actual[i].Content())
		RequireEqualDelegation(t, c.Delegation(), actual[i].Delegation())
	}
}
