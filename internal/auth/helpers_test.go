// ABOUTME: Shared fixtures for auth tests
// ABOUTME: Generates key pairs and pre-loaded key cells

package auth

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSpec = TokenSpec{
	Issuer:    DefaultIssuer,
	Audience:  DefaultAudience,
	Tolerance: DefaultTolerance,
}

type testKeys struct {
	private    ed25519.PrivateKey
	privatePEM []byte
	publicPEM  []byte
}

func newTestKeys(t *testing.T) testKeys {
	t.Helper()
	privatePEM, publicPEM, err := GenerateKeyPair(nil)
	require.NoError(t, err)
	private, err := ParsePrivateKey(privatePEM, nil)
	require.NoError(t, err)
	return testKeys{private: private, privatePEM: privatePEM, publicPEM: publicPEM}
}

func newTestCell(t *testing.T, keys testKeys) *KeyCell {
	t.Helper()
	cell := NewKeyCell()
	require.NoError(t, cell.Store(keys.publicPEM))
	return cell
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
