package wallet_test

import (
	"crypto/ecdsa"
	"crypto/rand"
	"testing"

	"github.com/0xsequence/ethkit/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletgate/identity-broker/wallet"
)

func signMessage(t *testing.T, priv *ecdsa.PrivateKey, message string) []byte {
	t.Helper()
	sig, err := crypto.Sign(wallet.PersonalDigest(message), priv)
	require.NoError(t, err)
	return sig
}

func TestChallengeMessage(t *testing.T) {
	assert.Equal(t, "Sign this message to login to the forum: abc123", wallet.ChallengeMessage("abc123"))
}

func TestVerify(t *testing.T) {
	priv, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	t.Run("RoundTrip", func(t *testing.T) {
		message := wallet.ChallengeMessage("abc123")
		sig := signMessage(t, priv, message)
		assert.True(t, wallet.Verify(address, sig, message))
	})

	t.Run("MessageBinding", func(t *testing.T) {
		sig := signMessage(t, priv, wallet.ChallengeMessage("abc123"))
		assert.False(t, wallet.Verify(address, sig, wallet.ChallengeMessage("other-session")))
		assert.False(t, wallet.Verify(address, sig, "Sign this message to login to the forum: "))
	})

	t.Run("CaseInsensitiveAddress", func(t *testing.T) {
		message := wallet.ChallengeMessage("abc123")
		sig := signMessage(t, priv, message)
		assert.True(t, wallet.Verify(address, sig, message))
		assert.True(t, wallet.Verify(lower(address), sig, message))
		assert.True(t, wallet.Verify(upperHex(address), sig, message))
	})

	t.Run("WrongAddress", func(t *testing.T) {
		other, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
		require.NoError(t, err)
		message := wallet.ChallengeMessage("abc123")
		sig := signMessage(t, other, message)
		assert.False(t, wallet.Verify(address, sig, message))
	})

	t.Run("RecoveryByteVariants", func(t *testing.T) {
		message := wallet.ChallengeMessage("abc123")
		sig := signMessage(t, priv, message)

		// Wallets commonly emit v as 27/28 rather than 0/1.
		legacy := make([]byte, 65)
		copy(legacy, sig)
		legacy[64] += 27
		assert.True(t, wallet.Verify(address, legacy, message))
		// The caller's slice must not be normalized in place.
		assert.Equal(t, sig[64]+27, legacy[64])
	})

	t.Run("MalformedSignature", func(t *testing.T) {
		message := wallet.ChallengeMessage("abc123")
		assert.False(t, wallet.Verify(address, nil, message))
		assert.False(t, wallet.Verify(address, []byte("too short"), message))

		garbage := make([]byte, 65)
		copy(garbage, "thisisnotavalidsignaturethisisnotavalidsignature123456")
		assert.False(t, wallet.Verify(address, garbage, message))
	})
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'F' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func upperHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if i >= 2 && c >= 'a' && c <= 'f' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
