package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveClaims(t *testing.T) {
	t.Run("Shape", func(t *testing.T) {
		accountID := "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
		claims := DeriveClaims(accountID, "wallet.example.org")

		assert.Equal(t, accountID, claims.Sub)
		assert.Equal(t, accountID+"@wallet.example.org", claims.Email)
		assert.True(t, claims.EmailVerified)
		assert.Equal(t, "user_adbeef", claims.PreferredUsername)
		assert.Equal(t, "User 0xdead...beef", claims.Name)
	})

	t.Run("Deterministic", func(t *testing.T) {
		accountID := "0x1234567890abcdef1234567890abcdef12345678"
		a := DeriveClaims(accountID, "wallet.example.org")
		b := DeriveClaims(accountID, "wallet.example.org")
		require.Equal(t, a, b)
	})

	t.Run("ShortAccountID", func(t *testing.T) {
		claims := DeriveClaims("0xab", "wallet.example.org")
		assert.Equal(t, "user_0xab", claims.PreferredUsername)
		assert.Equal(t, "User 0xab...0xab", claims.Name)
	})
}

func TestClaims_ForScopes(t *testing.T) {
	claims := DeriveClaims("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "wallet.example.org")

	tests := []struct {
		name     string
		scopes   []string
		expected []string
	}{
		{
			name:     "openid only",
			scopes:   []string{"openid"},
			expected: []string{"sub"},
		},
		{
			name:     "openid and email",
			scopes:   []string{"openid", "email"},
			expected: []string{"sub", "email", "email_verified"},
		},
		{
			name:     "full scope set",
			scopes:   DefaultScopes,
			expected: []string{"sub", "email", "email_verified", "preferred_username", "name"},
		},
		{
			name:     "unknown scope yields nothing",
			scopes:   []string{"offline_access"},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := claims.ForScopes(tt.scopes)
			require.Len(t, out, len(tt.expected))
			for _, k := range tt.expected {
				assert.Contains(t, out, k)
			}
		})
	}
}
