package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletCallbackParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  *WalletCallbackParams
		wantErr string
	}{
		{
			name:   "complete params",
			params: &WalletCallbackParams{UID: "abc123", WalletAddress: "0xdead", Signature: "0xbeef"},
		},
		{
			name:    "nil params",
			params:  nil,
			wantErr: "params is required",
		},
		{
			name:    "missing uid",
			params:  &WalletCallbackParams{WalletAddress: "0xdead", Signature: "0xbeef"},
			wantErr: "missing parameters: uid",
		},
		{
			name:    "missing everything",
			params:  &WalletCallbackParams{},
			wantErr: "missing parameters: uid, walletAddress, signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestWalletCallbackParams_SignatureBytes(t *testing.T) {
	t.Run("WithPrefix", func(t *testing.T) {
		p := &WalletCallbackParams{Signature: "0xdeadbeef"}
		b, err := p.SignatureBytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
	})

	t.Run("WithoutPrefix", func(t *testing.T) {
		p := &WalletCallbackParams{Signature: "deadbeef"}
		b, err := p.SignatureBytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
	})

	t.Run("Malformed", func(t *testing.T) {
		p := &WalletCallbackParams{Signature: "0xzz"}
		_, err := p.SignatureBytes()
		require.Error(t, err)
	})
}

func TestWalletCallbackParams_AccountID(t *testing.T) {
	p := &WalletCallbackParams{WalletAddress: "0xDEADbeefDEADbeefDEADbeefDEADbeefDEADbeef"}
	assert.Equal(t, "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", p.AccountID())
}
