package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	ethcrypto "github.com/0xsequence/ethkit/go-ethereum/crypto"

	"github.com/walletgate/identity-broker/wallet"
)

// Wallet is the signing side of the login flow. Browser deployments use
// an injected provider; headless callers bring a key.
type Wallet interface {
	// Connect returns the wallet's address, prompting the user where a
	// prompt exists. Rejection is an error.
	Connect(ctx context.Context) (address string, err error)

	// SignMessage signs message the personal_sign way and returns the
	// hex-encoded 65-byte signature.
	SignMessage(ctx context.Context, message string) (signature string, err error)
}

// KeyWallet signs with an in-memory secp256k1 key. Used by the CLI and
// by tests; there is no prompt, Connect always succeeds.
type KeyWallet struct {
	priv *ecdsa.PrivateKey
}

func NewKeyWallet(priv *ecdsa.PrivateKey) *KeyWallet {
	return &KeyWallet{priv: priv}
}

func GenerateKeyWallet() (*KeyWallet, error) {
	priv, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return &KeyWallet{priv: priv}, nil
}

func (w *KeyWallet) Address() string {
	return ethcrypto.PubkeyToAddress(w.priv.PublicKey).Hex()
}

func (w *KeyWallet) Connect(_ context.Context) (string, error) {
	return w.Address(), nil
}

func (w *KeyWallet) SignMessage(_ context.Context, message string) (string, error) {
	sig, err := ethcrypto.Sign(wallet.PersonalDigest(message), w.priv)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	// Browser wallets report the recovery byte as 27/28; match them.
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
