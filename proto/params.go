package proto

import (
	"fmt"
	"strings"

	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
)

// WalletCallbackParams is the client-submitted proof of address
// ownership, posted once per login attempt.
type WalletCallbackParams struct {
	UID           string `json:"uid"`
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
}

func (p *WalletCallbackParams) Validate() error {
	if p == nil {
		return fmt.Errorf("params is required")
	}

	var missing []string
	if p.UID == "" {
		missing = append(missing, "uid")
	}
	if p.WalletAddress == "" {
		missing = append(missing, "walletAddress")
	}
	if p.Signature == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SignatureBytes decodes the hex-encoded signature. The 0x prefix is
// optional, wallets differ on whether they include it.
func (p *WalletCallbackParams) SignatureBytes() ([]byte, error) {
	s := p.Signature
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// AccountID is the canonical account identity for the claimed address.
func (p *WalletCallbackParams) AccountID() string {
	return strings.ToLower(p.WalletAddress)
}
