// Package wallet implements the proof-of-address-ownership check: a
// deterministic challenge message bound to an interaction, and EIP-191
// signature recovery over it.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/crypto"
)

// challengeTemplate must match the browser flow byte for byte, the
// signature binds to exactly this string.
const challengeTemplate = "Sign this message to login to the forum: "

// ChallengeMessage derives the message a wallet must sign for the given
// interaction uid. The uid is the only value interpolated; clients never
// supply their own message.
func ChallengeMessage(uid string) string {
	return challengeTemplate + uid
}

// Verify reports whether signature was produced over message by the key
// behind claimedAddress. Address comparison is case-insensitive. Any
// malformed input is a plain false, never a fault.
func Verify(claimedAddress string, signature []byte, message string) bool {
	recovered, err := RecoverAddress(signature, message)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered.Hex(), claimedAddress)
}

// RecoverAddress recovers the signing address of an EIP-191 personal
// message signature.
func RecoverAddress(signature []byte, message string) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}

	// Copy before normalizing the recovery byte, callers keep their slice.
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, errors.New("invalid recovery id")
	}

	pubKey, err := crypto.Ecrecover(PersonalDigest(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}

	return common.BytesToAddress(crypto.Keccak256(pubKey[1:])[12:]), nil
}

// PersonalDigest hashes message with the Ethereum personal-message
// prefix, as personal_sign does in every browser wallet.
func PersonalDigest(message string) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
}
