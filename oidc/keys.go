package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// SigningKey holds the provider's id_token signing key and its public
// JWKS. Constructed per provider instance, never process-global, so
// tests can run isolated providers side by side.
type SigningKey struct {
	kid     string
	private jwk.Key
	public  jwk.Set
}

// NewSigningKey loads a PEM-encoded P-256 private key from pemFile, or
// generates an ephemeral one when pemFile is empty. Ephemeral keys are
// fine for local mode; production restarts would otherwise invalidate
// id_tokens still in flight.
func NewSigningKey(pemFile string) (*SigningKey, error) {
	var raw *ecdsa.PrivateKey
	if pemFile != "" {
		pemBytes, err := os.ReadFile(pemFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		raw, err = parseECPrivateKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
	} else {
		var err error
		raw, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}

	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("wrap signing key: %w", err)
	}

	kid := uuid.NewString()
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, err
	}

	return &SigningKey{kid: kid, private: key, public: set}, nil
}

func parseECPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an EC private key")
	}
	return key, nil
}

func (k *SigningKey) KeyID() string {
	return k.kid
}

// Sign serializes and signs tok as a compact ES256 JWS.
func (k *SigningKey) Sign(tok jwt.Token) ([]byte, error) {
	return jwt.Sign(tok, jwt.WithKey(jwa.ES256, k.private))
}

// PublicSet is the JWKS served to relying parties.
func (k *SigningKey) PublicSet() jwk.Set {
	return k.public
}
