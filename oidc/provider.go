// Package oidc is a minimal authorization-code identity provider built
// around wallet-login interactions. It owns the interaction lifecycle
// and the protocol endpoints (authorize, token, userinfo, jwks,
// discovery); proving control of the wallet address is someone else's
// job, the provider only gets handed the result.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goware/cachestore"
	"github.com/rs/zerolog"

	"github.com/walletgate/identity-broker/config"
	"github.com/walletgate/identity-broker/data"
	"github.com/walletgate/identity-broker/proto"
)

const (
	defaultInteractionTTL = 10 * time.Minute
	defaultCodeTTL        = 1 * time.Minute
	defaultTokenTTL       = 1 * time.Hour
	// Grants outlive their tokens a little so revocation lists stay
	// complete until everything under the grant has expired.
	grantTTLFactor = 2
)

type Provider struct {
	Issuer      string
	FrontendURL string
	EmailDomain string

	store   data.Store
	key     *SigningKey
	clients *Registry
	log     zerolog.Logger

	interactionTTL time.Duration
	codeTTL        time.Duration
	tokenTTL       time.Duration
	secureCookies  bool

	now func() time.Time
}

func New(cfg *config.Config, store data.Store, cacheBackend cachestore.Backend, log zerolog.Logger) (*Provider, error) {
	key, err := NewSigningKey(cfg.OIDC.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	clients, err := NewRegistry(cacheBackend, cfg.Clients, nil)
	if err != nil {
		return nil, fmt.Errorf("client registry: %w", err)
	}

	p := &Provider{
		Issuer:         cfg.OIDC.Issuer,
		FrontendURL:    cfg.OIDC.FrontendURL,
		EmailDomain:    cfg.OIDC.EmailDomain,
		store:          store,
		key:            key,
		clients:        clients,
		log:            log.With().Str("component", "oidc").Logger(),
		interactionTTL: secondsOrDefault(cfg.OIDC.InteractionTTL, defaultInteractionTTL),
		codeTTL:        secondsOrDefault(cfg.OIDC.CodeTTL, defaultCodeTTL),
		tokenTTL:       secondsOrDefault(cfg.OIDC.AccessTokenTTL, defaultTokenTTL),
		secureCookies:  cfg.Mode != config.LocalMode,
		now:            time.Now,
	}
	if p.EmailDomain == "" {
		p.EmailDomain = "wallet.invalid"
	}
	return p, nil
}

func secondsOrDefault(seconds uint32, def time.Duration) time.Duration {
	if seconds == 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

// Handler returns the provider's protocol surface, mounted by the host
// service under its issuer prefix.
func (p *Provider) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/auth", p.authorizeHandler)
	r.Post("/token", p.tokenHandler)
	r.Get("/me", p.userinfoHandler)
	r.Post("/me", p.userinfoHandler)
	r.Get("/jwks", p.jwksHandler)
	r.Get("/.well-known/openid-configuration", p.discoveryHandler)
	return r
}

func (p *Provider) jwksHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.key.PublicSet())
}

func (p *Provider) discoveryHandler(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"issuer":                                p.Issuer,
		"authorization_endpoint":                p.Issuer + "/auth",
		"token_endpoint":                        p.Issuer + "/token",
		"userinfo_endpoint":                     p.Issuer + "/me",
		"jwks_uri":                              p.Issuer + "/jwks",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"scopes_supported":                      proto.DefaultScopes,
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"ES256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"claims_supported":                      []string{"sub", "email", "email_verified", "preferred_username", "name"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// CreateGrant persists a fresh grant for (accountID, clientID) with the
// fixed scope set. Existing grants are superseded, not updated.
func (p *Provider) CreateGrant(ctx context.Context, accountID string, clientID string) (*proto.Grant, error) {
	grant := &proto.Grant{
		GrantID:   randomToken(16),
		AccountID: accountID,
		ClientID:  clientID,
		Scopes:    proto.DefaultScopes,
		CreatedAt: p.now().UTC(),
	}
	ttl := p.tokenTTL * grantTTLFactor
	if err := data.Put(ctx, p.store, data.KindGrant, grant.GrantID, grant, ttl); err != nil {
		return nil, fmt.Errorf("save grant: %w", err)
	}
	return grant, nil
}

// Claims derives the account's claim set; pure, no lookups.
func (p *Provider) Claims(accountID string) proto.Claims {
	return proto.DeriveClaims(accountID, p.EmailDomain)
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
