package oidc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/goware/cachestore"
	"github.com/goware/cachestore/cachestorectl"

	"github.com/walletgate/identity-broker/config"
	"github.com/walletgate/identity-broker/o11y"
	"github.com/walletgate/identity-broker/proto"
)

// SecretProvider resolves a client's secret. The config-backed provider
// is the normal case; deployments that keep secrets elsewhere plug in
// their own.
type SecretProvider interface {
	GetClientSecret(ctx context.Context, clientID string) (string, error)
}

// Registry is the set of relying parties allowed to start logins.
type Registry struct {
	clients map[string]config.Client

	secretStore    cachestore.Store[string]
	secretProvider SecretProvider
}

func NewRegistry(cacheBackend cachestore.Backend, clients []config.Client, secretProvider SecretProvider) (*Registry, error) {
	if secretProvider == nil {
		secretProvider = staticSecrets(clients)
	}
	secretStore, err := cachestorectl.Open[string](cacheBackend)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}

	byID := make(map[string]config.Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	return &Registry{
		clients:        byID,
		secretStore:    o11y.NewTracedCache("client-secrets", secretStore),
		secretProvider: secretProvider,
	}, nil
}

func (r *Registry) Get(clientID string) (config.Client, bool) {
	c, ok := r.clients[clientID]
	return c, ok
}

// AllowsRedirectURI reports whether uri is registered for the client.
// Exact string match, no prefix or wildcard games.
func (r *Registry) AllowsRedirectURI(clientID string, uri string) bool {
	c, ok := r.clients[clientID]
	if !ok {
		return false
	}
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// Authenticate checks client credentials for the token endpoint.
func (r *Registry) Authenticate(ctx context.Context, clientID string, clientSecret string) error {
	if _, ok := r.clients[clientID]; !ok {
		return proto.ErrInvalidClient.WithCausef("unknown client %q", clientID)
	}

	secret, err := r.getClientSecret(ctx, clientID)
	if err != nil {
		return proto.ErrInternal.WithCausef("get client secret: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(clientSecret)) != 1 {
		return proto.ErrInvalidClient.WithCausef("bad secret for client %q", clientID)
	}
	return nil
}

func (r *Registry) getClientSecret(ctx context.Context, clientID string) (string, error) {
	ttl := 1 * time.Hour
	getter := func(ctx context.Context, _ string) (string, error) {
		return r.secretProvider.GetClientSecret(ctx, clientID)
	}
	return r.secretStore.GetOrSetWithLockEx(ctx, "client-secret|"+clientID, getter, ttl)
}

// staticSecrets serves secrets straight from the config client list.
type staticSecrets []config.Client

func (s staticSecrets) GetClientSecret(_ context.Context, clientID string) (string, error) {
	for _, c := range s {
		if c.ID == clientID {
			return c.Secret, nil
		}
	}
	return "", fmt.Errorf("no secret for client %q", clientID)
}
