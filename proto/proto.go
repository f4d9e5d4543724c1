// Package proto holds the wire and domain types shared between the
// provider engine, the storage adapter and the HTTP handlers.
package proto

import (
	"time"
)

// Scopes granted to every wallet login. The set is fixed: the broker has
// no per-user consent screen, proving control of the address is the
// consent.
var DefaultScopes = []string{"openid", "email", "profile"}

// Interaction is a single pending login attempt, created when the
// relying party sends the browser to the authorization endpoint and
// finalized (or expired) exactly once.
type Interaction struct {
	ID        string            `json:"id"`
	UID       string            `json:"uid"`
	Params    InteractionParams `json:"params"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`

	// Consumed is a unix timestamp set by the storage adapter when the
	// interaction is finished. A consumed interaction can no longer be
	// loaded for finalization.
	Consumed int64 `json:"consumed,omitempty"`
}

// InteractionParams carries the original authorization request.
type InteractionParams struct {
	ClientID    string `json:"clientId"`
	RedirectURI string `json:"redirectUri"`
	Scope       string `json:"scope"`
	State       string `json:"state,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
}

func (i *Interaction) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

func (i *Interaction) IsConsumed() bool {
	return i.Consumed != 0
}

// Grant binds an account to a requesting client and a scope set. Grants
// are immutable; a re-login supersedes the previous grant with a new one.
type Grant struct {
	GrantID   string    `json:"grantId"`
	AccountID string    `json:"accountId"`
	ClientID  string    `json:"clientId"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"createdAt"`
}

// InteractionResult is what a successful wallet verification hands back
// to the provider to finish the interaction.
type InteractionResult struct {
	Login   LoginResult   `json:"login"`
	Consent ConsentResult `json:"consent"`
}

type LoginResult struct {
	AccountID string `json:"accountId"`
}

type ConsentResult struct {
	GrantID string `json:"grantId"`
}
