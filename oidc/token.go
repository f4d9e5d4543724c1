package oidc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/walletgate/identity-broker/data"
	"github.com/walletgate/identity-broker/o11y"
	"github.com/walletgate/identity-broker/proto"
)

// authCode is the payload behind a one-time authorization code. The
// grantId field doubles as the grant-index registration, so revoking the
// grant also kills outstanding codes.
type authCode struct {
	AccountID   string `json:"accountId"`
	GrantID     string `json:"grantId"`
	ClientID    string `json:"clientId"`
	RedirectURI string `json:"redirectUri"`
	Scope       string `json:"scope"`
	Nonce       string `json:"nonce,omitempty"`
	Consumed    int64  `json:"consumed,omitempty"`
}

type accessToken struct {
	AccountID string `json:"accountId"`
	GrantID   string `json:"grantId"`
	ClientID  string `json:"clientId"`
	Scope     string `json:"scope"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	IDToken     string `json:"id_token"`
}

// tokenHandler exchanges a one-time authorization code for tokens. Code
// replay is treated as compromise: the whole grant is revoked.
func (p *Provider) tokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		proto.RespondWithError(w, proto.ErrInvalidRequest.WithDetails("malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if err := p.clients.Authenticate(ctx, clientID, clientSecret); err != nil {
		p.log.Warn().Str("client_id", clientID).Msg("client authentication failed")
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		proto.RespondWithError(w, err)
		return
	}

	if gt := r.PostForm.Get("grant_type"); gt != "authorization_code" {
		proto.RespondWithError(w, proto.ErrUnsupportedGrantType.WithDetails("grant_type must be authorization_code"))
		return
	}
	codeID := r.PostForm.Get("code")
	if codeID == "" {
		proto.RespondWithError(w, proto.ErrInvalidRequest.WithDetails("code is required"))
		return
	}

	code, found, err := data.Get[authCode](ctx, p.store, data.KindAuthCode, codeID)
	if err != nil {
		p.log.Error().Err(err).Msg("load authorization code")
		proto.RespondWithError(w, proto.ErrInternal)
		return
	}
	if !found {
		proto.RespondWithError(w, proto.ErrInvalidGrant)
		return
	}

	if code.Consumed != 0 {
		// Second use of a code means it leaked somewhere between the
		// redirect and the exchange. Burn everything under the grant.
		p.log.Warn().Str("grant_id", code.GrantID).Msg("authorization code replayed, revoking grant")
		if err := p.store.RevokeByGrantID(ctx, code.GrantID); err != nil {
			p.log.Error().Err(err).Str("grant_id", code.GrantID).Msg("revoke grant after code replay")
		}
		proto.RespondWithError(w, proto.ErrInvalidGrant)
		return
	}
	if code.ClientID != clientID {
		proto.RespondWithError(w, proto.ErrInvalidGrant)
		return
	}
	if ru := r.PostForm.Get("redirect_uri"); ru != code.RedirectURI {
		proto.RespondWithError(w, proto.ErrInvalidGrant)
		return
	}

	if err := p.store.Consume(ctx, data.KindAuthCode, codeID); err != nil {
		// Losing the consume race is a replay arriving concurrently.
		if errors.Is(err, data.ErrAlreadyConsumed) {
			p.log.Warn().Str("grant_id", code.GrantID).Msg("authorization code replayed, revoking grant")
			if err := p.store.RevokeByGrantID(ctx, code.GrantID); err != nil {
				p.log.Error().Err(err).Str("grant_id", code.GrantID).Msg("revoke grant after code replay")
			}
			proto.RespondWithError(w, proto.ErrInvalidGrant)
			return
		}
		p.log.Error().Err(err).Msg("consume authorization code")
		proto.RespondWithError(w, proto.ErrInternal)
		return
	}

	// The grant must still exist; it could have been revoked between the
	// login and the exchange.
	if _, found, err = data.Get[proto.Grant](ctx, p.store, data.KindGrant, code.GrantID); err != nil || !found {
		proto.RespondWithError(w, proto.ErrInvalidGrant)
		return
	}

	tokenID := randomToken(32)
	at := &accessToken{
		AccountID: code.AccountID,
		GrantID:   code.GrantID,
		ClientID:  code.ClientID,
		Scope:     code.Scope,
	}
	if err := data.Put(ctx, p.store, data.KindAccessToken, tokenID, at, p.tokenTTL); err != nil {
		p.log.Error().Err(err).Msg("save access token")
		proto.RespondWithError(w, proto.ErrInternal)
		return
	}

	idToken, err := p.mintIDToken(code)
	if err != nil {
		p.log.Error().Err(err).Msg("mint id_token")
		proto.RespondWithError(w, proto.ErrInternal)
		return
	}

	o11y.TokensIssued.Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: tokenID,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.tokenTTL.Seconds()),
		Scope:       code.Scope,
		IDToken:     string(idToken),
	})
}

func (p *Provider) mintIDToken(code *authCode) ([]byte, error) {
	now := p.now().UTC()
	builder := jwt.NewBuilder().
		Issuer(p.Issuer).
		Subject(code.AccountID).
		Audience([]string{code.ClientID}).
		IssuedAt(now).
		Expiration(now.Add(p.tokenTTL))

	if code.Nonce != "" {
		builder.Claim("nonce", code.Nonce)
	}
	for k, v := range p.Claims(code.AccountID).ForScopes(strings.Fields(code.Scope)) {
		if k == "sub" {
			continue
		}
		builder.Claim(k, v)
	}

	tok, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return p.key.Sign(tok)
}

// userinfoHandler serves the claims behind a bearer access token.
func (p *Provider) userinfoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authz := r.Header.Get("Authorization")
	tokenID, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || tokenID == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		proto.RespondWithError(w, proto.ErrInvalidToken)
		return
	}

	at, found, err := data.Get[accessToken](ctx, p.store, data.KindAccessToken, tokenID)
	if err != nil {
		p.log.Error().Err(err).Msg("load access token")
		proto.RespondWithError(w, proto.ErrInternal)
		return
	}
	if !found {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		proto.RespondWithError(w, proto.ErrInvalidToken)
		return
	}

	claims := p.Claims(at.AccountID).ForScopes(strings.Fields(at.Scope))
	claims["sub"] = at.AccountID

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(claims)
}

func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}
