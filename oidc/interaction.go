package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/walletgate/identity-broker/data"
	"github.com/walletgate/identity-broker/o11y"
	"github.com/walletgate/identity-broker/proto"
)

// interactionCookie correlates the browser with its pending interaction
// across the redirect to the challenge page and back. The cookie holds
// the interaction's primary id; the uid travels in the URL and is what
// the wallet signature binds to.
const interactionCookie = "_wg_interaction"

// authorizeHandler begins a login: it validates the authorization
// request, creates the interaction session, and sends the browser to the
// frontend challenge page with the interaction uid.
func (p *Provider) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")

	if clientID == "" || redirectURI == "" {
		proto.RespondWithError(w, proto.ErrInvalidRequest.WithDetails("client_id and redirect_uri are required"))
		return
	}
	if _, ok := p.clients.Get(clientID); !ok {
		proto.RespondWithError(w, proto.ErrInvalidRequest.WithDetails("unknown client"))
		return
	}
	// Never redirect to an unregistered URI, respond in place instead.
	if !p.clients.AllowsRedirectURI(clientID, redirectURI) {
		proto.RespondWithError(w, proto.ErrInvalidRequest.WithDetails("redirect_uri is not registered for this client"))
		return
	}
	if rt := q.Get("response_type"); rt != "code" {
		proto.RespondWithError(w, proto.ErrInvalidRequest.WithDetails("only response_type=code is supported"))
		return
	}
	scope := q.Get("scope")
	if !hasScope(scope, "openid") {
		proto.RespondWithError(w, proto.ErrInvalidRequest.WithDetails("scope must include openid"))
		return
	}

	now := p.now().UTC()
	interaction := &proto.Interaction{
		ID:  uuid.NewString(),
		UID: randomToken(24),
		Params: proto.InteractionParams{
			ClientID:    clientID,
			RedirectURI: redirectURI,
			Scope:       scope,
			State:       q.Get("state"),
			Nonce:       q.Get("nonce"),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(p.interactionTTL),
	}

	if err := data.Put(ctx, p.store, data.KindInteraction, interaction.ID, interaction, p.interactionTTL); err != nil {
		p.log.Error().Err(err).Msg("save interaction")
		proto.RespondWithError(w, proto.ErrInternal)
		return
	}

	p.setInteractionCookie(w, interaction.ID)

	target, err := p.challengeURL(interaction.UID)
	if err != nil {
		p.log.Error().Err(err).Msg("build challenge url")
		proto.RespondWithError(w, proto.ErrInternal)
		return
	}

	o11y.LoginsStarted.Inc()
	p.log.Info().Str("client_id", clientID).Str("uid", interaction.UID).Msg("interaction started")
	http.Redirect(w, r, target, http.StatusFound)
}

func (p *Provider) challengeURL(uid string) (string, error) {
	u, err := url.Parse(p.FrontendURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/discourse-auth"
	q := u.Query()
	q.Set("uid", uid)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LoadInteraction resolves the live interaction for this request via the
// interaction cookie. Absent, expired, or already-finished sessions all
// come back as session_not_found.
func (p *Provider) LoadInteraction(r *http.Request) (*proto.Interaction, error) {
	cookie, err := r.Cookie(interactionCookie)
	if err != nil || cookie.Value == "" {
		return nil, proto.ErrSessionNotFound.WithCausef("no interaction cookie")
	}

	interaction, found, err := data.Get[proto.Interaction](r.Context(), p.store, data.KindInteraction, cookie.Value)
	if err != nil {
		return nil, proto.ErrInternal.WithCausef("load interaction: %w", err)
	}
	if !found {
		return nil, proto.ErrSessionNotFound.WithCausef("interaction %q not in store", cookie.Value)
	}
	if interaction.Expired(p.now()) {
		return nil, proto.ErrSessionNotFound.WithCausef("interaction %q expired", cookie.Value)
	}
	if interaction.IsConsumed() {
		return nil, proto.ErrSessionNotFound.WithCausef("interaction %q already finished", cookie.Value)
	}
	return interaction, nil
}

// FinishInteraction consumes the session, mints a one-time authorization
// code bound to the login result, and redirects the browser back to the
// requesting client. A session can be finished at most once.
func (p *Provider) FinishInteraction(w http.ResponseWriter, r *http.Request, interaction *proto.Interaction, result *proto.InteractionResult) error {
	ctx := r.Context()

	// Consume is atomic in the store; a concurrent finish loses here.
	if err := p.store.Consume(ctx, data.KindInteraction, interaction.ID); err != nil {
		if errors.Is(err, data.ErrAlreadyConsumed) {
			return proto.ErrFinishFailed.WithCausef("interaction %q already finished", interaction.ID)
		}
		return proto.ErrFinishFailed.WithCausef("consume interaction: %w", err)
	}

	code := &authCode{
		AccountID:   result.Login.AccountID,
		GrantID:     result.Consent.GrantID,
		ClientID:    interaction.Params.ClientID,
		RedirectURI: interaction.Params.RedirectURI,
		Scope:       interaction.Params.Scope,
		Nonce:       interaction.Params.Nonce,
	}
	codeID := randomToken(32)
	if err := data.Put(ctx, p.store, data.KindAuthCode, codeID, code, p.codeTTL); err != nil {
		return proto.ErrFinishFailed.WithCausef("save authorization code: %w", err)
	}

	p.clearInteractionCookie(w)

	u, err := url.Parse(interaction.Params.RedirectURI)
	if err != nil {
		return proto.ErrFinishFailed.WithCausef("parse redirect uri: %w", err)
	}
	q := u.Query()
	q.Set("code", codeID)
	q.Set("iss", p.Issuer)
	if interaction.Params.State != "" {
		q.Set("state", interaction.Params.State)
	}
	u.RawQuery = q.Encode()

	p.log.Info().
		Str("uid", interaction.UID).
		Str("client_id", interaction.Params.ClientID).
		Msg("interaction finished")

	http.Redirect(w, r, u.String(), http.StatusSeeOther)
	return nil
}

func (p *Provider) setInteractionCookie(w http.ResponseWriter, id string) {
	sameSite := http.SameSiteLaxMode
	if p.secureCookies {
		// The challenge page POSTs cross-site, Lax would strip the cookie.
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     interactionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(p.interactionTTL / time.Second),
		HttpOnly: true,
		Secure:   p.secureCookies,
		SameSite: sameSite,
	})
}

func (p *Provider) clearInteractionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     interactionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   p.secureCookies,
	})
}

func hasScope(scope string, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// DestroyInteraction drops a session outright; used by operational
// tooling, the normal path consumes instead.
func (p *Provider) DestroyInteraction(ctx context.Context, id string) error {
	return p.store.Destroy(ctx, data.KindInteraction, id)
}
