package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/walletgate/identity-broker/o11y"
	"github.com/walletgate/identity-broker/proto"
	"github.com/walletgate/identity-broker/wallet"
)

// walletCallbackHandler completes a login: the challenge page posts back
// the interaction uid, the wallet address, and the signature over the
// challenge message. On success the browser is redirected to the client
// with an authorization code.
//
// The uid in the body must match the uid of the cookie-bound session, so
// a signature captured for one session cannot finish another.
func (s *RPC) walletCallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	started := time.Now()
	outcome := "ok"
	defer func() {
		o11y.WalletCallbacks.WithLabelValues(outcome).Inc()
		o11y.WalletCallbackDuration.Observe(time.Since(started).Seconds())
	}()

	params, err := decodeWalletCallbackParams(r)
	if err != nil {
		outcome = errorOutcome(err)
		proto.RespondWithError(w, err)
		return
	}
	if err := params.Validate(); err != nil {
		outcome = "missing_parameters"
		s.Log.Warn().Str("reason", err.Error()).Msg("wallet callback with incomplete params")
		proto.RespondWithError(w, proto.ErrMissingParameters.WithDetails(err.Error()))
		return
	}

	interaction, err := s.Provider.LoadInteraction(r)
	if err != nil {
		outcome = errorOutcome(err)
		s.Log.Warn().Err(err).Str("uid", params.UID).Msg("wallet callback without live session")
		proto.RespondWithError(w, err)
		return
	}

	if params.UID != interaction.UID {
		outcome = "uid_mismatch"
		s.Log.Warn().
			Str("uid", params.UID).
			Str("session_uid", interaction.UID).
			Msg("wallet callback uid does not match session")
		proto.RespondWithError(w, proto.ErrUIDMismatch)
		return
	}

	sig, err := params.SignatureBytes()
	if err != nil {
		outcome = "signature_invalid"
		proto.RespondWithError(w, proto.ErrSignatureInvalid.WithCausef("decode signature: %w", err))
		return
	}
	message := wallet.ChallengeMessage(interaction.UID)
	if !wallet.Verify(params.WalletAddress, sig, message) {
		outcome = "signature_invalid"
		s.Log.Warn().
			Str("uid", interaction.UID).
			Str("wallet", params.WalletAddress).
			Msg("wallet signature rejected")
		proto.RespondWithError(w, proto.ErrSignatureInvalid)
		return
	}

	accountID := params.AccountID()
	o11y.LoggerFromContext(ctx).Info("wallet verified",
		"uid", interaction.UID,
		"account_id", accountID)

	grant, err := s.Provider.CreateGrant(ctx, accountID, interaction.Params.ClientID)
	if err != nil {
		outcome = "finish_failed"
		s.Log.Error().Err(err).Str("uid", interaction.UID).Msg("create grant")
		proto.RespondWithError(w, proto.ErrFinishFailed.WithCausef("create grant: %w", err))
		return
	}

	result := &proto.InteractionResult{
		Login:   proto.LoginResult{AccountID: accountID},
		Consent: proto.ConsentResult{GrantID: grant.GrantID},
	}
	if err := s.Provider.FinishInteraction(w, r, interaction, result); err != nil {
		outcome = "finish_failed"
		// The grant exists but the session did not finish; the login is
		// half-committed and the user has to start over.
		s.Log.Error().Err(err).
			Str("uid", interaction.UID).
			Str("grant_id", grant.GrantID).
			Str("account_id", accountID).
			Msg("finish interaction after grant creation")
		proto.RespondWithError(w, err)
		return
	}

	s.Log.Info().
		Str("uid", interaction.UID).
		Str("account_id", accountID).
		Str("client_id", interaction.Params.ClientID).
		Msg("wallet login completed")
}

func decodeWalletCallbackParams(r *http.Request) (*proto.WalletCallbackParams, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var params proto.WalletCallbackParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			return nil, proto.ErrInvalidRequest.WithCausef("decode body: %w", err)
		}
		return &params, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, proto.ErrInvalidRequest.WithCausef("parse form: %w", err)
	}
	return &proto.WalletCallbackParams{
		UID:           r.PostForm.Get("uid"),
		WalletAddress: r.PostForm.Get("walletAddress"),
		Signature:     r.PostForm.Get("signature"),
	}, nil
}

func errorOutcome(err error) string {
	var pe *proto.Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "internal_error"
}
