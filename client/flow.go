// Package client drives the wallet-login flow against a running broker:
// start the authorization, sign the challenge, post the callback, and
// hand back the redirect carrying the authorization code. It is the
// headless counterpart of the frontend challenge page.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/walletgate/identity-broker/o11y"
	"github.com/walletgate/identity-broker/wallet"
)

// State tracks where a login attempt is. Transitions are linear; any
// failure parks the flow in StateFailed.
type State int32

const (
	StateIdle State = iota
	StateConnectingWallet
	StateWalletConnected
	StateAwaitingSignature
	StateSigned
	StateSubmitting
	StateRedirected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectingWallet:
		return "connecting_wallet"
	case StateWalletConnected:
		return "wallet_connected"
	case StateAwaitingSignature:
		return "awaiting_signature"
	case StateSigned:
		return "signed"
	case StateSubmitting:
		return "submitting"
	case StateRedirected:
		return "redirected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Flow failure reasons, stable strings callers can switch on.
const (
	ReasonMissingSessionID         = "missing_session_id"
	ReasonWalletConnectionRejected = "wallet_connection_rejected"
	ReasonSignatureRejected        = "signature_rejected"
	ReasonVerificationFailed       = "verification_failed"
)

type FlowError struct {
	Reason string
	cause  error
}

func (e *FlowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.cause)
	}
	return e.Reason
}

func (e *FlowError) Unwrap() error {
	return e.cause
}

func flowErrorf(reason string, format string, args ...any) *FlowError {
	return &FlowError{Reason: reason, cause: fmt.Errorf(format, args...)}
}

// Result is a completed login: the browser-equivalent final redirect to
// the relying party, with the authorization code split out.
type Result struct {
	Address     string
	Code        string
	State       string
	RedirectURL string
}

type Flow struct {
	brokerURL string
	wallet    Wallet
	client    o11y.HTTPClient
	log       zerolog.Logger

	state int32
	busy  int32
}

// NewFlow builds a login flow against the broker at brokerURL (service
// base, without the /oidc suffix). Each flow owns its cookie jar; flows
// are independent sessions. Outgoing requests go through rt (nil means
// http.DefaultTransport) and are traced.
func NewFlow(brokerURL string, w Wallet, rt http.RoundTripper, log zerolog.Logger) (*Flow, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Flow{
		brokerURL: strings.TrimRight(brokerURL, "/"),
		wallet:    w,
		client: o11y.WrapClient(&http.Client{
			Transport: rt,
			Jar:       jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}),
		log: log.With().Str("component", "client").Logger(),
	}, nil
}

func (f *Flow) State() State {
	return State(atomic.LoadInt32(&f.state))
}

func (f *Flow) setState(s State) {
	atomic.StoreInt32(&f.state, int32(s))
	f.log.Debug().Str("state", s.String()).Msg("flow state")
}

// Login runs the whole flow: authorize, connect, sign, submit. A flow
// runs one login at a time; concurrent calls fail fast.
func (f *Flow) Login(ctx context.Context, authorizeURL string) (*Result, error) {
	if !atomic.CompareAndSwapInt32(&f.busy, 0, 1) {
		return nil, fmt.Errorf("login already in progress")
	}
	defer atomic.StoreInt32(&f.busy, 0)

	f.setState(StateIdle)

	uid, err := f.startSession(ctx, authorizeURL)
	if err != nil {
		f.setState(StateFailed)
		return nil, err
	}

	f.setState(StateConnectingWallet)
	address, err := f.wallet.Connect(ctx)
	if err != nil {
		f.setState(StateFailed)
		return nil, flowErrorf(ReasonWalletConnectionRejected, "connect wallet: %w", err)
	}
	f.setState(StateWalletConnected)

	f.setState(StateAwaitingSignature)
	signature, err := f.wallet.SignMessage(ctx, wallet.ChallengeMessage(uid))
	if err != nil {
		f.setState(StateFailed)
		return nil, flowErrorf(ReasonSignatureRejected, "sign challenge: %w", err)
	}
	f.setState(StateSigned)

	f.setState(StateSubmitting)
	result, err := f.submit(ctx, uid, address, signature)
	if err != nil {
		f.setState(StateFailed)
		return nil, err
	}
	result.Address = address

	f.setState(StateRedirected)
	f.log.Info().Str("address", address).Msg("login completed")
	return result, nil
}

// startSession opens the authorization URL and pulls the interaction uid
// out of the challenge-page redirect.
func (f *Flow) startSession(ctx context.Context, authorizeURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorizeURL, nil)
	if err != nil {
		return "", flowErrorf(ReasonMissingSessionID, "build authorize request: %w", err)
	}
	res, err := f.client.Do(req)
	if err != nil {
		return "", flowErrorf(ReasonMissingSessionID, "authorize request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusFound {
		return "", flowErrorf(ReasonMissingSessionID, "authorize returned status %d", res.StatusCode)
	}
	loc, err := url.Parse(res.Header.Get("Location"))
	if err != nil {
		return "", flowErrorf(ReasonMissingSessionID, "parse challenge redirect: %w", err)
	}
	uid := loc.Query().Get("uid")
	if uid == "" {
		return "", &FlowError{Reason: ReasonMissingSessionID}
	}
	return uid, nil
}

func (f *Flow) submit(ctx context.Context, uid, address, signature string) (*Result, error) {
	form := url.Values{}
	form.Set("uid", uid)
	form.Set("walletAddress", address)
	form.Set("signature", signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.brokerURL+"/oidc/wallet-callback", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, flowErrorf(ReasonVerificationFailed, "build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, flowErrorf(ReasonVerificationFailed, "callback request: %w", err)
	}
	defer res.Body.Close()

	// Success is the redirect itself; the broker currently sends 303 but
	// any redirect counts.
	if res.StatusCode < 300 || res.StatusCode > 399 {
		var protoErr struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if decodeErr := json.NewDecoder(res.Body).Decode(&protoErr); decodeErr == nil && protoErr.Error != "" {
			return nil, flowErrorf(ReasonVerificationFailed, "broker rejected callback: %s", protoErr.Error)
		}
		return nil, flowErrorf(ReasonVerificationFailed, "callback returned status %d", res.StatusCode)
	}

	redirect := res.Header.Get("Location")
	loc, err := url.Parse(redirect)
	if err != nil {
		return nil, flowErrorf(ReasonVerificationFailed, "parse final redirect: %w", err)
	}
	return &Result{
		Code:        loc.Query().Get("code"),
		State:       loc.Query().Get("state"),
		RedirectURL: redirect,
	}, nil
}
