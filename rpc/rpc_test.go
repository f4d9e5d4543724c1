package rpc_test

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	ethcrypto "github.com/0xsequence/ethkit/go-ethereum/crypto"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletgate/identity-broker/config"
	"github.com/walletgate/identity-broker/rpc"
	"github.com/walletgate/identity-broker/wallet"
)

const (
	testIssuer      = "https://broker.test/oidc"
	testFrontend    = "https://app.broker.test"
	testClientID    = "discourse_client"
	testSecret      = "forum-secret"
	testRedirectURI = "https://forum.broker.test/auth/oidc/callback"
)

func newTestService(t *testing.T) *rpc.RPC {
	t.Helper()

	cfg := &config.Config{
		Mode: config.LocalMode,
		OIDC: config.OIDCConfig{
			Issuer:      testIssuer,
			FrontendURL: testFrontend,
			EmailDomain: "wallet.broker.test",
		},
		Clients: []config.Client{
			{ID: testClientID, Secret: testSecret, RedirectURIs: []string{testRedirectURI}},
		},
	}

	s, err := rpc.New(cfg)
	require.NoError(t, err)
	return s
}

// browser is an http client that keeps cookies and stops at redirects so
// tests can inspect each hop.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type testWallet struct {
	priv    *ecdsa.PrivateKey
	address string
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	priv, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	require.NoError(t, err)
	return &testWallet{
		priv:    priv,
		address: ethcrypto.PubkeyToAddress(priv.PublicKey).Hex(),
	}
}

func (tw *testWallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := ethcrypto.Sign(wallet.PersonalDigest(message), tw.priv)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func startLogin(t *testing.T, srv *httptest.Server, browser *http.Client) (uid string) {
	t.Helper()

	q := url.Values{}
	q.Set("client_id", testClientID)
	q.Set("redirect_uri", testRedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", "forum-state")
	q.Set("nonce", "forum-nonce")

	res, err := browser.Get(srv.URL + "/oidc/auth?" + q.Encode())
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusFound, res.StatusCode)

	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	uid = loc.Query().Get("uid")
	require.NotEmpty(t, uid)
	return uid
}

func postCallback(t *testing.T, srv *httptest.Server, browser *http.Client, uid, address, signature string) *http.Response {
	t.Helper()

	form := url.Values{}
	form.Set("uid", uid)
	form.Set("walletAddress", address)
	form.Set("signature", signature)

	res, err := browser.Post(srv.URL+"/oidc/wallet-callback", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	return res
}

func TestLoginFlow(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	browser := newBrowser(t)
	tw := newTestWallet(t)

	// Authorize: the browser is parked on the challenge page with a uid.
	uid := startLogin(t, srv, browser)

	// Sign the challenge and post it back.
	signature := tw.sign(t, wallet.ChallengeMessage(uid))
	res := postCallback(t, srv, browser, uid, tw.address, signature)
	defer res.Body.Close()
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "forum.broker.test", loc.Host)
	assert.Equal(t, "forum-state", loc.Query().Get("state"))
	assert.Equal(t, testIssuer, loc.Query().Get("iss"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// Exchange the code like the forum backend would.
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", testRedirectURI)

	req, err := http.NewRequest("POST", srv.URL+"/oidc/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testSecret)

	tokenRes, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer tokenRes.Body.Close()
	require.Equal(t, http.StatusOK, tokenRes.StatusCode)

	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		IDToken     string `json:"id_token"`
	}
	require.NoError(t, json.NewDecoder(tokenRes.Body).Decode(&token))
	require.NotEmpty(t, token.IDToken)
	assert.Equal(t, "Bearer", token.TokenType)

	// Validate the id_token against the served JWKS.
	jwksRes, err := http.Get(srv.URL + "/oidc/jwks")
	require.NoError(t, err)
	defer jwksRes.Body.Close()
	jwksBody, err := io.ReadAll(jwksRes.Body)
	require.NoError(t, err)
	keySet, err := jwk.Parse(jwksBody)
	require.NoError(t, err)

	idToken, err := jwt.Parse([]byte(token.IDToken), jwt.WithKeySet(keySet))
	require.NoError(t, err)

	accountID := strings.ToLower(tw.address)
	assert.Equal(t, testIssuer, idToken.Issuer())
	assert.Equal(t, accountID, idToken.Subject())
	assert.Equal(t, []string{testClientID}, idToken.Audience())

	email, ok := idToken.Get("email")
	require.True(t, ok)
	assert.Equal(t, accountID+"@wallet.broker.test", email)

	nonce, ok := idToken.Get("nonce")
	require.True(t, ok)
	assert.Equal(t, "forum-nonce", nonce)

	// And the userinfo endpoint agrees.
	meReq, err := http.NewRequest("GET", srv.URL+"/oidc/me", nil)
	require.NoError(t, err)
	meReq.Header.Set("Authorization", "Bearer "+token.AccessToken)

	meRes, err := http.DefaultClient.Do(meReq)
	require.NoError(t, err)
	defer meRes.Body.Close()
	require.Equal(t, http.StatusOK, meRes.StatusCode)

	var claims map[string]any
	require.NoError(t, json.NewDecoder(meRes.Body).Decode(&claims))
	assert.Equal(t, accountID, claims["sub"])
	assert.Equal(t, true, claims["email_verified"])
}

func TestStatusAndHealth(t *testing.T) {
	s := newTestService(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.Equal(t, "local", status["mode"])
	assert.NotEmpty(t, status["ver"])
}
