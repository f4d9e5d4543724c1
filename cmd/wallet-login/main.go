// wallet-login performs a headless wallet login against a running
// broker and prints the resulting authorization code. Useful for
// smoke-testing a deployment without a browser.
package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	ethcrypto "github.com/0xsequence/ethkit/go-ethereum/crypto"
	"github.com/go-chi/traceid"
	"github.com/go-chi/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	identitybroker "github.com/walletgate/identity-broker"
	"github.com/walletgate/identity-broker/client"
)

var (
	brokerURL   string
	clientID    string
	redirectURI string
	scope       string
	state       string
	keyHex      string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:     "wallet-login",
	Short:   "Log in to an identity broker with an Ethereum key",
	Version: identitybroker.VERSION,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&brokerURL, "broker", "http://localhost:8787", "broker service base URL")
	rootCmd.Flags().StringVar(&clientID, "client-id", "discourse_client", "relying party client id")
	rootCmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "registered redirect uri (required)")
	rootCmd.Flags().StringVar(&scope, "scope", "openid email profile", "requested scopes")
	rootCmd.Flags().StringVar(&state, "state", "", "opaque state passed through the flow")
	rootCmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded secp256k1 private key; generated when empty")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "log flow state transitions")
	_ = rootCmd.MarkFlagRequired("redirect-uri")
}

func run(cmd *cobra.Command, _ []string) error {
	var wallet *client.KeyWallet
	if keyHex != "" {
		priv, err := ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return fmt.Errorf("parse key: %w", err)
		}
		wallet = client.NewKeyWallet(priv)
	} else {
		var err error
		wallet, err = client.GenerateKeyWallet()
		if err != nil {
			return err
		}
	}

	log := zerolog.Nop()
	if verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	// HTTP transport chain for all outgoing connections
	transportChain := transport.Chain(
		http.DefaultTransport,
		transport.SetHeader("User-Agent", "wallet-login/"+identitybroker.VERSION),
		traceid.Transport,
	)

	flow, err := client.NewFlow(brokerURL, wallet, transportChain, log)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", scope)
	if state != "" {
		q.Set("state", state)
	}
	authorizeURL := strings.TrimRight(brokerURL, "/") + "/oidc/auth?" + q.Encode()

	result, err := flow.Login(cmd.Context(), authorizeURL)
	if err != nil {
		return err
	}

	fmt.Printf("address:  %s\n", result.Address)
	fmt.Printf("code:     %s\n", result.Code)
	if result.State != "" {
		fmt.Printf("state:    %s\n", result.State)
	}
	fmt.Printf("redirect: %s\n", result.RedirectURL)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
