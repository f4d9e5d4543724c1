package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Mode    Mode          `toml:"-"`
	Service ServiceConfig `toml:"service"`
	OIDC    OIDCConfig    `toml:"oidc"`
	Redis   RedisConfig   `toml:"redis"`
	Clients []Client      `toml:"clients"`
}

type ServiceConfig struct {
	Mode       string `toml:"mode"`
	ListenPort uint32 `toml:"listen_port"`
}

// OIDCConfig drives the provider: where it lives, where the browser
// challenge page lives, and how long protocol entities stay alive.
type OIDCConfig struct {
	// Issuer is the external base URL of the provider, including the
	// mount prefix, e.g. "https://id.example.org/oidc".
	Issuer      string `toml:"issuer"`
	FrontendURL string `toml:"frontend_url"`
	EmailDomain string `toml:"email_domain"`

	// SigningKeyFile points at a PEM-encoded P-256 private key used to
	// sign id_tokens. Empty means an ephemeral dev key is generated.
	SigningKeyFile string `toml:"signing_key_file"`

	InteractionTTL uint32 `toml:"interaction_ttl"`
	CodeTTL        uint32 `toml:"code_ttl"`
	AccessTokenTTL uint32 `toml:"access_token_ttl"`
}

type RedisConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

// Client is a statically registered relying party, e.g. the Discourse
// forum that consumes the authorization codes.
type Client struct {
	ID           string   `toml:"client_id"`
	Secret       string   `toml:"client_secret"`
	RedirectURIs []string `toml:"redirect_uris"`
}

func New() (*Config, error) {
	fileName := os.Getenv("CONFIG")
	var cfg Config
	if _, err := toml.DecodeFile(fileName, &cfg); err != nil {
		return nil, err
	}

	var mode Mode
	switch cfg.Service.Mode {
	case "local":
		mode = LocalMode
	case "dev", "development":
		mode = DevelopmentMode
	case "prod", "production":
		mode = ProductionMode
	default:
		return nil, fmt.Errorf("config service.mode value is invalid, must be one of \"development\", \"dev\", \"production\" or \"prod\"")
	}
	cfg.Mode = mode
	cfg.Service.Mode = mode.String()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.OIDC.Issuer == "" {
		return fmt.Errorf("config oidc.issuer is required")
	}
	if cfg.OIDC.FrontendURL == "" {
		return fmt.Errorf("config oidc.frontend_url is required")
	}
	if len(cfg.Clients) == 0 {
		return fmt.Errorf("config requires at least one [[clients]] entry")
	}
	for _, c := range cfg.Clients {
		if c.ID == "" || c.Secret == "" {
			return fmt.Errorf("config client entries require client_id and client_secret")
		}
		if len(c.RedirectURIs) == 0 {
			return fmt.Errorf("config client %q requires at least one redirect uri", c.ID)
		}
	}
	return nil
}

type Mode uint32

const (
	LocalMode Mode = iota
	DevelopmentMode
	ProductionMode
)

func (m Mode) String() string {
	switch m {
	case LocalMode:
		return "local"
	case DevelopmentMode:
		return "development"
	case ProductionMode:
		return "production"
	default:
		return ""
	}
}
