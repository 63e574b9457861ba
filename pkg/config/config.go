// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/fx"

	"github.com/joeydtaylor/keystone-core/pkg/keycloak"
)

// Config is the top-level keystone.toml document. Environment variables
// override file values so deployments can keep secrets out of the file.
type Config struct {
	Server   Server   `toml:"server"`
	Keycloak Keycloak `toml:"keycloak"`
}

type Server struct {
	ListenAddress string `toml:"listen_address"`
	TLSCert       string `toml:"tls_certificate"`
	TLSKey        string `toml:"tls_key"`
}

type Keycloak struct {
	ServerURL      string `toml:"server_url"`
	Realm          string `toml:"realm"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	KeyTTLSeconds  int    `toml:"key_ttl_seconds"`
	LeewaySeconds  int    `toml:"leeway_seconds"`
}

// Load reads path (default keystone.toml, overridable via KEYSTONE_CONFIG),
// applies env overrides, and validates. A missing file is fine when the env
// carries everything.
func Load(path string) (*Config, error) {
	if path == "" {
		path = envOr("KEYSTONE_CONFIG", "keystone.toml")
	}

	cfg := &Config{
		Server: Server{ListenAddress: ":4000"},
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfEnv(&c.Server.ListenAddress, "SERVER_LISTEN_ADDRESS")
	setIfEnv(&c.Server.TLSCert, "SSL_SERVER_CERTIFICATE")
	setIfEnv(&c.Server.TLSKey, "SSL_SERVER_KEY")

	setIfEnv(&c.Keycloak.ServerURL, "KEYCLOAK_SERVER_URL")
	setIfEnv(&c.Keycloak.Realm, "KEYCLOAK_REALM")
	setIfEnv(&c.Keycloak.ClientID, "KEYCLOAK_CLIENT_ID")
	setIfEnv(&c.Keycloak.ClientSecret, "KEYCLOAK_CLIENT_SECRET")
	setIntIfEnv(&c.Keycloak.TimeoutSeconds, "KEYCLOAK_TIMEOUT_SECONDS")
	setIntIfEnv(&c.Keycloak.KeyTTLSeconds, "KEYCLOAK_KEY_TTL_SECONDS")
	setIntIfEnv(&c.Keycloak.LeewaySeconds, "KEYCLOAK_LEEWAY_SECONDS")
}

// Validate checks the fields every deployment needs.
func (c *Config) Validate() error {
	if c.Keycloak.ServerURL == "" {
		return errors.New("config: keycloak server_url is required")
	}
	if c.Keycloak.Realm == "" {
		return errors.New("config: keycloak realm is required")
	}
	if c.Keycloak.ClientID == "" {
		return errors.New("config: keycloak client_id is required")
	}
	return nil
}

// KeycloakConfig maps the file schema onto the adapter's config.
func (c *Config) KeycloakConfig() keycloak.Config {
	return keycloak.Config{
		ServerURL:    c.Keycloak.ServerURL,
		Realm:        c.Keycloak.Realm,
		ClientID:     c.Keycloak.ClientID,
		ClientSecret: c.Keycloak.ClientSecret,
		Timeout:      time.Duration(c.Keycloak.TimeoutSeconds) * time.Second,
		KeyTTL:       time.Duration(c.Keycloak.KeyTTLSeconds) * time.Second,
		Leeway:       time.Duration(c.Keycloak.LeewaySeconds) * time.Second,
	}
}

// -------------------- DI --------------------

func ProvideConfig() (*Config, error) { return Load("") }

func ProvideKeycloakConfig(c *Config) keycloak.Config { return c.KeycloakConfig() }

var Module = fx.Options(
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideKeycloakConfig),
)

// -------------------- env helpers --------------------

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setIntIfEnv(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
