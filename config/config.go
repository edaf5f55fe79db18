// Package config assembles the session stack from environment variables.
//
//	AUTH_API_BASE_URL        backend base URL (required)
//	AUTH_API_PINS            comma separated base64 SPKI SHA-256 pins
//	AUTH_API_TIMEOUT         request timeout (default 10s)
//	AUTH_API_INSECURE        allow plain http (default false)
//	AUTH_OIDC_ISSUER         OIDC issuer; unset disables provider sign-in
//	AUTH_OIDC_CLIENT_ID      OIDC client id
//	AUTH_OIDC_CLIENT_SECRET  OIDC client secret (optional for public clients)
//	AUTH_OIDC_SCOPES         requested scopes (default "openid profile email")
//	AUTH_OIDC_REDIRECT_PORT  loopback redirect port (default 0, any free port)
//	AUTH_SESSION_JWKS_URL    verify session tokens against this JWKS
//	AUTH_SESSION_ISSUER      expected session token issuer
//	AUTH_SESSION_AUDIENCE    expected session token audience
//	AUTH_STORE               file | memory | redis | kubernetes (default file)
//	AUTH_STORE_DIR           file store directory (default <user config dir>/authsession)
//	REDIS_ADDR               redis store address (default localhost:6379)
//	AUTH_STORE_KEY_PREFIX    redis key prefix / kubernetes secret name prefix
//	AUTH_STORE_NAMESPACE     kubernetes namespace (default "default")
//	AUTH_STORE_PASSPHRASE    when set, encrypt credentials at rest
//	AUTH_STORE_SALT          passphrase salt (default derived from the store location)
package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggoodman/authsession-go/apiclient"
	"github.com/ggoodman/authsession-go/auth/oidcauth"
	"github.com/ggoodman/authsession-go/credstore"
	"github.com/ggoodman/authsession-go/credstore/filestore"
	"github.com/ggoodman/authsession-go/credstore/kubestore"
	"github.com/ggoodman/authsession-go/credstore/memorystore"
	"github.com/ggoodman/authsession-go/credstore/redisstore"
	"github.com/ggoodman/authsession-go/credstore/sealedstore"
	"github.com/joeshaw/envdecode"
)

// Store kinds accepted in AUTH_STORE.
const (
	StoreFile       = "file"
	StoreMemory     = "memory"
	StoreRedis      = "redis"
	StoreKubernetes = "kubernetes"
)

var (
	// ErrUnknownStore is returned by OpenStore for an unrecognised AUTH_STORE.
	ErrUnknownStore = errors.New("config: unknown store kind")
	// ErrNoProvider is returned by NewProvider when no OIDC issuer is configured.
	ErrNoProvider = errors.New("config: no identity provider configured")
)

// Config is the decoded environment.
type Config struct {
	APIBaseURL  string        `env:"AUTH_API_BASE_URL,required"`
	APIPins     string        `env:"AUTH_API_PINS"`
	APITimeout  time.Duration `env:"AUTH_API_TIMEOUT,default=10s"`
	APIInsecure bool          `env:"AUTH_API_INSECURE,default=false"`

	OIDCIssuer       string `env:"AUTH_OIDC_ISSUER"`
	OIDCClientID     string `env:"AUTH_OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"AUTH_OIDC_CLIENT_SECRET"`
	OIDCScopes       string `env:"AUTH_OIDC_SCOPES,default=openid profile email"`
	OIDCRedirectPort int    `env:"AUTH_OIDC_REDIRECT_PORT,default=0"`

	SessionJWKSURL  string `env:"AUTH_SESSION_JWKS_URL"`
	SessionIssuer   string `env:"AUTH_SESSION_ISSUER"`
	SessionAudience string `env:"AUTH_SESSION_AUDIENCE"`

	Store           string `env:"AUTH_STORE,default=file"`
	StoreDir        string `env:"AUTH_STORE_DIR"`
	RedisAddr       string `env:"REDIS_ADDR,default=localhost:6379"`
	StoreKeyPrefix  string `env:"AUTH_STORE_KEY_PREFIX"`
	StoreNamespace  string `env:"AUTH_STORE_NAMESPACE,default=default"`
	StorePassphrase string `env:"AUTH_STORE_PASSPHRASE"`
	StoreSalt       string `env:"AUTH_STORE_SALT"`
}

// Load decodes the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Pins returns the configured certificate pins.
func (c *Config) Pins() []string { return splitList(c.APIPins) }

// Scopes returns the configured OIDC scopes.
func (c *Config) Scopes() []string { return splitList(c.OIDCScopes) }

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// NewAPIClient builds the backend HTTP client.
func (c *Config) NewAPIClient(log *slog.Logger) (*apiclient.Client, error) {
	opts := []apiclient.Option{
		apiclient.WithTimeout(c.APITimeout),
		apiclient.WithLogger(log),
	}
	if pins := c.Pins(); len(pins) > 0 {
		opts = append(opts, apiclient.WithPinnedKeys(pins...))
	}
	if c.APIInsecure {
		opts = append(opts, apiclient.WithInsecureHTTP())
	}
	return apiclient.New(c.APIBaseURL, opts...)
}

// NewProvider builds the OIDC provider. It returns ErrNoProvider when
// AUTH_OIDC_ISSUER is unset.
func (c *Config) NewProvider(exchanger oidcauth.TokenExchanger, log *slog.Logger, opts ...oidcauth.Option) (*oidcauth.Provider, error) {
	if c.OIDCIssuer == "" {
		return nil, ErrNoProvider
	}
	opts = append([]oidcauth.Option{oidcauth.WithLogger(log)}, opts...)
	if c.SessionJWKSURL != "" {
		opts = append(opts, oidcauth.WithSessionTokenJWKS(c.SessionIssuer, c.SessionAudience, c.SessionJWKSURL))
	}
	return oidcauth.New(oidcauth.Config{
		Issuer:       c.OIDCIssuer,
		ClientID:     c.OIDCClientID,
		ClientSecret: c.OIDCClientSecret,
		Scopes:       c.Scopes(),
		RedirectPort: c.OIDCRedirectPort,
	}, exchanger, opts...)
}

// OpenStore opens the configured credential store, wrapping it in a
// sealedstore when a passphrase is configured.
func (c *Config) OpenStore(ctx context.Context, log *slog.Logger) (credstore.Store, error) {
	if log == nil {
		log = slog.Default()
	}
	var (
		store    credstore.Store
		location string
		err      error
	)
	switch c.Store {
	case StoreMemory:
		store, location = memorystore.New(), "memory"
	case StoreFile, "":
		dir := c.StoreDir
		if dir == "" {
			base, derr := os.UserConfigDir()
			if derr != nil {
				return nil, fmt.Errorf("config: locate store directory: %w", derr)
			}
			dir = filepath.Join(base, "authsession")
		}
		store, err = filestore.New(dir)
		location = "file:" + dir
	case StoreRedis:
		store, err = redisstore.New(redisstore.Config{RedisAddr: c.RedisAddr, KeyPrefix: c.StoreKeyPrefix})
		location = "redis:" + c.RedisAddr + "/" + c.StoreKeyPrefix
	case StoreKubernetes:
		store, err = kubestore.NewInCluster(c.StoreNamespace, c.StoreKeyPrefix, log)
		location = "kubernetes:" + c.StoreNamespace + "/" + c.StoreKeyPrefix
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, c.Store)
	}
	if err != nil {
		return nil, err
	}

	if c.StorePassphrase == "" {
		log.DebugContext(ctx, "credential store opened", slog.String("store", location))
		return store, nil
	}
	salt := []byte(c.StoreSalt)
	if len(salt) == 0 {
		sum := sha256.Sum256([]byte("authsession-salt:" + location))
		salt = sum[:]
	}
	key, err := sealedstore.KeyFromPassphrase(c.StorePassphrase, salt)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sealed, err := sealedstore.New(store, key)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.DebugContext(ctx, "credential store opened",
		slog.String("store", location),
		slog.Bool("sealed", true))
	return sealed, nil
}
