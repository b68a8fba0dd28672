package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// MinHMACSecretLength is the shortest accepted global HMAC secret, in bytes.
const MinHMACSecretLength = 32

// Config holds every setting of the engine and the example host. It is read
// from the environment with Load and consumed through the narrow interfaces in
// oauth_config.go.
type Config struct {
	Issuer   string `env:"OAUTH_ISSUER"    envDefault:"http://localhost:8080"`
	TokenURL string `env:"OAUTH_TOKEN_URL" envDefault:"http://localhost:8080/oauth2/token"`

	AccessTokenLifespan   time.Duration `env:"OAUTH_ACCESS_TOKEN_LIFESPAN"   envDefault:"1h"`
	RefreshTokenLifespan  time.Duration `env:"OAUTH_REFRESH_TOKEN_LIFESPAN"  envDefault:"168h"`
	AuthorizeCodeLifespan time.Duration `env:"OAUTH_AUTHORIZE_CODE_LIFESPAN" envDefault:"15m"`
	IDTokenLifespan       time.Duration `env:"OAUTH_ID_TOKEN_LIFESPAN"       envDefault:"1h"`

	HMACSecret         string   `env:"OAUTH_HMAC_SECRET"`
	RotatedHMACSecrets []string `env:"OAUTH_ROTATED_HMAC_SECRETS" envSeparator:","`
	TokenEntropy       int      `env:"OAUTH_TOKEN_ENTROPY"        envDefault:"32"`
	// AccessTokenFormat is "opaque" (HMAC) or "jwt".
	AccessTokenFormat string `env:"OAUTH_ACCESS_TOKEN_FORMAT" envDefault:"opaque"`
	// StatelessIntrospection answers introspection of JWT access tokens from the
	// token alone. Revoked JWTs then stay active until they expire.
	StatelessIntrospection bool `env:"OAUTH_STATELESS_INTROSPECTION"`

	ScopeStrategy       string   `env:"OAUTH_SCOPE_STRATEGY"         envDefault:"hierarchic"`
	MinParameterEntropy int      `env:"OAUTH_MIN_PARAMETER_ENTROPY"  envDefault:"8"`
	AllowedPrompts      []string `env:"OAUTH_ALLOWED_PROMPTS"        envSeparator:"," envDefault:"login,none,consent,select_account"`
	SendDebugMessages   bool     `env:"OAUTH_SEND_DEBUG_MESSAGES"`

	EnforcePKCE                    bool `env:"OAUTH_ENFORCE_PKCE"`
	EnforcePKCEForPublicClients    bool `env:"OAUTH_ENFORCE_PKCE_FOR_PUBLIC_CLIENTS" envDefault:"true"`
	EnablePKCEPlainChallengeMethod bool `env:"OAUTH_ENABLE_PKCE_PLAIN"`

	SigningKeyPath string `env:"OAUTH_SIGNING_KEY_PATH"`

	StorageBackend string `env:"OAUTH_STORAGE"     envDefault:"memory"`
	RedisURL       string `env:"OAUTH_REDIS_URL"   envDefault:"redis://localhost:6379/0"`
	RedisPrefix    string `env:"OAUTH_REDIS_PREFIX" envDefault:"oauth"`
	SQLitePath     string `env:"OAUTH_SQLITE_PATH" envDefault:"oauth.db"`

	// Telemetry records spans and metrics through the global OpenTelemetry providers.
	Telemetry bool `env:"OAUTH_TELEMETRY"`

	// Demo registrations made by the example host at start up. Nothing is
	// registered while the secrets are empty.
	DemoClientID     string `env:"OAUTH_DEMO_CLIENT_ID"     envDefault:"demo"`
	DemoClientSecret string `env:"OAUTH_DEMO_CLIENT_SECRET"`
	DemoRedirectURI  string `env:"OAUTH_DEMO_REDIRECT_URI"  envDefault:"http://127.0.0.1:9000/callback"`
	DemoUsername     string `env:"OAUTH_DEMO_USERNAME"      envDefault:"demo"`
	DemoPassword     string `env:"OAUTH_DEMO_PASSWORD"`

	// AllowedOrigins lists browser origins the example host answers CORS requests for.
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	Port     string `env:"PORT"      envDefault:"8080"`
	AppName  string `env:"APP_NAME"  envDefault:"Go OAuth Engine"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Clock overrides the wall clock. Tests set it to freeze time.
	Clock func() time.Time
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with the documented defaults and the given HMAC secret.
func Default(hmacSecret string) *Config {
	return &Config{
		Issuer:                      "http://localhost:8080",
		TokenURL:                    "http://localhost:8080/oauth2/token",
		AccessTokenLifespan:         time.Hour,
		RefreshTokenLifespan:        7 * 24 * time.Hour,
		AuthorizeCodeLifespan:       15 * time.Minute,
		IDTokenLifespan:             time.Hour,
		HMACSecret:                  hmacSecret,
		TokenEntropy:                32,
		AccessTokenFormat:           "opaque",
		ScopeStrategy:               oauth2.ScopeStrategyHierarchic,
		MinParameterEntropy:         8,
		AllowedPrompts:              []string{"login", "none", "consent", "select_account"},
		EnforcePKCEForPublicClients: true,
		StorageBackend:              "memory",
		RedisURL:                    "redis://localhost:6379/0",
		RedisPrefix:                 "oauth",
		SQLitePath:                  "oauth.db",
		DemoClientID:                "demo",
		DemoRedirectURI:             "http://127.0.0.1:9000/callback",
		DemoUsername:                "demo",
		Port:                        "8080",
		AppName:                     "Go OAuth Engine",
		LogLevel:                    "info",
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.HMACSecret) < MinHMACSecretLength {
		return fmt.Errorf("[Config] OAUTH_HMAC_SECRET must be at least %d bytes", MinHMACSecretLength)
	}
	for _, s := range c.RotatedHMACSecrets {
		if len(s) < MinHMACSecretLength {
			return fmt.Errorf("[Config] every rotated HMAC secret must be at least %d bytes", MinHMACSecretLength)
		}
	}
	if _, err := oauth2.ScopeStrategyByName(c.ScopeStrategy); err != nil {
		return fmt.Errorf("[Config] %w", err)
	}
	switch c.AccessTokenFormat {
	case "opaque", "jwt":
	default:
		return fmt.Errorf("[Config] unknown access token format %q", c.AccessTokenFormat)
	}
	if c.StatelessIntrospection && c.AccessTokenFormat != "jwt" {
		return fmt.Errorf("[Config] stateless introspection requires the jwt access token format")
	}
	switch c.StorageBackend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("[Config] unknown storage backend %q", c.StorageBackend)
	}
	if c.TokenEntropy < 32 {
		return fmt.Errorf("[Config] token entropy must be at least 32 bytes")
	}
	return nil
}
