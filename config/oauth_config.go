package config

import (
	"time"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

type Clock interface {
	Now() time.Time
}

type LifespanProvider interface {
	Clock
	GetAccessTokenLifespan() time.Duration
	GetRefreshTokenLifespan() time.Duration
	GetAuthorizeCodeLifespan() time.Duration
	GetIDTokenLifespan() time.Duration
}

type ScopeStrategyProvider interface {
	GetScopeStrategy() oauth2.ScopeStrategy
}

type HMACSecretProvider interface {
	Clock
	GetGlobalSecret() []byte
	GetRotatedGlobalSecrets() [][]byte
	GetTokenEntropy() int
}

type IssuerProvider interface {
	GetIssuer() string
}

type TokenURLProvider interface {
	GetTokenURL() string
}

type PKCEPolicyProvider interface {
	GetEnforcePKCE() bool
	GetEnforcePKCEForPublicClients() bool
	GetEnablePKCEPlainChallengeMethod() bool
}

type OpenIDProvider interface {
	Clock
	IssuerProvider
	GetAllowedPrompts() []string
	GetMinParameterEntropy() int
}

type ProviderConfig interface {
	Clock
	ScopeStrategyProvider
	GetMinParameterEntropy() int
	GetSendDebugMessages() bool
}

var (
	_ LifespanProvider      = (*Config)(nil)
	_ ScopeStrategyProvider = (*Config)(nil)
	_ HMACSecretProvider    = (*Config)(nil)
	_ TokenURLProvider      = (*Config)(nil)
	_ PKCEPolicyProvider    = (*Config)(nil)
	_ OpenIDProvider        = (*Config)(nil)
	_ ProviderConfig        = (*Config)(nil)
)

// Now returns the configured clock's time in UTC.
func (c *Config) Now() time.Time {
	if c.Clock != nil {
		return c.Clock().UTC()
	}
	return time.Now().UTC()
}

func (c *Config) GetAccessTokenLifespan() time.Duration   { return c.AccessTokenLifespan }
func (c *Config) GetRefreshTokenLifespan() time.Duration  { return c.RefreshTokenLifespan }
func (c *Config) GetAuthorizeCodeLifespan() time.Duration { return c.AuthorizeCodeLifespan }
func (c *Config) GetIDTokenLifespan() time.Duration       { return c.IDTokenLifespan }

// GetScopeStrategy falls back to the hierarchic strategy for unknown names;
// Validate reports those at startup.
func (c *Config) GetScopeStrategy() oauth2.ScopeStrategy {
	s, err := oauth2.ScopeStrategyByName(c.ScopeStrategy)
	if err != nil {
		return oauth2.HierarchicScopeStrategy
	}
	return s
}

func (c *Config) GetGlobalSecret() []byte { return []byte(c.HMACSecret) }

func (c *Config) GetRotatedGlobalSecrets() [][]byte {
	out := make([][]byte, 0, len(c.RotatedHMACSecrets))
	for _, s := range c.RotatedHMACSecrets {
		out = append(out, []byte(s))
	}
	return out
}

func (c *Config) GetTokenEntropy() int {
	if c.TokenEntropy < 32 {
		return 32
	}
	return c.TokenEntropy
}

func (c *Config) GetIssuer() string   { return c.Issuer }
func (c *Config) GetTokenURL() string { return c.TokenURL }

func (c *Config) GetEnforcePKCE() bool                    { return c.EnforcePKCE }
func (c *Config) GetEnforcePKCEForPublicClients() bool    { return c.EnforcePKCEForPublicClients }
func (c *Config) GetEnablePKCEPlainChallengeMethod() bool { return c.EnablePKCEPlainChallengeMethod }

func (c *Config) GetAllowedPrompts() []string { return c.AllowedPrompts }
func (c *Config) GetMinParameterEntropy() int { return c.MinParameterEntropy }
func (c *Config) GetSendDebugMessages() bool  { return c.SendDebugMessages }

// UseJWTAccessTokens reports whether access tokens are minted as JWTs.
func (c *Config) UseJWTAccessTokens() bool { return c.AccessTokenFormat == "jwt" }
