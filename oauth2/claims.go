package oauth2

import (
	"maps"
	"slices"
	"time"
)

// AccessTokenClaims is the claim set carried by JWT access tokens.
type AccessTokenClaims struct {
	JTI       string         `json:"jti,omitempty"`
	Issuer    string         `json:"iss,omitempty"`
	Subject   string         `json:"sub,omitempty"`
	Audience  []string       `json:"aud,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	IssuedAt  time.Time      `json:"iat"`
	NotBefore time.Time      `json:"nbf"`
	ExpiresAt time.Time      `json:"exp"`
	Scope     []string       `json:"scope,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Clone deep-copies the claims.
func (c *AccessTokenClaims) Clone() *AccessTokenClaims {
	if c == nil {
		return nil
	}
	out := *c
	out.Audience = slices.Clone(c.Audience)
	out.Scope = slices.Clone(c.Scope)
	out.Extra = maps.Clone(c.Extra)
	return &out
}

// IDTokenClaims is the OpenID Connect claim set. Flow handlers mutate it in
// place while tokens are minted (nonce, at_hash, c_hash).
type IDTokenClaims struct {
	JTI         string    `json:"jti,omitempty"`
	Issuer      string    `json:"iss,omitempty"`
	Subject     string    `json:"sub,omitempty"`
	Audience    []string  `json:"aud,omitempty"`
	Nonce       string    `json:"nonce,omitempty"`
	ExpiresAt   time.Time `json:"exp"`
	IssuedAt    time.Time `json:"iat"`
	RequestedAt time.Time `json:"rat"`
	AuthTime    time.Time `json:"auth_time"`

	AccessTokenHash                     string   `json:"at_hash,omitempty"`
	CodeHash                            string   `json:"c_hash,omitempty"`
	AuthenticationContextClassReference string   `json:"acr,omitempty"`
	AuthenticationMethodsReferences     []string `json:"amr,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Clone deep-copies the claims.
func (c *IDTokenClaims) Clone() *IDTokenClaims {
	if c == nil {
		return nil
	}
	out := *c
	out.Audience = slices.Clone(c.Audience)
	out.AuthenticationMethodsReferences = slices.Clone(c.AuthenticationMethodsReferences)
	out.Extra = maps.Clone(c.Extra)
	return &out
}
