package jwt

import (
	"encoding/json"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/go-oauth-engine/internal/utils"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var registeredAccessClaims = map[string]struct{}{
	"jti": {}, "iss": {}, "sub": {}, "aud": {}, "client_id": {}, "iat": {}, "nbf": {}, "exp": {}, "scope": {},
}

// AccessClaimsToMap renders access token claims. Extra claims never override registered ones.
func AccessClaimsToMap(c *oauth2.AccessTokenClaims) jwtlib.MapClaims {
	m := jwtlib.MapClaims{}
	for k, v := range c.Extra {
		if _, reserved := registeredAccessClaims[k]; !reserved {
			m[k] = v
		}
	}
	m["jti"] = c.JTI
	m["iss"] = c.Issuer
	if c.Subject != "" {
		m["sub"] = c.Subject
	}
	m["aud"] = c.Audience
	if c.ClientID != "" {
		m["client_id"] = c.ClientID
	}
	m["iat"] = c.IssuedAt.Unix()
	if !c.NotBefore.IsZero() {
		m["nbf"] = c.NotBefore.Unix()
	}
	m["exp"] = c.ExpiresAt.Unix()
	m["scope"] = strings.Join(c.Scope, " ")
	return m
}

// AccessClaimsFromMap parses verified access token claims.
func AccessClaimsFromMap(m jwtlib.MapClaims) *oauth2.AccessTokenClaims {
	c := &oauth2.AccessTokenClaims{Extra: map[string]any{}}
	for k, v := range m {
		switch k {
		case "jti":
			c.JTI, _ = v.(string)
		case "iss":
			c.Issuer, _ = v.(string)
		case "sub":
			c.Subject, _ = v.(string)
		case "aud":
			c.Audience = utils.StringList(v)
		case "client_id":
			c.ClientID, _ = v.(string)
		case "iat":
			c.IssuedAt = NumericTime(v)
		case "nbf":
			c.NotBefore = NumericTime(v)
		case "exp":
			c.ExpiresAt = NumericTime(v)
		case "scope":
			if s, ok := v.(string); ok {
				c.Scope = strings.Fields(s)
			}
		default:
			c.Extra[k] = v
		}
	}
	return c
}

var registeredIDClaims = map[string]struct{}{
	"jti": {}, "iss": {}, "sub": {}, "aud": {}, "nonce": {}, "exp": {}, "iat": {}, "rat": {},
	"auth_time": {}, "at_hash": {}, "c_hash": {}, "acr": {}, "amr": {},
}

// IDClaimsToMap renders ID token claims, omitting empty optional claims.
func IDClaimsToMap(c *oauth2.IDTokenClaims) jwtlib.MapClaims {
	m := jwtlib.MapClaims{}
	for k, v := range c.Extra {
		if _, reserved := registeredIDClaims[k]; !reserved {
			m[k] = v
		}
	}
	m["jti"] = c.JTI
	m["iss"] = c.Issuer
	m["sub"] = c.Subject
	m["aud"] = c.Audience
	m["iat"] = c.IssuedAt.Unix()
	m["exp"] = c.ExpiresAt.Unix()
	if c.Nonce != "" {
		m["nonce"] = c.Nonce
	}
	if !c.RequestedAt.IsZero() {
		m["rat"] = c.RequestedAt.Unix()
	}
	if !c.AuthTime.IsZero() {
		m["auth_time"] = c.AuthTime.Unix()
	}
	if c.AccessTokenHash != "" {
		m["at_hash"] = c.AccessTokenHash
	}
	if c.CodeHash != "" {
		m["c_hash"] = c.CodeHash
	}
	if c.AuthenticationContextClassReference != "" {
		m["acr"] = c.AuthenticationContextClassReference
	}
	if len(c.AuthenticationMethodsReferences) > 0 {
		m["amr"] = c.AuthenticationMethodsReferences
	}
	return m
}

// NumericTime converts a NumericDate claim value.
func NumericTime(v any) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC()
	case int64:
		return time.Unix(n, 0).UTC()
	case int:
		return time.Unix(int64(n), 0).UTC()
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}
		}
		return time.Unix(i, 0).UTC()
	default:
		return time.Time{}
	}
}

