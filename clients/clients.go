package clients

import (
	"slices"

	"github.com/go-jose/go-jose/v4"
)

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

// Token endpoint authentication methods (RFC 7591 / OIDC Registration).
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodNone              = "none"
)

// Client is a registered OAuth 2.0 client.
type Client struct {
	ID           string     `json:"id"`
	Type         ClientType `json:"type"` // public or confidential
	Description  string     `json:"description,omitempty"`
	HashedSecret []byte     `json:"hashed_secret,omitempty"`
	RedirectURIs []string   `json:"redirect_uris"`
	Scopes       []string   `json:"scopes"` // Allowed scopes for this client

	// GrantTypes defaults to authorization_code when empty.
	GrantTypes []string `json:"grant_types,omitempty"`
	// ResponseTypes lists registered response type combinations, e.g. "code", "code id_token".
	// Defaults to "code" when empty.
	ResponseTypes []string `json:"response_types,omitempty"`

	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// OpenID Connect registration metadata.
	TokenEndpointAuthSigningAlg string              `json:"token_endpoint_auth_signing_alg,omitempty"`
	JSONWebKeys                 *jose.JSONWebKeySet `json:"jwks,omitempty"`
	JSONWebKeysURI              string              `json:"jwks_uri,omitempty"`
	RequestObjectSigningAlg     string              `json:"request_object_signing_alg,omitempty"`
	RequestURIs                 []string            `json:"request_uris,omitempty"`
}

// IsPublic returns true if the client is a public client
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// GetGrantTypes returns the registered grant types.
func (c *Client) GetGrantTypes() []string {
	if len(c.GrantTypes) == 0 {
		return []string{"authorization_code"}
	}
	return c.GrantTypes
}

// HasGrantType checks whether the client may use grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GetGrantTypes(), grantType)
}

// GetResponseTypes returns the registered response type combinations.
func (c *Client) GetResponseTypes() []string {
	if len(c.ResponseTypes) == 0 {
		return []string{"code"}
	}
	return c.ResponseTypes
}

// GetTokenEndpointAuthMethod defaults to client_secret_basic for confidential
// clients and none for public clients.
func (c *Client) GetTokenEndpointAuthMethod() string {
	if c.TokenEndpointAuthMethod != "" {
		return c.TokenEndpointAuthMethod
	}
	if c.IsPublic() {
		return AuthMethodNone
	}
	return AuthMethodClientSecretBasic
}
