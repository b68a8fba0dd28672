package oauth2

// Response types accepted at the authorization endpoint.
// A request may combine several of them (hybrid flow), which is why they are kept
// as plain strings inside Arguments rather than as a typed enum.
const (
	// ResponseTypeCode indicates the authorization code flow.
	// Used in: Authorization Code Flow, Hybrid Flow
	// Example: /oauth2/auth?response_type=code&client_id=...
	ResponseTypeCode = "code"

	// ResponseTypeToken returns an access token directly in the redirect fragment.
	// Used in: Implicit Flow, Hybrid Flow
	// Security: The token never travels in a query string.
	ResponseTypeToken = "token"

	// ResponseTypeIDToken returns an OpenID Connect ID token in the redirect fragment.
	// Used in: OIDC Implicit Flow, Hybrid Flow
	ResponseTypeIDToken = "id_token"
)

// Grant types accepted at the token endpoint.
const (
	// GrantTypeAuthorizationCode exchanges an authorization code for tokens.
	// Token request includes: code, redirect_uri, code_verifier (if PKCE)
	GrantTypeAuthorizationCode = "authorization_code"

	// GrantTypeImplicit is never sent to the token endpoint. Clients register it to be
	// allowed to use response_type=token.
	GrantTypeImplicit = "implicit"

	// GrantTypeClientCredentials allows machine-to-machine authentication.
	// Returns: access_token only, bound to the client identity.
	GrantTypeClientCredentials = "client_credentials"

	// GrantTypePassword authenticates a resource owner by username and password.
	GrantTypePassword = "password"

	// GrantTypeRefreshToken exchanges a refresh token for a new access and refresh token pair.
	GrantTypeRefreshToken = "refresh_token"
)

// Well known scopes.
const (
	ScopeOpenID        = "openid"
	ScopeOffline       = "offline"
	ScopeOfflineAccess = "offline_access"
)

// BearerTokenType is the token_type returned for every access token.
const BearerTokenType = "bearer"

// ResponseModeType denotes how the authorization response parameters are returned to the client.
type ResponseModeType string

const (
	// ResponseModeDefault lets the engine pick query for response_type=code and fragment otherwise.
	ResponseModeDefault ResponseModeType = ""

	// ResponseModeQuery returns parameters in the URL query string.
	// Example: https://client.example.com/callback?code=ABC123&state=xyz
	// Security: Parameters visible in browser history and server logs
	ResponseModeQuery ResponseModeType = "query"

	// ResponseModeFragment returns parameters in the URL fragment (after #).
	// Example: https://client.example.com/callback#access_token=ABC123&state=xyz
	ResponseModeFragment ResponseModeType = "fragment"

	// ResponseModeFormPost returns parameters via an auto-submitting HTML form.
	// The host renders the form; the engine only carries the parameters.
	ResponseModeFormPost ResponseModeType = "form_post"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
type CodeMethodType string

const (
	// CodeMethodS256 indicates SHA-256 hashing is used for the code challenge.
	// Client sends: code_challenge = BASE64URL(SHA256(code_verifier))
	CodeMethodS256 CodeMethodType = "S256"

	// CodeMethodPlain means no hashing, the challenge is the verifier itself.
	// Security: Weaker than S256, only protects against passive attacks
	CodeMethodPlain CodeMethodType = "plain"
)

// TokenType names the kind of credential a token or an expiry belongs to.
type TokenType string

const (
	AccessToken   TokenType = "access_token"
	RefreshToken  TokenType = "refresh_token"
	AuthorizeCode TokenType = "authorize_code"
	IDToken       TokenType = "id_token"
)
