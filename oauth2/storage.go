package oauth2

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oauth-engine/clients"
)

// ClientManager looks clients up by id. Unknown clients yield ErrNotFound.
type ClientManager interface {
	GetClient(ctx context.Context, id string) (*clients.Client, error)
}

// AuthorizeCodeStorage persists authorize code sessions keyed by code signature.
// InvalidateAuthorizeCodeSession must succeed at most once per signature, even under
// concurrent calls; afterwards GetAuthorizeCodeSession returns the stored request
// together with ErrInvalidatedAuthorizeCode.
type AuthorizeCodeStorage interface {
	CreateAuthorizeCodeSession(ctx context.Context, signature string, r *Request) error
	GetAuthorizeCodeSession(ctx context.Context, signature string, session Session) (*Request, error)
	InvalidateAuthorizeCodeSession(ctx context.Context, signature string) error
}

// AccessTokenStorage persists access token sessions keyed by token signature.
type AccessTokenStorage interface {
	CreateAccessTokenSession(ctx context.Context, signature string, r *Request) error
	GetAccessTokenSession(ctx context.Context, signature string, session Session) (*Request, error)
	DeleteAccessTokenSession(ctx context.Context, signature string) error
}

// RefreshTokenStorage persists refresh token sessions keyed by token signature.
// DeleteRefreshTokenSession must succeed at most once per signature and return
// ErrNotFound afterwards.
type RefreshTokenStorage interface {
	CreateRefreshTokenSession(ctx context.Context, signature string, r *Request) error
	GetRefreshTokenSession(ctx context.Context, signature string, session Session) (*Request, error)
	DeleteRefreshTokenSession(ctx context.Context, signature string) error
}

// TokenRevocationStorage revokes every token issued under one request id.
type TokenRevocationStorage interface {
	AccessTokenStorage
	RefreshTokenStorage
	RevokeAccessToken(ctx context.Context, requestID string) error
	RevokeRefreshToken(ctx context.Context, requestID string) error
}

// OpenIDConnectRequestStorage keeps the OIDC authorize request keyed by authorize code signature.
type OpenIDConnectRequestStorage interface {
	CreateOpenIDConnectSession(ctx context.Context, signature string, r *Request) error
	GetOpenIDConnectSession(ctx context.Context, signature string, r *Request) (*Request, error)
	DeleteOpenIDConnectSession(ctx context.Context, signature string) error
}

// PKCERequestStorage keeps the PKCE challenge keyed by authorize code signature.
type PKCERequestStorage interface {
	CreatePKCERequestSession(ctx context.Context, signature string, r *Request) error
	GetPKCERequestSession(ctx context.Context, signature string, session Session) (*Request, error)
	DeletePKCERequestSession(ctx context.Context, signature string) error
}

// ClientAssertionJWTStorage remembers client assertion ids until they expire.
type ClientAssertionJWTStorage interface {
	// ClientAssertionJWTValid returns ErrJTIKnown if jti was seen and has not expired.
	ClientAssertionJWTValid(ctx context.Context, jti string) error
	SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error
}
