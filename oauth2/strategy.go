package oauth2

import (
	"context"
	"time"
)

// Token is a minted credential. Storage is keyed by Signature, never by Value.
type Token struct {
	Value     string
	Signature string
}

// AuthorizeCodeStrategy mints and validates authorization codes.
type AuthorizeCodeStrategy interface {
	AuthorizeCodeSignature(ctx context.Context, code string) string
	GenerateAuthorizeCode(ctx context.Context, r *Request) (Token, error)
	ValidateAuthorizeCode(ctx context.Context, r *Request, code string) error
}

// AccessTokenStrategy mints and validates access tokens.
type AccessTokenStrategy interface {
	AccessTokenSignature(ctx context.Context, token string) string
	GenerateAccessToken(ctx context.Context, r *Request) (Token, error)
	ValidateAccessToken(ctx context.Context, r *Request, token string) error
}

// RefreshTokenStrategy mints and validates refresh tokens.
type RefreshTokenStrategy interface {
	RefreshTokenSignature(ctx context.Context, token string) string
	GenerateRefreshToken(ctx context.Context, r *Request) (Token, error)
	ValidateRefreshToken(ctx context.Context, r *Request, token string) error
}

// CoreStrategy bundles the three opaque-or-JWT strategies used by the OAuth 2.0 flows.
type CoreStrategy interface {
	AuthorizeCodeStrategy
	AccessTokenStrategy
	RefreshTokenStrategy
}

// IDTokenStrategy mints OpenID Connect ID tokens.
type IDTokenStrategy interface {
	GenerateIDToken(ctx context.Context, lifespan time.Duration, r *Request, grantType string) (string, error)
}
