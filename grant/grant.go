// Package grant implements the OAuth 2.0 grant flows as authorize and token
// endpoint handlers, plus the storage backed introspector and revocation handler.
package grant

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// Config is what the grant handlers read from configuration.
type Config interface {
	config.LifespanProvider
	config.ScopeStrategyProvider
}

// TokenStrategy mints access and refresh tokens.
type TokenStrategy interface {
	oauth2.AccessTokenStrategy
	oauth2.RefreshTokenStrategy
}

// TokenIssuer mints access and refresh tokens and persists their sessions.
// Every token endpoint flow issues through it so stored sessions are always
// sanitized and expiries are computed the same way.
type TokenIssuer struct {
	strategy TokenStrategy
	storage  oauth2.TokenRevocationStorage
	config   config.LifespanProvider
}

// NewTokenIssuer creates a token issuer.
func NewTokenIssuer(strategy TokenStrategy, storage oauth2.TokenRevocationStorage, cfg config.LifespanProvider) *TokenIssuer {
	return &TokenIssuer{strategy: strategy, storage: storage, config: cfg}
}

// SetExpiries records the access token expiry, and the refresh token expiry
// when withRefresh is set, on the request's session.
func (i *TokenIssuer) SetExpiries(r *oauth2.Request, withRefresh bool) {
	now := i.config.Now()
	r.Session.SetExpiresAt(oauth2.AccessToken, now.Add(i.config.GetAccessTokenLifespan()))
	if withRefresh {
		r.Session.SetExpiresAt(oauth2.RefreshToken, now.Add(i.config.GetRefreshTokenLifespan()))
	}
}

// IssueAccessToken mints an access token into resp.
func (i *TokenIssuer) IssueAccessToken(ctx context.Context, r *oauth2.Request, resp *oauth2.AccessResponse) error {
	now := i.config.Now()
	if r.Session.GetExpiresAt(oauth2.AccessToken).IsZero() {
		r.Session.SetExpiresAt(oauth2.AccessToken, now.Add(i.config.GetAccessTokenLifespan()))
	}

	token, err := i.strategy.GenerateAccessToken(ctx, r)
	if err != nil {
		return oauth2.ErrorToRFC6749(err)
	}
	if err := i.storage.CreateAccessTokenSession(ctx, token.Signature, r.Sanitize()); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}

	resp.AccessToken = token.Value
	resp.TokenType = oauth2.BearerTokenType
	resp.SetExpiresIn(r.Session.GetExpiresAt(oauth2.AccessToken), now)
	resp.Scope = strings.Join(r.GrantedScope, " ")
	return nil
}

// IssueRefreshToken mints a refresh token into resp.
func (i *TokenIssuer) IssueRefreshToken(ctx context.Context, r *oauth2.Request, resp *oauth2.AccessResponse) error {
	if r.Session.GetExpiresAt(oauth2.RefreshToken).IsZero() {
		r.Session.SetExpiresAt(oauth2.RefreshToken, i.config.Now().Add(i.config.GetRefreshTokenLifespan()))
	}

	token, err := i.strategy.GenerateRefreshToken(ctx, r)
	if err != nil {
		return oauth2.ErrorToRFC6749(err)
	}
	if err := i.storage.CreateRefreshTokenSession(ctx, token.Signature, r.Sanitize()); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	resp.RefreshToken = token.Value
	return nil
}

// IssueTokens mints an access token, and a refresh token if offline access was granted.
func (i *TokenIssuer) IssueTokens(ctx context.Context, r *oauth2.Request, resp *oauth2.AccessResponse) error {
	if err := i.IssueAccessToken(ctx, r, resp); err != nil {
		return err
	}
	if !HasOfflineAccess(r) {
		return nil
	}
	return i.IssueRefreshToken(ctx, r, resp)
}

// HasOfflineAccess reports whether offline or offline_access was granted.
func HasOfflineAccess(r *oauth2.Request) bool {
	return r.GrantedScope.HasOneOf(oauth2.ScopeOffline, oauth2.ScopeOfflineAccess)
}

// grantRequestedScopes grants every requested scope. Flows without a consent
// step use it once the requested scopes have been checked against the client.
func grantRequestedScopes(r *oauth2.Request) {
	for _, scope := range r.RequestedScope {
		r.GrantScope(scope)
	}
}
