package jwt

import (
	"context"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.TokenIntrospector = (*Introspector)(nil)

// Introspector validates JWT access tokens without a storage lookup. Tokens
// signed by another key or issued by another issuer are rejected.
type Introspector struct {
	strategy *Strategy
	clients  oauth2.ClientManager
	scopes   config.ScopeStrategyProvider
}

// NewIntrospector creates a stateless introspector backed by strategy.
func NewIntrospector(strategy *Strategy, clients oauth2.ClientManager, scopes config.ScopeStrategyProvider) *Introspector {
	return &Introspector{strategy: strategy, clients: clients, scopes: scopes}
}

// IntrospectToken verifies token and rebuilds the request it was issued for
// from its claims. Refresh token hints are not served here.
func (i *Introspector) IntrospectToken(ctx context.Context, token string, hint oauth2.TokenType, scopes ...string) (oauth2.TokenType, *oauth2.Request, error) {
	if hint == oauth2.RefreshToken {
		return "", nil, oauth2.ErrNotFound.WithHint("Refresh tokens are not JWTs.")
	}

	mapClaims, err := i.strategy.Parse(token)
	if err != nil {
		return "", nil, err
	}
	claims := AccessClaimsFromMap(mapClaims)

	client, err := i.clients.GetClient(ctx, claims.ClientID)
	if err != nil {
		return "", nil, oauth2.ErrNotFound.WithHint("The client the token was issued to is unknown.").WithCause(err)
	}

	session := oauth2.NewJWTSession(claims.Subject)
	session.Claims = claims
	session.SetExpiresAt(oauth2.AccessToken, claims.ExpiresAt)

	r := oauth2.NewRequest()
	r.ID = claims.JTI
	r.RequestedAt = claims.IssuedAt
	r.Client = client
	r.Session = session
	r.SetRequestedScopes(claims.Scope)
	for _, s := range claims.Scope {
		r.GrantScope(s)
	}

	strategy := i.scopes.GetScopeStrategy()
	for _, required := range scopes {
		if !strategy(r.GrantedScope, required) {
			return "", nil, oauth2.ErrInvalidScope.WithHintf("The token was not granted the requested scope %q.", required)
		}
	}
	return oauth2.AccessToken, r, nil
}
