package grant

import (
	"context"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.TokenIntrospector = (*CoreIntrospector)(nil)

// CoreIntrospector looks tokens up in storage by signature and validates them
// with the strategy that minted them.
type CoreIntrospector struct {
	strategy TokenStrategy
	storage  oauth2.TokenRevocationStorage
	config   config.ScopeStrategyProvider
}

// NewCoreIntrospector creates the storage backed introspector.
func NewCoreIntrospector(strategy TokenStrategy, storage oauth2.TokenRevocationStorage, cfg config.ScopeStrategyProvider) *CoreIntrospector {
	return &CoreIntrospector{strategy: strategy, storage: storage, config: cfg}
}

// IntrospectToken tries the hinted token type first, then the other one.
func (i *CoreIntrospector) IntrospectToken(ctx context.Context, token string, hint oauth2.TokenType, scopes ...string) (oauth2.TokenType, *oauth2.Request, error) {
	order := []oauth2.TokenType{oauth2.AccessToken, oauth2.RefreshToken}
	if hint == oauth2.RefreshToken {
		order = []oauth2.TokenType{oauth2.RefreshToken, oauth2.AccessToken}
	}

	var firstErr error
	for _, tokenType := range order {
		r, err := i.introspect(ctx, tokenType, token)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := i.checkScopes(r, scopes); err != nil {
			return "", nil, err
		}
		return tokenType, r, nil
	}
	return "", nil, firstErr
}

func (i *CoreIntrospector) introspect(ctx context.Context, tokenType oauth2.TokenType, token string) (*oauth2.Request, error) {
	switch tokenType {
	case oauth2.RefreshToken:
		r, err := i.storage.GetRefreshTokenSession(ctx, i.strategy.RefreshTokenSignature(ctx, token), nil)
		if err != nil {
			return nil, storageLookupError(err, "The refresh token has not been found.")
		}
		if err := i.strategy.ValidateRefreshToken(ctx, r, token); err != nil {
			return nil, err
		}
		return r, nil
	default:
		r, err := i.storage.GetAccessTokenSession(ctx, i.strategy.AccessTokenSignature(ctx, token), nil)
		if err != nil {
			return nil, storageLookupError(err, "The access token has not been found.")
		}
		if err := i.strategy.ValidateAccessToken(ctx, r, token); err != nil {
			return nil, err
		}
		return r, nil
	}
}

func (i *CoreIntrospector) checkScopes(r *oauth2.Request, scopes []string) error {
	strategy := i.config.GetScopeStrategy()
	for _, scope := range scopes {
		if !strategy(r.GrantedScope, scope) {
			return oauth2.ErrInvalidScope.WithHintf("The token was not granted the requested scope '%s'.", scope)
		}
	}
	return nil
}
