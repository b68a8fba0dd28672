package grant

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.RevocationHandler = (*TokenRevocationHandler)(nil)

// TokenRevocationHandler implements RFC 7009. Revoking either token of a grant
// revokes every access and refresh token issued under the same request id.
type TokenRevocationHandler struct {
	strategy TokenStrategy
	storage  oauth2.TokenRevocationStorage
}

// NewTokenRevocationHandler creates the revocation handler.
func NewTokenRevocationHandler(strategy TokenStrategy, storage oauth2.TokenRevocationStorage) *TokenRevocationHandler {
	return &TokenRevocationHandler{strategy: strategy, storage: storage}
}

func (h *TokenRevocationHandler) RevokeToken(ctx context.Context, token string, hint oauth2.TokenType, client *clients.Client) error {
	lookups := []func() (*oauth2.Request, error){
		func() (*oauth2.Request, error) {
			return h.storage.GetRefreshTokenSession(ctx, h.strategy.RefreshTokenSignature(ctx, token), nil)
		},
		func() (*oauth2.Request, error) {
			return h.storage.GetAccessTokenSession(ctx, h.strategy.AccessTokenSignature(ctx, token), nil)
		},
	}
	if hint == oauth2.AccessToken {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}

	var found *oauth2.Request
	for _, lookup := range lookups {
		r, err := lookup()
		if err == nil {
			found = r
			break
		}
		if !errors.Is(err, oauth2.ErrNotFound) {
			return oauth2.ErrServerError.WithCause(err)
		}
	}
	if found == nil {
		return oauth2.ErrNotFound.WithHint("The token could not be found.")
	}

	if found.GetClientID() != client.ID {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to revoke a token it does not own.")
	}

	if err := h.storage.RevokeRefreshToken(ctx, found.ID); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		return oauth2.ErrServerError.WithCause(err)
	}
	if err := h.storage.RevokeAccessToken(ctx, found.ID); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		return oauth2.ErrServerError.WithCause(err)
	}
	return nil
}
