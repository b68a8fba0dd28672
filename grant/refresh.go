package grant

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.TokenEndpointHandler = (*RefreshTokenHandler)(nil)

// RefreshTokenHandler implements grant_type=refresh_token with rotation: the
// presented refresh token and every access token of its request are revoked and
// a new pair is issued under the same request id.
//
// Mutations: the request's scopes, id and session (a clone of the stored one)
// and the session's token expiries.
type RefreshTokenHandler struct {
	strategy oauth2.RefreshTokenStrategy
	storage  oauth2.TokenRevocationStorage
	issuer   *TokenIssuer
	config   Config
}

// NewRefreshTokenHandler creates the refresh token handler.
func NewRefreshTokenHandler(strategy oauth2.RefreshTokenStrategy, storage oauth2.TokenRevocationStorage, issuer *TokenIssuer, cfg Config) *RefreshTokenHandler {
	return &RefreshTokenHandler{strategy: strategy, storage: storage, issuer: issuer, config: cfg}
}

func (h *RefreshTokenHandler) CanHandleTokenEndpointRequest(r *oauth2.AccessRequest) bool {
	return r.GrantTypes.ExactOne(oauth2.GrantTypeRefreshToken)
}

func (h *RefreshTokenHandler) HandleTokenEndpointRequest(ctx context.Context, r *oauth2.AccessRequest) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	if !r.Client.HasGrantType(oauth2.GrantTypeRefreshToken) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use authorization grant 'refresh_token'.")
	}

	raw := r.Form.Get("refresh_token")
	if err := h.strategy.ValidateRefreshToken(ctx, nil, raw); err != nil {
		return oauth2.ErrorToRFC6749(err)
	}
	signature := h.strategy.RefreshTokenSignature(ctx, raw)
	stored, err := h.storage.GetRefreshTokenSession(ctx, signature, r.Session)
	if err != nil {
		return storageLookupError(err, "The refresh token has not been found.")
	}
	if err := h.strategy.ValidateRefreshToken(ctx, stored, raw); err != nil {
		return oauth2.ErrorToRFC6749(err)
	}

	if !HasOfflineAccess(stored) {
		return oauth2.ErrInvalidScope.WithHint("The OAuth 2.0 Client was not granted scope 'offline' and may thus not perform the 'refresh_token' authorization grant.")
	}
	if stored.GetClientID() != r.GetClientID() {
		return oauth2.ErrClientMismatch.WithHint("The OAuth 2.0 Client ID from this request does not match the ID during the initial token issuance.")
	}

	// RFC 6749 section 6: a narrower scope may be requested, never a wider one.
	granted := stored.GrantedScope
	if requested := oauth2.SplitArguments(r.Form.Get("scope")); len(requested) > 0 {
		strategy := h.config.GetScopeStrategy()
		for _, scope := range requested {
			if !stored.GrantedScope.Has(scope) {
				return oauth2.ErrInvalidScope.WithHintf("The requested scope '%s' was not originally granted by the resource owner.", scope).WithParam("scope")
			}
			if !strategy(r.Client.Scopes, scope) {
				return oauth2.ErrInvalidScope.WithHintf("The OAuth 2.0 Client is not allowed to request scope '%s'.", scope).WithParam("scope")
			}
		}
		granted = requested
	}

	r.SetRequestedScopes(stored.RequestedScope)
	r.GrantedScope = oauth2.Arguments{}
	for _, scope := range granted {
		r.GrantScope(scope)
	}
	r.Session = stored.Session.Clone()
	r.ID = stored.ID
	h.issuer.SetExpiries(&r.Request, true)
	return nil
}

func (h *RefreshTokenHandler) PopulateTokenEndpointResponse(ctx context.Context, r *oauth2.AccessRequest, resp *oauth2.AccessResponse) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}

	signature := h.strategy.RefreshTokenSignature(ctx, r.Form.Get("refresh_token"))
	if err := h.storage.DeleteRefreshTokenSession(ctx, signature); err != nil {
		if errors.Is(err, oauth2.ErrNotFound) {
			return oauth2.ErrInvalidGrant.WithHint("The refresh token has already been used.")
		}
		return oauth2.ErrServerError.WithCause(err)
	}
	if err := h.storage.RevokeAccessToken(ctx, r.ID); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		return oauth2.ErrServerError.WithCause(err)
	}
	if err := h.storage.RevokeRefreshToken(ctx, r.ID); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		return oauth2.ErrServerError.WithCause(err)
	}

	if err := h.issuer.IssueAccessToken(ctx, &r.Request, resp); err != nil {
		return err
	}
	return h.issuer.IssueRefreshToken(ctx, &r.Request, resp)
}
