package openid

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.TokenEndpointHandler = (*RefreshHandler)(nil)

// RefreshHandler adds a fresh ID token to refresh token responses when openid
// was granted. It must run after the OAuth 2.0 refresh handler.
type RefreshHandler struct {
	tokens IDTokenStrategy
	config Config
}

// NewRefreshHandler creates the OpenID Connect refresh handler.
func NewRefreshHandler(tokens IDTokenStrategy, cfg Config) *RefreshHandler {
	return &RefreshHandler{tokens: tokens, config: cfg}
}

func (h *RefreshHandler) CanHandleTokenEndpointRequest(r *oauth2.AccessRequest) bool {
	return r.GrantTypes.ExactOne(oauth2.GrantTypeRefreshToken) && r.GrantedScope.Has(oauth2.ScopeOpenID)
}

// HandleTokenEndpointRequest clears the claims a refreshed ID token must not
// carry over: the original authentication time, nonce, expiry and at_hash.
func (h *RefreshHandler) HandleTokenEndpointRequest(_ context.Context, r *oauth2.AccessRequest) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	session, err := oauth2.AsOpenIDSession(r.Session)
	if err != nil {
		return err
	}
	claims := session.IDClaims
	claims.ExpiresAt = time.Time{}
	claims.JTI = ""
	claims.AccessTokenHash = ""
	claims.AuthTime = time.Time{}
	claims.Nonce = ""
	return nil
}

func (h *RefreshHandler) PopulateTokenEndpointResponse(ctx context.Context, r *oauth2.AccessRequest, resp *oauth2.AccessResponse) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	session, err := oauth2.AsOpenIDSession(r.Session)
	if err != nil {
		return err
	}
	session.IDClaims.AccessTokenHash = LeftMostHash(h.tokens.SigningAlgorithm(), resp.AccessToken)

	token, err := h.tokens.GenerateIDToken(ctx, h.config.GetIDTokenLifespan(), &r.Request, oauth2.GrantTypeRefreshToken)
	if err != nil {
		return err
	}
	resp.IDToken = token
	return nil
}
