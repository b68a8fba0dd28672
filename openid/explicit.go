package openid

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var (
	_ oauth2.AuthorizeEndpointHandler = (*ExplicitHandler)(nil)
	_ oauth2.TokenEndpointHandler     = (*ExplicitHandler)(nil)
)

// ExplicitHandler adds an ID token to the authorization code flow. It must run
// after the authorization code handler in both chains: the authorize leg keys
// the OpenID Connect session by the issued code, the token leg hashes the
// minted access token into at_hash.
type ExplicitHandler struct {
	codes   oauth2.AuthorizeCodeStrategy
	storage oauth2.OpenIDConnectRequestStorage
	tokens  IDTokenStrategy
	config  Config
}

// NewExplicitHandler creates the OpenID Connect authorization code handler.
func NewExplicitHandler(codes oauth2.AuthorizeCodeStrategy, storage oauth2.OpenIDConnectRequestStorage, tokens IDTokenStrategy, cfg Config) *ExplicitHandler {
	return &ExplicitHandler{codes: codes, storage: storage, tokens: tokens, config: cfg}
}

func (h *ExplicitHandler) CanHandleAuthorizeEndpointRequest(ar *oauth2.AuthorizeRequest) bool {
	return ar.ResponseTypes.ExactOne(oauth2.ResponseTypeCode) && ar.GrantedScope.Has(oauth2.ScopeOpenID)
}

func (h *ExplicitHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *oauth2.AuthorizeRequest, resp *oauth2.AuthorizeResponse) error {
	if !h.CanHandleAuthorizeEndpointRequest(ar) {
		return nil
	}
	if _, err := oauth2.AsOpenIDSession(ar.Session); err != nil {
		return err
	}
	code := resp.Code()
	if code == "" {
		return oauth2.ErrServerError.WithHint("The authorization code has not been issued yet, indicating a broken code configuration.")
	}
	signature := h.codes.AuthorizeCodeSignature(ctx, code)
	if err := h.storage.CreateOpenIDConnectSession(ctx, signature, ar.Sanitize(requestParameters...)); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	return nil
}

func (h *ExplicitHandler) CanHandleTokenEndpointRequest(r *oauth2.AccessRequest) bool {
	return r.GrantTypes.ExactOne(oauth2.GrantTypeAuthorizationCode)
}

func (h *ExplicitHandler) HandleTokenEndpointRequest(context.Context, *oauth2.AccessRequest) error {
	return nil
}

func (h *ExplicitHandler) PopulateTokenEndpointResponse(ctx context.Context, r *oauth2.AccessRequest, resp *oauth2.AccessResponse) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}

	signature := h.codes.AuthorizeCodeSignature(ctx, r.Form.Get("code"))
	stored, err := h.storage.GetOpenIDConnectSession(ctx, signature, &r.Request)
	if errors.Is(err, oauth2.ErrNotFound) {
		// Plain OAuth 2.0 code exchange.
		return nil
	}
	if err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	if !stored.GrantedScope.Has(oauth2.ScopeOpenID) {
		return oauth2.ErrServerError.WithHint("An OpenID Connect session was found but the openid scope is missing, probably due to a broken code configuration.")
	}
	if err := h.storage.DeleteOpenIDConnectSession(ctx, signature); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		return oauth2.ErrServerError.WithCause(err)
	}

	session, err := oauth2.AsOpenIDSession(r.Session)
	if err != nil {
		return err
	}
	session.IDClaims.AccessTokenHash = LeftMostHash(h.tokens.SigningAlgorithm(), resp.AccessToken)

	// The authorize parameters apply to the ID token, the current session and
	// client to everything else.
	idRequest := stored.Clone()
	idRequest.Client = r.Client
	idRequest.Session = r.Session
	token, err := h.tokens.GenerateIDToken(ctx, h.config.GetIDTokenLifespan(), idRequest, oauth2.GrantTypeAuthorizationCode)
	if err != nil {
		return err
	}
	resp.IDToken = token
	return nil
}
