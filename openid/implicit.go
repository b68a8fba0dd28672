package openid

import (
	"context"

	"github.com/jrsteele09/go-oauth-engine/grant"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.AuthorizeEndpointHandler = (*ImplicitHandler)(nil)

// ImplicitHandler implements response_type=id_token and response_type=token id_token.
type ImplicitHandler struct {
	implicit *grant.ImplicitHandler
	tokens   IDTokenStrategy
	config   Config
}

// NewImplicitHandler creates the OpenID Connect implicit flow handler.
func NewImplicitHandler(implicit *grant.ImplicitHandler, tokens IDTokenStrategy, cfg Config) *ImplicitHandler {
	return &ImplicitHandler{implicit: implicit, tokens: tokens, config: cfg}
}

func (h *ImplicitHandler) CanHandleAuthorizeEndpointRequest(ar *oauth2.AuthorizeRequest) bool {
	if !ar.GrantedScope.Has(oauth2.ScopeOpenID) {
		return false
	}
	return ar.ResponseTypes.ExactOne(oauth2.ResponseTypeIDToken) ||
		ar.ResponseTypes.Matches(oauth2.ResponseTypeToken, oauth2.ResponseTypeIDToken)
}

func (h *ImplicitHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *oauth2.AuthorizeRequest, resp *oauth2.AuthorizeResponse) error {
	if !h.CanHandleAuthorizeEndpointRequest(ar) {
		return nil
	}
	if !ar.Client.HasGrantType(oauth2.GrantTypeImplicit) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use the authorization grant 'implicit'.")
	}
	if ar.Form.Get("redirect_uri") == "" {
		return oauth2.ErrInvalidRequest.WithHint("The 'redirect_uri' parameter is required when using OpenID Connect 1.0.").WithParam("redirect_uri")
	}
	if err := checkNonce(ar, h.config, "Implicit"); err != nil {
		return err
	}
	if err := oauth2.ValidateScopes(h.config.GetScopeStrategy(), ar.Client.Scopes, ar.RequestedScope); err != nil {
		return err
	}
	session, err := oauth2.AsOpenIDSession(ar.Session)
	if err != nil {
		return err
	}

	fragmentMode(resp)
	if ar.ResponseTypes.Has(oauth2.ResponseTypeToken) {
		if err := h.implicit.IssueImplicitAccessToken(ctx, ar, resp); err != nil {
			return err
		}
		ar.SetResponseTypeHandled(oauth2.ResponseTypeToken)
		session.IDClaims.AccessTokenHash = LeftMostHash(h.tokens.SigningAlgorithm(), resp.Parameters.Get("access_token"))
	} else {
		resp.AddParameter("state", ar.State)
	}

	token, err := h.tokens.GenerateIDToken(ctx, h.config.GetIDTokenLifespan(), &ar.Request, oauth2.GrantTypeImplicit)
	if err != nil {
		return err
	}
	resp.AddParameter("id_token", token)
	ar.SetResponseTypeHandled(oauth2.ResponseTypeIDToken)
	return nil
}
