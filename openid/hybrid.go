package openid

import (
	"context"

	"github.com/jrsteele09/go-oauth-engine/grant"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.AuthorizeEndpointHandler = (*HybridHandler)(nil)

// HybridHandler implements the response types that combine a code with tokens:
// "code id_token", "code token" and "code token id_token".
type HybridHandler struct {
	codes    *grant.AuthorizeCodeHandler
	implicit *grant.ImplicitHandler
	strategy oauth2.AuthorizeCodeStrategy
	storage  oauth2.OpenIDConnectRequestStorage
	tokens   IDTokenStrategy
	config   Config
}

// NewHybridHandler creates the hybrid flow handler.
func NewHybridHandler(
	codes *grant.AuthorizeCodeHandler,
	implicit *grant.ImplicitHandler,
	strategy oauth2.AuthorizeCodeStrategy,
	storage oauth2.OpenIDConnectRequestStorage,
	tokens IDTokenStrategy,
	cfg Config,
) *HybridHandler {
	return &HybridHandler{codes: codes, implicit: implicit, strategy: strategy, storage: storage, tokens: tokens, config: cfg}
}

func (h *HybridHandler) CanHandleAuthorizeEndpointRequest(ar *oauth2.AuthorizeRequest) bool {
	rt := ar.ResponseTypes
	return rt.Matches(oauth2.ResponseTypeCode, oauth2.ResponseTypeIDToken) ||
		rt.Matches(oauth2.ResponseTypeCode, oauth2.ResponseTypeToken) ||
		rt.Matches(oauth2.ResponseTypeCode, oauth2.ResponseTypeToken, oauth2.ResponseTypeIDToken)
}

func (h *HybridHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *oauth2.AuthorizeRequest, resp *oauth2.AuthorizeResponse) error {
	if !h.CanHandleAuthorizeEndpointRequest(ar) {
		return nil
	}

	wantsIDToken := ar.ResponseTypes.Has(oauth2.ResponseTypeIDToken)
	openID := ar.GrantedScope.Has(oauth2.ScopeOpenID)
	if wantsIDToken {
		if err := checkNonce(ar, h.config, "Hybrid"); err != nil {
			return err
		}
	}
	if !ar.Client.HasGrantType(oauth2.GrantTypeAuthorizationCode) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use the authorization grant 'authorization_code'.")
	}
	if !oauth2.IsRedirectURISecure(ar.RedirectURI) {
		return oauth2.ErrInvalidRequest.WithHint("Redirect URL is using an insecure protocol, http is only allowed for loopback hosts.").WithParam("redirect_uri")
	}
	if err := oauth2.ValidateScopes(h.config.GetScopeStrategy(), ar.Client.Scopes, ar.RequestedScope); err != nil {
		return err
	}

	var session *oauth2.OpenIDSession
	if openID {
		s, err := oauth2.AsOpenIDSession(ar.Session)
		if err != nil {
			return err
		}
		session = s
	}

	fragmentMode(resp)
	resp.AddParameter("state", ar.State)

	code, err := h.codes.IssueAuthorizeCode(ctx, ar)
	if err != nil {
		return err
	}
	resp.AddParameter("code", code)
	ar.SetResponseTypeHandled(oauth2.ResponseTypeCode)
	if openID {
		session.IDClaims.CodeHash = LeftMostHash(h.tokens.SigningAlgorithm(), code)
		signature := h.strategy.AuthorizeCodeSignature(ctx, code)
		if err := h.storage.CreateOpenIDConnectSession(ctx, signature, ar.Sanitize(requestParameters...)); err != nil {
			return oauth2.ErrServerError.WithCause(err)
		}
	}

	if ar.ResponseTypes.Has(oauth2.ResponseTypeToken) {
		if !ar.Client.HasGrantType(oauth2.GrantTypeImplicit) {
			return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use the authorization grant 'implicit'.")
		}
		if err := h.implicit.IssueImplicitAccessToken(ctx, ar, resp); err != nil {
			return err
		}
		ar.SetResponseTypeHandled(oauth2.ResponseTypeToken)
		if openID {
			session.IDClaims.AccessTokenHash = LeftMostHash(h.tokens.SigningAlgorithm(), resp.Parameters.Get("access_token"))
		}
	}

	// Without the openid scope the id_token response type stays unhandled and
	// the provider rejects the request.
	if !wantsIDToken || !openID {
		return nil
	}
	token, err := h.tokens.GenerateIDToken(ctx, h.config.GetIDTokenLifespan(), &ar.Request, oauth2.GrantTypeImplicit)
	if err != nil {
		return err
	}
	resp.AddParameter("id_token", token)
	ar.SetResponseTypeHandled(oauth2.ResponseTypeIDToken)
	return nil
}
