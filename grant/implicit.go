package grant

import (
	"context"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.AuthorizeEndpointHandler = (*ImplicitHandler)(nil)

// ImplicitHandler implements response_type=token. The access token is returned
// in the redirect URI fragment.
type ImplicitHandler struct {
	strategy oauth2.AccessTokenStrategy
	storage  oauth2.AccessTokenStorage
	config   Config
}

// NewImplicitHandler creates the implicit grant handler.
func NewImplicitHandler(strategy oauth2.AccessTokenStrategy, storage oauth2.AccessTokenStorage, cfg Config) *ImplicitHandler {
	return &ImplicitHandler{strategy: strategy, storage: storage, config: cfg}
}

func (h *ImplicitHandler) CanHandleAuthorizeEndpointRequest(ar *oauth2.AuthorizeRequest) bool {
	return ar.ResponseTypes.ExactOne(oauth2.ResponseTypeToken)
}

func (h *ImplicitHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *oauth2.AuthorizeRequest, resp *oauth2.AuthorizeResponse) error {
	if !h.CanHandleAuthorizeEndpointRequest(ar) {
		return nil
	}
	if err := h.ValidateImplicit(ar); err != nil {
		return err
	}
	if err := h.IssueImplicitAccessToken(ctx, ar, resp); err != nil {
		return err
	}
	ar.SetResponseTypeHandled(oauth2.ResponseTypeToken)
	return nil
}

// ValidateImplicit checks the grant, redirect URI and scopes of a request that
// returns an access token from the authorization endpoint.
func (h *ImplicitHandler) ValidateImplicit(ar *oauth2.AuthorizeRequest) error {
	if !ar.Client.HasGrantType(oauth2.GrantTypeImplicit) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use the authorization grant 'implicit'.")
	}
	if !oauth2.IsRedirectURISecure(ar.RedirectURI) {
		return oauth2.ErrInvalidRequest.WithHint("Redirect URL is using an insecure protocol, http is only allowed for loopback hosts.").WithParam("redirect_uri")
	}
	return oauth2.ValidateScopes(h.config.GetScopeStrategy(), ar.Client.Scopes, ar.RequestedScope)
}

// IssueImplicitAccessToken mints an access token into the response fragment.
// The OpenID Connect implicit and hybrid flows share it.
func (h *ImplicitHandler) IssueImplicitAccessToken(ctx context.Context, ar *oauth2.AuthorizeRequest, resp *oauth2.AuthorizeResponse) error {
	now := h.config.Now()
	exp := now.Add(h.config.GetAccessTokenLifespan())
	ar.Session.SetExpiresAt(oauth2.AccessToken, exp)

	token, err := h.strategy.GenerateAccessToken(ctx, &ar.Request)
	if err != nil {
		return oauth2.ErrorToRFC6749(err)
	}
	if err := h.storage.CreateAccessTokenSession(ctx, token.Signature, ar.Sanitize()); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}

	if resp.Mode != oauth2.ResponseModeFormPost {
		resp.Mode = oauth2.ResponseModeFragment
	}
	resp.AddParameter("access_token", token.Value)
	resp.AddParameter("expires_in", strconv.FormatInt(int64(exp.Sub(now).Seconds()), 10))
	resp.AddParameter("token_type", oauth2.BearerTokenType)
	resp.AddParameter("state", ar.State)
	resp.AddParameter("scope", strings.Join(ar.GrantedScope, " "))
	return nil
}
