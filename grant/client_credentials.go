package grant

import (
	"context"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.TokenEndpointHandler = (*ClientCredentialsHandler)(nil)

// ClientCredentialsHandler implements grant_type=client_credentials. Tokens are
// bound to the client alone and never come with a refresh token.
type ClientCredentialsHandler struct {
	issuer *TokenIssuer
	config Config
}

// NewClientCredentialsHandler creates the client credentials handler.
func NewClientCredentialsHandler(issuer *TokenIssuer, cfg Config) *ClientCredentialsHandler {
	return &ClientCredentialsHandler{issuer: issuer, config: cfg}
}

func (h *ClientCredentialsHandler) CanHandleTokenEndpointRequest(r *oauth2.AccessRequest) bool {
	return r.GrantTypes.ExactOne(oauth2.GrantTypeClientCredentials)
}

func (h *ClientCredentialsHandler) HandleTokenEndpointRequest(_ context.Context, r *oauth2.AccessRequest) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	if r.Client.IsPublic() {
		return oauth2.ErrInvalidClient.WithHint("The OAuth 2.0 Client is marked as public and is thus not allowed to use authorization grant 'client_credentials'.")
	}
	if !r.Client.HasGrantType(oauth2.GrantTypeClientCredentials) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use authorization grant 'client_credentials'.")
	}
	if err := oauth2.ValidateScopes(h.config.GetScopeStrategy(), r.Client.Scopes, r.RequestedScope); err != nil {
		return err
	}
	h.issuer.SetExpiries(&r.Request, false)
	return nil
}

func (h *ClientCredentialsHandler) PopulateTokenEndpointResponse(ctx context.Context, r *oauth2.AccessRequest, resp *oauth2.AccessResponse) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	grantRequestedScopes(&r.Request)
	return h.issuer.IssueAccessToken(ctx, &r.Request, resp)
}
