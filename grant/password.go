package grant

import (
	"context"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// ResourceOwnerAuthenticator checks resource owner credentials and returns the
// subject they belong to.
type ResourceOwnerAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

var _ oauth2.TokenEndpointHandler = (*ResourceOwnerPasswordHandler)(nil)

// ResourceOwnerPasswordHandler implements grant_type=password. The password is
// removed from the request form once checked so it never reaches storage.
type ResourceOwnerPasswordHandler struct {
	authenticator ResourceOwnerAuthenticator
	issuer        *TokenIssuer
	config        Config
}

// NewResourceOwnerPasswordHandler creates the resource owner password handler.
func NewResourceOwnerPasswordHandler(authenticator ResourceOwnerAuthenticator, issuer *TokenIssuer, cfg Config) *ResourceOwnerPasswordHandler {
	return &ResourceOwnerPasswordHandler{authenticator: authenticator, issuer: issuer, config: cfg}
}

func (h *ResourceOwnerPasswordHandler) CanHandleTokenEndpointRequest(r *oauth2.AccessRequest) bool {
	return r.GrantTypes.ExactOne(oauth2.GrantTypePassword)
}

func (h *ResourceOwnerPasswordHandler) HandleTokenEndpointRequest(ctx context.Context, r *oauth2.AccessRequest) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	if !r.Client.HasGrantType(oauth2.GrantTypePassword) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use authorization grant 'password'.")
	}
	if err := oauth2.ValidateScopes(h.config.GetScopeStrategy(), r.Client.Scopes, r.RequestedScope); err != nil {
		return err
	}

	username := r.Form.Get("username")
	password := r.Form.Get("password")
	r.Form.Del("password")
	if username == "" || password == "" {
		return oauth2.ErrInvalidRequest.WithHint("Username or password are missing from the POST body.")
	}

	subject, err := h.authenticator.Authenticate(ctx, username, password)
	if err != nil {
		return oauth2.ErrInvalidGrant.WithHint("Unable to authenticate the provided username and password credentials.").WithCause(err)
	}
	r.Session.SetSubject(subject)
	h.issuer.SetExpiries(&r.Request, false)
	return nil
}

func (h *ResourceOwnerPasswordHandler) PopulateTokenEndpointResponse(ctx context.Context, r *oauth2.AccessRequest, resp *oauth2.AccessResponse) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	grantRequestedScopes(&r.Request)
	return h.issuer.IssueTokens(ctx, &r.Request, resp)
}
