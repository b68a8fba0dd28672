package oauth2

import (
	"context"

	"github.com/jrsteele09/go-oauth-engine/clients"
)

// AuthorizeEndpointHandler is one link of the authorization endpoint chain.
// HandleAuthorizeEndpointRequest must return nil without side effects when
// CanHandleAuthorizeEndpointRequest is false.
type AuthorizeEndpointHandler interface {
	CanHandleAuthorizeEndpointRequest(ar *AuthorizeRequest) bool
	HandleAuthorizeEndpointRequest(ctx context.Context, ar *AuthorizeRequest, resp *AuthorizeResponse) error
}

// TokenEndpointHandler is one link of the token endpoint chain. Every handler's
// HandleTokenEndpointRequest runs before any PopulateTokenEndpointResponse, so a
// handler may validate without minting.
type TokenEndpointHandler interface {
	CanHandleTokenEndpointRequest(r *AccessRequest) bool
	HandleTokenEndpointRequest(ctx context.Context, r *AccessRequest) error
	PopulateTokenEndpointResponse(ctx context.Context, r *AccessRequest, resp *AccessResponse) error
}

// AuthorizeRequestValidator inspects an authorize request before any handler issues credentials.
type AuthorizeRequestValidator interface {
	ValidateAuthorizeRequest(ctx context.Context, ar *AuthorizeRequest) error
}

// TokenIntrospector validates a token and returns the request it was issued for.
type TokenIntrospector interface {
	IntrospectToken(ctx context.Context, token string, hint TokenType, scopes ...string) (TokenType, *Request, error)
}

// RevocationHandler revokes a token on behalf of client. A token that does not
// exist yields ErrNotFound, which the provider reports as benign.
type RevocationHandler interface {
	RevokeToken(ctx context.Context, token string, hint TokenType, client *clients.Client) error
}

// AuthorizeEndpointHandlers is the authorization endpoint chain, invoked in order.
type AuthorizeEndpointHandlers []AuthorizeEndpointHandler

// TokenEndpointHandlers is the token endpoint chain, invoked in order.
type TokenEndpointHandlers []TokenEndpointHandler

// CanHandle reports whether any handler claims the request.
func (h TokenEndpointHandlers) CanHandle(r *AccessRequest) bool {
	for _, handler := range h {
		if handler.CanHandleTokenEndpointRequest(r) {
			return true
		}
	}
	return false
}
