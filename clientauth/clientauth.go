// Package clientauth authenticates the client calling the token, introspection
// and revocation endpoints.
package clientauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// Authenticator is one client authentication method.
type Authenticator interface {
	// Supports reports whether the request carries credentials of this method.
	Supports(r *http.Request, form url.Values) bool
	Authenticate(ctx context.Context, r *http.Request, form url.Values) (*clients.Client, error)
}

// Chain tries its authenticators in order. The first one that supports the
// request decides; a failure is not retried with a later method. An
// authenticator that supports any request naming a client_id, such as None,
// must therefore come last.
type Chain []Authenticator

// Authenticate runs the first supporting authenticator.
func (c Chain) Authenticate(ctx context.Context, r *http.Request, form url.Values) (*clients.Client, error) {
	for _, authenticator := range c {
		if authenticator.Supports(r, form) {
			return authenticator.Authenticate(ctx, r, form)
		}
	}
	return nil, oauth2.ErrInvalidClient.WithHint("Client credentials missing or malformed.")
}

func lookupClient(ctx context.Context, manager oauth2.ClientManager, id string) (*clients.Client, error) {
	client, err := manager.GetClient(ctx, id)
	if errors.Is(err, oauth2.ErrNotFound) {
		return nil, oauth2.ErrInvalidClient.WithHint("The requested OAuth 2.0 Client does not exist.").WithCause(err)
	}
	if err != nil {
		return nil, oauth2.ErrServerError.WithCause(err)
	}
	return client, nil
}

func requireMethod(client *clients.Client, method string) error {
	if registered := client.GetTokenEndpointAuthMethod(); registered != method {
		return oauth2.ErrInvalidClient.WithHintf("The OAuth 2.0 Client supports client authentication method '%s', but method '%s' was requested.", registered, method)
	}
	return nil
}
