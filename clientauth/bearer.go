package clientauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ Authenticator = (*Bearer)(nil)

// Bearer authenticates callers presenting an access token, resolving the client
// the token was issued to. It serves the introspection endpoint, where resource
// servers authenticate with their own tokens.
type Bearer struct {
	introspector oauth2.TokenIntrospector
}

// NewBearer creates the bearer token authenticator.
func NewBearer(introspector oauth2.TokenIntrospector) *Bearer {
	return &Bearer{introspector: introspector}
}

func (b *Bearer) Supports(r *http.Request, _ url.Values) bool {
	return BearerToken(r) != ""
}

func (b *Bearer) Authenticate(ctx context.Context, r *http.Request, _ url.Values) (*clients.Client, error) {
	_, issued, err := b.introspector.IntrospectToken(ctx, BearerToken(r), oauth2.AccessToken)
	if err != nil {
		return nil, oauth2.ErrInvalidClient.WithHint("The bearer token used for authentication is not active.").WithCause(err)
	}
	if issued.Client == nil {
		return nil, oauth2.ErrInvalidClient.WithHint("The bearer token is not bound to a client.")
	}
	return issued.Client, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
