package clientauth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ Authenticator = (*None)(nil)

// None identifies public clients by client_id alone.
type None struct {
	clients oauth2.ClientManager
}

// NewNone creates the public client authenticator.
func NewNone(manager oauth2.ClientManager) *None {
	return &None{clients: manager}
}

func (n *None) Supports(_ *http.Request, form url.Values) bool {
	return form.Get("client_id") != ""
}

func (n *None) Authenticate(ctx context.Context, _ *http.Request, form url.Values) (*clients.Client, error) {
	client, err := lookupClient(ctx, n.clients, form.Get("client_id"))
	if err != nil {
		return nil, err
	}
	if !client.IsPublic() {
		return nil, oauth2.ErrInvalidClient.WithHint("The OAuth 2.0 Client is confidential and must authenticate.")
	}
	if err := requireMethod(client, clients.AuthMethodNone); err != nil {
		return nil, err
	}
	return client, nil
}
