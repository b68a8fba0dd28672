package clientauth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var (
	_ Authenticator = (*Basic)(nil)
	_ Authenticator = (*Post)(nil)
)

// Basic implements client_secret_basic.
type Basic struct {
	clients oauth2.ClientManager
	hasher  clients.SecretHasher
}

// NewBasic creates the HTTP Basic authenticator.
func NewBasic(manager oauth2.ClientManager, hasher clients.SecretHasher) *Basic {
	return &Basic{clients: manager, hasher: hasher}
}

func (b *Basic) Supports(r *http.Request, _ url.Values) bool {
	_, _, ok := r.BasicAuth()
	return ok
}

func (b *Basic) Authenticate(ctx context.Context, r *http.Request, _ url.Values) (*clients.Client, error) {
	rawID, rawSecret, _ := r.BasicAuth()
	// RFC 6749 section 2.3.1: both parts are form-urlencoded.
	id, err := url.QueryUnescape(rawID)
	if err != nil {
		return nil, oauth2.ErrInvalidClient.WithHint("The client id in the HTTP authorization header could not be decoded.").WithCause(err)
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return nil, oauth2.ErrInvalidClient.WithHint("The client secret in the HTTP authorization header could not be decoded.").WithCause(err)
	}
	return checkSecret(ctx, b.clients, b.hasher, id, secret, clients.AuthMethodClientSecretBasic)
}

// Post implements client_secret_post.
type Post struct {
	clients oauth2.ClientManager
	hasher  clients.SecretHasher
}

// NewPost creates the form body secret authenticator.
func NewPost(manager oauth2.ClientManager, hasher clients.SecretHasher) *Post {
	return &Post{clients: manager, hasher: hasher}
}

func (p *Post) Supports(_ *http.Request, form url.Values) bool {
	return form.Get("client_id") != "" && form.Get("client_secret") != ""
}

func (p *Post) Authenticate(ctx context.Context, _ *http.Request, form url.Values) (*clients.Client, error) {
	return checkSecret(ctx, p.clients, p.hasher, form.Get("client_id"), form.Get("client_secret"), clients.AuthMethodClientSecretPost)
}

func checkSecret(ctx context.Context, manager oauth2.ClientManager, hasher clients.SecretHasher, id, secret, method string) (*clients.Client, error) {
	client, err := lookupClient(ctx, manager, id)
	if err != nil {
		return nil, err
	}
	if client.IsPublic() {
		return nil, oauth2.ErrInvalidClient.WithHint("The OAuth 2.0 Client is public and must not authenticate with a secret.")
	}
	if err := requireMethod(client, method); err != nil {
		return nil, err
	}
	if err := hasher.Compare(ctx, client.HashedSecret, []byte(secret)); err != nil {
		return nil, oauth2.ErrInvalidClient.WithHint("The provided client secret did not match.")
	}
	return client, nil
}
