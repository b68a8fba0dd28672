package clients

import "context"

// Repo manages client registrations. Lookups go through oauth2.ClientManager.
type Repo interface {
	Upsert(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
}
