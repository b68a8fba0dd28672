// Package storage holds what the persistent storage backends share: the
// serialized form of a request and expiry helpers.
package storage

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// Record is the serialized form of an oauth2.Request. The client is stored by
// id and resolved again when the record is decoded, so registration changes
// apply to outstanding tokens.
type Record struct {
	ID             string             `json:"id"`
	RequestedAt    time.Time          `json:"requested_at"`
	ClientID       string             `json:"client_id"`
	RequestedScope []string           `json:"requested_scope"`
	GrantedScope   []string           `json:"granted_scope"`
	Form           url.Values         `json:"form"`
	SessionKind    oauth2.SessionKind `json:"session_kind"`
	Session        json.RawMessage    `json:"session,omitempty"`
}

// Marshal encodes r.
func Marshal(r *oauth2.Request) ([]byte, error) {
	if r == nil {
		return nil, errors.New("request cannot be nil")
	}
	rec := Record{
		ID:             r.ID,
		RequestedAt:    r.RequestedAt,
		ClientID:       r.GetClientID(),
		RequestedScope: r.RequestedScope,
		GrantedScope:   r.GrantedScope,
		Form:           r.Form,
	}
	if r.Session != nil {
		session, err := json.Marshal(r.Session)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal session")
		}
		rec.SessionKind = r.Session.Kind()
		rec.Session = session
	}
	return json.Marshal(rec)
}

// Unmarshal decodes data and resolves its client through manager.
func Unmarshal(ctx context.Context, data []byte, manager oauth2.ClientManager) (*oauth2.Request, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal request")
	}

	r := &oauth2.Request{
		ID:             rec.ID,
		RequestedAt:    rec.RequestedAt,
		RequestedScope: oauth2.Arguments(rec.RequestedScope),
		GrantedScope:   oauth2.Arguments(rec.GrantedScope),
		Form:           rec.Form,
	}
	if r.Form == nil {
		r.Form = url.Values{}
	}

	if len(rec.Session) > 0 {
		session, err := oauth2.NewSession(rec.SessionKind)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rec.Session, session); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal session")
		}
		r.Session = session
	}

	if rec.ClientID != "" {
		client, err := manager.GetClient(ctx, rec.ClientID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve client %s", rec.ClientID)
		}
		r.Client = client
	}
	return r, nil
}

// ExpiresAt returns the expiry r's session records for tokenType, or
// now+fallback when the session records none.
func ExpiresAt(r *oauth2.Request, tokenType oauth2.TokenType, fallback time.Duration, now time.Time) time.Time {
	if r != nil && r.Session != nil {
		if exp := r.Session.GetExpiresAt(tokenType); !exp.IsZero() {
			return exp
		}
	}
	return now.Add(fallback)
}

// Default lifetimes of records whose session carries no expiry.
const (
	DefaultAuthorizeCodeTTL = 15 * time.Minute
	DefaultAccessTokenTTL   = time.Hour
	DefaultRefreshTokenTTL  = 30 * 24 * time.Hour
)
