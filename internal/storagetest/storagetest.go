// Package storagetest holds the behaviour every storage backend must share.
// Backend packages run it against their own store.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// Store is the full set of contracts a backend implements.
type Store interface {
	oauth2.ClientManager
	oauth2.AuthorizeCodeStorage
	oauth2.TokenRevocationStorage
	oauth2.OpenIDConnectRequestStorage
	oauth2.PKCERequestStorage
	oauth2.ClientAssertionJWTStorage
	clients.Repo
}

const concurrentCallers = 8

// Run exercises store. The store must be empty.
func Run(t *testing.T, store Store) {
	t.Helper()

	t.Run("clients", func(t *testing.T) { testClients(t, store) })
	t.Run("authorize code is invalidated once", func(t *testing.T) { testAuthorizeCode(t, store) })
	t.Run("refresh token is deleted once", func(t *testing.T) { testRefreshToken(t, store) })
	t.Run("revoke by request id", func(t *testing.T) { testRevoke(t, store) })
	t.Run("pkce and openid records", func(t *testing.T) { testCodeBoundRecords(t, store) })
	t.Run("client assertion replay", func(t *testing.T) { testAssertions(t, store) })
}

// Client returns a client registration the stored requests can refer to.
func Client(id string) *clients.Client {
	return &clients.Client{
		ID:           id,
		Type:         clients.ClientTypeConfidential,
		RedirectURIs: []string{"https://" + id + ".example.com/callback"},
		Scopes:       []string{"openid", "offline", "foo"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
	}
}

// Request returns a request whose session expires an hour from now.
func Request(client *clients.Client) *oauth2.Request {
	r := oauth2.NewRequest()
	r.Client = client
	r.SetRequestedScopes(oauth2.Arguments{"openid", "offline", "foo"})
	r.GrantScope("openid")
	r.GrantScope("offline")
	r.Form.Set("redirect_uri", client.RedirectURIs[0])

	session := oauth2.NewOpenIDSession("user-1")
	session.IDClaims.Nonce = "nonce-12345678"
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	for _, tt := range []oauth2.TokenType{oauth2.AuthorizeCode, oauth2.AccessToken, oauth2.RefreshToken} {
		session.SetExpiresAt(tt, exp)
	}
	r.Session = session
	return r
}

func registered(t *testing.T, store Store, id string) *clients.Client {
	t.Helper()
	client := Client(id)
	require.NoError(t, store.Upsert(context.Background(), client))
	return client
}

func requireSameRequest(t *testing.T, want, got *oauth2.Request) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.GetClientID(), got.GetClientID())
	require.ElementsMatch(t, want.RequestedScope, got.RequestedScope)
	require.ElementsMatch(t, want.GrantedScope, got.GrantedScope)
	require.Equal(t, want.Form.Get("redirect_uri"), got.Form.Get("redirect_uri"))
	require.True(t, want.RequestedAt.Equal(got.RequestedAt))

	require.NotNil(t, got.Session)
	require.Equal(t, want.Session.Kind(), got.Session.Kind())
	require.Equal(t, want.Session.GetSubject(), got.Session.GetSubject())
	require.True(t, want.Session.GetExpiresAt(oauth2.AccessToken).Equal(got.Session.GetExpiresAt(oauth2.AccessToken)))
	if session, ok := want.Session.(*oauth2.OpenIDSession); ok {
		gotSession, err := oauth2.AsOpenIDSession(got.Session)
		require.NoError(t, err)
		require.Equal(t, session.IDClaims.Nonce, gotSession.IDClaims.Nonce)
	}
}

// concurrently calls fn from several goroutines and returns how many succeeded
// and the errors of the rest.
func concurrently(fn func() error) (int32, []error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes atomic.Int32
		failures  []error
	)
	for range concurrentCallers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				return
			}
			successes.Add(1)
		}()
	}
	wg.Wait()
	return successes.Load(), failures
}

func testClients(t *testing.T, store Store) {
	ctx := context.Background()
	client := Client("client-crud")
	client.Description = "first"
	require.NoError(t, store.Upsert(ctx, client))

	got, err := store.GetClient(ctx, client.ID)
	require.NoError(t, err)
	require.Equal(t, "first", got.Description)
	require.Equal(t, client.RedirectURIs, got.RedirectURIs)

	client.Description = "second"
	require.NoError(t, store.Upsert(ctx, client))
	got, err = store.GetClient(ctx, client.ID)
	require.NoError(t, err)
	require.Equal(t, "second", got.Description)

	require.NoError(t, store.Delete(ctx, client.ID))
	require.ErrorIs(t, store.Delete(ctx, client.ID), oauth2.ErrNotFound)
	_, err = store.GetClient(ctx, client.ID)
	require.ErrorIs(t, err, oauth2.ErrNotFound)
}

func testAuthorizeCode(t *testing.T, store Store) {
	ctx := context.Background()
	r := Request(registered(t, store, "client-code"))
	require.NoError(t, store.CreateAuthorizeCodeSession(ctx, "code-sig", r))

	got, err := store.GetAuthorizeCodeSession(ctx, "code-sig", oauth2.NewOpenIDSession(""))
	require.NoError(t, err)
	requireSameRequest(t, r, got)

	successes, failures := concurrently(func() error {
		return store.InvalidateAuthorizeCodeSession(ctx, "code-sig")
	})
	require.EqualValues(t, 1, successes)
	for _, err := range failures {
		require.ErrorIs(t, err, oauth2.ErrInvalidatedAuthorizeCode)
	}

	got, err = store.GetAuthorizeCodeSession(ctx, "code-sig", oauth2.NewOpenIDSession(""))
	require.ErrorIs(t, err, oauth2.ErrInvalidatedAuthorizeCode)
	require.NotNil(t, got)
	require.Equal(t, r.ID, got.ID)

	_, err = store.GetAuthorizeCodeSession(ctx, "unknown", oauth2.NewOpenIDSession(""))
	require.ErrorIs(t, err, oauth2.ErrNotFound)
	require.ErrorIs(t, store.InvalidateAuthorizeCodeSession(ctx, "unknown"), oauth2.ErrNotFound)
}

func testRefreshToken(t *testing.T, store Store) {
	ctx := context.Background()
	r := Request(registered(t, store, "client-refresh"))
	require.NoError(t, store.CreateRefreshTokenSession(ctx, "refresh-sig", r))

	got, err := store.GetRefreshTokenSession(ctx, "refresh-sig", nil)
	require.NoError(t, err)
	requireSameRequest(t, r, got)

	successes, failures := concurrently(func() error {
		return store.DeleteRefreshTokenSession(ctx, "refresh-sig")
	})
	require.EqualValues(t, 1, successes)
	for _, err := range failures {
		require.ErrorIs(t, err, oauth2.ErrNotFound)
	}

	_, err = store.GetRefreshTokenSession(ctx, "refresh-sig", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)
}

func testRevoke(t *testing.T, store Store) {
	ctx := context.Background()
	client := registered(t, store, "client-revoke")
	r := Request(client)
	other := Request(client)

	require.NoError(t, store.CreateAccessTokenSession(ctx, "access-1", r))
	require.NoError(t, store.CreateAccessTokenSession(ctx, "access-2", r))
	require.NoError(t, store.CreateAccessTokenSession(ctx, "access-other", other))
	require.NoError(t, store.CreateRefreshTokenSession(ctx, "refresh-1", r))
	require.NoError(t, store.CreateRefreshTokenSession(ctx, "refresh-other", other))

	require.NoError(t, store.RevokeAccessToken(ctx, r.ID))
	require.NoError(t, store.RevokeRefreshToken(ctx, r.ID))

	for _, sig := range []string{"access-1", "access-2"} {
		_, err := store.GetAccessTokenSession(ctx, sig, nil)
		require.ErrorIs(t, err, oauth2.ErrNotFound, sig)
	}
	_, err := store.GetRefreshTokenSession(ctx, "refresh-1", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)

	got, err := store.GetAccessTokenSession(ctx, "access-other", nil)
	require.NoError(t, err)
	require.Equal(t, other.ID, got.ID)
	_, err = store.GetRefreshTokenSession(ctx, "refresh-other", nil)
	require.NoError(t, err)

	require.NoError(t, store.RevokeAccessToken(ctx, "unknown-request"))
	require.NoError(t, store.DeleteAccessTokenSession(ctx, "access-other"))
	require.ErrorIs(t, store.DeleteAccessTokenSession(ctx, "access-other"), oauth2.ErrNotFound)
}

func testCodeBoundRecords(t *testing.T, store Store) {
	ctx := context.Background()
	r := Request(registered(t, store, "client-bound"))
	r.Form.Set("code_challenge", "challenge")

	require.NoError(t, store.CreatePKCERequestSession(ctx, "bound-sig", r))
	require.NoError(t, store.CreateOpenIDConnectSession(ctx, "bound-sig", r))

	pkce, err := store.GetPKCERequestSession(ctx, "bound-sig", nil)
	require.NoError(t, err)
	require.Equal(t, "challenge", pkce.Form.Get("code_challenge"))

	oidc, err := store.GetOpenIDConnectSession(ctx, "bound-sig", nil)
	require.NoError(t, err)
	requireSameRequest(t, r, oidc)

	require.NoError(t, store.DeletePKCERequestSession(ctx, "bound-sig"))
	require.ErrorIs(t, store.DeletePKCERequestSession(ctx, "bound-sig"), oauth2.ErrNotFound)
	require.NoError(t, store.DeleteOpenIDConnectSession(ctx, "bound-sig"))
	require.ErrorIs(t, store.DeleteOpenIDConnectSession(ctx, "bound-sig"), oauth2.ErrNotFound)

	_, err = store.GetOpenIDConnectSession(ctx, "bound-sig", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)
}

func testAssertions(t *testing.T, store Store) {
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	require.NoError(t, store.ClientAssertionJWTValid(ctx, "jti-1"))
	require.NoError(t, store.SetClientAssertionJWT(ctx, "jti-1", exp))
	require.ErrorIs(t, store.ClientAssertionJWTValid(ctx, "jti-1"), oauth2.ErrJTIKnown)
	require.ErrorIs(t, store.SetClientAssertionJWT(ctx, "jti-1", exp), oauth2.ErrJTIKnown)

	successes, failures := concurrently(func() error {
		return store.SetClientAssertionJWT(ctx, "jti-2", exp)
	})
	require.EqualValues(t, 1, successes)
	for _, err := range failures {
		require.ErrorIs(t, err, oauth2.ErrJTIKnown)
	}
}
