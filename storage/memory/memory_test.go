package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/internal/storagetest"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/storage/memory"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, memory.New())
}

func TestStoredRequestsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	client := storagetest.Client("copy")
	require.NoError(t, store.Upsert(ctx, client))

	r := storagetest.Request(client)
	require.NoError(t, store.CreateAccessTokenSession(ctx, "sig", r))
	r.GrantedScope = append(r.GrantedScope, "foo")
	r.Session.SetSubject("someone-else")

	got, err := store.GetAccessTokenSession(ctx, "sig", nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"openid", "offline"}, got.GrantedScope)
	require.Equal(t, "user-1", got.Session.GetSubject())

	got.Form.Set("redirect_uri", "https://changed.example.com")
	again, err := store.GetAccessTokenSession(ctx, "sig", nil)
	require.NoError(t, err)
	require.Equal(t, "https://copy.example.com/callback", again.Form.Get("redirect_uri"))
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memory.New(memory.WithNowTime(func() time.Time { return now }))
	client := storagetest.Client("sweep")
	require.NoError(t, store.Upsert(ctx, client))

	r := storagetest.Request(client)
	require.NoError(t, store.CreateAuthorizeCodeSession(ctx, "code", r))
	require.NoError(t, store.CreatePKCERequestSession(ctx, "code", r))
	require.NoError(t, store.CreateOpenIDConnectSession(ctx, "code", r))
	require.NoError(t, store.CreateAccessTokenSession(ctx, "access", r))

	long := storagetest.Request(client)
	long.Session.SetExpiresAt(oauth2.RefreshToken, now.Add(30*24*time.Hour))
	require.NoError(t, store.CreateRefreshTokenSession(ctx, "refresh", long))
	require.NoError(t, store.SetClientAssertionJWT(ctx, "jti", now.Add(time.Minute)))

	require.Zero(t, store.DeleteExpired(now))

	// code, pkce, oidc, access token and assertion
	require.Equal(t, 5, store.DeleteExpired(now.Add(2*time.Hour)))

	_, err := store.GetAuthorizeCodeSession(ctx, "code", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)
	_, err = store.GetRefreshTokenSession(ctx, "refresh", nil)
	require.NoError(t, err)
	require.NoError(t, store.ClientAssertionJWTValid(ctx, "jti"))
}

func TestExpiredAssertionCanBeReused(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memory.New(memory.WithNowTime(func() time.Time { return now }))

	require.NoError(t, store.SetClientAssertionJWT(ctx, "jti", now.Add(time.Minute)))
	require.ErrorIs(t, store.SetClientAssertionJWT(ctx, "jti", now.Add(time.Minute)), oauth2.ErrJTIKnown)

	now = now.Add(2 * time.Minute)
	require.NoError(t, store.ClientAssertionJWTValid(ctx, "jti"))
	require.NoError(t, store.SetClientAssertionJWT(ctx, "jti", now.Add(time.Minute)))
}
