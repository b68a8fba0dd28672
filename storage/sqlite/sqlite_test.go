package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/internal/storagetest"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/storage/sqlite"
)

func setupTestFixture(t *testing.T, options ...sqlite.Option) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oauth.db")
	store, err := sqlite.Open(path, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestStoreContract(t *testing.T) {
	store, _ := setupTestFixture(t)
	storagetest.Run(t, store)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open("  ")
	require.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	store, path := setupTestFixture(t)
	client := storagetest.Client("reopen")
	require.NoError(t, store.Upsert(ctx, client))
	r := storagetest.Request(client)
	require.NoError(t, store.CreateAuthorizeCodeSession(ctx, "code", r))
	require.NoError(t, store.InvalidateAuthorizeCodeSession(ctx, "code"))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetAuthorizeCodeSession(ctx, "code", nil)
	require.ErrorIs(t, err, oauth2.ErrInvalidatedAuthorizeCode)
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, client.ID, got.GetClientID())
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store, _ := setupTestFixture(t, sqlite.WithNowTime(func() time.Time { return now }))
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

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.Zero(t, removed)

	removed, err = store.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 5, removed)

	_, err = store.GetRefreshTokenSession(ctx, "refresh", nil)
	require.NoError(t, err)
	_, err = store.GetAuthorizeCodeSession(ctx, "code", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)
}

func TestExpiredAssertionCanBeReused(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store, _ := setupTestFixture(t, sqlite.WithNowTime(func() time.Time { return now }))

	require.NoError(t, store.SetClientAssertionJWT(ctx, "jti", now.Add(time.Minute)))
	require.ErrorIs(t, store.ClientAssertionJWTValid(ctx, "jti"), oauth2.ErrJTIKnown)

	now = now.Add(2 * time.Minute)
	require.NoError(t, store.ClientAssertionJWTValid(ctx, "jti"))
	require.NoError(t, store.SetClientAssertionJWT(ctx, "jti", now.Add(time.Minute)))
}
