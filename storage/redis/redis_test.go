package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/internal/storagetest"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/storage/redis"
)

func setupTestFixture(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client, "oauth"), mr
}

func TestStoreContract(t *testing.T) {
	store, _ := setupTestFixture(t)
	storagetest.Run(t, store)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := redis.Open(context.Background(), "redis://"+mr.Addr()+"/0", "oauth")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = redis.Open(context.Background(), "not a url", "oauth")
	require.Error(t, err)
}

func TestRecordsExpireWithTheirToken(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestFixture(t)
	client := storagetest.Client("ttl")
	require.NoError(t, store.Upsert(ctx, client))

	r := storagetest.Request(client)
	require.NoError(t, store.CreateAccessTokenSession(ctx, "access", r))
	require.NoError(t, store.CreateAuthorizeCodeSession(ctx, "code", r))

	ttl := mr.TTL("oauth:access:access")
	require.Greater(t, ttl, 58*time.Minute)
	require.LessOrEqual(t, ttl, time.Hour)

	require.NoError(t, store.InvalidateAuthorizeCodeSession(ctx, "code"))
	require.Positive(t, mr.TTL("oauth:code_invalidated:code"))

	mr.FastForward(2 * time.Hour)

	_, err := store.GetAccessTokenSession(ctx, "access", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)
	_, err = store.GetAuthorizeCodeSession(ctx, "code", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)

	// The client registration does not expire.
	_, err = store.GetClient(ctx, client.ID)
	require.NoError(t, err)
}

func TestElapsedExpiryIsKeptBriefly(t *testing.T) {
	ctx := context.Background()
	store, mr := setupTestFixture(t)
	client := storagetest.Client("elapsed")
	require.NoError(t, store.Upsert(ctx, client))

	r := storagetest.Request(client)
	r.Session.SetExpiresAt(oauth2.AccessToken, time.Now().Add(-time.Minute))
	require.NoError(t, store.CreateAccessTokenSession(ctx, "access", r))
	require.Equal(t, time.Second, mr.TTL("oauth:access:access"))

	got, err := store.GetAccessTokenSession(ctx, "access", nil)
	require.NoError(t, err)
	require.True(t, got.Session.GetExpiresAt(oauth2.AccessToken).Before(time.Now()))
}

func TestDeletedClientFailsDecoding(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestFixture(t)
	client := storagetest.Client("gone")
	require.NoError(t, store.Upsert(ctx, client))
	require.NoError(t, store.CreateRefreshTokenSession(ctx, "refresh", storagetest.Request(client)))
	require.NoError(t, store.Delete(ctx, client.ID))

	_, err := store.GetRefreshTokenSession(ctx, "refresh", nil)
	require.ErrorIs(t, err, oauth2.ErrNotFound)
}
