// Package redis implements the storage contracts on Redis. Records expire with
// the tokens they back; single-use guarantees rely on SETNX and GETDEL.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/storage"
)

var (
	_ oauth2.ClientManager               = (*Store)(nil)
	_ oauth2.AuthorizeCodeStorage        = (*Store)(nil)
	_ oauth2.TokenRevocationStorage      = (*Store)(nil)
	_ oauth2.OpenIDConnectRequestStorage = (*Store)(nil)
	_ oauth2.PKCERequestStorage          = (*Store)(nil)
	_ oauth2.ClientAssertionJWTStorage   = (*Store)(nil)
	_ clients.Repo                       = (*Store)(nil)
)

// Key kinds.
const (
	kindClient           = "client"
	kindCode             = "code"
	kindCodeInvalidated  = "code_invalidated"
	kindAccess           = "access"
	kindRefresh          = "refresh"
	kindPKCE             = "pkce"
	kindOpenID           = "oidc"
	kindAssertion        = "jti"
	kindRequestAccesses  = "request_access"
	kindRequestRefreshes = "request_refresh"
)

// minTTL keeps records with an already elapsed expiry long enough to be read
// back and rejected as expired rather than as unknown.
const minTTL = time.Second

// Store is the Redis storage backend.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNowTime sets the clock used to derive TTLs.
func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on an existing client. Keys are namespaced by prefix.
func New(client goredis.UniversalClient, prefix string, options ...Option) *Store {
	s := &Store{client: client, prefix: prefix, now: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Open connects to the Redis server at url and verifies the connection.
func Open(ctx context.Context, url, prefix string, options ...Option) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis url")
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return New(client, prefix, options...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, id)
}

func (s *Store) ttl(r *oauth2.Request, tokenType oauth2.TokenType, fallback time.Duration) time.Duration {
	now := s.now()
	ttl := storage.ExpiresAt(r, tokenType, fallback, now).Sub(now)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// Clients

func (s *Store) GetClient(ctx context.Context, id string) (*clients.Client, error) {
	data, err := s.client.Get(ctx, s.key(kindClient, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, oauth2.ErrNotFound.WithHint("Client not found.")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get client")
	}
	var client clients.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal client")
	}
	return &client, nil
}

func (s *Store) Upsert(ctx context.Context, client *clients.Client) error {
	data, err := json.Marshal(client)
	if err != nil {
		return errors.Wrap(err, "failed to marshal client")
	}
	return errors.Wrap(s.client.Set(ctx, s.key(kindClient, client.ID), data, 0).Err(), "failed to store client")
}

func (s *Store) Delete(ctx context.Context, clientID string) error {
	n, err := s.client.Del(ctx, s.key(kindClient, clientID)).Result()
	if err != nil {
		return errors.Wrap(err, "failed to delete client")
	}
	if n == 0 {
		return oauth2.ErrNotFound.WithHint("Client not found.")
	}
	return nil
}

// Authorization codes

func (s *Store) CreateAuthorizeCodeSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.set(ctx, kindCode, signature, r, s.ttl(r, oauth2.AuthorizeCode, storage.DefaultAuthorizeCodeTTL))
}

func (s *Store) GetAuthorizeCodeSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	r, err := s.get(ctx, kindCode, signature)
	if err != nil {
		return nil, err
	}
	invalidated, err := s.client.Exists(ctx, s.key(kindCodeInvalidated, signature)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to check authorization code invalidation")
	}
	if invalidated > 0 {
		return r, oauth2.ErrInvalidatedAuthorizeCode
	}
	return r, nil
}

// InvalidateAuthorizeCodeSession marks the code used with SETNX, so exactly one
// of several concurrent callers succeeds.
func (s *Store) InvalidateAuthorizeCodeSession(ctx context.Context, signature string) error {
	codeKey := s.key(kindCode, signature)
	ttl, err := s.client.PTTL(ctx, codeKey).Result()
	if err != nil {
		return errors.Wrap(err, "failed to read authorization code ttl")
	}
	// PTTL reports -2 for missing keys and -1 for keys without expiry.
	switch {
	case ttl == -2:
		return oauth2.ErrNotFound.WithHint("Authorization code not found.")
	case ttl <= 0:
		ttl = storage.DefaultAuthorizeCodeTTL
	}

	ok, err := s.client.SetNX(ctx, s.key(kindCodeInvalidated, signature), "1", ttl).Result()
	if err != nil {
		return errors.Wrap(err, "failed to invalidate authorization code")
	}
	if !ok {
		return oauth2.ErrInvalidatedAuthorizeCode
	}
	return nil
}

// Access tokens

func (s *Store) CreateAccessTokenSession(ctx context.Context, signature string, r *oauth2.Request) error {
	ttl := s.ttl(r, oauth2.AccessToken, storage.DefaultAccessTokenTTL)
	return s.setIndexed(ctx, kindAccess, kindRequestAccesses, signature, r, ttl)
}

func (s *Store) GetAccessTokenSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(ctx, kindAccess, signature)
}

func (s *Store) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	return s.getDelIndexed(ctx, kindAccess, kindRequestAccesses, signature)
}

// Refresh tokens

func (s *Store) CreateRefreshTokenSession(ctx context.Context, signature string, r *oauth2.Request) error {
	ttl := s.ttl(r, oauth2.RefreshToken, storage.DefaultRefreshTokenTTL)
	return s.setIndexed(ctx, kindRefresh, kindRequestRefreshes, signature, r, ttl)
}

func (s *Store) GetRefreshTokenSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(ctx, kindRefresh, signature)
}

// DeleteRefreshTokenSession uses GETDEL so exactly one concurrent caller succeeds.
func (s *Store) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	return s.getDelIndexed(ctx, kindRefresh, kindRequestRefreshes, signature)
}

// Revocation

func (s *Store) RevokeAccessToken(ctx context.Context, requestID string) error {
	return s.revoke(ctx, kindAccess, kindRequestAccesses, requestID)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, requestID string) error {
	return s.revoke(ctx, kindRefresh, kindRequestRefreshes, requestID)
}

// OpenID Connect

func (s *Store) CreateOpenIDConnectSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.set(ctx, kindOpenID, signature, r, s.ttl(r, oauth2.AuthorizeCode, storage.DefaultAuthorizeCodeTTL))
}

func (s *Store) GetOpenIDConnectSession(ctx context.Context, signature string, _ *oauth2.Request) (*oauth2.Request, error) {
	return s.get(ctx, kindOpenID, signature)
}

func (s *Store) DeleteOpenIDConnectSession(ctx context.Context, signature string) error {
	return s.del(ctx, kindOpenID, signature)
}

// PKCE

func (s *Store) CreatePKCERequestSession(ctx context.Context, signature string, r *oauth2.Request) error {
	return s.set(ctx, kindPKCE, signature, r, s.ttl(r, oauth2.AuthorizeCode, storage.DefaultAuthorizeCodeTTL))
}

func (s *Store) GetPKCERequestSession(ctx context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(ctx, kindPKCE, signature)
}

func (s *Store) DeletePKCERequestSession(ctx context.Context, signature string) error {
	return s.del(ctx, kindPKCE, signature)
}

// Client assertions

func (s *Store) ClientAssertionJWTValid(ctx context.Context, jti string) error {
	n, err := s.client.Exists(ctx, s.key(kindAssertion, jti)).Result()
	if err != nil {
		return errors.Wrap(err, "failed to check client assertion")
	}
	if n > 0 {
		return oauth2.ErrJTIKnown
	}
	return nil
}

func (s *Store) SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error {
	ttl := exp.Sub(s.now())
	if ttl < minTTL {
		ttl = minTTL
	}
	ok, err := s.client.SetNX(ctx, s.key(kindAssertion, jti), "1", ttl).Result()
	if err != nil {
		return errors.Wrap(err, "failed to store client assertion")
	}
	if !ok {
		return oauth2.ErrJTIKnown
	}
	return nil
}

func (s *Store) set(ctx context.Context, kind, signature string, r *oauth2.Request, ttl time.Duration) error {
	data, err := storage.Marshal(r)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.client.Set(ctx, s.key(kind, signature), data, ttl).Err(), "failed to store %s", kind)
}

func (s *Store) get(ctx context.Context, kind, signature string) (*oauth2.Request, error) {
	data, err := s.client.Get(ctx, s.key(kind, signature)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, oauth2.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", kind)
	}
	return storage.Unmarshal(ctx, data, s)
}

func (s *Store) del(ctx context.Context, kind, signature string) error {
	n, err := s.client.Del(ctx, s.key(kind, signature)).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s", kind)
	}
	if n == 0 {
		return oauth2.ErrNotFound
	}
	return nil
}

// setIndexed stores the record and adds its signature to the set of its
// request id. A failed index update removes the record again.
func (s *Store) setIndexed(ctx context.Context, kind, indexKind, signature string, r *oauth2.Request, ttl time.Duration) error {
	if err := s.set(ctx, kind, signature, r, ttl); err != nil {
		return err
	}

	indexKey := s.key(indexKind, r.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, indexKey, signature)
		pipe.Expire(ctx, indexKey, ttl)
		return nil
	})
	if err != nil {
		_ = s.client.Del(ctx, s.key(kind, signature)).Err()
		return errors.Wrapf(err, "failed to index %s", kind)
	}
	return nil
}

func (s *Store) getDelIndexed(ctx context.Context, kind, indexKind, signature string) error {
	data, err := s.client.GetDel(ctx, s.key(kind, signature)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return oauth2.ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s", kind)
	}

	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err == nil && rec.ID != "" {
		_ = s.client.SRem(ctx, s.key(indexKind, rec.ID), signature).Err()
	}
	return nil
}

func (s *Store) revoke(ctx context.Context, kind, indexKind, requestID string) error {
	indexKey := s.key(indexKind, requestID)
	signatures, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return errors.Wrapf(err, "failed to list %s signatures", kind)
	}

	keys := make([]string, 0, len(signatures)+1)
	for _, sig := range signatures {
		keys = append(keys, s.key(kind, sig))
	}
	keys = append(keys, indexKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrapf(err, "failed to revoke %s", kind)
	}

	log.Debug().Str("request_id", requestID).Int("count", len(signatures)).Str("kind", kind).Msg("revoked tokens")
	return nil
}
