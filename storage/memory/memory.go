// Package memory implements every storage contract of the engine with maps
// guarded by a single mutex. It suits tests and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
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

type authorizeCode struct {
	request *oauth2.Request
	active  bool
}

// Store keeps requests keyed by token signature. Requests are cloned on the way
// in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	clients        map[string]*clients.Client
	authorizeCodes map[string]*authorizeCode
	accessTokens   map[string]*oauth2.Request
	refreshTokens  map[string]*oauth2.Request
	pkce           map[string]*oauth2.Request
	openID         map[string]*oauth2.Request
	assertions     map[string]time.Time

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNowTime sets the clock used for assertion expiry.
func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty store.
func New(options ...Option) *Store {
	s := &Store{
		clients:        map[string]*clients.Client{},
		authorizeCodes: map[string]*authorizeCode{},
		accessTokens:   map[string]*oauth2.Request{},
		refreshTokens:  map[string]*oauth2.Request{},
		pkce:           map[string]*oauth2.Request{},
		openID:         map[string]*oauth2.Request{},
		assertions:     map[string]time.Time{},
		now:            time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Clients

func (s *Store) GetClient(_ context.Context, id string) (*clients.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, oauth2.ErrNotFound.WithHint("Client not found.")
	}
	clone := *c
	return &clone, nil
}

func (s *Store) Upsert(_ context.Context, client *clients.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *client
	s.clients[client.ID] = &clone
	return nil
}

func (s *Store) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return oauth2.ErrNotFound.WithHint("Client not found.")
	}
	delete(s.clients, clientID)
	return nil
}

// Authorization codes

func (s *Store) CreateAuthorizeCodeSession(_ context.Context, signature string, r *oauth2.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizeCodes[signature] = &authorizeCode{request: r.Clone(), active: true}
	return nil
}

func (s *Store) GetAuthorizeCodeSession(_ context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.authorizeCodes[signature]
	if !ok {
		return nil, oauth2.ErrNotFound.WithHint("Authorization code not found.")
	}
	if !code.active {
		return code.request.Clone(), oauth2.ErrInvalidatedAuthorizeCode
	}
	return code.request.Clone(), nil
}

func (s *Store) InvalidateAuthorizeCodeSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.authorizeCodes[signature]
	if !ok {
		return oauth2.ErrNotFound.WithHint("Authorization code not found.")
	}
	if !code.active {
		return oauth2.ErrInvalidatedAuthorizeCode
	}
	code.active = false
	return nil
}

// Access tokens

func (s *Store) CreateAccessTokenSession(_ context.Context, signature string, r *oauth2.Request) error {
	return s.create(s.accessTokens, signature, r)
}

func (s *Store) GetAccessTokenSession(_ context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(s.accessTokens, signature)
}

func (s *Store) DeleteAccessTokenSession(_ context.Context, signature string) error {
	return s.remove(s.accessTokens, signature)
}

// Refresh tokens

func (s *Store) CreateRefreshTokenSession(_ context.Context, signature string, r *oauth2.Request) error {
	return s.create(s.refreshTokens, signature, r)
}

func (s *Store) GetRefreshTokenSession(_ context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(s.refreshTokens, signature)
}

func (s *Store) DeleteRefreshTokenSession(_ context.Context, signature string) error {
	return s.remove(s.refreshTokens, signature)
}

// Revocation

func (s *Store) RevokeAccessToken(_ context.Context, requestID string) error {
	s.revoke(s.accessTokens, requestID)
	return nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, requestID string) error {
	s.revoke(s.refreshTokens, requestID)
	return nil
}

// OpenID Connect

func (s *Store) CreateOpenIDConnectSession(_ context.Context, signature string, r *oauth2.Request) error {
	return s.create(s.openID, signature, r)
}

func (s *Store) GetOpenIDConnectSession(_ context.Context, signature string, _ *oauth2.Request) (*oauth2.Request, error) {
	return s.get(s.openID, signature)
}

func (s *Store) DeleteOpenIDConnectSession(_ context.Context, signature string) error {
	return s.remove(s.openID, signature)
}

// PKCE

func (s *Store) CreatePKCERequestSession(_ context.Context, signature string, r *oauth2.Request) error {
	return s.create(s.pkce, signature, r)
}

func (s *Store) GetPKCERequestSession(_ context.Context, signature string, _ oauth2.Session) (*oauth2.Request, error) {
	return s.get(s.pkce, signature)
}

func (s *Store) DeletePKCERequestSession(_ context.Context, signature string) error {
	return s.remove(s.pkce, signature)
}

// Client assertions

func (s *Store) ClientAssertionJWTValid(_ context.Context, jti string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if exp, ok := s.assertions[jti]; ok && exp.After(s.now()) {
		return oauth2.ErrJTIKnown
	}
	return nil
}

func (s *Store) SetClientAssertionJWT(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if known, ok := s.assertions[jti]; ok && known.After(s.now()) {
		return oauth2.ErrJTIKnown
	}
	s.assertions[jti] = exp
	return nil
}

// DeleteExpired removes every record whose session expired before now and
// returns how many were removed. Authorization codes, PKCE and OpenID Connect
// records expire with the code.
func (s *Store) DeleteExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sig, code := range s.authorizeCodes {
		if expired(code.request, oauth2.AuthorizeCode, now) {
			delete(s.authorizeCodes, sig)
			removed++
		}
	}
	removed += sweep(s.accessTokens, oauth2.AccessToken, now)
	removed += sweep(s.refreshTokens, oauth2.RefreshToken, now)
	removed += sweep(s.pkce, oauth2.AuthorizeCode, now)
	removed += sweep(s.openID, oauth2.AuthorizeCode, now)
	for jti, exp := range s.assertions {
		if !exp.After(now) {
			delete(s.assertions, jti)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("memory store swept expired records")
	}
	return removed
}

func (s *Store) create(m map[string]*oauth2.Request, signature string, r *oauth2.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[signature] = r.Clone()
	return nil
}

func (s *Store) get(m map[string]*oauth2.Request, signature string) (*oauth2.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := m[signature]
	if !ok {
		return nil, oauth2.ErrNotFound
	}
	return r.Clone(), nil
}

// remove succeeds at most once per signature.
func (s *Store) remove(m map[string]*oauth2.Request, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := m[signature]; !ok {
		return oauth2.ErrNotFound
	}
	delete(m, signature)
	return nil
}

func (s *Store) revoke(m map[string]*oauth2.Request, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sig, r := range m {
		if r.ID == requestID {
			delete(m, sig)
		}
	}
}

func sweep(m map[string]*oauth2.Request, tokenType oauth2.TokenType, now time.Time) int {
	removed := 0
	for sig, r := range m {
		if expired(r, tokenType, now) {
			delete(m, sig)
			removed++
		}
	}
	return removed
}

func expired(r *oauth2.Request, tokenType oauth2.TokenType, now time.Time) bool {
	if r.Session == nil {
		return false
	}
	exp := r.Session.GetExpiresAt(tokenType)
	return !exp.IsZero() && exp.Before(now)
}
