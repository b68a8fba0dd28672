// Package oauthtest holds fixtures shared by the engine's tests.
package oauthtest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/compose"
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/provider"
	"github.com/jrsteele09/go-oauth-engine/storage/memory"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
	"github.com/jrsteele09/go-oauth-engine/users"
	fakeuserrepo "github.com/jrsteele09/go-oauth-engine/users/repofake"
)

const (
	HMACSecret = "some-super-cool-secret-that-nobody-knows"

	ClientID       = "foo"
	ClientSecret   = "foobar"
	PublicClientID = "public-app"
	RedirectURI    = "https://foo.example.com/callback"

	Username = "peter"
	Password = "Secret123"
	UserID   = "user-peter"

	State = "state-12345678"
	Nonce = "nonce-12345678"
)

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Config returns the default configuration running on clock.
func Config(clock *Clock) *config.Config {
	cfg := config.Default(HMACSecret)
	cfg.Clock = clock.Now
	return cfg
}

var (
	signerOnce sync.Once
	signer     keys.Signer
	signerErr  error
)

// Signer returns an RS256 signer shared by every test in the binary.
func Signer(t *testing.T) keys.Signer {
	t.Helper()
	signerOnce.Do(func() {
		kp, err := keys.GenerateRSAKeyPair("", 2048)
		if err != nil {
			signerErr = err
			return
		}
		signer = keys.NewKeyPairSigner(kp)
	})
	require.NoError(t, signerErr)
	return signer
}

// ConfidentialClient returns the "foo" client, allowed every grant and response type.
func ConfidentialClient(t *testing.T) *clients.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(ClientSecret), bcrypt.MinCost)
	require.NoError(t, err)
	return &clients.Client{
		ID:           ClientID,
		Type:         clients.ClientTypeConfidential,
		HashedSecret: hash,
		RedirectURIs: []string{RedirectURI},
		Scopes:       []string{"openid", "offline", "offline_access", "foo", "bar", "profile"},
		GrantTypes: []string{
			"authorization_code", "refresh_token", "client_credentials", "password", "implicit",
		},
		ResponseTypes: []string{
			"code", "token", "id_token", "token id_token", "code id_token", "code token", "code token id_token",
		},
	}
}

// PublicClient returns a public client authenticating with "none".
func PublicClient() *clients.Client {
	return &clients.Client{
		ID:                      PublicClientID,
		Type:                    clients.ClientTypePublic,
		RedirectURIs:            []string{"http://127.0.0.1/callback", RedirectURI},
		Scopes:                  []string{"openid", "offline", "foo"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: clients.AuthMethodNone,
	}
}

// Users returns an authenticator knowing a single user, peter.
func Users(t *testing.T) *users.Authenticator {
	t.Helper()
	repo := fakeuserrepo.NewFakeUserRepo()
	user := &users.User{ID: UserID, Username: Username, Email: "peter@example.com"}
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	require.NoError(t, err)
	user.PasswordHash = string(hash)
	require.NoError(t, repo.Upsert(user))

	auth, err := users.NewAuthenticator(repo)
	require.NoError(t, err)
	return auth
}

// Fixture is a provider over a seeded memory store.
type Fixture struct {
	Clock    *Clock
	Config   *config.Config
	Store    *memory.Store
	Signer   keys.Signer
	Provider *provider.Provider
}

// NewFixture builds a provider with both test clients registered. configure
// may adjust the configuration before composition.
func NewFixture(t *testing.T, configure ...func(*config.Config)) *Fixture {
	t.Helper()
	clock := NewClock()
	cfg := Config(clock)
	for _, fn := range configure {
		fn(cfg)
	}

	store := memory.New(memory.WithNowTime(clock.Now))
	require.NoError(t, store.Upsert(t.Context(), ConfidentialClient(t)))
	require.NoError(t, store.Upsert(t.Context(), PublicClient()))

	s := Signer(t)
	p, err := compose.Compose(cfg, store, s, Users(t))
	require.NoError(t, err)

	return &Fixture{Clock: clock, Config: cfg, Store: store, Signer: s, Provider: p}
}

// AuthorizeRequest builds a GET to the authorization endpoint.
func AuthorizeRequest(params url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, "https://auth.example.com/oauth2/authorize?"+params.Encode(), nil)
}

// TokenRequest builds a form POST authenticated with HTTP Basic when clientID is set.
func TokenRequest(form url.Values, clientID, secret string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "https://auth.example.com/oauth2/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if clientID != "" {
		r.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(secret))
	}
	return r
}
