package clientauth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-oauth-engine/clientauth"
	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/jwks"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/storage/memory"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

type fixture struct {
	now    time.Time
	config *config.Config
	store  *memory.Store
	key    *keys.KeyPair
	chain  clientauth.Chain
}

func setupTestFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.config = config.Default(strings.Repeat("s", 32))
	f.config.Clock = func() time.Time { return f.now }
	f.store = memory.New(memory.WithNowTime(f.config.Now))

	var err error
	f.key, err = keys.GenerateECDSAKeyPair("client-key")
	require.NoError(t, err)

	hasher := &clients.BCrypt{Cost: bcrypt.MinCost}
	hash, err := hasher.Hash(ctx, []byte("foobar"))
	require.NoError(t, err)

	for _, c := range []*clients.Client{
		{ID: "basic-client", Type: clients.ClientTypeConfidential, HashedSecret: hash},
		{ID: "post-client", Type: clients.ClientTypeConfidential, HashedSecret: hash, TokenEndpointAuthMethod: clients.AuthMethodClientSecretPost},
		{ID: "public-app", Type: clients.ClientTypePublic},
		{
			ID:                          "jwt-client",
			Type:                        clients.ClientTypeConfidential,
			TokenEndpointAuthMethod:     clients.AuthMethodPrivateKeyJWT,
			TokenEndpointAuthSigningAlg: keys.ES256,
			JSONWebKeys:                 &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{f.key.ToJWK()}},
		},
	} {
		require.NoError(t, f.store.Upsert(ctx, c))
	}

	f.chain = clientauth.Chain{
		clientauth.NewBasic(f.store, hasher),
		clientauth.NewPost(f.store, hasher),
		clientauth.NewPrivateKeyJWT(f.store, jwks.NewResolver(http.DefaultClient), f.store, f.config),
		clientauth.NewNone(f.store),
	}
	return f
}

func (f *fixture) authenticate(form url.Values, configure ...func(r *http.Request)) (*clients.Client, error) {
	r := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range configure {
		c(r)
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return f.chain.Authenticate(context.Background(), r, r.PostForm)
}

func (f *fixture) assertion(t *testing.T, mutate func(claims jwtlib.MapClaims)) string {
	t.Helper()
	claims := jwtlib.MapClaims{
		"iss": "jwt-client",
		"sub": "jwt-client",
		"aud": f.config.GetTokenURL(),
		"jti": "assertion-1",
		"iat": f.now.Unix(),
		"exp": f.now.Add(5 * time.Minute).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodES256, claims).SignedString(f.key.PrivateKey)
	require.NoError(t, err)
	return raw
}

func basicAuth(id, secret string) func(r *http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(id, secret) }
}

func TestSecretAuthentication(t *testing.T) {
	f := setupTestFixture(t)

	client, err := f.authenticate(url.Values{}, basicAuth("basic-client", "foobar"))
	require.NoError(t, err)
	require.Equal(t, "basic-client", client.ID)

	_, err = f.authenticate(url.Values{}, basicAuth("basic-client", "wrong"))
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)

	_, err = f.authenticate(url.Values{}, basicAuth("unknown", "foobar"))
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)

	// A client registered for client_secret_post cannot use basic.
	_, err = f.authenticate(url.Values{}, basicAuth("post-client", "foobar"))
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)

	client, err = f.authenticate(url.Values{"client_id": {"post-client"}, "client_secret": {"foobar"}})
	require.NoError(t, err)
	require.Equal(t, "post-client", client.ID)

	// The basic header wins over form credentials, and a failure is not retried.
	_, err = f.authenticate(url.Values{"client_id": {"post-client"}, "client_secret": {"foobar"}}, basicAuth("basic-client", "wrong"))
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)
}

func TestBasicCredentialsAreFormDecoded(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	hasher := &clients.BCrypt{Cost: bcrypt.MinCost}
	hash, err := hasher.Hash(ctx, []byte("p@ss word"))
	require.NoError(t, err)
	require.NoError(t, f.store.Upsert(ctx, &clients.Client{ID: "my client", Type: clients.ClientTypeConfidential, HashedSecret: hash}))

	client, err := f.authenticate(url.Values{}, basicAuth(url.QueryEscape("my client"), url.QueryEscape("p@ss word")))
	require.NoError(t, err)
	require.Equal(t, "my client", client.ID)

	_, err = f.authenticate(url.Values{}, basicAuth("%zz", "secret"))
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)
}

func TestPublicClients(t *testing.T) {
	f := setupTestFixture(t)

	client, err := f.authenticate(url.Values{"client_id": {"public-app"}})
	require.NoError(t, err)
	require.True(t, client.IsPublic())

	_, err = f.authenticate(url.Values{"client_id": {"basic-client"}})
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)

	_, err = f.authenticate(url.Values{"client_id": {"public-app"}, "client_secret": {"guess"}})
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)

	_, err = f.authenticate(url.Values{})
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)
}

func TestPrivateKeyJWT(t *testing.T) {
	f := setupTestFixture(t)
	form := func(assertion string) url.Values {
		return url.Values{
			"client_assertion_type": {clientauth.AssertionType},
			"client_assertion":      {assertion},
		}
	}

	client, err := f.authenticate(form(f.assertion(t, nil)))
	require.NoError(t, err)
	require.Equal(t, "jwt-client", client.ID)

	_, err = f.authenticate(form(f.assertion(t, nil)))
	require.ErrorIs(t, err, oauth2.ErrJTIKnown)

	tests := []struct {
		name   string
		mutate func(claims jwtlib.MapClaims)
	}{
		{name: "wrong audience", mutate: func(c jwtlib.MapClaims) { c["aud"] = "https://elsewhere.example.com/token" }},
		{name: "subject is not the client", mutate: func(c jwtlib.MapClaims) { c["sub"] = "someone" }},
		{name: "expired", mutate: func(c jwtlib.MapClaims) { c["exp"] = f.now.Add(-time.Minute).Unix() }},
		{name: "no expiry", mutate: func(c jwtlib.MapClaims) { delete(c, "exp") }},
		{name: "no jti", mutate: func(c jwtlib.MapClaims) { delete(c, "jti") }},
		{name: "unknown issuer", mutate: func(c jwtlib.MapClaims) { c["iss"] = "unknown" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertion := f.assertion(t, func(c jwtlib.MapClaims) {
				c["jti"] = "assertion-" + tt.name
				tt.mutate(c)
			})
			_, err := f.authenticate(form(assertion))
			require.ErrorIs(t, err, oauth2.ErrInvalidClient)
		})
	}

	t.Run("signed by another key", func(t *testing.T) {
		other, err := keys.GenerateECDSAKeyPair("other")
		require.NoError(t, err)
		raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodES256, jwtlib.MapClaims{
			"iss": "jwt-client", "sub": "jwt-client", "aud": f.config.GetTokenURL(),
			"jti": "forged", "exp": f.now.Add(time.Minute).Unix(),
		}).SignedString(other.PrivateKey)
		require.NoError(t, err)
		_, err = f.authenticate(form(raw))
		require.ErrorIs(t, err, oauth2.ErrInvalidClient)
	})

	t.Run("client without the method", func(t *testing.T) {
		assertion := f.assertion(t, func(c jwtlib.MapClaims) { c["jti"] = "basic" })
		values := form(assertion)
		values.Set("client_id", "basic-client")
		_, err := f.authenticate(values)
		require.ErrorIs(t, err, oauth2.ErrInvalidClient)
	})
}

type stubIntrospector struct {
	request *oauth2.Request
	err     error
}

func (s stubIntrospector) IntrospectToken(context.Context, string, oauth2.TokenType, ...string) (oauth2.TokenType, *oauth2.Request, error) {
	return oauth2.AccessToken, s.request, s.err
}

func TestBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/oauth2/introspect", nil)
	require.Empty(t, clientauth.BearerToken(r))
	r.Header.Set("Authorization", "bearer  some-token ")
	require.Equal(t, "some-token", clientauth.BearerToken(r))

	issued := oauth2.NewRequest()
	issued.Client = &clients.Client{ID: "resource-server"}
	bearer := clientauth.NewBearer(stubIntrospector{request: issued})
	require.True(t, bearer.Supports(r, nil))
	client, err := bearer.Authenticate(context.Background(), r, nil)
	require.NoError(t, err)
	require.Equal(t, "resource-server", client.ID)

	inactive := clientauth.NewBearer(stubIntrospector{err: errors.New("expired")})
	_, err = inactive.Authenticate(context.Background(), r, nil)
	require.ErrorIs(t, err, oauth2.ErrInvalidClient)
}
