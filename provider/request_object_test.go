package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/internal/oauthtest"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

const objectState = "state-from-object"

type requestObjectFixture struct {
	*oauthtest.Fixture
	signer keys.Signer
}

func setupRequestObjectFixture(t *testing.T, requestURIs ...string) *requestObjectFixture {
	t.Helper()
	f := oauthtest.NewFixture(t)

	kp, err := keys.GenerateECDSAKeyPair("client-key")
	require.NoError(t, err)

	signed := &clients.Client{
		ID:                      "signed-app",
		Type:                    clients.ClientTypePublic,
		RedirectURIs:            []string{oauthtest.RedirectURI},
		Scopes:                  []string{"openid", "foo"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: clients.AuthMethodNone,
		RequestObjectSigningAlg: keys.ES256,
		JSONWebKeys:             &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{kp.ToJWK()}},
		RequestURIs:             requestURIs,
	}
	unsigned := &clients.Client{
		ID:                      "unsigned-app",
		Type:                    clients.ClientTypePublic,
		RedirectURIs:            []string{oauthtest.RedirectURI},
		Scopes:                  []string{"openid", "foo"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: clients.AuthMethodNone,
		RequestObjectSigningAlg: jwtlib.SigningMethodNone.Alg(),
	}
	require.NoError(t, f.Store.Upsert(t.Context(), signed))
	require.NoError(t, f.Store.Upsert(t.Context(), unsigned))

	return &requestObjectFixture{Fixture: f, signer: keys.NewKeyPairSigner(kp)}
}

func (f *requestObjectFixture) claims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"state": objectState,
		"nonce": oauthtest.Nonce,
		"scope": []any{"openid", "foo"},
		"exp":   f.Clock.Now().Add(time.Hour).Unix(),
	}
}

func (f *requestObjectFixture) sign(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := f.signer.Sign(context.Background(), claims, nil)
	require.NoError(t, err)
	return raw
}

func objectParams(clientID string) url.Values {
	return url.Values{
		"client_id":     {clientID},
		"response_type": {"code"},
		"redirect_uri":  {oauthtest.RedirectURI},
		"scope":         {"openid"},
		"state":         {"state-from-query"},
	}
}

func TestRequestObjectByValue(t *testing.T) {
	f := setupRequestObjectFixture(t)

	t.Run("signed claims override the query", func(t *testing.T) {
		params := objectParams("signed-app")
		params.Set("request", f.sign(t, f.claims()))

		ar, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.NoError(t, err)
		require.Equal(t, objectState, ar.State)
		require.Equal(t, oauthtest.Nonce, ar.Nonce)
		require.True(t, ar.RequestedScope.Matches("openid", "foo"))
		require.Empty(t, ar.Form.Get("request"))
	})

	t.Run("signature from another key is rejected", func(t *testing.T) {
		params := objectParams("signed-app")
		raw, err := oauthtest.Signer(t).Sign(context.Background(), f.claims(), nil)
		require.NoError(t, err)
		params.Set("request", raw)

		_, err = f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequestObject)
	})

	t.Run("expired object is rejected", func(t *testing.T) {
		claims := f.claims()
		claims["exp"] = f.Clock.Now().Add(-time.Minute).Unix()
		params := objectParams("signed-app")
		params.Set("request", f.sign(t, claims))

		_, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequestObject)
	})

	t.Run("client_id mismatch is rejected", func(t *testing.T) {
		claims := f.claims()
		claims["client_id"] = oauthtest.ClientID
		params := objectParams("signed-app")
		params.Set("request", f.sign(t, claims))

		_, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequestObject)
	})

	t.Run("ignored without the openid scope", func(t *testing.T) {
		params := objectParams("signed-app")
		params.Set("scope", "foo")
		params.Set("request", "not-even-a-jwt")

		ar, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.NoError(t, err)
		require.Equal(t, "state-from-query", ar.State)
	})

	t.Run("both request and request_uri", func(t *testing.T) {
		params := objectParams("signed-app")
		params.Set("request", f.sign(t, f.claims()))
		params.Set("request_uri", "https://app.example.com/request.jwt")

		_, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	})
}

func TestUnsignedRequestObject(t *testing.T) {
	f := setupRequestObjectFixture(t)
	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, f.claims()).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	t.Run("accepted from a client registered with none", func(t *testing.T) {
		params := objectParams("unsigned-app")
		params.Set("request", unsigned)

		ar, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.NoError(t, err)
		require.Equal(t, objectState, ar.State)
	})

	t.Run("rejected from a client expecting signatures", func(t *testing.T) {
		params := objectParams("signed-app")
		params.Set("request", unsigned)

		_, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequestObject)
	})

	t.Run("signed object from a client registered with none", func(t *testing.T) {
		params := objectParams("unsigned-app")
		params.Set("request", f.sign(t, f.claims()))

		_, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequestObject)
	})
}

func TestRequestObjectByReference(t *testing.T) {
	var object string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/request.jwt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/oauth-authz-req+jwt")
		_, _ = w.Write([]byte(object))
	}))
	t.Cleanup(srv.Close)

	registered := srv.URL + "/request.jwt"
	missing := srv.URL + "/missing.jwt"
	f := setupRequestObjectFixture(t, registered, missing)
	object = f.sign(t, f.claims())

	t.Run("registered uri is fetched", func(t *testing.T) {
		params := objectParams("signed-app")
		params.Set("request_uri", registered)

		ar, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.NoError(t, err)
		require.Equal(t, objectState, ar.State)
		require.Empty(t, ar.Form.Get("request_uri"))
	})

	t.Run("unregistered uri is rejected", func(t *testing.T) {
		params := objectParams("signed-app")
		params.Set("request_uri", srv.URL+"/other.jwt")

		_, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequestURI)
	})

	t.Run("error status is rejected", func(t *testing.T) {
		params := objectParams("signed-app")
		params.Set("request_uri", missing)

		_, err := f.Provider.NewAuthorizeRequest(context.Background(), oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequestURI)
	})
}
