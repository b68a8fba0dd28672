package jwks_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/jwks"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

func sign(t *testing.T, pair *keys.KeyPair, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(pair.GetSigningMethod(), claims)
	token.Header["kid"] = pair.KeyID
	raw, err := token.SignedString(pair.PrivateKey)
	require.NoError(t, err)
	return raw
}

func TestVerifyInlineKeys(t *testing.T) {
	pair, err := keys.GenerateRSAKeyPair("inline", 2048)
	require.NoError(t, err)
	client := &clients.Client{ID: "foo", JSONWebKeys: &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{pair.ToJWK()}}}
	resolver := jwks.NewResolver(http.DefaultClient)

	claims, err := resolver.Verify(context.Background(), client, sign(t, pair, jwtlib.MapClaims{"iss": "foo"}), keys.RS256)
	require.NoError(t, err)
	require.Equal(t, "foo", claims["iss"])

	_, err = resolver.Verify(context.Background(), client, sign(t, pair, jwtlib.MapClaims{}), keys.ES256)
	require.ErrorIs(t, err, jwks.ErrAlgorithmMismatch)

	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = resolver.Verify(context.Background(), client, unsigned, "none")
	require.ErrorIs(t, err, jwks.ErrAlgorithmMismatch)

	other, err := keys.GenerateRSAKeyPair("other", 2048)
	require.NoError(t, err)
	_, err = resolver.Verify(context.Background(), client, sign(t, other, jwtlib.MapClaims{}), keys.RS256)
	require.Error(t, err)
}

func TestVerifyRemoteKeys(t *testing.T) {
	pair, err := keys.GenerateECDSAKeyPair("remote")
	require.NoError(t, err)

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keys.NewKeyPairSigner(pair).JWKS())
	}))
	t.Cleanup(srv.Close)

	resolver := jwks.NewResolver(srv.Client())
	client := &clients.Client{ID: "foo", JSONWebKeysURI: srv.URL + "/jwks.json"}

	for range 3 {
		_, err := resolver.Verify(context.Background(), client, sign(t, pair, jwtlib.MapClaims{"iss": "foo"}), keys.ES256)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, fetches.Load())

	first, err := resolver.KeySet(client)
	require.NoError(t, err)
	second, err := resolver.KeySet(client)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestNoKeys(t *testing.T) {
	resolver := jwks.NewResolver(http.DefaultClient)
	_, err := resolver.KeySet(&clients.Client{ID: "foo"})
	require.ErrorIs(t, err, jwks.ErrNoKeys)

	_, err = resolver.KeySet(&clients.Client{ID: "foo", JSONWebKeys: &jose.JSONWebKeySet{}})
	require.ErrorIs(t, err, jwks.ErrNoKeys)
}
