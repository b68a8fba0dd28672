package provider_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	xoauth2 "golang.org/x/oauth2"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/internal/oauthtest"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/openid"
)

func verifier(t *testing.T, size int) string {
	t.Helper()
	b := make([]byte, size)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

func publicCodeParams(challenge string) url.Values {
	return url.Values{
		"client_id":             {oauthtest.PublicClientID},
		"response_type":         {"code"},
		"redirect_uri":          {oauthtest.RedirectURI},
		"state":                 {oauthtest.State},
		"scope":                 {"foo"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
}

func publicExchange(code, codeVerifier string) url.Values {
	form := codeExchange(code)
	form.Set("client_id", oauthtest.PublicClientID)
	form.Set("code_verifier", codeVerifier)
	return form
}

func TestPKCE(t *testing.T) {
	f := oauthtest.NewFixture(t)

	t.Run("s256 with a 55 character verifier", func(t *testing.T) {
		v := verifier(t, 41)
		require.Len(t, v, 55)
		code := issueCode(t, f, publicCodeParams(xoauth2.S256ChallengeFromVerifier(v)), oauth2.NewDefaultSession(oauthtest.UserID))

		tokens, err := exchange(t, f, oauthtest.TokenRequest(publicExchange(code, v), "", ""), oauth2.NewDefaultSession(""))
		require.NoError(t, err)
		require.NotEmpty(t, tokens.AccessToken)
	})

	t.Run("mismatching verifier", func(t *testing.T) {
		v := verifier(t, 41)
		code := issueCode(t, f, publicCodeParams(xoauth2.S256ChallengeFromVerifier(v)), oauth2.NewDefaultSession(oauthtest.UserID))

		_, err := exchange(t, f, oauthtest.TokenRequest(publicExchange(code, verifier(t, 41)), "", ""), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrPKCEChallengeMismatch)
	})

	t.Run("failed exchange keeps the code bound to its challenge", func(t *testing.T) {
		v := verifier(t, 41)
		params := codeParams("foo")
		params.Set("code_challenge", xoauth2.S256ChallengeFromVerifier(v))
		params.Set("code_challenge_method", "S256")
		code := issueCode(t, f, params, oauth2.NewDefaultSession(oauthtest.UserID))

		wrong := codeExchange(code)
		wrong.Set("code_verifier", verifier(t, 41))
		_, err := exchange(t, f, oauthtest.TokenRequest(wrong, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrPKCEChallengeMismatch)

		_, err = exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidGrant)

		right := codeExchange(code)
		right.Set("code_verifier", v)
		tokens, err := exchange(t, f, oauthtest.TokenRequest(right, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.NoError(t, err)
		require.NotEmpty(t, tokens.AccessToken)

		_, err = exchange(t, f, oauthtest.TokenRequest(right, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.Error(t, err)
	})

	t.Run("verifier with insufficient entropy", func(t *testing.T) {
		v := "abc"
		code := issueCode(t, f, publicCodeParams(xoauth2.S256ChallengeFromVerifier(v)), oauth2.NewDefaultSession(oauthtest.UserID))

		_, err := exchange(t, f, oauthtest.TokenRequest(publicExchange(code, v), "", ""), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrPKCEInsufficientEntropy)
	})

	t.Run("public clients must send a challenge", func(t *testing.T) {
		params := publicCodeParams("")
		params.Del("code_challenge")
		params.Del("code_challenge_method")
		_, _, err := authorize(t, f, params, oauth2.NewDefaultSession(oauthtest.UserID))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	})

	t.Run("plain is disabled by default", func(t *testing.T) {
		params := publicCodeParams(verifier(t, 32))
		params.Set("code_challenge_method", "plain")
		_, _, err := authorize(t, f, params, oauth2.NewDefaultSession(oauthtest.UserID))
		require.ErrorIs(t, err, oauth2.ErrPKCEMethodNotAllowed)
	})
}

func openIDSession(authTime time.Time) *oauth2.OpenIDSession {
	s := oauth2.NewOpenIDSession(oauthtest.UserID)
	s.IDClaims.AuthTime = authTime
	return s
}

func parseIDToken(t *testing.T, f *oauthtest.Fixture, raw string) jwtlib.MapClaims {
	t.Helper()
	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, f.Signer.GetVerificationKey, jwtlib.WithTimeFunc(f.Clock.Now))
	require.NoError(t, err)
	return claims
}

func TestOpenIDConnectCodeFlow(t *testing.T) {
	f := oauthtest.NewFixture(t)
	params := codeParams("openid offline")
	params.Set("nonce", oauthtest.Nonce)

	authTime := f.Clock.Now().Add(-time.Minute)
	alg := f.Signer.GetSigningMethod().Alg()

	code := issueCode(t, f, params, openIDSession(authTime))
	tokens, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewOpenIDSession(""))
	require.NoError(t, err)
	require.NotEmpty(t, tokens.IDToken)

	claims := parseIDToken(t, f, tokens.IDToken)
	require.Equal(t, oauthtest.UserID, claims["sub"])
	require.Equal(t, oauthtest.Nonce, claims["nonce"])
	require.Equal(t, f.Config.Issuer, claims["iss"])
	require.Equal(t, float64(authTime.Unix()), claims["auth_time"])
	require.Equal(t, openid.LeftMostHash(alg, tokens.AccessToken), claims["at_hash"])

	f.Clock.Advance(30 * time.Minute)
	refresh := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tokens.RefreshToken}}
	refreshed, err := exchange(t, f, oauthtest.TokenRequest(refresh, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewOpenIDSession(""))
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.IDToken)
	require.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)

	refreshedClaims := parseIDToken(t, f, refreshed.IDToken)
	require.Equal(t, oauthtest.UserID, refreshedClaims["sub"])
	require.NotContains(t, refreshedClaims, "nonce")
	require.NotContains(t, refreshedClaims, "auth_time")
	require.Equal(t, openid.LeftMostHash(alg, refreshed.AccessToken), refreshedClaims["at_hash"])
}

func TestOpenIDPromptNoneRejectsFreshLogin(t *testing.T) {
	f := oauthtest.NewFixture(t)
	params := codeParams("openid")
	params.Set("nonce", oauthtest.Nonce)
	params.Set("prompt", "none")

	// The user signed in after the request arrived, which prompt=none forbids.
	_, resp, err := authorize(t, f, params, openIDSession(f.Clock.Now().Add(time.Second)))
	require.ErrorIs(t, err, oauth2.ErrLoginRequired)
	require.Nil(t, resp)
	require.Zero(t, f.Store.DeleteExpired(f.Clock.Now().Add(365*24*time.Hour)), "no credential may be stored")
}

func TestOpenIDPromptRules(t *testing.T) {
	f := oauthtest.NewFixture(t)
	earlier := f.Clock.Now().Add(-time.Minute)

	tests := []struct {
		name    string
		prompt  string
		session *oauth2.OpenIDSession
		wantErr error
	}{
		{name: "none with earlier login", prompt: "none", session: openIDSession(earlier)},
		{name: "unknown prompt", prompt: "bogus", session: openIDSession(earlier), wantErr: oauth2.ErrInvalidRequest},
		{name: "none combined", prompt: "none login", session: openIDSession(earlier), wantErr: oauth2.ErrInvalidRequest},
		{name: "login requires fresh authentication", prompt: "login", session: openIDSession(earlier), wantErr: oauth2.ErrLoginRequired},
		{name: "auth time in the future", session: openIDSession(f.Clock.Now().Add(time.Hour)), wantErr: oauth2.ErrServerError},
		{name: "empty subject", session: oauth2.NewOpenIDSession(""), wantErr: oauth2.ErrServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := codeParams("openid")
			params.Set("nonce", oauthtest.Nonce)
			if tt.prompt != "" {
				params.Set("prompt", tt.prompt)
			}
			_, _, err := authorize(t, f, params, tt.session)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("public clients may not use prompt none", func(t *testing.T) {
		params := publicCodeParams(xoauth2.S256ChallengeFromVerifier(verifier(t, 32)))
		params.Set("scope", "openid")
		params.Set("prompt", "none")
		_, _, err := authorize(t, f, params, openIDSession(earlier))
		require.ErrorIs(t, err, oauth2.ErrConsentRequired)
	})

	t.Run("max age exceeded", func(t *testing.T) {
		params := codeParams("openid")
		params.Set("max_age", "10")
		_, _, err := authorize(t, f, params, openIDSession(earlier))
		require.ErrorIs(t, err, oauth2.ErrLoginRequired)
	})
}

func TestImplicitFlow(t *testing.T) {
	f := oauthtest.NewFixture(t)
	params := codeParams("foo")
	params.Set("response_type", "token")

	ar, resp, err := authorize(t, f, params, oauth2.NewDefaultSession(oauthtest.UserID))
	require.NoError(t, err)
	redirect := resp.RedirectURL(ar.RedirectURI)
	require.Empty(t, redirect.RawQuery)

	fragment, err := url.ParseQuery(redirect.Fragment)
	require.NoError(t, err)
	require.NotEmpty(t, fragment.Get("access_token"))
	require.Equal(t, "bearer", fragment.Get("token_type"))
	require.Equal(t, oauthtest.State, fragment.Get("state"))
	require.True(t, introspect(t, f, fragment.Get("access_token")).Active)
}

func TestHybridFlow(t *testing.T) {
	f := oauthtest.NewFixture(t)
	params := codeParams("openid")
	params.Set("response_type", "code id_token")
	params.Set("nonce", oauthtest.Nonce)

	ar, resp, err := authorize(t, f, params, openIDSession(f.Clock.Now().Add(-time.Minute)))
	require.NoError(t, err)
	require.Equal(t, oauth2.ResponseModeFragment, resp.Mode)

	fragment, err := url.ParseQuery(resp.RedirectURL(ar.RedirectURI).Fragment)
	require.NoError(t, err)
	code := fragment.Get("code")
	require.NotEmpty(t, code)

	claims := parseIDToken(t, f, fragment.Get("id_token"))
	require.Equal(t, openid.LeftMostHash(f.Signer.GetSigningMethod().Alg(), code), claims["c_hash"])

	t.Run("requires a nonce", func(t *testing.T) {
		params.Del("nonce")
		_, _, err := authorize(t, f, params, openIDSession(f.Clock.Now().Add(-time.Minute)))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	})
}

func TestOpenIDResponseTypes(t *testing.T) {
	tests := []struct {
		responseType string
		wantCode     bool
		wantToken    bool
		wantIDToken  bool
	}{
		{responseType: "id_token", wantIDToken: true},
		{responseType: "token id_token", wantToken: true, wantIDToken: true},
		{responseType: "code id_token", wantCode: true, wantIDToken: true},
		{responseType: "code token", wantCode: true, wantToken: true},
		{responseType: "code token id_token", wantCode: true, wantToken: true, wantIDToken: true},
	}

	for _, tt := range tests {
		t.Run(tt.responseType, func(t *testing.T) {
			f := oauthtest.NewFixture(t)
			alg := f.Signer.GetSigningMethod().Alg()
			params := codeParams("openid")
			params.Set("response_type", tt.responseType)
			params.Set("nonce", oauthtest.Nonce)

			ar, resp, err := authorize(t, f, params, openIDSession(f.Clock.Now().Add(-time.Minute)))
			require.NoError(t, err)
			redirect := resp.RedirectURL(ar.RedirectURI)
			require.Empty(t, redirect.RawQuery)

			fragment, err := url.ParseQuery(redirect.Fragment)
			require.NoError(t, err)
			require.Equal(t, oauthtest.State, fragment.Get("state"))

			code := fragment.Get("code")
			accessToken := fragment.Get("access_token")
			require.Equal(t, tt.wantCode, code != "")
			require.Equal(t, tt.wantToken, accessToken != "")
			require.Equal(t, tt.wantIDToken, fragment.Get("id_token") != "")
			if tt.wantToken {
				require.True(t, introspect(t, f, accessToken).Active)
			}
			if !tt.wantIDToken {
				return
			}

			claims := parseIDToken(t, f, fragment.Get("id_token"))
			require.Equal(t, oauthtest.UserID, claims["sub"])
			require.Equal(t, oauthtest.Nonce, claims["nonce"])
			if tt.wantCode {
				require.Equal(t, openid.LeftMostHash(alg, code), claims["c_hash"])
			} else {
				require.NotContains(t, claims, "c_hash")
			}
			if tt.wantToken {
				require.Equal(t, openid.LeftMostHash(alg, accessToken), claims["at_hash"])
			} else {
				require.NotContains(t, claims, "at_hash")
			}
		})
	}
}

func TestAuthorizeRequestErrors(t *testing.T) {
	f := oauthtest.NewFixture(t)
	ctx := context.Background()

	t.Run("unknown client is never redirected", func(t *testing.T) {
		params := codeParams("foo")
		params.Set("client_id", "nobody")
		ar, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidClient)

		resp, rfcErr := f.Provider.AuthorizeErrorResponse(ar, err)
		require.Nil(t, resp)
		require.Equal(t, oauth2.KindInvalidClient, rfcErr.Kind)
	})

	t.Run("unregistered redirect uri is never redirected", func(t *testing.T) {
		params := codeParams("foo")
		params.Set("redirect_uri", "https://evil.example.com/callback")
		ar, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(params))
		require.Error(t, err)

		resp, _ := f.Provider.AuthorizeErrorResponse(ar, err)
		require.Nil(t, resp)
	})

	t.Run("weak state is redirected", func(t *testing.T) {
		params := codeParams("foo")
		params.Set("state", "abc")
		ar, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidState)

		resp, _ := f.Provider.AuthorizeErrorResponse(ar, err)
		require.NotNil(t, resp)
		query := resp.RedirectURL(ar.RedirectURI).Query()
		require.Equal(t, "invalid_request", query.Get("error"))
		require.Equal(t, "abc", query.Get("state"))
	})

	t.Run("query mode is refused for tokens", func(t *testing.T) {
		params := codeParams("foo")
		params.Set("response_type", "token")
		params.Set("response_mode", "query")
		ar, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)

		resp, _ := f.Provider.AuthorizeErrorResponse(ar, err)
		require.Equal(t, oauth2.ResponseModeFragment, resp.Mode)
	})

	t.Run("unregistered response type", func(t *testing.T) {
		params := publicCodeParams(xoauth2.S256ChallengeFromVerifier(verifier(t, 32)))
		params.Set("response_type", "token")
		_, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(params))
		require.ErrorIs(t, err, oauth2.ErrUnsupportedResponseType)
	})

	t.Run("scope not registered", func(t *testing.T) {
		_, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(codeParams("admin")))
		require.ErrorIs(t, err, oauth2.ErrInvalidScope)
	})

	t.Run("granted scope must have been requested", func(t *testing.T) {
		ar, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(codeParams("foo")))
		require.NoError(t, err)
		ar.GrantedScope = oauth2.Arguments{"foo", "bar"}
		_, err = f.Provider.NewAuthorizeResponse(ctx, ar, oauth2.NewDefaultSession(oauthtest.UserID))
		require.ErrorIs(t, err, oauth2.ErrInvalidScope)
	})
}

func jwtFixture(t *testing.T, issuer string) *oauthtest.Fixture {
	t.Helper()
	return oauthtest.NewFixture(t, func(cfg *config.Config) {
		cfg.Issuer = issuer
		cfg.AccessTokenFormat = "jwt"
		cfg.StatelessIntrospection = true
	})
}

func clientCredentialsToken(t *testing.T, f *oauthtest.Fixture) string {
	t.Helper()
	form := url.Values{"grant_type": {"client_credentials"}, "scope": {"foo"}}
	tokens, err := exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewJWTSession(""))
	require.NoError(t, err)
	return tokens.AccessToken
}

func TestCrossIssuerIntrospectionIsInactive(t *testing.T) {
	home := jwtFixture(t, "https://auth.example.com")
	other := jwtFixture(t, "https://other.example.com")

	own := clientCredentialsToken(t, home)
	info := introspect(t, home, own)
	require.True(t, info.Active)
	require.Equal(t, oauthtest.ClientID, info.Requester.GetClientID())

	foreign := clientCredentialsToken(t, other)
	require.False(t, introspect(t, home, foreign).Active)
	require.Equal(t, map[string]any{"active": false}, introspect(t, home, foreign).ToMap())
}

func TestIntrospection(t *testing.T) {
	f := oauthtest.NewFixture(t)
	ctx := context.Background()
	token := clientCredentialsToken(t, f)

	t.Run("unauthenticated caller", func(t *testing.T) {
		r := oauthtest.TokenRequest(url.Values{"token": {token}}, "", "")
		_, err := f.Provider.NewIntrospectionRequest(ctx, r)
		require.ErrorIs(t, err, oauth2.ErrInvalidClient)
	})

	t.Run("bearer caller", func(t *testing.T) {
		caller := clientCredentialsToken(t, f)
		r := oauthtest.TokenRequest(url.Values{"token": {token}}, "", "")
		r.Header.Set("Authorization", "Bearer "+caller)
		resp, err := f.Provider.NewIntrospectionRequest(ctx, r)
		require.NoError(t, err)
		require.True(t, resp.Active)

		r = oauthtest.TokenRequest(url.Values{"token": {caller}}, "", "")
		r.Header.Set("Authorization", "Bearer "+caller)
		_, err = f.Provider.NewIntrospectionRequest(ctx, r)
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	})

	t.Run("missing token", func(t *testing.T) {
		r := oauthtest.TokenRequest(url.Values{}, oauthtest.ClientID, oauthtest.ClientSecret)
		_, err := f.Provider.NewIntrospectionRequest(ctx, r)
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	})

	t.Run("required scope not granted", func(t *testing.T) {
		r := oauthtest.TokenRequest(url.Values{"token": {token}, "scope": {"bar"}}, oauthtest.ClientID, oauthtest.ClientSecret)
		resp, err := f.Provider.NewIntrospectionRequest(ctx, r)
		require.NoError(t, err)
		require.False(t, resp.Active)
	})

	t.Run("expired token", func(t *testing.T) {
		f.Clock.Advance(2 * time.Hour)
		defer f.Clock.Advance(-2 * time.Hour)
		require.False(t, introspect(t, f, token).Active)
	})
}

func TestRevocation(t *testing.T) {
	f := oauthtest.NewFixture(t)
	ctx := context.Background()
	code := issueCode(t, f, codeParams("foo offline"), oauth2.NewDefaultSession(oauthtest.UserID))
	tokens, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.NoError(t, err)

	revoke := func(token string) (*oauth2.RevocationResponse, error) {
		r := oauthtest.TokenRequest(url.Values{"token": {token}, "token_type_hint": {"refresh_token"}}, oauthtest.ClientID, oauthtest.ClientSecret)
		return f.Provider.NewRevocationRequest(ctx, r)
	}

	resp, err := revoke(tokens.RefreshToken)
	require.NoError(t, err)
	require.True(t, resp.Revoked)
	require.False(t, introspect(t, f, tokens.AccessToken).Active)
	require.False(t, introspect(t, f, tokens.RefreshToken).Active)

	resp, err = revoke(tokens.RefreshToken)
	require.NoError(t, err)
	require.False(t, resp.Revoked)

	t.Run("tokens of other clients are refused", func(t *testing.T) {
		other := oauthtest.ConfidentialClient(t)
		other.ID = "bar"
		require.NoError(t, f.Store.Upsert(ctx, other))
		token := clientCredentialsToken(t, f)
		r := oauthtest.TokenRequest(url.Values{"token": {token}}, "bar", oauthtest.ClientSecret)
		_, err := f.Provider.NewRevocationRequest(ctx, r)
		require.ErrorIs(t, err, oauth2.ErrUnauthorizedClient)
	})
}
