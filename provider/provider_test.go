package provider_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/internal/oauthtest"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/provider"
)

func authorize(t *testing.T, f *oauthtest.Fixture, params url.Values, session oauth2.Session) (*oauth2.AuthorizeRequest, *oauth2.AuthorizeResponse, error) {
	t.Helper()
	ctx := context.Background()
	ar, err := f.Provider.NewAuthorizeRequest(ctx, oauthtest.AuthorizeRequest(params))
	require.NoError(t, err)
	for _, scope := range ar.RequestedScope {
		ar.GrantScope(scope)
	}
	resp, err := f.Provider.NewAuthorizeResponse(ctx, ar, session)
	return ar, resp, err
}

func codeParams(scope string) url.Values {
	return url.Values{
		"client_id":     {oauthtest.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {oauthtest.RedirectURI},
		"state":         {oauthtest.State},
		"scope":         {scope},
	}
}

func issueCode(t *testing.T, f *oauthtest.Fixture, params url.Values, session oauth2.Session) string {
	t.Helper()
	ar, resp, err := authorize(t, f, params, session)
	require.NoError(t, err)
	redirect := resp.RedirectURL(ar.RedirectURI)
	code := redirect.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func exchange(t *testing.T, f *oauthtest.Fixture, r *http.Request, session oauth2.Session) (*oauth2.AccessResponse, error) {
	t.Helper()
	ctx := context.Background()
	ar, err := f.Provider.NewAccessRequest(ctx, r, session)
	if err != nil {
		return nil, err
	}
	return f.Provider.NewAccessResponse(ctx, ar)
}

func codeExchange(code string) url.Values {
	return url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {oauthtest.RedirectURI},
	}
}

func introspect(t *testing.T, f *oauthtest.Fixture, token string) *oauth2.IntrospectionResponse {
	t.Helper()
	r := oauthtest.TokenRequest(url.Values{"token": {token}}, oauthtest.ClientID, oauthtest.ClientSecret)
	resp, err := f.Provider.NewIntrospectionRequest(context.Background(), r)
	require.NoError(t, err)
	return resp
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := provider.New(provider.Deps{})
	require.Error(t, err)

	_, err = provider.New(provider.Deps{Config: config.Default(oauthtest.HMACSecret)})
	require.ErrorContains(t, err, "Clients is required")
}

func TestAuthorizeCodeFlow(t *testing.T) {
	f := oauthtest.NewFixture(t)

	ar, resp, err := authorize(t, f, codeParams("foo offline"), oauth2.NewDefaultSession(oauthtest.UserID))
	require.NoError(t, err)

	redirect := resp.RedirectURL(ar.RedirectURI)
	require.Equal(t, "foo.example.com", redirect.Host)
	require.Empty(t, redirect.Fragment)
	query := redirect.Query()
	require.Equal(t, oauthtest.State, query.Get("state"))
	require.Equal(t, "foo offline", query.Get("scope"))
	code := query.Get("code")
	require.NotEmpty(t, code)

	tokens, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.Equal(t, "bearer", tokens.TokenType)
	require.Equal(t, int64(3600), tokens.ExpiresIn)
	require.Equal(t, "foo offline", tokens.Scope)

	info := introspect(t, f, tokens.AccessToken)
	require.True(t, info.Active)
	require.Equal(t, oauth2.AccessToken, info.TokenUse)
	require.Equal(t, oauthtest.UserID, info.Requester.Session.GetSubject())
	require.Equal(t, oauthtest.ClientID, info.ToMap()["client_id"])

	t.Run("code is single use and replay revokes issued tokens", func(t *testing.T) {
		_, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidatedAuthorizeCode)
		require.Equal(t, http.StatusBadRequest, oauth2.ErrorToRFC6749(err).StatusCode())

		require.False(t, introspect(t, f, tokens.AccessToken).Active)
		require.False(t, introspect(t, f, tokens.RefreshToken).Active)
	})
}

func TestAuthorizeCodeWithoutOfflineHasNoRefreshToken(t *testing.T) {
	f := oauthtest.NewFixture(t)
	code := issueCode(t, f, codeParams("foo"), oauth2.NewDefaultSession(oauthtest.UserID))

	tokens, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.Empty(t, tokens.RefreshToken)
}

func TestAuthorizeCodeMismatches(t *testing.T) {
	f := oauthtest.NewFixture(t)

	t.Run("redirect uri", func(t *testing.T) {
		code := issueCode(t, f, codeParams("foo"), oauth2.NewDefaultSession(oauthtest.UserID))
		form := codeExchange(code)
		form.Set("redirect_uri", "https://evil.example.com/callback")
		_, err := exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrRedirectURIMismatch)
	})

	t.Run("client", func(t *testing.T) {
		code := issueCode(t, f, codeParams("foo"), oauth2.NewDefaultSession(oauthtest.UserID))
		form := codeExchange(code)
		form.Set("client_id", oauthtest.PublicClientID)
		_, err := exchange(t, f, oauthtest.TokenRequest(form, "", ""), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidGrant)
	})

	t.Run("wrong secret", func(t *testing.T) {
		code := issueCode(t, f, codeParams("foo"), oauth2.NewDefaultSession(oauthtest.UserID))
		_, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, "nope"), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidClient)
		require.Equal(t, http.StatusUnauthorized, oauth2.ErrorToRFC6749(err).StatusCode())
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := exchange(t, f, oauthtest.TokenRequest(codeExchange("bogus.code"), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidGrant)
	})
}

func TestAuthorizeCodeConcurrentRedemption(t *testing.T) {
	f := oauthtest.NewFixture(t)
	code := issueCode(t, f, codeParams("foo"), oauth2.NewDefaultSession(oauthtest.UserID))

	const attempts = 8
	results := make(chan error, attempts)
	start := make(chan struct{})
	for range attempts {
		go func() {
			<-start
			_, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
			results <- err
		}()
	}
	close(start)

	succeeded := 0
	for range attempts {
		if err := <-results; err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, oauth2.ErrInvalidGrant)
		}
	}
	require.Equal(t, 1, succeeded)
}

func TestRefreshTokenRotation(t *testing.T) {
	f := oauthtest.NewFixture(t)
	code := issueCode(t, f, codeParams("foo bar offline"), oauth2.NewDefaultSession(oauthtest.UserID))
	first, err := exchange(t, f, oauthtest.TokenRequest(codeExchange(code), oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.NoError(t, err)

	refresh := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {first.RefreshToken}}
	second, err := exchange(t, f, oauthtest.TokenRequest(refresh, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	require.False(t, introspect(t, f, first.AccessToken).Active)
	require.False(t, introspect(t, f, first.RefreshToken).Active)
	require.True(t, introspect(t, f, second.AccessToken).Active)

	_, err = exchange(t, f, oauthtest.TokenRequest(refresh, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.ErrorIs(t, err, oauth2.ErrInvalidGrant)

	t.Run("narrowed scope", func(t *testing.T) {
		form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {second.RefreshToken}, "scope": {"foo offline"}}
		third, err := exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.NoError(t, err)
		require.Equal(t, "foo offline", third.Scope)

		form = url.Values{"grant_type": {"refresh_token"}, "refresh_token": {third.RefreshToken}, "scope": {"foo bar offline"}}
		_, err = exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidScope)
	})
}

func TestClientCredentials(t *testing.T) {
	f := oauthtest.NewFixture(t)
	form := url.Values{"grant_type": {"client_credentials"}, "scope": {"foo"}}

	tokens, err := exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.Empty(t, tokens.RefreshToken)

	form.Set("scope", "admin")
	_, err = exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.ErrorIs(t, err, oauth2.ErrInvalidScope)
}

func TestResourceOwnerPassword(t *testing.T) {
	f := oauthtest.NewFixture(t)
	form := url.Values{
		"grant_type": {"password"},
		"username":   {oauthtest.Username},
		"password":   {oauthtest.Password},
		"scope":      {"foo"},
	}
	tokens, err := exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.NoError(t, err)

	info := introspect(t, f, tokens.AccessToken)
	require.True(t, info.Active)
	require.Equal(t, oauthtest.UserID, info.Requester.Session.GetSubject())
	require.Empty(t, info.Requester.Form.Get("password"))

	form.Set("password", "wrong")
	_, err = exchange(t, f, oauthtest.TokenRequest(form, oauthtest.ClientID, oauthtest.ClientSecret), oauth2.NewDefaultSession(""))
	require.ErrorIs(t, err, oauth2.ErrInvalidGrant)
}

func TestAccessRequestErrors(t *testing.T) {
	f := oauthtest.NewFixture(t)
	ctx := context.Background()

	t.Run("get is rejected", func(t *testing.T) {
		r := oauthtest.TokenRequest(url.Values{"grant_type": {"client_credentials"}}, oauthtest.ClientID, oauthtest.ClientSecret)
		r.Method = http.MethodGet
		_, err := f.Provider.NewAccessRequest(ctx, r, oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	})

	t.Run("missing grant type", func(t *testing.T) {
		r := oauthtest.TokenRequest(url.Values{}, oauthtest.ClientID, oauthtest.ClientSecret)
		_, err := f.Provider.NewAccessRequest(ctx, r, oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
	})

	t.Run("unknown grant type", func(t *testing.T) {
		r := oauthtest.TokenRequest(url.Values{"grant_type": {"urn:example:magic"}}, oauthtest.ClientID, oauthtest.ClientSecret)
		_, err := f.Provider.NewAccessRequest(ctx, r, oauth2.NewDefaultSession(""))
		require.ErrorIs(t, err, oauth2.ErrUnsupportedGrantType)
	})

	t.Run("nil session", func(t *testing.T) {
		r := oauthtest.TokenRequest(url.Values{"grant_type": {"client_credentials"}}, oauthtest.ClientID, oauthtest.ClientSecret)
		_, err := f.Provider.NewAccessRequest(ctx, r, nil)
		require.ErrorIs(t, err, oauth2.ErrServerError)
	})
}
