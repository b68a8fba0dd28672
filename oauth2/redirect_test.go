package oauth2_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

func TestMatchRedirectURI(t *testing.T) {
	client := &clients.Client{
		ID: "foo",
		RedirectURIs: []string{
			"https://app.example.com/callback",
			"http://127.0.0.1/callback",
			"com.example.app:/oauth",
		},
	}

	tests := []struct {
		name    string
		raw     string
		client  *clients.Client
		want    string
		wantErr bool
	}{
		{name: "exact match", raw: "https://app.example.com/callback", want: "https://app.example.com/callback"},
		{name: "private use scheme", raw: "com.example.app:/oauth", want: "com.example.app:/oauth"},
		{name: "loopback with any port", raw: "http://127.0.0.1:49152/callback", want: "http://127.0.0.1:49152/callback"},
		{name: "loopback with other path", raw: "http://127.0.0.1:49152/other", wantErr: true},
		{name: "different path", raw: "https://app.example.com/callback/extra", wantErr: true},
		{name: "added query", raw: "https://app.example.com/callback?x=1", wantErr: true},
		{name: "fragment", raw: "https://app.example.com/callback#frag", wantErr: true},
		{name: "relative", raw: "/callback", wantErr: true},
		{name: "omitted with several registered", raw: "", wantErr: true},
		{
			name:   "omitted with one registered",
			raw:    "",
			client: &clients.Client{RedirectURIs: []string{"https://only.example.com/cb"}},
			want:   "https://only.example.com/cb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := client
			if tt.client != nil {
				c = tt.client
			}
			got, err := oauth2.MatchRedirectURI(tt.raw, c)
			if tt.wantErr {
				require.ErrorIs(t, err, oauth2.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestIsRedirectURISecure(t *testing.T) {
	tests := map[string]bool{
		"https://app.example.com/cb": true,
		"http://localhost:3000/cb":   true,
		"http://127.0.0.1/cb":        true,
		"http://[::1]:8080/cb":       true,
		"com.example.app:/oauth":     true,
		"http://app.example.com/cb":  false,
	}
	for raw, want := range tests {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, want, oauth2.IsRedirectURISecure(u), raw)
	}
	require.False(t, oauth2.IsRedirectURISecure(nil))
}

func TestAuthorizeResponseRedirectURL(t *testing.T) {
	redirect, err := url.Parse("https://app.example.com/cb?tenant=a")
	require.NoError(t, err)

	query := oauth2.NewAuthorizeResponse(oauth2.ResponseModeQuery)
	query.AddParameter("code", "abc")
	query.AddParameter("state", "xyz")
	got := query.RedirectURL(redirect)
	require.Equal(t, "a", got.Query().Get("tenant"))
	require.Equal(t, "abc", got.Query().Get("code"))
	require.Empty(t, got.Fragment)
	require.Equal(t, "abc", query.Code())

	fragment := oauth2.NewAuthorizeResponse(oauth2.ResponseModeFragment)
	fragment.AddParameter("access_token", "t1")
	fragment.AddParameter("state", "xyz")
	got = fragment.RedirectURL(redirect)
	require.Equal(t, "tenant=a", got.RawQuery)
	require.Equal(t, "https://app.example.com/cb?tenant=a#access_token=t1&state=xyz", got.String())

	// The caller's URL is never modified.
	require.Equal(t, "https://app.example.com/cb?tenant=a", redirect.String())
}
