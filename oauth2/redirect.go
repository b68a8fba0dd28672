package oauth2

import (
	"net"
	"net/url"

	"github.com/jrsteele09/go-oauth-engine/clients"
)

// MatchRedirectURI resolves the redirect URI of an authorize request against the
// client's registrations. An omitted URI resolves to the only registered one.
// Loopback registrations match any port (RFC 8252 section 7.3).
func MatchRedirectURI(raw string, client *clients.Client) (*url.URL, error) {
	if raw == "" {
		if len(client.RedirectURIs) != 1 {
			return nil, ErrInvalidRequest.WithHint("The 'redirect_uri' parameter is required when the client registered zero or several redirect URIs.").WithParam("redirect_uri")
		}
		raw = client.RedirectURIs[0]
	}

	requested, err := url.Parse(raw)
	if err != nil || !requested.IsAbs() || requested.Fragment != "" {
		return nil, ErrInvalidRequest.WithHint("The 'redirect_uri' parameter must be an absolute URL without a fragment.").WithParam("redirect_uri")
	}

	for _, registered := range client.RedirectURIs {
		if registered == raw {
			return requested, nil
		}
		if matchesLoopback(registered, requested) {
			return requested, nil
		}
	}
	return nil, ErrInvalidRequest.WithHint("The 'redirect_uri' parameter does not match any of the client's registered redirect URIs.").WithParam("redirect_uri")
}

func matchesLoopback(registered string, requested *url.URL) bool {
	r, err := url.Parse(registered)
	if err != nil {
		return false
	}
	if r.Scheme != "http" || requested.Scheme != "http" || !IsLoopback(r.Hostname()) {
		return false
	}
	return r.Hostname() == requested.Hostname() &&
		r.Path == requested.Path &&
		r.RawQuery == requested.RawQuery
}

// IsRedirectURISecure rejects plain http redirects to anything but a loopback host.
// https and private-use schemes of native apps are accepted.
func IsRedirectURISecure(u *url.URL) bool {
	if u == nil {
		return false
	}
	return u.Scheme != "http" || IsLoopback(u.Hostname())
}

// IsLoopback reports whether host is localhost or a loopback IP.
func IsLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
