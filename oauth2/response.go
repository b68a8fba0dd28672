package oauth2

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthorizeResponse collects the parameters returned to the client's redirect URI.
// All parameters go to a single location chosen by Mode, so a response never mixes
// query and fragment parameters.
type AuthorizeResponse struct {
	Mode       ResponseModeType
	Parameters url.Values
	Header     http.Header
}

// NewAuthorizeResponse returns an empty response using mode.
func NewAuthorizeResponse(mode ResponseModeType) *AuthorizeResponse {
	return &AuthorizeResponse{
		Mode:       mode,
		Parameters: url.Values{},
		Header:     http.Header{},
	}
}

// AddParameter sets a response parameter.
func (r *AuthorizeResponse) AddParameter(key, value string) {
	r.Parameters.Set(key, value)
}

// Code returns the issued authorization code, if any.
func (r *AuthorizeResponse) Code() string {
	return r.Parameters.Get("code")
}

// RedirectURL encodes the parameters onto redirectURI using the response mode.
// form_post responses are rendered by the host, which receives redirectURI unchanged.
func (r *AuthorizeResponse) RedirectURL(redirectURI *url.URL) *url.URL {
	u := *redirectURI
	switch r.Mode {
	case ResponseModeFragment:
		encoded := r.Parameters.Encode()
		fragment, err := url.PathUnescape(encoded)
		if err != nil {
			fragment = encoded
		}
		u.Fragment = fragment
		u.RawFragment = encoded
	case ResponseModeQuery:
		q := u.Query()
		for k, v := range r.Parameters {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}
	return &u
}

// AccessResponse is the token endpoint response body.
type AccessResponse struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Extra        map[string]any `json:"-"`
}

// NewAccessResponse returns an empty token response.
func NewAccessResponse() *AccessResponse {
	return &AccessResponse{Extra: map[string]any{}}
}

// SetExpiresIn stores the lifetime remaining until exp, in whole seconds.
func (r *AccessResponse) SetExpiresIn(exp, now time.Time) {
	r.ExpiresIn = int64(exp.Sub(now).Round(time.Second) / time.Second)
}

// ToMap returns the body including extra parameters.
func (r *AccessResponse) ToMap() map[string]any {
	m := map[string]any{}
	for k, v := range r.Extra {
		m[k] = v
	}
	m["access_token"] = r.AccessToken
	m["token_type"] = r.TokenType
	if r.ExpiresIn != 0 {
		m["expires_in"] = r.ExpiresIn
	}
	if r.RefreshToken != "" {
		m["refresh_token"] = r.RefreshToken
	}
	if r.IDToken != "" {
		m["id_token"] = r.IDToken
	}
	if r.Scope != "" {
		m["scope"] = r.Scope
	}
	return m
}

// IntrospectionResponse is the result of token introspection. Any failure yields
// Active=false with no further detail.
type IntrospectionResponse struct {
	Active    bool
	TokenUse  TokenType
	Requester *Request
}

// ToMap renders the RFC 7662 body.
func (r *IntrospectionResponse) ToMap() map[string]any {
	if !r.Active || r.Requester == nil {
		return map[string]any{"active": false}
	}
	m := map[string]any{
		"active":     true,
		"client_id":  r.Requester.GetClientID(),
		"scope":      strings.Join(r.Requester.GrantedScope, " "),
		"iat":        r.Requester.RequestedAt.Unix(),
		"token_type": string(r.TokenUse),
	}
	if s := r.Requester.Session; s != nil {
		if sub := s.GetSubject(); sub != "" {
			m["sub"] = sub
		}
		if username := s.GetUsername(); username != "" {
			m["username"] = username
		}
		if exp := s.GetExpiresAt(r.TokenUse); !exp.IsZero() {
			m["exp"] = exp.Unix()
		}
	}
	return m
}

// RevocationResponse reports whether a token was revoked. A token that could
// not be found is not an error.
type RevocationResponse struct {
	Revoked bool
}
