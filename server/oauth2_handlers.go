package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// basicRealm is announced when the authorization endpoint needs the resource owner to sign in.
const basicRealm = `Basic realm="oauth2", charset="UTF-8"`

type discoveryDocument struct {
	Issuer                                 string   `json:"issuer"`
	AuthorizationEndpoint                  string   `json:"authorization_endpoint"`
	TokenEndpoint                          string   `json:"token_endpoint"`
	JWKSURI                                string   `json:"jwks_uri"`
	IntrospectionEndpoint                  string   `json:"introspection_endpoint"`
	RevocationEndpoint                     string   `json:"revocation_endpoint"`
	ResponseTypesSupported                 []string `json:"response_types_supported"`
	ResponseModesSupported                 []string `json:"response_modes_supported"`
	GrantTypesSupported                    []string `json:"grant_types_supported"`
	SubjectTypesSupported                  []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported       []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported      []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported          []string `json:"code_challenge_methods_supported"`
	RequestParameterSupported              bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported           bool     `json:"request_uri_parameter_supported"`
	RequireRequestURIRegistration          bool     `json:"require_request_uri_registration"`
	RequestObjectSigningAlgValuesSupported []string `json:"request_object_signing_alg_values_supported"`
}

// WellKnownOpenIDConfig serves the OIDC discovery document
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseURL := s.config.Issuer

		challengeMethods := []string{"S256"}
		if s.config.EnablePKCEPlainChallengeMethod {
			challengeMethods = append(challengeMethods, "plain")
		}

		s.writeJSON(w, http.StatusOK, discoveryDocument{
			Issuer:                baseURL,
			AuthorizationEndpoint: baseURL + RouteOAuth2Authorize,
			TokenEndpoint:         s.config.TokenURL,
			JWKSURI:               baseURL + RouteWellKnownJWKS,
			IntrospectionEndpoint: baseURL + RouteOAuth2Introspect,
			RevocationEndpoint:    baseURL + RouteOAuth2Revoke,
			ResponseTypesSupported: []string{
				"code", "token", "id_token", "code id_token", "code token", "token id_token", "code token id_token",
			},
			ResponseModesSupported: []string{
				string(oauth2.ResponseModeQuery), string(oauth2.ResponseModeFragment), string(oauth2.ResponseModeFormPost),
			},
			GrantTypesSupported: []string{
				"authorization_code", "implicit", "refresh_token", "client_credentials", "password",
			},
			SubjectTypesSupported:            []string{"public"},
			IDTokenSigningAlgValuesSupported: []string{s.signer.GetSigningMethod().Alg()},
			TokenEndpointAuthMethodsSupported: []string{
				clients.AuthMethodClientSecretBasic,
				clients.AuthMethodClientSecretPost,
				clients.AuthMethodPrivateKeyJWT,
				clients.AuthMethodNone,
			},
			CodeChallengeMethodsSupported:          challengeMethods,
			RequestParameterSupported:              true,
			RequestURIParameterSupported:           true,
			RequireRequestURIRegistration:          true,
			RequestObjectSigningAlgValuesSupported: []string{"RS256", "ES256", "none"},
		})
	}
}

// JWKS returns the JSON Web Key Set used to validate tokens
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.signer.JWKS())
	}
}

// Authorize runs the authorization endpoint. The resource owner signs in with
// HTTP Basic credentials and is taken to consent to every requested scope.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ar, err := s.provider.NewAuthorizeRequest(ctx, r)
		if err != nil {
			s.writeAuthorizeError(w, r, ar, err)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			if oauth2.SplitArguments(ar.Form.Get("prompt")).Has("none") {
				s.writeAuthorizeError(w, r, ar, oauth2.ErrLoginRequired.WithHint("The resource owner is not signed in."))
				return
			}
			s.requireSignIn(w)
			return
		}
		subject, err := s.owners.Authenticate(ctx, username, password)
		if err != nil {
			s.logger.Debug().Err(err).Str("client_id", ar.GetClientID()).Msg("resource owner sign in failed")
			s.requireSignIn(w)
			return
		}

		session := oauth2.NewOpenIDSession(subject)
		session.Username = username
		session.IDClaims.AuthTime = s.config.Now()
		for _, scope := range ar.RequestedScope {
			ar.GrantScope(scope)
		}

		resp, err := s.provider.NewAuthorizeResponse(ctx, ar, session)
		if err != nil {
			s.writeAuthorizeError(w, r, ar, err)
			return
		}
		s.writeAuthorizeResponse(w, r, ar.RedirectURI, resp)
	}
}

// Token exchanges code/credentials for tokens
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ar, err := s.provider.NewAccessRequest(ctx, r, oauth2.NewOpenIDSession(""))
		if err != nil {
			s.writeJSONError(w, r, err)
			return
		}
		resp, err := s.provider.NewAccessResponse(ctx, ar)
		if err != nil {
			s.writeJSONError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp.ToMap())
	}
}

// Introspect introspects tokens
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.provider.NewIntrospectionRequest(r.Context(), r)
		if err != nil {
			s.writeJSONError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp.ToMap())
	}
}

// Revoke revokes tokens. Unknown tokens are answered like revoked ones (RFC 7009 2.2).
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.provider.NewRevocationRequest(r.Context(), r); err != nil {
			s.writeJSONError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) requireSignIn(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", basicRealm)
	http.Error(w, "sign in required", http.StatusUnauthorized)
}

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit This Form</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{ .RedirectURI }}">
{{- range $key, $values := .Parameters }}{{ range $values }}
<input type="hidden" name="{{ $key }}" value="{{ . }}"/>
{{- end }}{{ end }}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

// writeAuthorizeResponse delivers resp to redirectURI using the response mode.
func (s *Server) writeAuthorizeResponse(w http.ResponseWriter, r *http.Request, redirectURI *url.URL, resp *oauth2.AuthorizeResponse) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	if resp.Mode != oauth2.ResponseModeFormPost {
		http.Redirect(w, r, resp.RedirectURL(redirectURI).String(), http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", contentTypeHTML)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	data := struct {
		RedirectURI template.URL
		Parameters  url.Values
	}{
		// Already matched against the client's registered redirect URIs.
		RedirectURI: template.URL(redirectURI.String()),
		Parameters:  resp.Parameters,
	}
	if err := formPostTemplate.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("failed to render form_post response")
	}
}

// writeAuthorizeError redirects err to the client when the request resolved a
// trusted redirect URI, and renders it directly otherwise.
func (s *Server) writeAuthorizeError(w http.ResponseWriter, r *http.Request, ar *oauth2.AuthorizeRequest, err error) {
	resp, rfcErr := s.provider.AuthorizeErrorResponse(ar, err)
	if resp == nil {
		s.writeJSONError(w, r, rfcErr)
		return
	}
	s.writeAuthorizeResponse(w, r, ar.RedirectURI, resp)
}

// writeJSONError writes an OAuth2 error response
func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, err error) {
	rfcErr := oauth2.ErrorToRFC6749(err)
	if rfcErr.Kind == oauth2.KindServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if rfcErr.Kind == oauth2.KindInvalidClient {
		if _, _, ok := r.BasicAuth(); ok {
			w.Header().Set("WWW-Authenticate", basicRealm)
		}
	}
	s.writeJSON(w, rfcErr.StatusCode(), rfcErr.ToMap(s.config.GetSendDebugMessages()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
