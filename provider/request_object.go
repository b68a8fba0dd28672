package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/go-oauth-engine/internal/utils"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

// maxRequestObjectSize bounds documents fetched from a request_uri.
const maxRequestObjectSize = 1 << 20

// mergeRequestObject verifies the OpenID Connect request object passed by value
// ("request") or by reference ("request_uri") and lets its claims override the
// query parameters. Requests without the openid scope ignore both parameters.
func (p *Provider) mergeRequestObject(ctx context.Context, ar *oauth2.AuthorizeRequest) error {
	byValue, byReference := ar.Form.Get("request"), ar.Form.Get("request_uri")
	defer func() {
		ar.Form.Del("request")
		ar.Form.Del("request_uri")
	}()

	if !oauth2.SplitArguments(ar.Form.Get("scope")).Has(oauth2.ScopeOpenID) {
		return nil
	}
	if byValue == "" && byReference == "" {
		return nil
	}
	if byValue != "" && byReference != "" {
		return oauth2.ErrInvalidRequest.WithHint("OpenID Connect parameters 'request' and 'request_uri' were both given, but you can use at most one.")
	}

	raw := byValue
	if byReference != "" {
		fetched, err := p.fetchRequestObject(ctx, ar, byReference)
		if err != nil {
			return err
		}
		raw = fetched
	}

	claims, err := p.verifyRequestObject(ctx, ar, raw)
	if err != nil {
		return err
	}
	if id, ok := claims["client_id"].(string); ok && id != ar.GetClientID() {
		return oauth2.ErrInvalidRequestObject.WithHint("The client_id of the request object does not match the client_id of the request.")
	}

	for key, value := range claims {
		if key == "request" || key == "request_uri" {
			continue
		}
		ar.Form.Set(key, claimToParameter(value))
	}
	return nil
}

func (p *Provider) fetchRequestObject(ctx context.Context, ar *oauth2.AuthorizeRequest, uri string) (string, error) {
	if !slices.Contains(ar.Client.RequestURIs, uri) {
		return "", oauth2.ErrInvalidRequestURI.WithHint("The request_uri is not registered for this client.")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", oauth2.ErrInvalidRequestURI.WithHint("Unable to build a request for the request_uri.").WithCause(err)
	}
	res, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", oauth2.ErrInvalidRequestURI.WithHint("Unable to fetch the OpenID Connect request object from the request_uri.").WithCause(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", oauth2.ErrInvalidRequestURI.WithHintf("The request_uri responded with status code %d.", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxRequestObjectSize))
	if err != nil {
		return "", oauth2.ErrInvalidRequestURI.WithHint("Unable to read the OpenID Connect request object.").WithCause(err)
	}
	return strings.TrimSpace(string(body)), nil
}

// verifyRequestObject checks the signature with the client's keys. Unsigned
// objects are only accepted from clients registered with algorithm "none".
func (p *Provider) verifyRequestObject(ctx context.Context, ar *oauth2.AuthorizeRequest, raw string) (jwtlib.MapClaims, error) {
	alg := ar.Client.RequestObjectSigningAlg
	if alg == "" {
		alg = keys.RS256
	}

	var claims jwtlib.MapClaims
	if alg == jwtlib.SigningMethodNone.Alg() {
		claims = jwtlib.MapClaims{}
		token, _, err := jwtlib.NewParser().ParseUnverified(raw, claims)
		if err != nil {
			return nil, oauth2.ErrInvalidRequestObject.WithHint("Unable to parse the unsigned request object.").WithCause(err)
		}
		if token.Method.Alg() != alg {
			return nil, oauth2.ErrInvalidRequestObject.WithHintf("The request object must be unsigned, but was signed with '%s'.", token.Method.Alg())
		}
	} else {
		verified, err := p.RequestObjectKeys.Verify(ctx, ar.Client, raw, alg)
		if err != nil {
			return nil, oauth2.ErrInvalidRequestObject.WithHint("Unable to verify the request object's signature.").WithCause(err)
		}
		claims = verified
	}

	if err := jwtlib.NewValidator(jwtlib.WithTimeFunc(p.Config.Now)).Validate(claims); err != nil {
		return nil, oauth2.ErrInvalidRequestObject.WithHint("The request object is expired or not yet valid.").WithCause(err)
	}
	return claims, nil
}

func claimToParameter(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		return strings.Join(utils.ToStringSlice(v), " ")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
