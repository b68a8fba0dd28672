package provider

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jrsteele09/go-oauth-engine/clientauth"
	"github.com/jrsteele09/go-oauth-engine/instrumentation"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// NewIntrospectionRequest answers an RFC 7662 introspection request. Errors
// are returned only for malformed requests and unauthenticated callers; a token
// that fails validation yields an inactive response.
func (p *Provider) NewIntrospectionRequest(ctx context.Context, r *http.Request) (*oauth2.IntrospectionResponse, error) {
	ctx, span := p.inst.Start(ctx, opIntrospection)
	defer span.End()

	if r.Method != http.MethodPost {
		err := oauth2.ErrInvalidRequest.WithHintf("HTTP method is '%s', expected 'POST'.", r.Method)
		return nil, p.fail(ctx, span, opIntrospection, "", err)
	}
	if err := r.ParseForm(); err != nil {
		err := oauth2.ErrInvalidRequest.WithHint("Unable to parse HTTP body, make sure to send a properly formatted form request body.").WithCause(err)
		return nil, p.fail(ctx, span, opIntrospection, "", err)
	}
	token := r.PostForm.Get("token")
	if token == "" {
		err := oauth2.ErrInvalidRequest.WithHint("The POST body can not be empty.").WithParam("token")
		return nil, p.fail(ctx, span, opIntrospection, "", err)
	}

	caller, err := p.IntrospectionAuth.Authenticate(ctx, r, r.PostForm)
	if err != nil {
		return nil, p.fail(ctx, span, opIntrospection, "", err)
	}
	if bearer := clientauth.BearerToken(r); bearer != "" && bearer == token {
		err := oauth2.ErrInvalidRequest.WithHint("Bearer and introspection token are identical.")
		return nil, p.fail(ctx, span, opIntrospection, caller.ID, err)
	}
	span.SetAttributes(attribute.String(instrumentation.AttrClientID, caller.ID))

	hint := tokenTypeHint(r.PostForm.Get("token_type_hint"))
	scopes := oauth2.SplitArguments(r.PostForm.Get("scope"))

	resp := &oauth2.IntrospectionResponse{}
	for _, introspector := range p.Introspectors {
		tokenUse, issued, err := introspector.IntrospectToken(ctx, token, hint, scopes...)
		if err != nil {
			p.logger.Debug().Err(err).Str("client_id", caller.ID).Msg("introspector rejected token")
			continue
		}
		resp = &oauth2.IntrospectionResponse{Active: true, TokenUse: tokenUse, Requester: issued}
		break
	}

	p.inst.Metrics().Introspections.Add(ctx, 1, metric.WithAttributes(attribute.Bool(instrumentation.AttrActive, resp.Active)))
	span.SetAttributes(attribute.Bool(instrumentation.AttrActive, resp.Active))
	instrumentation.SetSuccess(span)
	return resp, nil
}

func tokenTypeHint(raw string) oauth2.TokenType {
	switch oauth2.TokenType(raw) {
	case oauth2.AccessToken:
		return oauth2.AccessToken
	case oauth2.RefreshToken:
		return oauth2.RefreshToken
	default:
		return ""
	}
}
