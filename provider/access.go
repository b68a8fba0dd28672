package provider

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jrsteele09/go-oauth-engine/instrumentation"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// NewAccessRequest authenticates the client and runs the validation phase of
// every token handler that claims the grant. No token is minted yet.
func (p *Provider) NewAccessRequest(ctx context.Context, r *http.Request, session oauth2.Session) (*oauth2.AccessRequest, error) {
	ctx, span := p.inst.Start(ctx, opAccessRequest)
	defer span.End()

	ar := oauth2.NewAccessRequest(session)
	ar.RequestedAt = p.Config.Now()
	if err := p.handleAccessRequest(ctx, r, ar); err != nil {
		return ar, p.fail(ctx, span, opAccessRequest, ar.GetClientID(), err)
	}

	span.SetAttributes(
		attribute.String(instrumentation.AttrClientID, ar.GetClientID()),
		attribute.String(instrumentation.AttrGrantType, ar.GrantTypes.String()),
	)
	instrumentation.SetSuccess(span)
	return ar, nil
}

func (p *Provider) handleAccessRequest(ctx context.Context, r *http.Request, ar *oauth2.AccessRequest) error {
	if r.Method != http.MethodPost {
		return oauth2.ErrInvalidRequest.WithHintf("HTTP method is '%s', expected 'POST'.", r.Method)
	}
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithHint("Unable to parse HTTP body, make sure to send a properly formatted form request body.").WithCause(err)
	}
	if ar.Session == nil {
		return oauth2.ErrServerError.WithHint("An access request requires a session.")
	}

	ar.Form = r.PostForm
	ar.SetRequestedScopes(oauth2.SplitArguments(ar.Form.Get("scope")))
	ar.GrantTypes = oauth2.SplitArguments(ar.Form.Get("grant_type"))
	if len(ar.GrantTypes) == 0 {
		return oauth2.ErrInvalidRequest.WithHint("Request parameter 'grant_type' is missing").WithParam("grant_type")
	}

	client, err := p.TokenAuth.Authenticate(ctx, r, ar.Form)
	if err != nil {
		return err
	}
	ar.Client = client

	if !p.TokenHandlers.CanHandle(ar) {
		return oauth2.ErrUnsupportedGrantType.WithHintf("The OAuth 2.0 grant_type '%s' is not supported.", ar.GrantTypes)
	}
	for _, handler := range p.TokenHandlers {
		if !handler.CanHandleTokenEndpointRequest(ar) {
			continue
		}
		if err := handler.HandleTokenEndpointRequest(ctx, ar); err != nil {
			return err
		}
	}
	ar.HandledGrantTypes = ar.HandledGrantTypes.Append(ar.GrantTypes...)
	return nil
}

// NewAccessResponse runs the populate phase of the token handlers and returns
// the token response. It must only be called with a request returned by
// NewAccessRequest without error.
func (p *Provider) NewAccessResponse(ctx context.Context, ar *oauth2.AccessRequest) (*oauth2.AccessResponse, error) {
	ctx, span := p.inst.Start(ctx, opAccessResponse,
		attribute.String(instrumentation.AttrClientID, ar.GetClientID()),
		attribute.String(instrumentation.AttrGrantType, ar.GrantTypes.String()),
	)
	defer span.End()

	resp := oauth2.NewAccessResponse()
	for _, handler := range p.TokenHandlers {
		if !handler.CanHandleTokenEndpointRequest(ar) {
			continue
		}
		if err := handler.PopulateTokenEndpointResponse(ctx, ar, resp); err != nil {
			return nil, p.fail(ctx, span, opAccessResponse, ar.GetClientID(), err)
		}
	}
	if resp.AccessToken == "" {
		err := oauth2.ErrServerError.WithHint("Access token was not issued by any token handler.")
		return nil, p.fail(ctx, span, opAccessResponse, ar.GetClientID(), err)
	}

	p.inst.Metrics().TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrGrantType, ar.GrantTypes.String()),
	))
	p.logger.Debug().
		Str("client_id", ar.GetClientID()).
		Str("request_id", ar.ID).
		Str("grant_type", ar.GrantTypes.String()).
		Bool("refresh_token", resp.RefreshToken != "").
		Bool("id_token", resp.IDToken != "").
		Msg("tokens issued")
	instrumentation.SetSuccess(span)
	return resp, nil
}
