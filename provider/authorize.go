package provider

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jrsteele09/go-oauth-engine/instrumentation"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// NewAuthorizeRequest parses and validates an authorization request. The
// returned request is never nil: once its RedirectURI is set, errors may be
// redirected to the client with AuthorizeErrorResponse.
func (p *Provider) NewAuthorizeRequest(ctx context.Context, r *http.Request) (*oauth2.AuthorizeRequest, error) {
	ctx, span := p.inst.Start(ctx, opAuthorizeRequest)
	defer span.End()

	ar := oauth2.NewAuthorizeRequest()
	ar.RequestedAt = p.Config.Now()
	if err := p.parseAuthorizeRequest(ctx, r, ar); err != nil {
		return ar, p.fail(ctx, span, opAuthorizeRequest, ar.GetClientID(), err)
	}

	span.SetAttributes(
		attribute.String(instrumentation.AttrClientID, ar.GetClientID()),
		attribute.String(instrumentation.AttrResponseType, ar.ResponseTypes.String()),
	)
	instrumentation.SetSuccess(span)
	return ar, nil
}

func (p *Provider) parseAuthorizeRequest(ctx context.Context, r *http.Request, ar *oauth2.AuthorizeRequest) error {
	if err := r.ParseForm(); err != nil {
		return oauth2.ErrInvalidRequest.WithHint("Unable to parse HTTP body, make sure to send a properly formatted form request body.").WithCause(err)
	}
	ar.Form = r.Form

	client, err := p.Clients.GetClient(ctx, ar.Form.Get("client_id"))
	if err != nil {
		return oauth2.ErrInvalidClient.WithHint("The requested OAuth 2.0 Client does not exist.").WithCause(err)
	}
	ar.Client = client

	if err := p.mergeRequestObject(ctx, ar); err != nil {
		return err
	}

	// Response types and mode come first so that later errors redirect correctly.
	redirectURI, err := oauth2.MatchRedirectURI(ar.Form.Get("redirect_uri"), client)
	if err != nil {
		return err
	}
	if !oauth2.IsRedirectURISecure(redirectURI) {
		return oauth2.ErrInvalidRequest.WithHint("Redirect URL is using an insecure protocol, http is only allowed for loopback hosts.").WithParam("redirect_uri")
	}
	ar.RedirectURI = redirectURI
	ar.State = ar.Form.Get("state")

	if err := p.resolveResponseTypes(ar); err != nil {
		return err
	}
	if err := p.resolveResponseMode(ar); err != nil {
		return err
	}

	if len(ar.State) < p.Config.GetMinParameterEntropy() {
		return oauth2.ErrInvalidState.WithHintf("Request parameter 'state' must be at least be %d characters long to ensure sufficient entropy.", p.Config.GetMinParameterEntropy())
	}

	ar.SetRequestedScopes(oauth2.SplitArguments(ar.Form.Get("scope")))
	if err := oauth2.ValidateScopes(p.Config.GetScopeStrategy(), client.Scopes, ar.RequestedScope); err != nil {
		return err
	}

	ar.Nonce = ar.Form.Get("nonce")
	return nil
}

// resolveResponseTypes requires the requested combination to be registered by the client.
func (p *Provider) resolveResponseTypes(ar *oauth2.AuthorizeRequest) error {
	requested := oauth2.SplitArguments(ar.Form.Get("response_type"))
	if len(requested) == 0 {
		return oauth2.ErrUnsupportedResponseType.WithHint("The request is missing the 'response_type' parameter.").WithParam("response_type")
	}
	ar.ResponseTypes = requested

	for _, registered := range ar.Client.GetResponseTypes() {
		if oauth2.SplitArguments(registered).Matches(requested...) {
			return nil
		}
	}
	return oauth2.ErrUnsupportedResponseType.WithHintf("The client is not allowed to request response_type '%s'.", ar.Form.Get("response_type"))
}

func (p *Provider) resolveResponseMode(ar *oauth2.AuthorizeRequest) error {
	mode := oauth2.ResponseModeType(ar.Form.Get("response_mode"))
	switch mode {
	case oauth2.ResponseModeDefault:
		ar.ResponseMode = ar.DefaultResponseMode()
		return nil
	case oauth2.ResponseModeQuery:
		if !ar.ResponseTypes.ExactOne(oauth2.ResponseTypeCode) {
			ar.ResponseMode = ar.DefaultResponseMode()
			return oauth2.ErrInvalidRequest.WithHint("Insecure response_mode 'query' for a response_type returning tokens from the authorization endpoint.").WithParam("response_mode")
		}
	case oauth2.ResponseModeFragment, oauth2.ResponseModeFormPost:
	default:
		ar.ResponseMode = ar.DefaultResponseMode()
		return oauth2.ErrInvalidRequest.WithHintf("Request with unsupported response_mode '%s'.", mode).WithParam("response_mode")
	}
	ar.ResponseMode = mode
	return nil
}

// NewAuthorizeResponse runs the validators and the authorize handler chain for
// a request the resource owner has authenticated and consented to. The caller
// grants scopes on ar before calling it.
func (p *Provider) NewAuthorizeResponse(ctx context.Context, ar *oauth2.AuthorizeRequest, session oauth2.Session) (*oauth2.AuthorizeResponse, error) {
	ctx, span := p.inst.Start(ctx, opAuthorizeResponse,
		attribute.String(instrumentation.AttrClientID, ar.GetClientID()),
		attribute.String(instrumentation.AttrResponseType, ar.ResponseTypes.String()),
	)
	defer span.End()

	resp, err := p.authorize(ctx, ar, session)
	if err != nil {
		return nil, p.fail(ctx, span, opAuthorizeResponse, ar.GetClientID(), err)
	}

	p.inst.Metrics().AuthorizeRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String(instrumentation.AttrResponseType, ar.ResponseTypes.String()),
	))
	p.logger.Debug().
		Str("client_id", ar.GetClientID()).
		Str("request_id", ar.ID).
		Str("response_type", ar.ResponseTypes.String()).
		Msg("authorize request granted")
	instrumentation.SetSuccess(span)
	return resp, nil
}

func (p *Provider) authorize(ctx context.Context, ar *oauth2.AuthorizeRequest, session oauth2.Session) (*oauth2.AuthorizeResponse, error) {
	if session == nil {
		return nil, oauth2.ErrServerError.WithHint("An authorize response requires a session.")
	}
	ar.Session = session
	if oidc, ok := session.(*oauth2.OpenIDSession); ok && oidc.IDClaims != nil && oidc.IDClaims.RequestedAt.IsZero() {
		oidc.IDClaims.RequestedAt = ar.RequestedAt
	}

	for _, scope := range ar.GrantedScope {
		if !ar.RequestedScope.Has(scope) {
			return nil, oauth2.ErrInvalidScope.WithHintf("Scope '%s' was granted but not requested.", scope)
		}
	}

	for _, validator := range p.AuthorizeValidators {
		if err := validator.ValidateAuthorizeRequest(ctx, ar); err != nil {
			return nil, err
		}
	}

	resp := oauth2.NewAuthorizeResponse(ar.ResponseMode)
	for _, handler := range p.AuthorizeHandlers {
		if !handler.CanHandleAuthorizeEndpointRequest(ar) {
			continue
		}
		if err := handler.HandleAuthorizeEndpointRequest(ctx, ar, resp); err != nil {
			return nil, err
		}
	}

	if !ar.DidHandleAllResponseTypes() {
		return nil, oauth2.ErrUnsupportedResponseType.WithHintf("The authorization server does not support response_type '%s'.", ar.ResponseTypes)
	}
	return resp, nil
}

// AuthorizeErrorResponse builds the redirect carrying err back to the client.
// It returns a nil response when the request never resolved a trusted redirect
// URI; the host must then render the error itself.
func (p *Provider) AuthorizeErrorResponse(ar *oauth2.AuthorizeRequest, err error) (*oauth2.AuthorizeResponse, *oauth2.Error) {
	rfcErr := oauth2.ErrorToRFC6749(err)
	if ar == nil || ar.RedirectURI == nil {
		return nil, rfcErr
	}

	mode := ar.ResponseMode
	if mode == oauth2.ResponseModeDefault {
		mode = oauth2.ResponseModeQuery
		if len(ar.ResponseTypes) > 0 {
			mode = ar.DefaultResponseMode()
		}
	}

	resp := oauth2.NewAuthorizeResponse(mode)
	for key, values := range rfcErr.ToValues(p.Config.GetSendDebugMessages()) {
		resp.Parameters[key] = values
	}
	if ar.State != "" {
		resp.AddParameter("state", ar.State)
	}
	return resp, rfcErr
}
