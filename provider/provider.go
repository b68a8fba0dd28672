// Package provider orchestrates the authorization, token, introspection and
// revocation endpoints over the handler chains it is built with.
package provider

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrsteele09/go-oauth-engine/clientauth"
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/instrumentation"
	"github.com/jrsteele09/go-oauth-engine/jwks"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// Operation names used for spans and logs.
const (
	opAuthorizeRequest  = "oauth.authorize.request"
	opAuthorizeResponse = "oauth.authorize.response"
	opAccessRequest     = "oauth.token.request"
	opAccessResponse    = "oauth.token.response"
	opIntrospection     = "oauth.introspect"
	opRevocation        = "oauth.revoke"
)

// Deps are the collaborators a Provider runs with. Every field is required.
type Deps struct {
	Config  config.ProviderConfig
	Clients oauth2.ClientManager

	AuthorizeHandlers   oauth2.AuthorizeEndpointHandlers
	AuthorizeValidators []oauth2.AuthorizeRequestValidator
	TokenHandlers       oauth2.TokenEndpointHandlers
	Introspectors       []oauth2.TokenIntrospector
	Revocation          oauth2.RevocationHandler

	// TokenAuth authenticates clients at the token and revocation endpoints.
	TokenAuth clientauth.Chain
	// IntrospectionAuth authenticates callers of the introspection endpoint.
	IntrospectionAuth clientauth.Chain

	// RequestObjectKeys verifies OIDC request objects.
	RequestObjectKeys *jwks.Resolver
	// HTTPClient fetches request_uri documents.
	HTTPClient *http.Client
}

// Provider is the OAuth 2.0 / OpenID Connect engine.
type Provider struct {
	Deps
	logger zerolog.Logger
	inst   *instrumentation.Instrumentation
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. The global zerolog logger is used by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithInstrumentation records spans and metrics with inst.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(p *Provider) {
		p.inst = inst
	}
}

// New creates a Provider. Handler chains run in the order given.
func New(deps Deps, options ...Option) (*Provider, error) {
	if deps.Config == nil {
		return nil, errors.New("[provider.New] Config is required")
	}
	if deps.Clients == nil {
		return nil, errors.New("[provider.New] Clients is required")
	}
	if len(deps.AuthorizeHandlers) == 0 {
		return nil, errors.New("[provider.New] at least one authorize handler is required")
	}
	if len(deps.TokenHandlers) == 0 {
		return nil, errors.New("[provider.New] at least one token handler is required")
	}
	if len(deps.Introspectors) == 0 {
		return nil, errors.New("[provider.New] at least one introspector is required")
	}
	if deps.Revocation == nil {
		return nil, errors.New("[provider.New] Revocation is required")
	}
	if len(deps.TokenAuth) == 0 {
		return nil, errors.New("[provider.New] TokenAuth is required")
	}
	if len(deps.IntrospectionAuth) == 0 {
		return nil, errors.New("[provider.New] IntrospectionAuth is required")
	}
	if deps.RequestObjectKeys == nil {
		return nil, errors.New("[provider.New] RequestObjectKeys is required")
	}
	if deps.HTTPClient == nil {
		return nil, errors.New("[provider.New] HTTPClient is required")
	}

	p := &Provider{
		Deps:   deps,
		logger: log.Logger,
		inst:   instrumentation.Disabled(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// fail converts err to a protocol error, then records and logs it.
func (p *Provider) fail(ctx context.Context, span trace.Span, op, clientID string, err error) *oauth2.Error {
	rfcErr := oauth2.ErrorToRFC6749(err)
	p.inst.RecordError(ctx, span, op, string(rfcErr.Kind), err)

	event := p.logger.Debug()
	if rfcErr.Kind == oauth2.KindServerError {
		event = p.logger.Error()
	}
	event.Err(err).
		Str("operation", op).
		Str("client_id", clientID).
		Str("kind", string(rfcErr.Kind)).
		Str("reason", rfcErr.Reason).
		Msg("request rejected")
	return rfcErr
}
