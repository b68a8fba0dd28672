// Package compose resolves every collaborator of the engine once, at
// construction, and returns a ready Provider. Handlers built here never see a
// nil collaborator.
package compose

import (
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-oauth-engine/clientauth"
	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/grant"
	"github.com/jrsteele09/go-oauth-engine/jwks"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/openid"
	"github.com/jrsteele09/go-oauth-engine/pkce"
	"github.com/jrsteele09/go-oauth-engine/provider"
	"github.com/jrsteele09/go-oauth-engine/token/hmac"
	"github.com/jrsteele09/go-oauth-engine/token/jwt"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

const defaultHTTPTimeout = 10 * time.Second

// Storage is everything the engine persists. The memory, redis and sqlite
// stores all satisfy it.
type Storage interface {
	oauth2.ClientManager
	oauth2.AuthorizeCodeStorage
	oauth2.TokenRevocationStorage
	oauth2.OpenIDConnectRequestStorage
	oauth2.PKCERequestStorage
	oauth2.ClientAssertionJWTStorage
}

type options struct {
	httpClient *http.Client
	hasher     clients.SecretHasher
	provider   []provider.Option
}

// Option configures Compose.
type Option func(*options)

// WithHTTPClient sets the client used for jwks_uri and request_uri fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithSecretHasher replaces the bcrypt client secret hasher.
func WithSecretHasher(h clients.SecretHasher) Option {
	return func(o *options) {
		o.hasher = h
	}
}

// WithProviderOptions passes options through to provider.New.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(o *options) {
		o.provider = append(o.provider, opts...)
	}
}

// Compose builds a Provider with every flow enabled. owners authenticates
// resource owners for the password grant.
func Compose(cfg *config.Config, store Storage, signer keys.Signer, owners grant.ResourceOwnerAuthenticator, opts ...Option) (*provider.Provider, error) {
	if cfg == nil {
		return nil, errors.New("[compose.Compose] Config is required")
	}
	if store == nil {
		return nil, errors.New("[compose.Compose] Storage is required")
	}
	if signer == nil {
		return nil, errors.New("[compose.Compose] Signer is required")
	}
	if owners == nil {
		return nil, errors.New("[compose.Compose] ResourceOwnerAuthenticator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	o := options{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		hasher:     &clients.BCrypt{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	opaque := hmac.New(cfg)
	var (
		tokens    grant.TokenStrategy = opaque
		jwtTokens *jwt.Strategy
	)
	if cfg.UseJWTAccessTokens() {
		jwtTokens = jwt.NewStrategy(cfg, signer, opaque)
		tokens = jwtTokens
	}

	issuer := grant.NewTokenIssuer(tokens, store, cfg)
	hints := openid.NewHintVerifier(cfg.GetIssuer(), signer, cfg)
	idTokens := openid.NewDefaultStrategy(signer, hints, cfg)

	codes := grant.NewAuthorizeCodeHandler(opaque, store, issuer, cfg)
	implicit := grant.NewImplicitHandler(tokens, store, cfg)
	proofKeys := pkce.NewHandler(opaque, store, pkce.NewValidators(cfg.GetEnablePKCEPlainChallengeMethod()), cfg)
	explicitOIDC := openid.NewExplicitHandler(opaque, store, idTokens, cfg)

	core := grant.NewCoreIntrospector(tokens, store, cfg)
	introspectors := []oauth2.TokenIntrospector{core}
	if cfg.StatelessIntrospection && jwtTokens != nil {
		introspectors = []oauth2.TokenIntrospector{jwt.NewIntrospector(jwtTokens, store, cfg), core}
	}

	keySets := jwks.NewResolver(o.httpClient)
	basic := clientauth.NewBasic(store, o.hasher)
	post := clientauth.NewPost(store, o.hasher)
	assertion := clientauth.NewPrivateKeyJWT(store, keySets, store, cfg)

	deps := provider.Deps{
		Config:  cfg,
		Clients: store,
		AuthorizeHandlers: oauth2.AuthorizeEndpointHandlers{
			codes,
			implicit,
			openid.NewHybridHandler(codes, implicit, opaque, store, idTokens, cfg),
			proofKeys,
			explicitOIDC,
			openid.NewImplicitHandler(implicit, idTokens, cfg),
		},
		AuthorizeValidators: []oauth2.AuthorizeRequestValidator{
			openid.NewValidator(hints, cfg),
		},
		TokenHandlers: oauth2.TokenEndpointHandlers{
			codes,
			grant.NewRefreshTokenHandler(opaque, store, issuer, cfg),
			grant.NewClientCredentialsHandler(issuer, cfg),
			grant.NewResourceOwnerPasswordHandler(owners, issuer, cfg),
			proofKeys,
			explicitOIDC,
			openid.NewRefreshHandler(idTokens, cfg),
		},
		Introspectors:     introspectors,
		Revocation:        grant.NewTokenRevocationHandler(tokens, store),
		TokenAuth:         clientauth.Chain{basic, post, assertion, clientauth.NewNone(store)},
		IntrospectionAuth: clientauth.Chain{basic, post, assertion, clientauth.NewBearer(core)},
		RequestObjectKeys: keySets,
		HTTPClient:        o.httpClient,
	}
	return provider.New(deps, o.provider...)
}
