package clientauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/jwks"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

// AssertionType is the client_assertion_type of RFC 7523 client assertions.
const AssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// PrivateKeyJWTConfig is what private_key_jwt authentication reads from configuration.
type PrivateKeyJWTConfig interface {
	config.Clock
	config.TokenURLProvider
}

var _ Authenticator = (*PrivateKeyJWT)(nil)

// PrivateKeyJWT implements private_key_jwt: the client signs an assertion with a
// key it registered. Assertion ids are remembered until expiry to stop replays.
type PrivateKeyJWT struct {
	clients oauth2.ClientManager
	keys    *jwks.Resolver
	replays oauth2.ClientAssertionJWTStorage
	config  PrivateKeyJWTConfig
}

// NewPrivateKeyJWT creates the private key JWT authenticator.
func NewPrivateKeyJWT(manager oauth2.ClientManager, resolver *jwks.Resolver, replays oauth2.ClientAssertionJWTStorage, cfg PrivateKeyJWTConfig) *PrivateKeyJWT {
	return &PrivateKeyJWT{clients: manager, keys: resolver, replays: replays, config: cfg}
}

func (p *PrivateKeyJWT) Supports(_ *http.Request, form url.Values) bool {
	return form.Get("client_assertion_type") == AssertionType && form.Get("client_assertion") != ""
}

func (p *PrivateKeyJWT) Authenticate(ctx context.Context, _ *http.Request, form url.Values) (*clients.Client, error) {
	assertion := form.Get("client_assertion")

	clientID := form.Get("client_id")
	if clientID == "" {
		// The issuer names the client; it is trusted only once the signature checks out below.
		unverified := jwtlib.MapClaims{}
		if _, _, err := jwtlib.NewParser().ParseUnverified(assertion, unverified); err != nil {
			return nil, oauth2.ErrInvalidClient.WithHint("Unable to decode the client assertion.").WithCause(err)
		}
		clientID, _ = unverified["iss"].(string)
		if clientID == "" {
			return nil, oauth2.ErrInvalidClient.WithHint("The client assertion must carry the client id in the 'iss' claim.")
		}
	}

	client, err := lookupClient(ctx, p.clients, clientID)
	if err != nil {
		return nil, err
	}
	if err := requireMethod(client, clients.AuthMethodPrivateKeyJWT); err != nil {
		return nil, err
	}

	alg := client.TokenEndpointAuthSigningAlg
	if alg == "" {
		alg = keys.RS256
	}
	claims, err := p.keys.Verify(ctx, client, assertion, alg)
	if err != nil {
		return nil, oauth2.ErrInvalidClient.WithHint("Unable to verify the integrity of the client assertion.").WithCause(err)
	}

	validator := jwtlib.NewValidator(
		jwtlib.WithAudience(p.config.GetTokenURL()),
		jwtlib.WithIssuer(client.ID),
		jwtlib.WithSubject(client.ID),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(p.config.Now),
	)
	if err := validator.Validate(claims); err != nil {
		return nil, oauth2.ErrInvalidClient.WithHint("The client assertion claims are invalid.").WithCause(err)
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, oauth2.ErrInvalidClient.WithHint("The client assertion must carry a 'jti' claim.")
	}
	if err := p.replays.ClientAssertionJWTValid(ctx, jti); err != nil {
		return nil, oauth2.ErrJTIKnown.WithHint("The client assertion 'jti' has already been used.").WithCause(err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, oauth2.ErrInvalidClient.WithHint("The client assertion must carry an 'exp' claim.")
	}
	if err := p.replays.SetClientAssertionJWT(ctx, jti, exp.Time); errors.Is(err, oauth2.ErrJTIKnown) {
		return nil, oauth2.ErrJTIKnown.WithHint("The client assertion 'jti' has already been used.").WithCause(err)
	} else if err != nil {
		return nil, oauth2.ErrServerError.WithCause(err)
	}
	return client, nil
}
