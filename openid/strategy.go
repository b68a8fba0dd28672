// Package openid implements OpenID Connect on top of the OAuth 2.0 flows: the
// request validator, ID token minting and the explicit, implicit, hybrid and
// refresh flow handlers.
package openid

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/token/jwt"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

// authTimeLeeway absorbs clock skew between the login UI and this server.
const authTimeLeeway = 5 * time.Second

const defaultIDTokenLifespan = time.Hour

var _ oauth2.IDTokenStrategy = (*DefaultStrategy)(nil)

// DefaultStrategy mints ID tokens signed by signer.
type DefaultStrategy struct {
	signer keys.Signer
	hints  *HintVerifier
	config config.OpenIDProvider
}

// NewDefaultStrategy creates the ID token strategy.
func NewDefaultStrategy(signer keys.Signer, hints *HintVerifier, cfg config.OpenIDProvider) *DefaultStrategy {
	return &DefaultStrategy{signer: signer, hints: hints, config: cfg}
}

// SigningAlgorithm is the JWS algorithm ID tokens are signed with.
func (s *DefaultStrategy) SigningAlgorithm() string {
	return s.signer.GetSigningMethod().Alg()
}

// GenerateIDToken signs the session's ID token claims. Unless the token is
// minted for a refresh, authentication freshness is checked again against
// prompt, max_age and id_token_hint from r's form.
func (s *DefaultStrategy) GenerateIDToken(ctx context.Context, lifespan time.Duration, r *oauth2.Request, grantType string) (string, error) {
	if lifespan == 0 {
		lifespan = defaultIDTokenLifespan
	}
	session, err := oauth2.AsOpenIDSession(r.Session)
	if err != nil {
		return "", err
	}
	claims := session.IDClaims
	if claims.Subject == "" {
		return "", oauth2.ErrServerError.WithHint("Failed to generate id token because subject is an empty string.")
	}

	now := s.config.Now()
	if grantType != oauth2.GrantTypeRefreshToken {
		if err := s.checkAuthentication(ctx, claims, r, now); err != nil {
			return "", err
		}
	}

	if claims.ExpiresAt.IsZero() {
		claims.ExpiresAt = now.Add(lifespan)
	}
	if claims.ExpiresAt.Before(now) {
		return "", oauth2.ErrServerError.WithHint("Failed to generate id token because expiry claim can not be in the past.")
	}
	// A refreshed ID token carries no auth_time since no one authenticated.
	if claims.AuthTime.IsZero() && grantType != oauth2.GrantTypeRefreshToken {
		claims.AuthTime = now.Truncate(time.Second)
	}
	if claims.Issuer == "" {
		claims.Issuer = s.config.GetIssuer()
	}

	nonce := r.Form.Get("nonce")
	if nonce != "" && len(nonce) < s.config.GetMinParameterEntropy() {
		return "", oauth2.ErrInsufficientEntropy.WithHintf("Parameter 'nonce' is set but does not satisfy the minimum entropy of %d characters.", s.config.GetMinParameterEntropy()).WithParam("nonce")
	}
	claims.Nonce = nonce

	if !slices.Contains(claims.Audience, r.GetClientID()) {
		claims.Audience = append(claims.Audience, r.GetClientID())
	}
	claims.IssuedAt = now
	if claims.JTI == "" {
		claims.JTI = uuid.NewString()
	}

	token, err := s.signer.Sign(ctx, jwt.IDClaimsToMap(claims), session.IDHeaders)
	if err != nil {
		return "", oauth2.ErrServerError.WithCause(err)
	}
	return token, nil
}

func (s *DefaultStrategy) checkAuthentication(ctx context.Context, claims *oauth2.IDTokenClaims, r *oauth2.Request, now time.Time) error {
	if claims.AuthTime.After(now.Add(authTimeLeeway)) {
		return oauth2.ErrServerError.WithHint("Failed to generate id token because authentication time claim is in the future.")
	}

	if maxAge := parseMaxAge(r.Form.Get("max_age")); maxAge > 0 {
		if claims.AuthTime.IsZero() {
			return oauth2.ErrServerError.WithHint("Failed to generate id token because authentication time claim is required when max_age is set.")
		}
		if claims.RequestedAt.IsZero() {
			return oauth2.ErrServerError.WithHint("Failed to generate id token because requested at claim is required when max_age is set.")
		}
		if claims.AuthTime.Add(maxAge).Before(claims.RequestedAt) {
			return oauth2.ErrLoginRequired.WithHint("Failed to generate id token because authentication time does not satisfy max_age time.")
		}
	}

	prompt := r.Form.Get("prompt")
	if prompt != "" && claims.AuthTime.IsZero() {
		return oauth2.ErrServerError.WithHint("Unable to determine validity of prompt parameter because auth_time is missing in id token claims.")
	}
	switch prompt {
	case "none":
		if claims.AuthTime.After(claims.RequestedAt) {
			return oauth2.ErrServerError.WithHint("Failed to generate id token because prompt was set to 'none' but auth_time happened after the authorization request was registered.")
		}
	case "login":
		if claims.AuthTime.Before(claims.RequestedAt) {
			return oauth2.ErrServerError.WithHint("Failed to generate id token because prompt was set to 'login' but auth_time happened before the authorization request was registered.")
		}
	}

	// No acr was asserted although one was requested: level 0.
	if r.Form.Get("acr_values") != "" && claims.AuthenticationContextClassReference == "" {
		claims.AuthenticationContextClassReference = "0"
	}

	if hint := r.Form.Get("id_token_hint"); hint != "" {
		subject, err := s.hints.Subject(ctx, hint)
		if err != nil {
			return oauth2.ErrServerError.WithHint("Unable to decode id token from 'id_token_hint' parameter.").WithCause(err)
		}
		if subject == "" {
			return oauth2.ErrServerError.WithHint("Provided id token from 'id_token_hint' does not have a subject.")
		}
		if subject != claims.Subject {
			return oauth2.ErrServerError.WithHint("Subject from authorization mismatches id token subject from 'id_token_hint'.")
		}
	}
	return nil
}

func parseMaxAge(raw string) time.Duration {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
