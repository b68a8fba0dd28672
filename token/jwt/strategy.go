package jwt

import (
	"context"
	"errors"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

// Config is what the JWT strategy reads from configuration.
type Config interface {
	config.LifespanProvider
	config.IssuerProvider
}

var _ oauth2.CoreStrategy = (*Strategy)(nil)

// Strategy issues access tokens as signed JWTs. Authorize codes and refresh
// tokens stay opaque and are delegated to the wrapped strategy.
type Strategy struct {
	oauth2.AuthorizeCodeStrategy
	oauth2.RefreshTokenStrategy

	signer keys.Signer
	config Config
}

// NewStrategy creates a JWT access token strategy. opaque handles codes and refresh tokens.
func NewStrategy(cfg Config, signer keys.Signer, opaque oauth2.CoreStrategy) *Strategy {
	return &Strategy{
		AuthorizeCodeStrategy: opaque,
		RefreshTokenStrategy:  opaque,
		signer:                signer,
		config:                cfg,
	}
}

// AccessTokenSignature returns the third JWT segment.
func (s *Strategy) AccessTokenSignature(_ context.Context, token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// GenerateAccessToken signs the session's access token claims. The claims are
// completed in place: jti, iss, aud=[client id], iat, exp and scope.
func (s *Strategy) GenerateAccessToken(ctx context.Context, r *oauth2.Request) (oauth2.Token, error) {
	claims, headers, err := oauth2.JWTClaimsOf(r.Session)
	if err != nil {
		return oauth2.Token{}, err
	}

	now := s.config.Now()
	exp := r.Session.GetExpiresAt(oauth2.AccessToken)
	if exp.IsZero() {
		exp = now.Add(s.config.GetAccessTokenLifespan())
	}

	claims.JTI = uuid.NewString()
	if claims.Issuer == "" {
		claims.Issuer = s.config.GetIssuer()
	}
	if claims.Subject == "" {
		claims.Subject = r.Session.GetSubject()
	}
	claims.Audience = []string{r.GetClientID()}
	claims.ClientID = r.GetClientID()
	claims.IssuedAt = now
	claims.ExpiresAt = exp
	claims.Scope = append([]string{}, r.GrantedScope...)

	header := map[string]any{"typ": "at+jwt"}
	for k, v := range headers {
		header[k] = v
	}
	raw, err := s.signer.Sign(ctx, AccessClaimsToMap(claims), header)
	if err != nil {
		return oauth2.Token{}, oauth2.ErrServerError.WithCause(err)
	}
	return oauth2.Token{Value: raw, Signature: s.AccessTokenSignature(ctx, raw)}, nil
}

// ValidateAccessToken verifies signature, issuer and expiry.
func (s *Strategy) ValidateAccessToken(_ context.Context, _ *oauth2.Request, token string) error {
	_, err := s.Parse(token)
	return err
}

// Parse verifies token and returns its claims. Errors distinguish malformed
// tokens, signature failures and expiry.
func (s *Strategy) Parse(token string) (jwtlib.MapClaims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, oauth2.ErrInvalidTokenFormat.WithHint("A JWT must consist of exactly three segments.").WithToken(oauth2.AccessToken)
	}

	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(token, claims, s.signer.GetVerificationKey,
		jwtlib.WithValidMethods([]string{s.signer.GetSigningMethod().Alg()}),
		jwtlib.WithIssuer(s.config.GetIssuer()),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.config.Now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	return claims, nil
}

func mapJWTError(err error) error {
	var e *oauth2.Error
	switch {
	case errors.Is(err, jwtlib.ErrTokenMalformed):
		e = oauth2.ErrInvalidTokenFormat
	case errors.Is(err, jwtlib.ErrTokenSignatureInvalid), errors.Is(err, jwtlib.ErrTokenUnverifiable):
		e = oauth2.ErrTokenSignatureMismatch
	case errors.Is(err, jwtlib.ErrTokenExpired):
		e = oauth2.ErrTokenExpired
	default:
		e = oauth2.ErrInvalidGrant.WithHint("The token claims are invalid.")
	}
	return e.WithCause(err).WithToken(oauth2.AccessToken)
}
