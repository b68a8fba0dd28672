// Package hmac mints opaque tokens of the form base64url(key).base64url(HMAC-SHA256(key)).
package hmac

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// Strict decoding rejects non-zero trailing bits so every altered character is detected.
var b64 = base64.RawURLEncoding.Strict()

var _ oauth2.CoreStrategy = (*Strategy)(nil)

// Strategy handles authorize codes, access tokens and refresh tokens as opaque HMAC tokens.
type Strategy struct {
	config config.HMACSecretProvider
}

// New creates a strategy reading its secrets from cfg.
func New(cfg config.HMACSecretProvider) *Strategy {
	return &Strategy{config: cfg}
}

func (s *Strategy) AuthorizeCodeSignature(_ context.Context, code string) string {
	return s.Signature(code)
}

func (s *Strategy) GenerateAuthorizeCode(ctx context.Context, _ *oauth2.Request) (oauth2.Token, error) {
	return s.Generate(ctx)
}

func (s *Strategy) ValidateAuthorizeCode(_ context.Context, r *oauth2.Request, code string) error {
	return s.validate(r, oauth2.AuthorizeCode, code)
}

func (s *Strategy) AccessTokenSignature(_ context.Context, token string) string {
	return s.Signature(token)
}

func (s *Strategy) GenerateAccessToken(ctx context.Context, _ *oauth2.Request) (oauth2.Token, error) {
	return s.Generate(ctx)
}

func (s *Strategy) ValidateAccessToken(_ context.Context, r *oauth2.Request, token string) error {
	return s.validate(r, oauth2.AccessToken, token)
}

func (s *Strategy) RefreshTokenSignature(_ context.Context, token string) string {
	return s.Signature(token)
}

func (s *Strategy) GenerateRefreshToken(ctx context.Context, _ *oauth2.Request) (oauth2.Token, error) {
	return s.Generate(ctx)
}

func (s *Strategy) ValidateRefreshToken(_ context.Context, r *oauth2.Request, token string) error {
	return s.validate(r, oauth2.RefreshToken, token)
}

// Generate mints a new token from fresh random bytes.
func (s *Strategy) Generate(_ context.Context) (oauth2.Token, error) {
	secret := s.config.GetGlobalSecret()
	if len(secret) < config.MinHMACSecretLength {
		return oauth2.Token{}, oauth2.ErrServerError.WithHintf("The HMAC secret must be at least %d bytes long.", config.MinHMACSecretLength)
	}

	key := make([]byte, s.config.GetTokenEntropy())
	if _, err := rand.Read(key); err != nil {
		return oauth2.Token{}, oauth2.ErrServerError.WithCause(fmt.Errorf("failed to generate random bytes: %w", err))
	}

	signature := b64.EncodeToString(sign(key, secret))
	return oauth2.Token{
		Value:     b64.EncodeToString(key) + "." + signature,
		Signature: signature,
	}, nil
}

// Signature returns the lookup signature of token. It accepts a full two part
// token or only its first part, in which case the signature is recomputed.
// Malformed input yields an empty string.
func (s *Strategy) Signature(token string) string {
	parts := strings.Split(token, ".")
	switch {
	case len(parts) == 2:
		return parts[1]
	case len(parts) == 1 && parts[0] != "":
		key, err := b64.DecodeString(parts[0])
		if err != nil {
			return ""
		}
		return b64.EncodeToString(sign(key, s.config.GetGlobalSecret()))
	default:
		return ""
	}
}

func (s *Strategy) validate(r *oauth2.Request, tokenType oauth2.TokenType, token string) error {
	if r != nil && r.Session != nil {
		exp := r.Session.GetExpiresAt(tokenType)
		if !exp.IsZero() && exp.Before(s.config.Now()) {
			return oauth2.ErrTokenExpired.WithHintf("Token expired at %s.", exp.Format("2006-01-02T15:04:05Z07:00")).WithToken(tokenType)
		}
	}

	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return oauth2.ErrInvalidTokenFormat.WithHint("Token must consist of exactly two non-empty segments.").WithToken(tokenType)
	}
	key, err := b64.DecodeString(parts[0])
	if err != nil {
		return oauth2.ErrInvalidTokenFormat.WithCause(err).WithToken(tokenType)
	}
	signature, err := b64.DecodeString(parts[1])
	if err != nil {
		return oauth2.ErrInvalidTokenFormat.WithCause(err).WithToken(tokenType)
	}

	secrets := append([][]byte{s.config.GetGlobalSecret()}, s.config.GetRotatedGlobalSecrets()...)
	for _, secret := range secrets {
		if subtle.ConstantTimeCompare(sign(key, secret), signature) == 1 {
			return nil
		}
	}
	return oauth2.ErrTokenSignatureMismatch.WithToken(tokenType)
}

func sign(key, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(key)
	return mac.Sum(nil)
}
