// Package pkce implements Proof Key for Code Exchange (RFC 7636) for the
// authorization code flow.
package pkce

import (
	"crypto/subtle"
	"encoding/base64"

	xoauth2 "golang.org/x/oauth2"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// MinVerifierEntropy is the minimum number of random bytes a verifier must carry.
const MinVerifierEntropy = 32

// Validator checks a verifier against a stored challenge for one method.
type Validator interface {
	Method() oauth2.CodeMethodType
	Verify(challenge, verifier string) error
}

// Validators is the ordered validator chain. A method without a validator is
// rejected before any comparison is made.
type Validators []Validator

// NewValidators returns S256, and plain only when allowPlain is set.
func NewValidators(allowPlain bool) Validators {
	v := Validators{S256Validator{}}
	if allowPlain {
		v = append(v, PlainValidator{})
	}
	return v
}

// Supports reports whether method has a validator.
func (v Validators) Supports(method oauth2.CodeMethodType) bool {
	for _, validator := range v {
		if validator.Method() == method {
			return true
		}
	}
	return false
}

// Verify dispatches to the validator registered for method.
func (v Validators) Verify(method oauth2.CodeMethodType, challenge, verifier string) error {
	for _, validator := range v {
		if validator.Method() == method {
			return validator.Verify(challenge, verifier)
		}
	}
	return oauth2.ErrPKCEMethodNotAllowed.WithHintf("Code challenge method '%s' is not allowed.", method)
}

// S256Validator compares base64url(SHA-256(verifier)) with the challenge.
type S256Validator struct{}

func (S256Validator) Method() oauth2.CodeMethodType { return oauth2.CodeMethodS256 }

func (S256Validator) Verify(challenge, verifier string) error {
	if verifierEntropy(verifier) < MinVerifierEntropy {
		return oauth2.ErrPKCEInsufficientEntropy.WithHintf("The PKCE code verifier must carry at least %d bytes of entropy.", MinVerifierEntropy)
	}
	if subtle.ConstantTimeCompare([]byte(xoauth2.S256ChallengeFromVerifier(verifier)), []byte(challenge)) != 1 {
		return oauth2.ErrPKCEChallengeMismatch
	}
	return nil
}

// PlainValidator compares the verifier with the challenge verbatim.
type PlainValidator struct{}

func (PlainValidator) Method() oauth2.CodeMethodType { return oauth2.CodeMethodPlain }

func (PlainValidator) Verify(challenge, verifier string) error {
	if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
		return oauth2.ErrPKCEChallengeMismatch
	}
	return nil
}

// verifierEntropy is the number of bytes the verifier decodes to, or for
// verifiers that are not base64url the bits its characters can carry.
func verifierEntropy(verifier string) int {
	if decoded, err := base64.RawURLEncoding.DecodeString(verifier); err == nil {
		return len(decoded)
	}
	return len(verifier) * 6 / 8
}
