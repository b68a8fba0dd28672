package keys

import (
	"context"
	"crypto"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Signer is an interface for signing and verifying JWT tokens
type Signer interface {
	// Sign creates a signed JWT from claims. header entries are added to the JOSE header.
	Sign(ctx context.Context, claims jwt.MapClaims, header map[string]any) (string, error)

	// GetVerificationKey is a jwt.Keyfunc returning the key that verifies token.
	GetVerificationKey(token *jwt.Token) (any, error)

	// GetSigningMethod returns the JWT signing method used
	GetSigningMethod() jwt.SigningMethod

	// PublicKey returns the verification key.
	PublicKey() crypto.PublicKey

	// JWKS returns the public key set to publish.
	JWKS() jose.JSONWebKeySet
}

var _ Signer = (*KeyPairSigner)(nil)

// KeyPairSigner implements Signer with an RSA or ECDSA key pair
type KeyPairSigner struct {
	keyPair *KeyPair
}

// NewKeyPairSigner creates a new key pair signer with the given key pair
func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{
		keyPair: keyPair,
	}
}

func (a *KeyPairSigner) Sign(_ context.Context, claims jwt.MapClaims, header map[string]any) (string, error) {
	token := jwt.NewWithClaims(a.keyPair.GetSigningMethod(), claims)
	for k, v := range header {
		token.Header[k] = v
	}
	token.Header["kid"] = a.keyPair.KeyID

	signedToken, err := token.SignedString(a.keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with asymmetric key: %w", err)
	}
	return signedToken, nil
}

func (a *KeyPairSigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if token.Method.Alg() != a.keyPair.GetSigningMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.keyPair.PublicKey, nil
}

func (a *KeyPairSigner) GetSigningMethod() jwt.SigningMethod {
	return a.keyPair.GetSigningMethod()
}

func (a *KeyPairSigner) PublicKey() crypto.PublicKey {
	return a.keyPair.PublicKey
}

// JWKS returns the JSON Web Key Set holding the public key.
func (a *KeyPairSigner) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{a.keyPair.ToJWK()}}
}
