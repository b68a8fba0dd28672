package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// JWT algorithms (string values used in JWKs and headers)
const (
	RS256 = "RS256"
	ES256 = "ES256"
)

// KeyPair represents a public/private key pair for signing tokens
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	Algorithm  string // RS256 or ES256
}

// GenerateRSAKeyPair generates a new RSA key pair for RS256 signing.
// An empty keyID is derived from the public key thumbprint.
func GenerateRSAKeyPair(keyID string, bits int) (*KeyPair, error) {
	if bits < 2048 {
		bits = 2048
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate RSA key")
	}
	return newKeyPair(keyID, privateKey, RS256)
}

// GenerateECDSAKeyPair generates a P-256 key pair for ES256 signing.
func GenerateECDSAKeyPair(keyID string) (*KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ECDSA key")
	}
	return newKeyPair(keyID, privateKey, ES256)
}

func newKeyPair(keyID string, privateKey crypto.Signer, alg string) (*KeyPair, error) {
	kp := &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		PublicKey:  privateKey.Public(),
		Algorithm:  alg,
	}
	if kp.KeyID == "" {
		kid, err := DeriveKeyID(kp.PublicKey)
		if err != nil {
			return nil, err
		}
		kp.KeyID = kid
	}
	return kp, nil
}

// GetSigningMethod returns the JWT signing method for this key pair
func (kp *KeyPair) GetSigningMethod() jwt.SigningMethod {
	if kp.Algorithm == ES256 {
		return jwt.SigningMethodES256
	}
	return jwt.SigningMethodRS256
}

// ExportPublicKeyPEM exports the public key as PEM
func (kp *KeyPair) ExportPublicKeyPEM() (string, error) {
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal public key")
	}

	pubKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubKeyBytes,
	})

	return string(pubKeyPEM), nil
}

// ExportPrivateKeyPEM exports the private key as PKCS#8 PEM
func (kp *KeyPair) ExportPrivateKeyPEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal private key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ToJWK converts the key pair's public key to JWK format
func (kp *KeyPair) ToJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       kp.PublicKey,
		KeyID:     kp.KeyID,
		Algorithm: kp.Algorithm,
		Use:       "sig",
	}
}

// LoadKeyPairFromPEM loads a private key in PKCS#1, SEC 1 (EC) or PKCS#8 form.
func LoadKeyPairFromPEM(keyID string, privateKeyPEM []byte) (*KeyPair, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return newKeyPair(keyID, key, RS256)
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return newKeyPair(keyID, key, ES256)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	switch key := parsed.(type) {
	case *rsa.PrivateKey:
		return newKeyPair(keyID, key, RS256)
	case *ecdsa.PrivateKey:
		return newKeyPair(keyID, key, ES256)
	default:
		return nil, errors.Errorf("unsupported private key type %T", parsed)
	}
}

// DeriveKeyID computes the RFC 7638 thumbprint of a public key.
func DeriveKeyID(publicKey crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: publicKey}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", errors.Wrap(err, "failed to compute key thumbprint")
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}
