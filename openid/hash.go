package openid

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"hash"
	"strings"
)

// LeftMostHash computes at_hash and c_hash values: the left half of the hash of
// value, using the hash size of the ID token's signing algorithm, base64url
// encoded without padding.
func LeftMostHash(alg string, value string) string {
	if value == "" {
		return ""
	}
	var h hash.Hash
	switch {
	case strings.HasSuffix(alg, "384"):
		h = sha512.New384()
	case strings.HasSuffix(alg, "512"):
		h = sha512.New()
	default:
		h = sha256.New()
	}
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
