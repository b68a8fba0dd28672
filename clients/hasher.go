package clients

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// SecretHasher hashes and compares client secrets.
type SecretHasher interface {
	Hash(ctx context.Context, secret []byte) ([]byte, error)
	Compare(ctx context.Context, hash, secret []byte) error
}

var _ SecretHasher = (*BCrypt)(nil)

// BCrypt implements SecretHasher with bcrypt.
type BCrypt struct {
	Cost int
}

func (b *BCrypt) Hash(_ context.Context, secret []byte) ([]byte, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword(secret, cost)
}

func (b *BCrypt) Compare(_ context.Context, hash, secret []byte) error {
	return bcrypt.CompareHashAndPassword(hash, secret)
}
