package users

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned by repositories for unknown users.
var ErrUserNotFound = errors.New("user not found")

type UserRepo interface {
	Upsert(user *User) error
	Delete(email string) error
	GetByEmail(email string) (*User, error)
	GetByID(ID string) (*User, error)
	GetByUsername(username string) (*User, error)
	SetBlocked(email string, blocked bool) error
	SetVerified(email string, verified bool) error
	SetLastLogin(email string, at time.Time) error
}
