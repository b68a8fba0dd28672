package users

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrInvalidCredentials hides whether the user or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUserBlocked is returned for users that may not sign in.
var ErrUserBlocked = errors.New("user is blocked")

// Authenticator checks resource owner passwords against a UserRepo. It backs
// the password grant and the example host's login.
type Authenticator struct {
	repo UserRepo
	now  func() time.Time
}

// NewAuthenticator creates an authenticator over repo.
func NewAuthenticator(repo UserRepo) (*Authenticator, error) {
	if repo == nil {
		return nil, errors.New("[users.NewAuthenticator] UserRepo is required")
	}
	return &Authenticator{repo: repo, now: time.Now}, nil
}

// Authenticate returns the user id when password matches. username may be the
// username or the email address.
func (a *Authenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	user, err := a.lookup(username)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	if user.Blocked {
		return "", ErrUserBlocked
	}

	if user.Email != "" {
		if err := a.repo.SetLastLogin(user.Email, a.now().UTC()); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
		}
	}
	return user.ID, nil
}

func (a *Authenticator) lookup(username string) (*User, error) {
	if strings.Contains(username, "@") {
		if user, err := a.repo.GetByEmail(username); err == nil {
			return user, nil
		}
	}
	return a.repo.GetByUsername(username)
}
