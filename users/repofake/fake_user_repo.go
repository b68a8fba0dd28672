package fakeuserrepo

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-oauth-engine/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users    map[string]*users.User
	emailIDs map[string]string // email to user id
	lock     sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:    make(map[string]*users.User),
		emailIDs: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Upsert(user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	ur.users[user.ID] = user
	ur.emailIDs[user.Email] = user.ID
	return nil
}

func (ur *FakeUserRepo) Delete(email string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	userID, ok := ur.emailIDs[email]
	if !ok {
		return users.ErrUserNotFound
	}
	delete(ur.emailIDs, email)
	delete(ur.users, userID)
	return nil
}

func (ur *FakeUserRepo) GetByEmail(email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailIDs[email]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return ur.users[id], nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	user, ok := ur.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return user, nil
}

func (ur *FakeUserRepo) GetByUsername(username string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	for _, u := range ur.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (ur *FakeUserRepo) SetBlocked(email string, blocked bool) error {
	return ur.update(email, func(u *users.User) { u.Blocked = blocked })
}

func (ur *FakeUserRepo) SetVerified(email string, verified bool) error {
	return ur.update(email, func(u *users.User) { u.Verified = verified })
}

func (ur *FakeUserRepo) SetLastLogin(email string, at time.Time) error {
	return ur.update(email, func(u *users.User) { u.LastLogin = at })
}

func (ur *FakeUserRepo) update(email string, fn func(*users.User)) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	id, ok := ur.emailIDs[email]
	if !ok {
		return users.ErrUserNotFound
	}
	fn(ur.users[id])
	return nil
}
