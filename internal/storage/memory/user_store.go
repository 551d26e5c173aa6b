package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"wellness-sessions/internal/model"
)

var errUserNil = errors.New("user cannot be nil")

// UserStore is an in-memory user table with unique usernames and emails.
type UserStore struct {
	mu     sync.RWMutex
	nextID uint
	users  map[uint]*model.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[uint]*model.User)}
}

func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	if user == nil {
		return errUserNil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return errors.New("create user failed: duplicate username or email")
		}
	}
	s.nextID++
	now := time.Now()
	user.ID = s.nextID
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Username == username }), nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.Email == email }), nil
}

func (s *UserStore) GetByID(ctx context.Context, id uint) (*model.User, error) {
	return s.find(func(u *model.User) bool { return u.ID == id }), nil
}

func (s *UserStore) find(match func(*model.User) bool) *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			found := *u
			return &found
		}
	}
	return nil
}
