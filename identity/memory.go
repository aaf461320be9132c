package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu      sync.Mutex
	byID    map[string]User
	byEmail map[string]string
	now     func() time.Time
	idGen   func() string
}

func NewMemStore() *MemStore {
	return &MemStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
		now:     time.Now,
		idGen:   func() string { return uuid.NewString() },
	}
}

func (s *MemStore) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[params.Email]; exists {
		return User{}, ErrDuplicateEmail
	}
	now := s.now()
	user := User{
		ID:           s.idGen(),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Phone:        params.Phone,
		Languages:    params.Languages,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[user.ID] = user
	s.byEmail[user.Email] = user.ID
	return user, nil
}

func (s *MemStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *MemStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
