package account

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	accounts sync.Map // int64 -> Account
	now      func() time.Time
}

// NewMemoryStore builds an in-memory account store. Reads and writes for
// different users never contend on a shared lock.
func NewMemoryStore() Store {
	return &memoryStore{now: time.Now}
}

func (s *memoryStore) Get(_ context.Context, userID int64) (Account, error) {
	if acc, ok := s.accounts.Load(userID); ok {
		return acc.(Account), nil
	}
	acc, _ := s.accounts.LoadOrStore(userID, Account{UserID: userID, UpdatedAt: s.now().UTC()})
	return acc.(Account), nil
}

func (s *memoryStore) Set(_ context.Context, userID, balance int64) (Account, error) {
	acc := Account{UserID: userID, Balance: balance, UpdatedAt: s.now().UTC()}
	s.accounts.Store(userID, acc)
	return acc, nil
}
