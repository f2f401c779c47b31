package prefs

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu        sync.RWMutex
	dismissed map[uuid.UUID]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dismissed: map[uuid.UUID]bool{}}
}

func (s *MemoryStore) SecurityNoticeDismissed(_ context.Context, accountID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dismissed[accountID], nil
}

func (s *MemoryStore) SetSecurityNoticeDismissed(_ context.Context, accountID uuid.UUID, dismissed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dismissed {
		s.dismissed[accountID] = true
	} else {
		delete(s.dismissed, accountID)
	}
	return nil
}
