package memory

import (
	"context"
	"fmt"
	"sync"

	"umoja/internal/rewards/models"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
)

// Store is an in-memory reward ledger keyed by event id.
type Store struct {
	mu      sync.RWMutex
	byEvent map[domain.EventID]struct{}
	byUser  map[domain.UserID][]models.Entry
}

func New() *Store {
	return &Store{
		byEvent: make(map[domain.EventID]struct{}),
		byUser:  make(map[domain.UserID][]models.Entry),
	}
}

func (s *Store) Append(_ context.Context, e models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEvent[e.EventID]; ok {
		return fmt.Errorf("reward for event %s: %w", e.EventID, sentinel.ErrAlreadyExists)
	}
	s.byEvent[e.EventID] = struct{}{}
	s.byUser[e.UserID] = append(s.byUser[e.UserID], e)
	return nil
}

func (s *Store) ListByUser(_ context.Context, user domain.UserID) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Entry(nil), s.byUser[user]...), nil
}

func (s *Store) Balance(_ context.Context, user domain.UserID) (domain.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total domain.Amount
	for _, e := range s.byUser[user] {
		total += e.Amount
	}
	return total, nil
}
