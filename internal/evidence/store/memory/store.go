package memory

import (
	"context"
	"sync"

	"umoja/internal/evidence"
)

// Store keeps blobs in process memory.
type Store struct {
	mu    sync.RWMutex
	blobs map[evidence.Ref][]byte
}

func New() *Store {
	return &Store{blobs: make(map[evidence.Ref][]byte)}
}

func (s *Store) Put(_ context.Context, data []byte) (evidence.Ref, error) {
	ref := evidence.RefOf(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = append([]byte(nil), data...)
	}
	return ref, nil
}

func (s *Store) Exists(_ context.Context, ref evidence.Ref) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[ref]
	return ok, nil
}
