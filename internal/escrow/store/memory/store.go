package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"umoja/internal/escrow/models"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
)

// Store keeps treatment passes in memory. Reads return copies, and Update
// compares versions so concurrent writers detect each other.
type Store struct {
	mu     sync.RWMutex
	passes map[domain.PassID]*models.TreatmentPass
}

func New() *Store {
	return &Store{passes: make(map[domain.PassID]*models.TreatmentPass)}
}

func (s *Store) Create(_ context.Context, p *models.TreatmentPass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.passes[p.ID]; ok {
		return fmt.Errorf("pass %s: %w", p.ID, sentinel.ErrAlreadyExists)
	}
	s.passes[p.ID] = p.Clone()
	return nil
}

func (s *Store) FindByID(_ context.Context, id domain.PassID) (*models.TreatmentPass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.passes[id]
	if !ok {
		return nil, fmt.Errorf("pass %s: %w", id, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) Update(_ context.Context, p *models.TreatmentPass, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.passes[p.ID]
	if !ok {
		return fmt.Errorf("pass %s: %w", p.ID, sentinel.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("pass %s at version %d, expected %d: %w", p.ID, current.Version, expectedVersion, sentinel.ErrVersionConflict)
	}
	s.passes[p.ID] = p.Clone()
	return nil
}

func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]*models.TreatmentPass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type due struct {
		at   time.Time
		pass *models.TreatmentPass
	}
	var candidates []due
	for _, p := range s.passes {
		next := p.NextDueAt()
		if next == nil || next.After(now) {
			continue
		}
		candidates = append(candidates, due{at: *next, pass: p})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*models.TreatmentPass, len(candidates))
	for i, c := range candidates {
		out[i] = c.pass.Clone()
	}
	return out, nil
}
