package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"umoja/internal/governance/models"
	"umoja/pkg/domain"
	"umoja/pkg/platform/sentinel"
)

// Store keeps proposals in memory. Reads return copies, and Update compares
// versions so concurrent writers detect each other.
type Store struct {
	mu        sync.RWMutex
	proposals map[domain.ProposalID]*models.Proposal
}

func New() *Store {
	return &Store{proposals: make(map[domain.ProposalID]*models.Proposal)}
}

func (s *Store) Create(_ context.Context, p *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %s: %w", p.ID, sentinel.ErrAlreadyExists)
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *Store) FindByID(_ context.Context, id domain.ProposalID) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

// Update stores the whole aggregate, so changedVotes are already part of p.
func (s *Store) Update(_ context.Context, p *models.Proposal, expectedVersion int64, _ ...models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.proposals[p.ID]
	if !ok {
		return fmt.Errorf("proposal %s: %w", p.ID, sentinel.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("proposal %s at version %d, expected %d: %w", p.ID, current.Version, expectedVersion, sentinel.ErrVersionConflict)
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *Store) ListActive(_ context.Context, community domain.CommunityID) ([]*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Proposal
	for _, p := range s.proposals {
		if p.Status != models.StatusOpen && p.Status != models.StatusElderPending {
			continue
		}
		if community != "" && p.CommunityID != community {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotingDeadline.Before(out[j].VotingDeadline) })
	return out, nil
}
