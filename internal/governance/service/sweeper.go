package service

import (
	"context"
	"time"

	"umoja/internal/events"
	"umoja/internal/governance/models"
	"umoja/pkg/requestcontext"
)

// SweepExpired expires every overdue Open or ElderPending proposal and
// returns how many it moved. Proposals that change concurrently are left to
// the next sweep.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx = requestcontext.WithTime(ctx, now)
	active, err := s.store.ListActive(ctx, "")
	if err != nil {
		return 0, s.translate(err)
	}

	swept := 0
	for _, candidate := range active {
		if !candidate.VotingDeadline.Add(s.gracePeriod).Before(now) {
			continue
		}
		var expired bool
		_, err := s.mutate(ctx, candidate.ID, func(p *models.Proposal, _ time.Time) ([]events.Event, []models.Vote, error) {
			// mutate already expired it on load if it was still overdue.
			expired = p.Status == models.StatusExpired
			return nil, nil, nil
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to expire proposal",
				"proposal_id", candidate.ID,
				"error", err,
			)
			continue
		}
		if expired {
			swept++
		}
	}
	if swept > 0 {
		s.logger.InfoContext(ctx, "expired overdue proposals", "count", swept)
	}
	return swept, nil
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := s.SweepExpired(ctx, now); err != nil {
				s.logger.ErrorContext(ctx, "proposal sweep failed", "error", err)
			}
		}
	}
}
