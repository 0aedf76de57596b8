package service

import (
	"context"
	"time"

	"umoja/internal/escrow/models"
	"umoja/internal/events"
	"umoja/pkg/domain"
)

// MilestoneChange moves one milestone through its verification states.
type MilestoneChange struct {
	PassID      domain.PassID
	MilestoneID domain.MilestoneID
	To          models.MilestoneStatus
	ActorID     domain.UserID
	Reason      string
	// EvidenceRefs are recorded on the milestone with the transition.
	EvidenceRefs []string
}

// ChangeMilestone applies a verification transition. Reaching Verified on a
// fully funded milestone creates its release intent in the same write, so a
// crash after verification is recovered from the stored intent. Repeating a
// transition to Verified is a no-op that returns the current pass.
func (s *Service) ChangeMilestone(ctx context.Context, c MilestoneChange) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "change_milestone")
	defer func() { end(err) }()

	var (
		from     models.MilestoneStatus
		changed  bool
		releases bool
	)
	pass, err := s.mutate(ctx, c.PassID, func(p *models.TreatmentPass, now time.Time) (bool, []events.Event, error) {
		changed, releases = false, false
		m, err := p.Milestone(c.MilestoneID)
		if err != nil {
			return false, nil, err
		}
		if c.To == models.MilestoneVerified && m.Status == models.MilestoneVerified {
			return false, nil, nil
		}
		if err := p.CanTransitionMilestone(c.MilestoneID, c.To); err != nil {
			return false, nil, err
		}
		m.AddEvidence(c.EvidenceRefs)
		from = p.ApplyMilestoneStatus(c.MilestoneID, c.To, c.ActorID, c.Reason, now)
		if m.Releasable() {
			_, releases = p.ApplyReleaseIntent(c.MilestoneID, now)
		}
		changed = true
		return true, []events.Event{s.newEvent(ctx, events.MilestoneStatusChanged, p.ID, now, events.MilestoneStatusChangedPayload{
			PassID:      p.ID,
			MilestoneID: c.MilestoneID,
			From:        string(from),
			To:          string(c.To),
			ActorID:     c.ActorID,
			Reason:      c.Reason,
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return pass, nil
	}

	s.metrics.IncMilestoneTransition(string(c.To))
	s.logAudit(ctx, string(events.MilestoneStatusChanged),
		"pass_id", c.PassID,
		"milestone_id", c.MilestoneID,
		"from", from,
		"to", c.To,
		"actor_id", c.ActorID,
	)
	if releases {
		return s.submitFresh(ctx, pass), nil
	}
	return pass, nil
}
