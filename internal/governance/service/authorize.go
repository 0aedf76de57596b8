package service

import (
	"context"
	"time"

	"umoja/internal/events"
	"umoja/internal/governance/models"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/requestcontext"
)

// Gate describes one attempt to perform a governed action.
type Gate struct {
	ActionType policy.ActionType
	Payload    map[string]any
	// ProposalID names the approved proposal backing the action, if any.
	ProposalID *domain.ProposalID
	// Subject identifies the action instance. A retry of the same action
	// reuses the approval it already consumed.
	Subject string
}

// Authorize checks, without consuming it, that the proposal permits actionType.
func (s *Service) Authorize(ctx context.Context, id domain.ProposalID, actionType policy.ActionType) (*models.Proposal, error) {
	p, err := s.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.CanAuthorize(actionType, ""); err != nil {
		return nil, err
	}
	return p, nil
}

// RequireApproval is the consensus gate in front of governed mutations. When
// the registry gates the action, the named proposal must be approved and
// unused; it is then archived as applied. Callers run it inside their own
// transaction so the approval is consumed only if their write commits.
func (s *Service) RequireApproval(ctx context.Context, g Gate) (err error) {
	ctx, end := s.span(ctx, "require_approval")
	defer func() { end(err) }()

	gated, err := s.policies.RequiresConsensus(g.ActionType, g.Payload)
	if err != nil {
		return err
	}
	if !gated {
		return nil
	}
	if g.ProposalID == nil || g.ProposalID.IsNil() {
		return dErrors.Conflict(dErrors.CodeConsensusRequired, "", string(g.ActionType)+" requires an approved proposal")
	}
	return s.archive(ctx, *g.ProposalID, models.ArchiveApplied, func(p *models.Proposal) error {
		return p.CanAuthorize(g.ActionType, g.Subject)
	}, g.Subject)
}

// RestoreApproval hands back an approval that g.Subject consumed when the
// gated write then failed. It is a no-op when the subject holds no approval,
// as after a rolled back transaction.
func (s *Service) RestoreApproval(ctx context.Context, g Gate) (err error) {
	ctx, end := s.span(ctx, "restore_approval")
	defer func() { end(err) }()

	if g.ProposalID == nil || g.ProposalID.IsNil() || g.Subject == "" {
		return nil
	}
	var restored bool
	_, err = s.mutate(ctx, *g.ProposalID, func(p *models.Proposal, now time.Time) ([]events.Event, []models.Vote, error) {
		if !p.IsAppliedTo(g.Subject) {
			return nil, nil, nil
		}
		p.ApplyRestore()
		restored = true
		return []events.Event{s.newEvent(ctx, events.ProposalRestored, p.ID, requestcontext.ActorID(ctx), now, events.ProposalRestoredPayload{
			ProposalID: p.ID,
			Subject:    g.Subject,
		})}, nil, nil
	})
	if err != nil {
		return err
	}
	if restored {
		s.logAudit(ctx, string(events.ProposalRestored),
			"proposal_id", *g.ProposalID,
			"subject", g.Subject,
		)
	}
	return nil
}

// MarkApplied archives an approved proposal after its action ran outside the
// engine.
func (s *Service) MarkApplied(ctx context.Context, id domain.ProposalID, actionType policy.ActionType, subject string) error {
	return s.archive(ctx, id, models.ArchiveApplied, func(p *models.Proposal) error {
		return p.CanAuthorize(actionType, subject)
	}, subject)
}

// Abandon archives a decided proposal whose action will not be applied.
func (s *Service) Abandon(ctx context.Context, id domain.ProposalID) error {
	return s.archive(ctx, id, models.ArchiveAbandoned, func(p *models.Proposal) error {
		return p.CanAbandon()
	}, "")
}

func (s *Service) archive(ctx context.Context, id domain.ProposalID, reason models.ArchiveReason, check func(*models.Proposal) error, subject string) error {
	var archived bool
	_, err := s.mutate(ctx, id, func(p *models.Proposal, now time.Time) ([]events.Event, []models.Vote, error) {
		if err := check(p); err != nil {
			return nil, nil, err
		}
		if subject != "" && p.IsAppliedTo(subject) {
			return nil, nil, nil
		}
		p.ApplyArchive(reason, subject)
		archived = true
		return []events.Event{s.newEvent(ctx, events.ProposalArchived, p.ID, requestcontext.ActorID(ctx), now, events.ProposalArchivedPayload{
			ProposalID: p.ID,
			Reason:     string(reason),
		})}, nil, nil
	})
	if err != nil {
		return err
	}
	if archived {
		s.logAudit(ctx, string(events.ProposalArchived),
			"proposal_id", id,
			"reason", reason,
			"subject", subject,
		)
	}
	return nil
}
