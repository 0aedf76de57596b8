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

// CreateProposal opens a proposal for actionType under its consensus policy.
func (s *Service) CreateProposal(ctx context.Context, actionType policy.ActionType, proposer domain.UserID, community domain.CommunityID, payload map[string]any) (_ *models.Proposal, err error) {
	ctx, end := s.span(ctx, "create_proposal")
	defer func() { end(err) }()

	pol, err := s.policies.Get(actionType)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, proposer, community); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	p, err := models.NewProposal(domain.NewProposalID(), pol, proposer, community, payload, now)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, err.Error())
	}

	evt := s.newEvent(ctx, events.ProposalCreated, p.ID, proposer, now, events.ProposalCreatedPayload{
		ProposalID:            p.ID,
		ActionType:            string(p.ActionType),
		ProposerID:            proposer,
		CommunityID:           community,
		Threshold:             int64(p.Threshold),
		RequiresElderApproval: p.RequiresElderApproval,
		VotingDeadline:        p.VotingDeadline,
	})
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, p); err != nil {
			return err
		}
		return s.outbox.Append(ctx, evt)
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.metrics.IncProposalCreated(string(actionType))
	s.logAudit(ctx, string(events.ProposalCreated),
		"proposal_id", p.ID,
		"action_type", actionType,
		"proposer_id", proposer,
		"community_id", community,
		"voting_deadline", p.VotingDeadline,
	)
	return p, nil
}

// CastVote records or replaces voter's ballot. Re-casting before the
// deadline overwrites the earlier ballot without double counting.
func (s *Service) CastVote(ctx context.Context, id domain.ProposalID, voter domain.UserID, choice models.Choice, power int64) (_ *models.Proposal, err error) {
	ctx, end := s.span(ctx, "cast_vote")
	defer func() { end(err) }()

	if power <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "voting power must be positive")
	}
	if power > s.maxPower {
		return nil, dErrors.Newf(dErrors.CodeValidation, "voting power must not exceed %d", s.maxPower)
	}
	current, err := s.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := current.CanVote(requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, voter, current.CommunityID); err != nil {
		return nil, err
	}

	var overwrote bool
	p, err := s.mutate(ctx, id, func(p *models.Proposal, now time.Time) ([]events.Event, []models.Vote, error) {
		if err := p.CanVote(now); err != nil {
			return nil, nil, err
		}
		vote := models.Vote{ProposalID: p.ID, VoterID: voter, Choice: choice, VotingPower: power, CastAt: now}
		if err := p.CanApplyVote(vote); err != nil {
			return nil, nil, err
		}
		overwrote = p.ApplyVote(vote)
		evt := s.newEvent(ctx, events.VoteCast, p.ID, voter, now, events.VoteCastPayload{
			ProposalID:  p.ID,
			CommunityID: p.CommunityID,
			VoterID:     voter,
			Choice:      string(choice),
			VotingPower: power,
			Overwrote:   overwrote,
		})
		return []events.Event{evt}, []models.Vote{vote}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncVoteCast()
	s.logAudit(ctx, string(events.VoteCast),
		"proposal_id", id,
		"voter_id", voter,
		"choice", choice,
		"voting_power", power,
		"overwrote", overwrote,
	)
	return p, nil
}

// Finalize decides the vote once the deadline has passed. Finalizing a
// proposal that is already decided returns it unchanged.
func (s *Service) Finalize(ctx context.Context, id domain.ProposalID) (_ *models.Proposal, err error) {
	ctx, end := s.span(ctx, "finalize")
	defer func() { end(err) }()

	var decided bool
	p, err := s.mutate(ctx, id, func(p *models.Proposal, now time.Time) ([]events.Event, []models.Vote, error) {
		if p.IsFinalized() {
			return nil, nil, nil
		}
		if err := p.CanFinalize(now); err != nil {
			return nil, nil, err
		}
		p.ApplyFinalize(now)
		decided = true
		return []events.Event{s.finalizedEvent(ctx, p, now)}, nil, nil
	})
	if err != nil {
		return nil, err
	}

	if decided {
		s.metrics.IncProposalFinalized(string(p.Status))
		s.logAudit(ctx, string(events.ProposalFinalized),
			"proposal_id", id,
			"status", p.Status,
			"yes_power", p.YesPower,
			"total_power", p.TotalPower,
		)
	}
	return p, nil
}

// RecordElderApproval moves an ElderPending proposal to ElderApproved. One
// elder's sign-off suffices.
func (s *Service) RecordElderApproval(ctx context.Context, id domain.ProposalID, elder domain.UserID) (_ *models.Proposal, err error) {
	ctx, end := s.span(ctx, "record_elder_approval")
	defer func() { end(err) }()

	isElder, err := s.directory.IsElder(ctx, elder)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "identity directory unavailable")
	}
	if !isElder {
		return nil, dErrors.New(dErrors.CodeForbidden, "only elders can approve")
	}

	p, err := s.mutate(ctx, id, func(p *models.Proposal, now time.Time) ([]events.Event, []models.Vote, error) {
		if err := p.CanRecordElderApproval(); err != nil {
			return nil, nil, err
		}
		p.ApplyElderApproval(elder)
		return []events.Event{s.newEvent(ctx, events.ElderApproved, p.ID, elder, now, events.ElderApprovedPayload{
			ProposalID: p.ID,
			ElderID:    elder,
		})}, nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncElderApproval()
	s.logAudit(ctx, string(events.ElderApproved),
		"proposal_id", id,
		"elder_id", elder,
	)
	return p, nil
}

// GetProposal returns the proposal as of now, with lazy expiry applied to
// the returned copy.
func (s *Service) GetProposal(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	p.ExpireIfOverdue(requestcontext.Now(ctx), s.gracePeriod)
	return p, nil
}

// ListOpen returns the proposals of community still accepting votes or
// awaiting elder sign-off.
func (s *Service) ListOpen(ctx context.Context, community domain.CommunityID) ([]*models.Proposal, error) {
	all, err := s.store.ListActive(ctx, community)
	if err != nil {
		return nil, s.translate(err)
	}
	now := requestcontext.Now(ctx)
	out := all[:0]
	for _, p := range all {
		if p.ExpireIfOverdue(now, s.gracePeriod) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
