package service

import (
	"context"
	"time"

	"umoja/internal/escrow/models"
	"umoja/internal/events"
	govservice "umoja/internal/governance/service"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/requestcontext"

	"github.com/google/uuid"
)

// SourceCommunityFund marks contributions drawn from a community treasury.
// They are governed by the allocate-community-funds policy.
const SourceCommunityFund = "community-fund"

// CreatePassRequest defines a treatment pass and its milestone plan.
type CreatePassRequest struct {
	BeneficiaryID domain.UserID
	CommunityID   domain.CommunityID
	FundingTarget domain.Amount
	Milestones    []models.MilestoneSpec
	// ProposalID names the approved approve-treatment-protocol proposal.
	ProposalID *domain.ProposalID
}

// CreatePass opens a pass once its treatment protocol has been approved.
func (s *Service) CreatePass(ctx context.Context, req CreatePassRequest) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "create_pass")
	defer func() { end(err) }()

	now := requestcontext.Now(ctx)
	pass, err := models.NewTreatmentPass(domain.NewPassID(), req.BeneficiaryID, req.CommunityID, req.FundingTarget, req.Milestones, now)
	if err != nil {
		return nil, err
	}

	gate := govservice.Gate{
		ActionType: policy.ActionApproveTreatmentProtocol,
		Payload: map[string]any{
			"beneficiary": string(req.BeneficiaryID),
			"community":   string(req.CommunityID),
			"amount":      int64(pass.FundingTarget),
			"milestones":  int64(len(pass.Milestones)),
		},
		ProposalID: req.ProposalID,
		Subject:    pass.ID.String(),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.approvals.RequireApproval(ctx, gate); err != nil {
			return err
		}
		if err := s.store.Create(ctx, pass); err != nil {
			return err
		}
		return s.outbox.Append(ctx, s.newEvent(ctx, events.PassCreated, pass.ID, now, events.PassCreatedPayload{
			PassID:        pass.ID,
			CommunityID:   pass.CommunityID,
			FundingTarget: pass.FundingTarget,
			Milestones:    len(pass.Milestones),
		}))
	})
	if err != nil {
		s.restoreApproval(ctx, &gate)
		return nil, s.translate(err)
	}

	s.logAudit(ctx, string(events.PassCreated),
		"pass_id", pass.ID,
		"community_id", pass.CommunityID,
		"funding_target", pass.FundingTarget,
	)
	return pass, nil
}

// GetPass returns the current state of a pass.
func (s *Service) GetPass(ctx context.Context, id domain.PassID) (*models.TreatmentPass, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	return p, nil
}

// ContributeRequest funds one or more milestones of a pass.
type ContributeRequest struct {
	PassID      domain.PassID
	SponsorID   domain.UserID
	Amount      domain.Amount
	Allocations map[domain.MilestoneID]domain.Amount
	// Source is empty for personal funds or SourceCommunityFund.
	Source string
	// ProposalID backs a gated community-fund contribution.
	ProposalID *domain.ProposalID
}

// Contribute records a contribution all-or-nothing. Milestones it completes
// that are already verified get their release intent in the same write.
func (s *Service) Contribute(ctx context.Context, req ContributeRequest) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "contribute")
	defer func() { end(err) }()

	if req.SponsorID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "sponsor is required")
	}
	if req.Source != "" && req.Source != SourceCommunityFund {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown contribution source %q", req.Source)
	}
	// One subject per call so OCC retries reuse the approval they consumed.
	subject := "contribution:" + uuid.NewString()

	var (
		released []domain.MilestoneID
		gate     *govservice.Gate
	)
	pass, err := s.mutate(ctx, req.PassID, func(p *models.TreatmentPass, now time.Time) (bool, []events.Event, error) {
		if err := p.CanContribute(req.Amount, req.Allocations); err != nil {
			return false, nil, err
		}
		if req.Source == SourceCommunityFund {
			gate = &govservice.Gate{
				ActionType: policy.ActionAllocateCommunityFunds,
				Payload: map[string]any{
					"source":    req.Source,
					"amount":    int64(req.Amount),
					"pass":      p.ID.String(),
					"community": string(p.CommunityID),
				},
				ProposalID: req.ProposalID,
				Subject:    subject,
			}
			if err := s.approvals.RequireApproval(ctx, *gate); err != nil {
				return false, nil, err
			}
		}

		released = released[:0]
		for _, mid := range p.ApplyContribution(req.SponsorID, req.Amount, req.Allocations, now) {
			if _, created := p.ApplyReleaseIntent(mid, now); created {
				released = append(released, mid)
			}
		}
		return true, []events.Event{s.newEvent(ctx, events.ContributionRecorded, p.ID, now, events.ContributionRecordedPayload{
			PassID:      p.ID,
			SponsorID:   req.SponsorID,
			Amount:      req.Amount,
			Allocations: req.Allocations,
			Source:      req.Source,
		})}, nil
	})
	if err != nil {
		s.restoreApproval(ctx, gate)
		if dErrors.HasCode(err, dErrors.CodeOverAllocation) {
			s.metrics.IncOverAllocation()
		}
		return nil, err
	}

	s.metrics.ObserveContribution(int64(req.Amount))
	s.logAudit(ctx, string(events.ContributionRecorded),
		"pass_id", pass.ID,
		"sponsor_id", req.SponsorID,
		"amount", req.Amount,
		"source", req.Source,
	)
	if len(released) > 0 {
		return s.submitFresh(ctx, pass), nil
	}
	return pass, nil
}

// CancelRequest cancels a pass.
type CancelRequest struct {
	PassID domain.PassID
	Reason string
	// ProposalID names the approved cancel-treatment-pass proposal. Only
	// callers other than the beneficiary and the system principal need it.
	ProposalID *domain.ProposalID
}

// CancelPass cancels the pass and refunds each sponsor the part of their
// contribution allocated to milestones that have not released.
func (s *Service) CancelPass(ctx context.Context, req CancelRequest) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "cancel_pass")
	defer func() { end(err) }()

	if req.Reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "cancellation reason is required")
	}
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	cancellationID := domain.NewCancellationID()

	var (
		refunds map[domain.UserID]domain.Amount
		gate    *govservice.Gate
	)
	pass, err := s.mutate(ctx, req.PassID, func(p *models.TreatmentPass, now time.Time) (bool, []events.Event, error) {
		if err := p.CanCancel(); err != nil {
			return false, nil, err
		}
		if actor != p.BeneficiaryID && actor != domain.SystemPrincipal {
			gate = &govservice.Gate{
				ActionType: policy.ActionCancelTreatmentPass,
				Payload: map[string]any{
					"pass":        p.ID.String(),
					"beneficiary": string(p.BeneficiaryID),
					"community":   string(p.CommunityID),
					"amount":      int64(p.Contributed()),
				},
				ProposalID: req.ProposalID,
				Subject:    "cancel:" + p.ID.String(),
			}
			if err := s.approvals.RequireApproval(ctx, *gate); err != nil {
				return false, nil, err
			}
		}
		refunds = p.ApplyCancel(cancellationID, req.Reason, actor, now)
		return true, []events.Event{s.newEvent(ctx, events.PassCancelled, p.ID, now, events.PassCancelledPayload{
			PassID:         p.ID,
			CancellationID: cancellationID,
			Reason:         req.Reason,
			Refunds:        refunds,
		})}, nil
	})
	if err != nil {
		s.restoreApproval(ctx, gate)
		return nil, err
	}

	s.metrics.IncPassCancelled()
	s.logAudit(ctx, string(events.PassCancelled),
		"pass_id", pass.ID,
		"cancellation_id", cancellationID,
		"refunds", len(refunds),
		"reason", req.Reason,
	)
	return s.submitFresh(ctx, pass), nil
}

// restoreApproval hands back an approval consumed by a write that failed.
// Under a SQL runner the rollback already did; the call is then a no-op.
func (s *Service) restoreApproval(ctx context.Context, gate *govservice.Gate) {
	if gate == nil || gate.ProposalID == nil {
		return
	}
	if err := s.approvals.RestoreApproval(ctx, *gate); err != nil {
		s.logger.ErrorContext(ctx, "failed to restore consumed approval",
			"proposal_id", *gate.ProposalID,
			"subject", gate.Subject,
			"error", err,
		)
	}
}
