package handler

import (
	"strings"

	"umoja/internal/escrow/models"
	"umoja/internal/ledger"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
)

type MilestoneRequest struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	FundingAmount    int64  `json:"funding_amount"`
	VerificationMode string `json:"verification_mode"`
}

// CreatePassRequest is the body of POST /passes.
type CreatePassRequest struct {
	BeneficiaryID string             `json:"beneficiary_id"`
	CommunityID   string             `json:"community_id"`
	FundingTarget int64              `json:"funding_target"`
	Milestones    []MilestoneRequest `json:"milestones"`
	ProposalID    string             `json:"proposal_id,omitempty"`

	beneficiary domain.UserID
	community   domain.CommunityID
	specs       []models.MilestoneSpec
	proposalID  *domain.ProposalID
}

func (r *CreatePassRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var err error
	if r.beneficiary, err = domain.ParseUserID(r.BeneficiaryID); err != nil {
		return err
	}
	if r.community, err = domain.ParseCommunityID(r.CommunityID); err != nil {
		return err
	}
	if r.FundingTarget < 0 {
		return dErrors.New(dErrors.CodeValidation, "funding_target must not be negative")
	}
	r.specs = make([]models.MilestoneSpec, 0, len(r.Milestones))
	for _, m := range r.Milestones {
		id, err := domain.ParseMilestoneID(m.ID)
		if err != nil {
			return err
		}
		mode, err := models.ParseVerificationMode(strings.TrimSpace(m.VerificationMode))
		if err != nil {
			return err
		}
		r.specs = append(r.specs, models.MilestoneSpec{
			ID:               id,
			Title:            strings.TrimSpace(m.Title),
			FundingAmount:    domain.Amount(m.FundingAmount),
			VerificationMode: mode,
		})
	}
	r.proposalID, err = optionalProposal(r.ProposalID)
	return err
}

// ContributeRequest is the body of POST /passes/{id}/contributions.
type ContributeRequest struct {
	Amount      int64            `json:"amount"`
	Allocations map[string]int64 `json:"allocations"`
	Source      string           `json:"source,omitempty"`
	ProposalID  string           `json:"proposal_id,omitempty"`

	allocations map[domain.MilestoneID]domain.Amount
	proposalID  *domain.ProposalID
}

func (r *ContributeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Allocations) == 0 {
		return dErrors.New(dErrors.CodeValidation, "allocations are required")
	}
	r.allocations = make(map[domain.MilestoneID]domain.Amount, len(r.Allocations))
	for k, v := range r.Allocations {
		id, err := domain.ParseMilestoneID(k)
		if err != nil {
			return err
		}
		r.allocations[id] = domain.Amount(v)
	}
	r.Source = strings.TrimSpace(r.Source)
	var err error
	r.proposalID, err = optionalProposal(r.ProposalID)
	return err
}

// CancelPassRequest is the body of POST /passes/{id}/cancel.
type CancelPassRequest struct {
	Reason     string `json:"reason"`
	ProposalID string `json:"proposal_id,omitempty"`

	proposalID *domain.ProposalID
}

func (r *CancelPassRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	var err error
	r.proposalID, err = optionalProposal(r.ProposalID)
	return err
}

// ReceiptRequest is the body of POST /ledger/receipts, delivered by the
// ledger adapter when an intent settles asynchronously.
type ReceiptRequest struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	PassID         string `json:"pass_id"`
	MilestoneID    string `json:"milestone_id,omitempty"`
	SponsorID      string `json:"sponsor_id,omitempty"`
	CancellationID string `json:"cancellation_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason,omitempty"`

	receipt ledger.Receipt
}

func (r *ReceiptRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.ID) == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency_key is required")
	}
	passID, err := domain.ParsePassID(r.PassID)
	if err != nil {
		return err
	}
	rc := ledger.Receipt{
		ID:             strings.TrimSpace(r.ID),
		Kind:           ledger.Kind(r.Kind),
		Status:         ledger.ReceiptStatus(r.Status),
		PassID:         passID,
		IdempotencyKey: strings.TrimSpace(r.IdempotencyKey),
		Reason:         r.Reason,
	}
	switch rc.Status {
	case ledger.ReceiptPending, ledger.ReceiptConfirmed, ledger.ReceiptFailed:
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown receipt status %q", r.Status)
	}
	switch rc.Kind {
	case ledger.KindRelease:
		if rc.MilestoneID, err = domain.ParseMilestoneID(r.MilestoneID); err != nil {
			return err
		}
	case ledger.KindRefund:
		if rc.SponsorID, err = domain.ParseUserID(r.SponsorID); err != nil {
			return err
		}
		if r.CancellationID != "" {
			if rc.CancellationID, err = domain.ParseCancellationID(r.CancellationID); err != nil {
				return err
			}
		}
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown receipt kind %q", r.Kind)
	}
	r.receipt = rc
	return nil
}

func optionalProposal(s string) (*domain.ProposalID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	id, err := domain.ParseProposalID(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &id, nil
}
