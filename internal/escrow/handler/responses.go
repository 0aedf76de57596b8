package handler

import (
	"sort"
	"time"

	"umoja/internal/escrow/models"
)

type IntentResponse struct {
	Amount         int64      `json:"amount"`
	IdempotencyKey string     `json:"idempotency_key"`
	Status         string     `json:"status"`
	ReceiptID      string     `json:"receipt_id,omitempty"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	Escalated      bool       `json:"escalated,omitempty"`
}

type MilestoneResponse struct {
	ID               string          `json:"id"`
	Title            string          `json:"title,omitempty"`
	FundingAmount    int64           `json:"funding_amount"`
	Committed        int64           `json:"committed"`
	ReleasedAmount   int64           `json:"released_amount"`
	VerificationMode string          `json:"verification_mode"`
	Status           string          `json:"status"`
	EvidenceRefs     []string        `json:"evidence_refs"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	VerifiedBy       string          `json:"verified_by,omitempty"`
	Release          *IntentResponse `json:"release,omitempty"`
}

type SponsorResponse struct {
	SponsorID   string           `json:"sponsor_id"`
	Amount      int64            `json:"amount"`
	Allocations map[string]int64 `json:"allocations"`
	FirstAt     time.Time        `json:"first_at"`
	LastAt      time.Time        `json:"last_at"`
}

type RefundResponse struct {
	SponsorID string `json:"sponsor_id"`
	IntentResponse
}

type CancellationResponse struct {
	ID      string           `json:"id"`
	Reason  string           `json:"reason"`
	By      string           `json:"by,omitempty"`
	At      time.Time        `json:"at"`
	Refunds []RefundResponse `json:"refunds"`
}

type PassResponse struct {
	ID             string                `json:"id"`
	BeneficiaryID  string                `json:"beneficiary_id"`
	CommunityID    string                `json:"community_id"`
	FundingTarget  int64                 `json:"funding_target"`
	Contributed    int64                 `json:"contributed"`
	FundingPercent float64               `json:"funding_percent"`
	Status         string                `json:"status"`
	Milestones     []MilestoneResponse   `json:"milestones"`
	Sponsors       []SponsorResponse     `json:"sponsors"`
	Cancellation   *CancellationResponse `json:"cancellation,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	Version        int64                 `json:"version"`
}

func fromIntent(i *models.Intent) *IntentResponse {
	if i == nil {
		return nil
	}
	resp := &IntentResponse{
		Amount:         int64(i.Amount),
		IdempotencyKey: i.IdempotencyKey,
		Status:         string(i.Status),
		ReceiptID:      i.ReceiptID,
		Attempts:       i.Attempts,
		LastError:      i.LastError,
		Escalated:      i.Escalated,
	}
	if i.IsPending() {
		at := i.NextAttemptAt
		resp.NextAttemptAt = &at
	}
	return resp
}

// FromPass converts the aggregate to its HTTP representation.
func FromPass(p *models.TreatmentPass) *PassResponse {
	resp := &PassResponse{
		ID:             p.ID.String(),
		BeneficiaryID:  string(p.BeneficiaryID),
		CommunityID:    string(p.CommunityID),
		FundingTarget:  int64(p.FundingTarget),
		Contributed:    int64(p.Contributed()),
		FundingPercent: p.FundingPercent(),
		Status:         string(p.Status),
		Milestones:     make([]MilestoneResponse, 0, len(p.Milestones)),
		Sponsors:       make([]SponsorResponse, 0, len(p.Sponsors)),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		Version:        p.Version,
	}
	for _, m := range p.Milestones {
		refs := m.EvidenceRefs
		if refs == nil {
			refs = []string{}
		}
		resp.Milestones = append(resp.Milestones, MilestoneResponse{
			ID:               string(m.ID),
			Title:            m.Title,
			FundingAmount:    int64(m.FundingAmount),
			Committed:        int64(m.Committed),
			ReleasedAmount:   int64(m.ReleasedAmount),
			VerificationMode: string(m.VerificationMode),
			Status:           string(m.Status),
			EvidenceRefs:     refs,
			FailureReason:    m.FailureReason,
			VerifiedBy:       string(m.VerifiedBy),
			Release:          fromIntent(m.Release),
		})
	}
	for _, c := range p.Sponsors {
		allocs := make(map[string]int64, len(c.Allocations))
		for mid, a := range c.Allocations {
			allocs[string(mid)] = int64(a)
		}
		resp.Sponsors = append(resp.Sponsors, SponsorResponse{
			SponsorID:   string(c.SponsorID),
			Amount:      int64(c.Amount),
			Allocations: allocs,
			FirstAt:     c.FirstAt,
			LastAt:      c.LastAt,
		})
	}
	sort.Slice(resp.Sponsors, func(i, j int) bool { return resp.Sponsors[i].SponsorID < resp.Sponsors[j].SponsorID })
	if c := p.Cancellation; c != nil {
		cr := &CancellationResponse{
			ID:      c.ID.String(),
			Reason:  c.Reason,
			By:      string(c.By),
			At:      c.At,
			Refunds: make([]RefundResponse, 0, len(c.Refunds)),
		}
		for sponsor, intent := range c.Refunds {
			cr.Refunds = append(cr.Refunds, RefundResponse{SponsorID: string(sponsor), IntentResponse: *fromIntent(intent)})
		}
		sort.Slice(cr.Refunds, func(i, j int) bool { return cr.Refunds[i].SponsorID < cr.Refunds[j].SponsorID })
		resp.Cancellation = cr
	}
	return resp
}
