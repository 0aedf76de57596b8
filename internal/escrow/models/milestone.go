package models

import (
	"time"

	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
)

// MilestoneStatus is the verification state of a milestone.
type MilestoneStatus string

const (
	MilestoneNotStarted           MilestoneStatus = "NotStarted"
	MilestoneInProgress           MilestoneStatus = "InProgress"
	MilestoneAwaitingVerification MilestoneStatus = "AwaitingVerification"
	MilestoneVerified             MilestoneStatus = "Verified"
	MilestoneFailed               MilestoneStatus = "Failed"
)

// milestoneTransitions lists the allowed moves. Failed only returns to
// AwaitingVerification, never straight to Verified.
var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneNotStarted:           {MilestoneInProgress},
	MilestoneInProgress:           {MilestoneAwaitingVerification},
	MilestoneAwaitingVerification: {MilestoneVerified, MilestoneFailed},
	MilestoneFailed:               {MilestoneAwaitingVerification},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to MilestoneStatus) bool {
	for _, next := range milestoneTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// VerificationMode is the class of verifier a milestone needs.
type VerificationMode string

const (
	ModeMedicalProvider       VerificationMode = "MedicalProvider"
	ModeCommunityWitness      VerificationMode = "CommunityWitness"
	ModeAutomatedVerification VerificationMode = "AutomatedVerification"
	ModeThirdPartyEvidence    VerificationMode = "ThirdPartyEvidence"
)

func ParseVerificationMode(s string) (VerificationMode, error) {
	switch m := VerificationMode(s); m {
	case ModeMedicalProvider, ModeCommunityWitness, ModeAutomatedVerification, ModeThirdPartyEvidence:
		return m, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown verification mode %q", s)
}

// Milestone is one independently verifiable step of a treatment plan.
//
// Invariants:
//   - Committed <= FundingAmount
//   - ReleasedAmount is 0 or FundingAmount, and never changes once set
//   - ReleasedAmount becomes nonzero only from Verified
type Milestone struct {
	ID               domain.MilestoneID `json:"id"`
	Title            string             `json:"title,omitempty"`
	FundingAmount    domain.Amount      `json:"funding_amount"`
	Committed        domain.Amount      `json:"committed"`
	ReleasedAmount   domain.Amount      `json:"released_amount"`
	VerificationMode VerificationMode   `json:"verification_mode"`
	Status           MilestoneStatus    `json:"status"`
	EvidenceRefs     []string           `json:"evidence_refs,omitempty"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	VerifiedBy       domain.UserID      `json:"verified_by,omitempty"`
	VerifiedAt       *time.Time         `json:"verified_at,omitempty"`
	Release          *Intent            `json:"release,omitempty"`
}

// Remaining is the amount still open for allocation.
func (m *Milestone) Remaining() domain.Amount {
	return m.FundingAmount - m.Committed
}

func (m *Milestone) FullyCommitted() bool {
	return m.Committed == m.FundingAmount
}

func (m *Milestone) IsReleased() bool {
	return m.ReleasedAmount != 0
}

// Releasable reports whether a release intent may be created now.
func (m *Milestone) Releasable() bool {
	return m.Status == MilestoneVerified && m.FullyCommitted() && m.Release == nil && !m.IsReleased()
}

// AddEvidence records refs, ignoring ones already present.
func (m *Milestone) AddEvidence(refs []string) {
	seen := make(map[string]struct{}, len(m.EvidenceRefs))
	for _, r := range m.EvidenceRefs {
		seen[r] = struct{}{}
	}
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		m.EvidenceRefs = append(m.EvidenceRefs, r)
	}
}

func (m *Milestone) clone() *Milestone {
	cp := *m
	cp.EvidenceRefs = append([]string(nil), m.EvidenceRefs...)
	if m.VerifiedAt != nil {
		at := *m.VerifiedAt
		cp.VerifiedAt = &at
	}
	cp.Release = m.Release.clone()
	return &cp
}
