package models

import (
	"math"
	"time"

	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
)

// Status is the proposal lifecycle position.
type Status string

const (
	StatusOpen          Status = "Open"
	StatusApproved      Status = "Approved"
	StatusRejected      Status = "Rejected"
	StatusExpired       Status = "Expired"
	StatusElderPending  Status = "ElderPending"
	StatusElderApproved Status = "ElderApproved"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired, StatusElderApproved:
		return true
	}
	return false
}

// Permits reports whether the status authorizes the gated action.
func (s Status) Permits() bool {
	return s == StatusApproved || s == StatusElderApproved
}

// ParseStatus validates a status filter.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusApproved, StatusRejected, StatusExpired, StatusElderPending, StatusElderApproved:
		return st, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown proposal status %q", s)
}

// Choice is a voter's ballot.
type Choice string

const (
	ChoiceYes     Choice = "Yes"
	ChoiceNo      Choice = "No"
	ChoiceAbstain Choice = "Abstain"
)

// ParseChoice accepts the choice names case-insensitively.
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "Yes", "yes", "YES":
		return ChoiceYes, nil
	case "No", "no", "NO":
		return ChoiceNo, nil
	case "Abstain", "abstain", "ABSTAIN":
		return ChoiceAbstain, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "choice must be Yes, No or Abstain, got %q", s)
}

// ArchiveReason records why an approval was consumed.
type ArchiveReason string

const (
	ArchiveApplied   ArchiveReason = "applied"
	ArchiveAbandoned ArchiveReason = "abandoned"
)

// Vote is one voter's current ballot on a proposal.
type Vote struct {
	ProposalID  domain.ProposalID `json:"proposal_id"`
	VoterID     domain.UserID     `json:"voter_id"`
	Choice      Choice            `json:"choice"`
	VotingPower int64             `json:"voting_power"`
	CastAt      time.Time         `json:"cast_at"`
}

// Proposal is the aggregate root for a governed action.
//
// Invariants:
//   - VotingDeadline = CreatedAt + policy voting period
//   - at most one vote per voter; re-casting replaces the earlier vote
//   - status never leaves a terminal state
//   - Archived proposals never authorize another action
type Proposal struct {
	ID                    domain.ProposalID
	ActionType            policy.ActionType
	ProposerID            domain.UserID
	CommunityID           domain.CommunityID
	Payload               map[string]any
	Threshold             domain.BasisPoints
	RequiresElderApproval bool
	Status                Status
	ElderID               domain.UserID
	Votes                 map[domain.UserID]Vote
	YesPower              int64
	TotalPower            int64
	CreatedAt             time.Time
	VotingDeadline        time.Time
	FinalizedAt           *time.Time
	Archived              bool
	ArchiveReason         ArchiveReason
	// AppliedTo names the action instance that consumed the approval.
	AppliedTo string
	Version   int64
}

// NewProposal opens a proposal under the given policy.
func NewProposal(id domain.ProposalID, p policy.ConsensusPolicy, proposer domain.UserID, community domain.CommunityID, payload map[string]any, now time.Time) (*Proposal, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "proposal id required")
	}
	if proposer == "" || community == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "proposer and community required")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &Proposal{
		ID:                    id,
		ActionType:            p.ActionType,
		ProposerID:            proposer,
		CommunityID:           community,
		Payload:               payload,
		Threshold:             p.Threshold,
		RequiresElderApproval: p.RequiresElderApproval,
		Status:                StatusOpen,
		Votes:                 make(map[domain.UserID]Vote),
		CreatedAt:             now,
		VotingDeadline:        now.Add(p.VotingPeriod()),
		Version:               1,
	}, nil
}

func (p *Proposal) closed(msg string) error {
	return dErrors.Conflict(dErrors.CodeProposalClosed, string(p.Status), msg)
}

// ExpireIfOverdue moves an Open or ElderPending proposal to Expired once the
// grace period after the deadline has passed. It reports whether it did.
func (p *Proposal) ExpireIfOverdue(now time.Time, grace time.Duration) bool {
	if p.Status != StatusOpen && p.Status != StatusElderPending {
		return false
	}
	if !now.After(p.VotingDeadline.Add(grace)) {
		return false
	}
	p.Status = StatusExpired
	if p.FinalizedAt == nil {
		at := now
		p.FinalizedAt = &at
	}
	return true
}

// CanVote checks that the proposal accepts ballots at now.
func (p *Proposal) CanVote(now time.Time) error {
	if p.Status != StatusOpen {
		return p.closed("proposal is not open for voting")
	}
	if now.After(p.VotingDeadline) {
		return p.closed("voting deadline has passed")
	}
	return nil
}

// CanApplyVote checks that v keeps the tally within int64. The voter's
// current ballot, if any, is left out since v replaces it.
func (p *Proposal) CanApplyVote(v Vote) error {
	if v.VotingPower <= 0 {
		return dErrors.New(dErrors.CodeValidation, "voting power must be positive")
	}
	var total int64
	for voter, existing := range p.Votes {
		if voter == v.VoterID {
			continue
		}
		if total > math.MaxInt64-existing.VotingPower {
			return dErrors.New(dErrors.CodeValidation, "vote tally overflows")
		}
		total += existing.VotingPower
	}
	if total > math.MaxInt64-v.VotingPower {
		return dErrors.New(dErrors.CodeValidation, "vote tally overflows")
	}
	return nil
}

// ApplyVote records v, replacing the voter's previous ballot. It returns
// true when a previous ballot was replaced.
func (p *Proposal) ApplyVote(v Vote) bool {
	if p.Votes == nil {
		p.Votes = make(map[domain.UserID]Vote)
	}
	_, overwrote := p.Votes[v.VoterID]
	p.Votes[v.VoterID] = v
	p.YesPower, p.TotalPower = p.Tally()
	return overwrote
}

// Tally sums yes power and total cast power. Abstentions count toward the total.
func (p *Proposal) Tally() (yes, total int64) {
	for _, v := range p.Votes {
		total += v.VotingPower
		if v.Choice == ChoiceYes {
			yes += v.VotingPower
		}
	}
	return yes, total
}

// CanFinalize checks that the voting window has closed. Finalizing an
// already finalized proposal is a no-op rather than an error; callers check
// IsFinalized first.
func (p *Proposal) CanFinalize(now time.Time) error {
	if now.Before(p.VotingDeadline) {
		return dErrors.Conflict(dErrors.CodeConflict, string(p.Status), "voting is still open")
	}
	return nil
}

// IsFinalized reports whether finalize has already decided the outcome.
func (p *Proposal) IsFinalized() bool {
	return p.Status != StatusOpen
}

// ApplyFinalize decides the outcome of the vote. Zero cast power rejects.
// A passing elder-gated vote always waits in ElderPending, since sign-off is
// only recorded from there.
func (p *Proposal) ApplyFinalize(now time.Time) Status {
	p.YesPower, p.TotalPower = p.Tally()
	switch {
	case !p.Threshold.Meets(p.YesPower, p.TotalPower):
		p.Status = StatusRejected
	case p.RequiresElderApproval:
		p.Status = StatusElderPending
	default:
		p.Status = StatusApproved
	}
	at := now
	p.FinalizedAt = &at
	return p.Status
}

// CanRecordElderApproval checks that the proposal awaits elder sign-off.
func (p *Proposal) CanRecordElderApproval() error {
	if p.Status != StatusElderPending {
		return dErrors.Conflict(dErrors.CodeConflict, string(p.Status), "proposal is not awaiting elder approval")
	}
	return nil
}

func (p *Proposal) ApplyElderApproval(elder domain.UserID) {
	p.ElderID = elder
	p.Status = StatusElderApproved
}

// CanAuthorize checks that the proposal permits actionType to run for
// subject. An approval already consumed by the same subject still passes so
// that a retried action is not refused.
func (p *Proposal) CanAuthorize(actionType policy.ActionType, subject string) error {
	if p.ActionType != actionType {
		return dErrors.Newf(dErrors.CodeValidation, "proposal governs %s, not %s", p.ActionType, actionType)
	}
	if subject != "" && p.IsAppliedTo(subject) {
		return nil
	}
	if p.Archived {
		return dErrors.Conflict(dErrors.CodeConsensusRequired, string(p.Status), "proposal approval was already used")
	}
	if !p.Status.Permits() {
		return dErrors.Conflict(dErrors.CodeConsensusRequired, string(p.Status), "proposal has not been approved")
	}
	return nil
}

// CanAbandon checks that the proposal reached a terminal state and has not
// been archived.
func (p *Proposal) CanAbandon() error {
	if p.Archived {
		return dErrors.Conflict(dErrors.CodeConflict, string(p.Status), "proposal is already archived")
	}
	if !p.Status.IsTerminal() {
		return dErrors.Conflict(dErrors.CodeConflict, string(p.Status), "only decided proposals can be abandoned")
	}
	return nil
}

// IsAppliedTo reports whether subject already consumed the approval.
func (p *Proposal) IsAppliedTo(subject string) bool {
	return p.Archived && p.ArchiveReason == ArchiveApplied && p.AppliedTo == subject
}

// ApplyArchive retires the proposal.
func (p *Proposal) ApplyArchive(reason ArchiveReason, subject string) {
	p.Archived = true
	p.ArchiveReason = reason
	p.AppliedTo = subject
}

// ApplyRestore returns a consumed approval to the unused state.
func (p *Proposal) ApplyRestore() {
	p.Archived = false
	p.ArchiveReason = ""
	p.AppliedTo = ""
}

// Clone returns a deep copy safe to mutate independently.
func (p *Proposal) Clone() *Proposal {
	cp := *p
	cp.Votes = make(map[domain.UserID]Vote, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	cp.Payload = make(map[string]any, len(p.Payload))
	for k, v := range p.Payload {
		cp.Payload[k] = v
	}
	if p.FinalizedAt != nil {
		at := *p.FinalizedAt
		cp.FinalizedAt = &at
	}
	return &cp
}
