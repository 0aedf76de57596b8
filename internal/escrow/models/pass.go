package models

import (
	"sort"
	"time"

	"umoja/internal/ledger"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
)

// PassStatus is the lifecycle of a treatment pass.
type PassStatus string

const (
	PassActive PassStatus = "Active"
	// PassCompleted is the archived state reached once every milestone released.
	PassCompleted PassStatus = "Completed"
	PassCancelled PassStatus = "Cancelled"
)

// Contribution is one sponsor's running total on a pass.
//
// Invariants:
//   - Amount equals the sum of Allocations
type Contribution struct {
	SponsorID   domain.UserID                        `json:"sponsor_id"`
	Amount      domain.Amount                        `json:"amount"`
	Allocations map[domain.MilestoneID]domain.Amount `json:"allocations"`
	FirstAt     time.Time                            `json:"first_at"`
	LastAt      time.Time                            `json:"last_at"`
}

// Cancellation records a cancelled pass and its refunds.
type Cancellation struct {
	ID      domain.CancellationID     `json:"id"`
	Reason  string                    `json:"reason"`
	By      domain.UserID             `json:"by,omitempty"`
	At      time.Time                 `json:"at"`
	Refunds map[domain.UserID]*Intent `json:"refunds"`
}

// MilestoneSpec describes a milestone when a pass is created.
type MilestoneSpec struct {
	ID               domain.MilestoneID
	Title            string
	FundingAmount    domain.Amount
	VerificationMode VerificationMode
}

// TreatmentPass is the escrow aggregate root.
//
// Invariants:
//   - sum of milestone FundingAmount equals FundingTarget
//   - sum of sponsor contributions never exceeds FundingTarget
//   - no milestone is committed beyond its FundingAmount
//   - a milestone carries at most one release intent
//   - Cancelled and Completed are final
type TreatmentPass struct {
	ID            domain.PassID
	BeneficiaryID domain.UserID
	CommunityID   domain.CommunityID
	FundingTarget domain.Amount
	Status        PassStatus
	Milestones    []*Milestone
	Sponsors      map[domain.UserID]*Contribution
	Cancellation  *Cancellation
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// NewTreatmentPass validates the plan and opens the pass. A zero target is
// taken from the milestone sum.
func NewTreatmentPass(id domain.PassID, beneficiary domain.UserID, community domain.CommunityID, target domain.Amount, specs []MilestoneSpec, now time.Time) (*TreatmentPass, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "pass id required")
	}
	if beneficiary == "" || community == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "beneficiary and community are required")
	}
	if len(specs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "a pass needs at least one milestone")
	}

	milestones := make([]*Milestone, 0, len(specs))
	seen := make(map[domain.MilestoneID]struct{}, len(specs))
	var sum domain.Amount
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "milestone id is required")
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate milestone %s", spec.ID)
		}
		seen[spec.ID] = struct{}{}
		if !spec.FundingAmount.IsPositive() {
			return nil, dErrors.Newf(dErrors.CodeValidation, "milestone %s funding amount must be positive", spec.ID)
		}
		if _, err := ParseVerificationMode(string(spec.VerificationMode)); err != nil {
			return nil, err
		}
		var err error
		if sum, err = sum.Add(spec.FundingAmount); err != nil {
			return nil, err
		}
		milestones = append(milestones, &Milestone{
			ID:               spec.ID,
			Title:            spec.Title,
			FundingAmount:    spec.FundingAmount,
			VerificationMode: spec.VerificationMode,
			Status:           MilestoneNotStarted,
		})
	}
	if target == 0 {
		target = sum
	}
	if target != sum {
		return nil, dErrors.Newf(dErrors.CodeValidation, "milestone amounts sum to %d, funding target is %d", sum, target)
	}

	return &TreatmentPass{
		ID:            id,
		BeneficiaryID: beneficiary,
		CommunityID:   community,
		FundingTarget: target,
		Status:        PassActive,
		Milestones:    milestones,
		Sponsors:      make(map[domain.UserID]*Contribution),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// Milestone looks up a milestone by id.
func (p *TreatmentPass) Milestone(id domain.MilestoneID) (*Milestone, error) {
	for _, m := range p.Milestones {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "milestone %s not found on pass", id)
}

// Contributed is the sum of all sponsor contributions.
func (p *TreatmentPass) Contributed() domain.Amount {
	var total domain.Amount
	for _, c := range p.Sponsors {
		total += c.Amount
	}
	return total
}

// FundingPercent is the display value of funding progress.
func (p *TreatmentPass) FundingPercent() float64 {
	return domain.FundingPercent(p.Contributed(), p.FundingTarget)
}

func (p *TreatmentPass) requireActive() error {
	if p.Status != PassActive {
		return dErrors.Conflict(dErrors.CodeInvalidPass, string(p.Status), "pass is "+string(p.Status))
	}
	return nil
}

// CanContribute validates a contribution against the current commitments.
// Nothing is changed when it fails.
func (p *TreatmentPass) CanContribute(amount domain.Amount, allocations map[domain.MilestoneID]domain.Amount) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if len(allocations) == 0 {
		return dErrors.New(dErrors.CodeValidation, "milestone allocations are required")
	}

	var sum domain.Amount
	for id, alloc := range allocations {
		if !alloc.IsPositive() {
			return dErrors.Newf(dErrors.CodeValidation, "allocation to %s must be positive", id)
		}
		m, err := p.Milestone(id)
		if err != nil {
			return dErrors.Newf(dErrors.CodeValidation, "unknown milestone %s", id)
		}
		if alloc > m.Remaining() {
			return dErrors.Newf(dErrors.CodeOverAllocation,
				"allocation of %d to %s exceeds its remaining %d", alloc, id, m.Remaining())
		}
		if sum, err = sum.Add(alloc); err != nil {
			return err
		}
	}
	if sum != amount {
		return dErrors.Newf(dErrors.CodeValidation, "allocations sum to %d, amount is %d", sum, amount)
	}
	if p.Contributed()+amount > p.FundingTarget {
		return dErrors.Newf(dErrors.CodeOverAllocation, "contribution would fund the pass beyond its target")
	}
	return nil
}

// ApplyContribution commits the allocations and returns the milestones that
// became releasable because this contribution completed their funding.
func (p *TreatmentPass) ApplyContribution(sponsor domain.UserID, amount domain.Amount, allocations map[domain.MilestoneID]domain.Amount, now time.Time) []domain.MilestoneID {
	c, ok := p.Sponsors[sponsor]
	if !ok {
		c = &Contribution{
			SponsorID:   sponsor,
			Allocations: make(map[domain.MilestoneID]domain.Amount),
			FirstAt:     now,
		}
		p.Sponsors[sponsor] = c
	}
	c.Amount += amount
	c.LastAt = now

	var releasable []domain.MilestoneID
	for _, m := range p.Milestones {
		alloc, ok := allocations[m.ID]
		if !ok {
			continue
		}
		c.Allocations[m.ID] += alloc
		m.Committed += alloc
		if m.Releasable() {
			releasable = append(releasable, m.ID)
		}
	}
	p.UpdatedAt = now
	return releasable
}

// CanRelease checks that the milestone may get a release intent.
func (p *TreatmentPass) CanRelease(id domain.MilestoneID) error {
	m, err := p.Milestone(id)
	if err != nil {
		return err
	}
	if p.Status == PassCancelled {
		return dErrors.Conflict(dErrors.CodeInvalidPass, string(p.Status), "pass is cancelled")
	}
	if m.Status != MilestoneVerified {
		return dErrors.Conflict(dErrors.CodeConflict, string(m.Status), "milestone is not verified")
	}
	if !m.FullyCommitted() {
		return dErrors.Conflict(dErrors.CodeConflict, string(m.Status),
			"milestone is not fully funded; it releases when funding completes")
	}
	return nil
}

// ApplyReleaseIntent creates the milestone's release intent, or returns the
// existing one.
func (p *TreatmentPass) ApplyReleaseIntent(id domain.MilestoneID, now time.Time) (*Intent, bool) {
	m, err := p.Milestone(id)
	if err != nil {
		return nil, false
	}
	if m.Release != nil {
		return m.Release, false
	}
	m.Release = newIntent(m.FundingAmount, ledger.ReleaseKey(p.ID, m.ID), now)
	p.UpdatedAt = now
	return m.Release, true
}

// ApplyReleaseConfirmed settles the release. It returns false for a
// duplicate receipt.
func (p *TreatmentPass) ApplyReleaseConfirmed(id domain.MilestoneID, receiptID string, now time.Time) (bool, error) {
	m, err := p.Milestone(id)
	if err != nil {
		return false, err
	}
	if m.Release == nil {
		return false, dErrors.Conflict(dErrors.CodeConflict, string(m.Status), "milestone has no release intent")
	}
	if !m.Release.confirm(receiptID, now) {
		return false, nil
	}
	m.ReleasedAmount = m.FundingAmount
	p.UpdatedAt = now
	if p.Status == PassActive && p.allReleased() {
		p.Status = PassCompleted
	}
	return true, nil
}

func (p *TreatmentPass) allReleased() bool {
	for _, m := range p.Milestones {
		if !m.IsReleased() {
			return false
		}
	}
	return true
}

// CanCancel checks that some milestone is still unreleased. Milestones with
// a release intent in flight count as released.
func (p *TreatmentPass) CanCancel() error {
	if p.Status == PassCancelled {
		return dErrors.Conflict(dErrors.CodeConflict, string(p.Status), "pass is already cancelled")
	}
	for _, m := range p.Milestones {
		if m.Release == nil && !m.IsReleased() {
			return nil
		}
	}
	return dErrors.Conflict(dErrors.CodeCannotCancelFullyReleased, string(p.Status), "every milestone has already released")
}

// ApplyCancel cancels the pass and creates one refund intent per sponsor
// with a positive refund: their contribution minus allocations to
// milestones that released or are releasing.
func (p *TreatmentPass) ApplyCancel(cancellationID domain.CancellationID, reason string, by domain.UserID, now time.Time) map[domain.UserID]domain.Amount {
	released := make(map[domain.MilestoneID]bool, len(p.Milestones))
	for _, m := range p.Milestones {
		released[m.ID] = m.Release != nil || m.IsReleased()
	}

	refunds := make(map[domain.UserID]domain.Amount)
	intents := make(map[domain.UserID]*Intent)
	for sponsor, c := range p.Sponsors {
		refund := c.Amount
		for mid, alloc := range c.Allocations {
			if released[mid] {
				refund -= alloc
			}
		}
		if refund <= 0 {
			continue
		}
		refunds[sponsor] = refund
		intents[sponsor] = newIntent(refund, ledger.RefundKey(p.ID, sponsor, cancellationID), now)
	}

	p.Status = PassCancelled
	p.Cancellation = &Cancellation{
		ID:      cancellationID,
		Reason:  reason,
		By:      by,
		At:      now,
		Refunds: intents,
	}
	p.UpdatedAt = now
	return refunds
}

// ApplyRefundConfirmed settles a sponsor's refund. It returns false for a
// duplicate receipt.
func (p *TreatmentPass) ApplyRefundConfirmed(sponsor domain.UserID, receiptID string, now time.Time) (bool, error) {
	if p.Cancellation == nil {
		return false, dErrors.Conflict(dErrors.CodeConflict, string(p.Status), "pass has no refunds")
	}
	intent, ok := p.Cancellation.Refunds[sponsor]
	if !ok {
		return false, dErrors.Newf(dErrors.CodeNotFound, "no refund for sponsor %s", sponsor)
	}
	if !intent.confirm(receiptID, now) {
		return false, nil
	}
	p.UpdatedAt = now
	return true, nil
}

// CanTransitionMilestone checks a verification move on an active pass.
func (p *TreatmentPass) CanTransitionMilestone(id domain.MilestoneID, to MilestoneStatus) error {
	if err := p.requireActive(); err != nil {
		return err
	}
	m, err := p.Milestone(id)
	if err != nil {
		return err
	}
	if !CanTransition(m.Status, to) {
		return dErrors.Conflict(dErrors.CodeConflict, string(m.Status),
			"milestone cannot move from "+string(m.Status)+" to "+string(to))
	}
	return nil
}

// ApplyMilestoneStatus moves the milestone and returns its previous status.
func (p *TreatmentPass) ApplyMilestoneStatus(id domain.MilestoneID, to MilestoneStatus, actor domain.UserID, reason string, now time.Time) MilestoneStatus {
	m, _ := p.Milestone(id)
	from := m.Status
	m.Status = to
	switch to {
	case MilestoneVerified:
		m.VerifiedBy = actor
		at := now
		m.VerifiedAt = &at
		m.FailureReason = ""
	case MilestoneFailed:
		m.FailureReason = reason
	case MilestoneAwaitingVerification:
		m.FailureReason = ""
	}
	p.UpdatedAt = now
	return from
}

// PendingIntent names one intent awaiting ledger confirmation.
type PendingIntent struct {
	Kind        ledger.Kind
	MilestoneID domain.MilestoneID
	SponsorID   domain.UserID
	Intent      *Intent
}

// PendingIntents lists every unconfirmed intent, releases first.
func (p *TreatmentPass) PendingIntents() []PendingIntent {
	var out []PendingIntent
	for _, m := range p.Milestones {
		if m.Release.IsPending() {
			out = append(out, PendingIntent{Kind: ledger.KindRelease, MilestoneID: m.ID, Intent: m.Release})
		}
	}
	if p.Cancellation != nil {
		sponsors := make([]domain.UserID, 0, len(p.Cancellation.Refunds))
		for s, intent := range p.Cancellation.Refunds {
			if intent.IsPending() {
				sponsors = append(sponsors, s)
			}
		}
		sort.Slice(sponsors, func(i, j int) bool { return sponsors[i] < sponsors[j] })
		for _, s := range sponsors {
			out = append(out, PendingIntent{Kind: ledger.KindRefund, SponsorID: s, Intent: p.Cancellation.Refunds[s]})
		}
	}
	return out
}

// FindIntent returns the pending or settled intent for a receipt target.
func (p *TreatmentPass) FindIntent(kind ledger.Kind, milestone domain.MilestoneID, sponsor domain.UserID) (*Intent, error) {
	switch kind {
	case ledger.KindRelease:
		m, err := p.Milestone(milestone)
		if err != nil {
			return nil, err
		}
		if m.Release == nil {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "milestone %s has no release intent", milestone)
		}
		return m.Release, nil
	case ledger.KindRefund:
		if p.Cancellation == nil {
			return nil, dErrors.New(dErrors.CodeNotFound, "pass has no refunds")
		}
		intent, ok := p.Cancellation.Refunds[sponsor]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no refund for sponsor %s", sponsor)
		}
		return intent, nil
	}
	return nil, dErrors.Newf(dErrors.CodeValidation, "unknown receipt kind %q", kind)
}

// RecoverReleases creates intents for verified, fully funded milestones that
// lack one and returns their ids.
func (p *TreatmentPass) RecoverReleases(now time.Time) []domain.MilestoneID {
	if p.Status == PassCancelled {
		return nil
	}
	var ids []domain.MilestoneID
	for _, m := range p.Milestones {
		if m.Releasable() {
			p.ApplyReleaseIntent(m.ID, now)
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// NextDueAt is the earliest retry time of any pending intent, or nil. A
// releasable milestone still lacking its intent is due immediately.
func (p *TreatmentPass) NextDueAt() *time.Time {
	var next *time.Time
	if p.Status != PassCancelled {
		for _, m := range p.Milestones {
			if m.Releasable() {
				at := p.UpdatedAt
				next = &at
				break
			}
		}
	}
	for _, pi := range p.PendingIntents() {
		at := pi.Intent.NextAttemptAt
		if next == nil || at.Before(*next) {
			next = &at
		}
	}
	return next
}

// Clone returns a deep copy safe to mutate independently.
func (p *TreatmentPass) Clone() *TreatmentPass {
	cp := *p
	cp.Milestones = make([]*Milestone, len(p.Milestones))
	for i, m := range p.Milestones {
		cp.Milestones[i] = m.clone()
	}
	cp.Sponsors = make(map[domain.UserID]*Contribution, len(p.Sponsors))
	for k, c := range p.Sponsors {
		cc := *c
		cc.Allocations = make(map[domain.MilestoneID]domain.Amount, len(c.Allocations))
		for mid, a := range c.Allocations {
			cc.Allocations[mid] = a
		}
		cp.Sponsors[k] = &cc
	}
	if p.Cancellation != nil {
		cc := *p.Cancellation
		cc.Refunds = make(map[domain.UserID]*Intent, len(p.Cancellation.Refunds))
		for k, i := range p.Cancellation.Refunds {
			cc.Refunds[k] = i.clone()
		}
		cp.Cancellation = &cc
	}
	return &cp
}
