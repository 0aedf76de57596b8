// Package models holds reward ledger entries and the pure accrual rule.
package models

import (
	"time"

	escrowmodels "umoja/internal/escrow/models"
	"umoja/internal/events"
	"umoja/internal/identity"
	"umoja/pkg/domain"
)

// Entry is one append-only reward ledger line. EventID is the idempotency
// key: an event accrues at most once however often it is delivered.
type Entry struct {
	EventID   domain.EventID `json:"event_id"`
	UserID    domain.UserID  `json:"user_id"`
	EventType events.Type    `json:"event_type"`
	Tier      identity.Tier  `json:"tier"`
	Amount    domain.Amount  `json:"amount"`
	CreatedAt time.Time      `json:"created_at"`
}

// Rates are the accrual parameters, in reward units.
type Rates struct {
	// ContributionRateBP pays amount * rate / 10000 for a contribution.
	ContributionRateBP int64
	VerificationReward int64
	VoteReward         int64
	// ElderMultiplierBP scales every reward earned by an elder.
	ElderMultiplierBP int64
}

// Accrual names who an event rewards and the base figure the reward is
// computed from.
type Accrual struct {
	UserID domain.UserID
	Event  events.Type
	// Basis is the contributed amount for contributions and unused otherwise.
	Basis domain.Amount
}

// Recipient decides whether evt earns a reward and for whom. Only
// contributions, verifications by a human verifier and first-time votes
// earn; everything else returns ok=false.
func Recipient(evt events.Event) (Accrual, bool, error) {
	switch evt.Type {
	case events.ContributionRecorded:
		p, err := events.Decode[events.ContributionRecordedPayload](evt)
		if err != nil {
			return Accrual{}, false, err
		}
		return Accrual{UserID: p.SponsorID, Event: evt.Type, Basis: p.Amount}, p.Amount > 0, nil
	case events.MilestoneStatusChanged:
		p, err := events.Decode[events.MilestoneStatusChangedPayload](evt)
		if err != nil {
			return Accrual{}, false, err
		}
		if p.To != string(escrowmodels.MilestoneVerified) || p.ActorID == "" || p.ActorID == domain.SystemPrincipal {
			return Accrual{}, false, nil
		}
		return Accrual{UserID: p.ActorID, Event: evt.Type}, true, nil
	case events.VoteCast:
		p, err := events.Decode[events.VoteCastPayload](evt)
		if err != nil {
			return Accrual{}, false, err
		}
		if p.Overwrote {
			return Accrual{}, false, nil
		}
		return Accrual{UserID: p.VoterID, Event: evt.Type}, true, nil
	}
	return Accrual{}, false, nil
}

// ComputeReward is the reward for an accrual at the given membership tier.
// It has no side effects.
func ComputeReward(a Accrual, tier identity.Tier, rates Rates) domain.Amount {
	var base int64
	switch a.Event {
	case events.ContributionRecorded:
		base = int64(a.Basis) * rates.ContributionRateBP / 10000
	case events.MilestoneStatusChanged:
		base = rates.VerificationReward
	case events.VoteCast:
		base = rates.VoteReward
	}
	if base <= 0 {
		return 0
	}
	if tier == identity.TierElder && rates.ElderMultiplierBP > 0 {
		base = base * rates.ElderMultiplierBP / 10000
	}
	return domain.Amount(base)
}
