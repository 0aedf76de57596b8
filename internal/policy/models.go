// Package policy is the consensus policy registry: a read-only mapping from
// action type to the voting rules a proposal for that action must satisfy.
package policy

import (
	"strings"
	"time"

	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
)

// ActionType names a governed action.
type ActionType string

const (
	ActionApproveTreatmentProtocol ActionType = "approve-treatment-protocol"
	ActionBanMember                ActionType = "ban-member"
	ActionAllocateCommunityFunds   ActionType = "allocate-community-funds"
	ActionModifyUbuntuPrinciples   ActionType = "modify-ubuntu-principles"
	ActionCancelTreatmentPass      ActionType = "cancel-treatment-pass"

	// ActionDefault is the fallback policy for unmapped action types. It only
	// applies when a deployment configures it explicitly.
	ActionDefault ActionType = "default"
)

const maxVotingPeriodHours = 24 * 90

// ParseActionType normalizes and validates an action type tag.
func ParseActionType(s string) (ActionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "action type is required")
	}
	if len(s) > 64 {
		return "", dErrors.New(dErrors.CodeValidation, "action type must be 64 characters or less")
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return "", dErrors.New(dErrors.CodeValidation, "action type must be lowercase kebab-case")
		}
	}
	return ActionType(s), nil
}

func (a ActionType) String() string { return string(a) }

// ConsensusPolicy is the threshold, elder and voting-window rule attached to
// an action type.
//
// Invariants:
//   - Threshold is within (0, 10000] basis points
//   - VotingPeriodHours is positive
//   - Immutable once loaded
type ConsensusPolicy struct {
	ActionType            ActionType
	Threshold             domain.BasisPoints
	RequiresElderApproval bool
	VotingPeriodHours     int
	// GateWhen is an optional CEL expression over the action payload. When
	// set, the action only needs consensus if the expression is true.
	GateWhen string
}

// VotingPeriod returns the voting window as a duration.
func (p ConsensusPolicy) VotingPeriod() time.Duration {
	return time.Duration(p.VotingPeriodHours) * time.Hour
}

// Validate checks the policy invariants.
func (p ConsensusPolicy) Validate() error {
	if _, err := ParseActionType(string(p.ActionType)); err != nil {
		return err
	}
	if p.Threshold <= 0 || p.Threshold > domain.MaxBasisPoints {
		return dErrors.Newf(dErrors.CodeValidation, "policy %s: threshold must be within (0,1]", p.ActionType)
	}
	if p.VotingPeriodHours <= 0 || p.VotingPeriodHours > maxVotingPeriodHours {
		return dErrors.Newf(dErrors.CodeValidation, "policy %s: votingPeriodHours must be within 1..%d", p.ActionType, maxVotingPeriodHours)
	}
	return nil
}

// DefaultPolicies are the policies shipped with the engine.
func DefaultPolicies() []ConsensusPolicy {
	return []ConsensusPolicy{
		{
			ActionType:            ActionApproveTreatmentProtocol,
			Threshold:             6600,
			RequiresElderApproval: true,
			VotingPeriodHours:     72,
		},
		{
			ActionType:            ActionBanMember,
			Threshold:             7500,
			RequiresElderApproval: true,
			VotingPeriodHours:     48,
		},
		{
			ActionType:        ActionAllocateCommunityFunds,
			Threshold:         7500,
			VotingPeriodHours: 72,
			// Allocations above 10,000.00 in minor units need a vote.
			GateWhen: `has(payload.amount) && payload.amount > 1000000`,
		},
		{
			// Beneficiaries and the system principal cancel without a vote.
			ActionType:            ActionCancelTreatmentPass,
			Threshold:             6600,
			RequiresElderApproval: true,
			VotingPeriodHours:     48,
		},
		{
			ActionType:            ActionModifyUbuntuPrinciples,
			Threshold:             9000,
			RequiresElderApproval: true,
			VotingPeriodHours:     168,
		},
	}
}
