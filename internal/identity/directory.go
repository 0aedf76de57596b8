// Package identity is the engine's view of the external membership and
// credential service. The engine asks yes/no questions; it never manages users.
package identity

//go:generate mockgen -source=directory.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"umoja/pkg/domain"
)

// Tier is a member's standing, used to scale reward accrual.
type Tier string

const (
	TierNone    Tier = "none"
	TierMember  Tier = "member"
	TierSteward Tier = "steward"
	TierElder   Tier = "elder"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierNone, TierMember, TierSteward, TierElder:
		return true
	}
	return false
}

// Directory answers membership and credential questions.
type Directory interface {
	IsCommunityMember(ctx context.Context, userID domain.UserID, communityID domain.CommunityID) (bool, error)
	IsElder(ctx context.Context, userID domain.UserID) (bool, error)
	// HasVerifierCredential reports whether userID may confirm milestones in
	// the named verification mode.
	HasVerifierCredential(ctx context.Context, userID domain.UserID, mode string) (bool, error)
	MembershipTier(ctx context.Context, userID domain.UserID) (Tier, error)
}
