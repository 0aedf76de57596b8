package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newProposal(t *testing.T, threshold domain.BasisPoints, elder bool) *Proposal {
	t.Helper()
	p, err := NewProposal(domain.NewProposalID(), policy.ConsensusPolicy{
		ActionType:            policy.ActionAllocateCommunityFunds,
		Threshold:             threshold,
		RequiresElderApproval: elder,
		VotingPeriodHours:     72,
	}, "proposer", "kibera", nil, t0)
	require.NoError(t, err)
	return p
}

func vote(p *Proposal, voter string, c Choice, power int64) {
	p.ApplyVote(Vote{ProposalID: p.ID, VoterID: domain.UserID(voter), Choice: c, VotingPower: power, CastAt: t0})
}

func TestNewProposal(t *testing.T) {
	p := newProposal(t, 7500, false)
	assert.Equal(t, StatusOpen, p.Status)
	assert.Equal(t, t0.Add(72*time.Hour), p.VotingDeadline)
	assert.Equal(t, int64(1), p.Version)
	assert.NotNil(t, p.Payload)

	_, err := NewProposal(domain.ProposalID{}, policy.ConsensusPolicy{}, "a", "b", nil, t0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestCanApplyVoteGuardsTheTally(t *testing.T) {
	p := newProposal(t, 7500, false)
	vote(p, "amani", ChoiceNo, math.MaxInt64-1)

	err := p.CanApplyVote(Vote{VoterID: "kibet", Choice: ChoiceYes, VotingPower: 2})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	assert.NoError(t, p.CanApplyVote(Vote{VoterID: "kibet", Choice: ChoiceYes, VotingPower: 1}))
	assert.NoError(t, p.CanApplyVote(Vote{VoterID: "amani", Choice: ChoiceYes, VotingPower: math.MaxInt64}),
		"a recast replaces the voter's own ballot")
	assert.Error(t, p.CanApplyVote(Vote{VoterID: "kibet", Choice: ChoiceYes}))
}

func TestApplyVote(t *testing.T) {
	t.Run("recasting replaces the earlier ballot", func(t *testing.T) {
		p := newProposal(t, 7500, false)
		vote(p, "amani", ChoiceYes, 3)
		overwrote := p.ApplyVote(Vote{ProposalID: p.ID, VoterID: "amani", Choice: ChoiceNo, VotingPower: 3, CastAt: t0})

		assert.True(t, overwrote)
		assert.Len(t, p.Votes, 1)
		assert.Equal(t, int64(0), p.YesPower)
		assert.Equal(t, int64(3), p.TotalPower)
	})

	t.Run("abstentions count toward total power", func(t *testing.T) {
		p := newProposal(t, 7500, false)
		vote(p, "a", ChoiceYes, 3)
		vote(p, "b", ChoiceAbstain, 1)
		yes, total := p.Tally()
		assert.Equal(t, int64(3), yes)
		assert.Equal(t, int64(4), total)
	})
}

func TestCanVote(t *testing.T) {
	p := newProposal(t, 7500, false)
	assert.NoError(t, p.CanVote(p.VotingDeadline))

	err := p.CanVote(p.VotingDeadline.Add(time.Second))
	require.Error(t, err)
	de, ok := dErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dErrors.CodeProposalClosed, de.Code)
	assert.Equal(t, string(StatusOpen), de.State)

	p.ApplyFinalize(p.VotingDeadline)
	assert.True(t, dErrors.HasCode(p.CanVote(t0), dErrors.CodeProposalClosed))
}

func TestApplyFinalize(t *testing.T) {
	tests := []struct {
		name      string
		threshold domain.BasisPoints
		elder     bool
		yes, no   int64
		want      Status
	}{
		{"76 of 100 meets 0.75", 7500, false, 76, 24, StatusApproved},
		{"70 of 100 misses 0.75", 7500, false, 70, 30, StatusRejected},
		{"exactly at threshold approves", 7500, false, 75, 25, StatusApproved},
		{"elder required waits for the elder", 6600, true, 90, 10, StatusElderPending},
		{"elder required but vote failed", 6600, true, 10, 90, StatusRejected},
		{"no votes rejects", 7500, false, 0, 0, StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProposal(t, tt.threshold, tt.elder)
			if tt.yes > 0 {
				vote(p, "yes", ChoiceYes, tt.yes)
			}
			if tt.no > 0 {
				vote(p, "no", ChoiceNo, tt.no)
			}
			require.NoError(t, p.CanFinalize(p.VotingDeadline))
			assert.Equal(t, tt.want, p.ApplyFinalize(p.VotingDeadline))
			assert.NotNil(t, p.FinalizedAt)
		})
	}

	t.Run("before the deadline is a state conflict", func(t *testing.T) {
		p := newProposal(t, 7500, false)
		assert.True(t, dErrors.HasCode(p.CanFinalize(t0), dErrors.CodeConflict))
	})
}

func TestExpireIfOverdue(t *testing.T) {
	grace := 24 * time.Hour

	p := newProposal(t, 7500, false)
	assert.False(t, p.ExpireIfOverdue(p.VotingDeadline.Add(grace), grace))
	assert.True(t, p.ExpireIfOverdue(p.VotingDeadline.Add(grace+time.Second), grace))
	assert.Equal(t, StatusExpired, p.Status)

	pending := newProposal(t, 6600, true)
	vote(pending, "a", ChoiceYes, 1)
	pending.ApplyFinalize(pending.VotingDeadline)
	assert.True(t, pending.ExpireIfOverdue(pending.VotingDeadline.Add(2*grace), grace))

	approved := newProposal(t, 7500, false)
	vote(approved, "a", ChoiceYes, 1)
	approved.ApplyFinalize(approved.VotingDeadline)
	assert.False(t, approved.ExpireIfOverdue(approved.VotingDeadline.Add(10*grace), grace))
	assert.Equal(t, StatusApproved, approved.Status)
}

func TestElderApproval(t *testing.T) {
	p := newProposal(t, 6600, true)
	assert.True(t, dErrors.HasCode(p.CanRecordElderApproval(), dErrors.CodeConflict))

	vote(p, "a", ChoiceYes, 9)
	vote(p, "b", ChoiceNo, 1)
	assert.Equal(t, StatusElderPending, p.ApplyFinalize(p.VotingDeadline), "a passing vote always waits for the elder")
	require.NoError(t, p.CanRecordElderApproval())
	p.ApplyElderApproval("mzee")
	assert.Equal(t, StatusElderApproved, p.Status)
	assert.Equal(t, domain.UserID("mzee"), p.ElderID)
	assert.Error(t, p.CanRecordElderApproval())
}

func TestAuthorizeAndArchive(t *testing.T) {
	p := newProposal(t, 7500, false)
	err := p.CanAuthorize(policy.ActionAllocateCommunityFunds, "x")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConsensusRequired))

	vote(p, "a", ChoiceYes, 1)
	p.ApplyFinalize(p.VotingDeadline)
	require.NoError(t, p.CanAuthorize(policy.ActionAllocateCommunityFunds, "x"))
	assert.True(t, dErrors.HasCode(p.CanAuthorize(policy.ActionBanMember, "x"), dErrors.CodeValidation))

	p.ApplyArchive(ArchiveApplied, "x")
	assert.NoError(t, p.CanAuthorize(policy.ActionAllocateCommunityFunds, "x"), "same subject may retry")
	assert.True(t, dErrors.HasCode(p.CanAuthorize(policy.ActionAllocateCommunityFunds, "y"), dErrors.CodeConsensusRequired))
	assert.Error(t, p.CanAbandon())
}

func TestClone(t *testing.T) {
	p := newProposal(t, 7500, false)
	vote(p, "a", ChoiceYes, 1)
	cp := p.Clone()
	vote(cp, "b", ChoiceNo, 1)
	cp.Payload["k"] = "v"

	assert.Len(t, p.Votes, 1)
	assert.Empty(t, p.Payload)
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice("yes")
	require.NoError(t, err)
	assert.Equal(t, ChoiceYes, c)
	_, err = ParseChoice("maybe")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
