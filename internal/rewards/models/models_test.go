package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"umoja/internal/events"
	"umoja/internal/identity"
	"umoja/pkg/domain"
)

var (
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rates = Rates{ContributionRateBP: 100, VerificationReward: 50, VoteReward: 2, ElderMultiplierBP: 15000}
)

func TestRecipient(t *testing.T) {
	passID := domain.NewPassID()

	tests := []struct {
		name   string
		evt    events.Event
		wantOK bool
		user   domain.UserID
	}{
		{
			name: "contribution rewards the sponsor",
			evt: events.MustNew(events.ContributionRecorded, passID.String(), "amani", t0,
				events.ContributionRecordedPayload{PassID: passID, SponsorID: "amani", Amount: 2035}),
			wantOK: true,
			user:   "amani",
		},
		{
			name: "verification rewards the verifier",
			evt: events.MustNew(events.MilestoneStatusChanged, passID.String(), "dr-otieno", t0,
				events.MilestoneStatusChangedPayload{PassID: passID, MilestoneID: "surgery", From: "AwaitingVerification", To: "Verified", ActorID: "dr-otieno"}),
			wantOK: true,
			user:   "dr-otieno",
		},
		{
			name: "automated verification earns nothing",
			evt: events.MustNew(events.MilestoneStatusChanged, passID.String(), domain.SystemPrincipal, t0,
				events.MilestoneStatusChangedPayload{PassID: passID, MilestoneID: "recovery", To: "Verified", ActorID: domain.SystemPrincipal}),
		},
		{
			name: "other transitions earn nothing",
			evt: events.MustNew(events.MilestoneStatusChanged, passID.String(), "wanjiru", t0,
				events.MilestoneStatusChangedPayload{PassID: passID, MilestoneID: "surgery", To: "InProgress", ActorID: "wanjiru"}),
		},
		{
			name: "overwritten vote earns nothing",
			evt: events.MustNew(events.VoteCast, "p", "baraka", t0,
				events.VoteCastPayload{VoterID: "baraka", Choice: "Yes", VotingPower: 1, Overwrote: true}),
		},
		{
			name:   "first vote rewards the voter",
			evt:    events.MustNew(events.VoteCast, "p", "baraka", t0, events.VoteCastPayload{VoterID: "baraka", Choice: "No", VotingPower: 1}),
			wantOK: true,
			user:   "baraka",
		},
		{
			name: "releases are not rewarded",
			evt:  events.MustNew(events.MilestoneReleased, passID.String(), "", t0, events.MilestoneReleasedPayload{PassID: passID}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := Recipient(tt.evt)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.user, got.UserID)
			}
		})
	}
}

func TestRecipientRejectsCorruptPayload(t *testing.T) {
	evt := events.Event{Type: events.VoteCast, Payload: []byte(`{"voter_id":`)}
	_, _, err := Recipient(evt)
	assert.Error(t, err)
}

func TestComputeReward(t *testing.T) {
	contribution := Accrual{UserID: "amani", Event: events.ContributionRecorded, Basis: 4070}

	assert.Equal(t, domain.Amount(40), ComputeReward(contribution, identity.TierMember, rates))
	assert.Equal(t, domain.Amount(40), ComputeReward(contribution, identity.TierNone, rates))
	assert.Equal(t, domain.Amount(60), ComputeReward(contribution, identity.TierElder, rates))

	verification := Accrual{UserID: "dr-otieno", Event: events.MilestoneStatusChanged}
	assert.Equal(t, domain.Amount(50), ComputeReward(verification, identity.TierSteward, rates))
	assert.Equal(t, domain.Amount(75), ComputeReward(verification, identity.TierElder, rates))

	vote := Accrual{UserID: "baraka", Event: events.VoteCast}
	assert.Equal(t, domain.Amount(2), ComputeReward(vote, identity.TierMember, rates))

	t.Run("tiny contributions round down to nothing", func(t *testing.T) {
		small := Accrual{UserID: "amani", Event: events.ContributionRecorded, Basis: 99}
		assert.Zero(t, ComputeReward(small, identity.TierMember, rates))
	})
}
