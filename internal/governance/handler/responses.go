package handler

import (
	"sort"
	"time"

	"umoja/internal/governance/models"
)

type VoteResponse struct {
	VoterID     string    `json:"voter_id"`
	Choice      string    `json:"choice"`
	VotingPower int64     `json:"voting_power"`
	CastAt      time.Time `json:"cast_at"`
}

type ProposalResponse struct {
	ID                    string         `json:"id"`
	ActionType            string         `json:"action_type"`
	ProposerID            string         `json:"proposer_id"`
	CommunityID           string         `json:"community_id"`
	Payload               map[string]any `json:"payload"`
	Threshold             float64        `json:"threshold"`
	RequiresElderApproval bool           `json:"requires_elder_approval"`
	Status                string         `json:"status"`
	ElderID               string         `json:"elder_id,omitempty"`
	YesPower              int64          `json:"yes_power"`
	TotalPower            int64          `json:"total_power"`
	Votes                 []VoteResponse `json:"votes"`
	CreatedAt             time.Time      `json:"created_at"`
	VotingDeadline        time.Time      `json:"voting_deadline"`
	FinalizedAt           *time.Time     `json:"finalized_at,omitempty"`
	Archived              bool           `json:"archived"`
	ArchiveReason         string         `json:"archive_reason,omitempty"`
	Version               int64          `json:"version"`
}

// FromProposal converts the aggregate to its HTTP representation.
func FromProposal(p *models.Proposal) *ProposalResponse {
	votes := make([]VoteResponse, 0, len(p.Votes))
	for _, v := range p.Votes {
		votes = append(votes, VoteResponse{
			VoterID:     string(v.VoterID),
			Choice:      string(v.Choice),
			VotingPower: v.VotingPower,
			CastAt:      v.CastAt,
		})
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].VoterID < votes[j].VoterID })
	return &ProposalResponse{
		ID:                    p.ID.String(),
		ActionType:            string(p.ActionType),
		ProposerID:            string(p.ProposerID),
		CommunityID:           string(p.CommunityID),
		Payload:               p.Payload,
		Threshold:             p.Threshold.Fraction(),
		RequiresElderApproval: p.RequiresElderApproval,
		Status:                string(p.Status),
		ElderID:               string(p.ElderID),
		YesPower:              p.YesPower,
		TotalPower:            p.TotalPower,
		Votes:                 votes,
		CreatedAt:             p.CreatedAt,
		VotingDeadline:        p.VotingDeadline,
		FinalizedAt:           p.FinalizedAt,
		Archived:              p.Archived,
		ArchiveReason:         string(p.ArchiveReason),
		Version:               p.Version,
	}
}

type ListProposalsResponse struct {
	Proposals []*ProposalResponse `json:"proposals"`
}
