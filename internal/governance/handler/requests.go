package handler

import (
	"strings"

	"umoja/internal/governance/models"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
)

// CreateProposalRequest is the body of POST /proposals.
type CreateProposalRequest struct {
	ActionType  string         `json:"action_type"`
	CommunityID string         `json:"community_id"`
	Payload     map[string]any `json:"payload"`

	actionType  policy.ActionType
	communityID domain.CommunityID
}

func (r *CreateProposalRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	actionType, err := policy.ParseActionType(r.ActionType)
	if err != nil {
		return err
	}
	community, err := domain.ParseCommunityID(r.CommunityID)
	if err != nil {
		return err
	}
	r.actionType = actionType
	r.communityID = community
	return nil
}

// CastVoteRequest is the body of POST /proposals/{id}/votes.
type CastVoteRequest struct {
	Choice      string `json:"choice"`
	VotingPower *int64 `json:"voting_power,omitempty"`

	choice models.Choice
	power  int64
}

func (r *CastVoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	choice, err := models.ParseChoice(strings.TrimSpace(r.Choice))
	if err != nil {
		return err
	}
	r.choice = choice
	r.power = 1
	if r.VotingPower != nil {
		if *r.VotingPower <= 0 {
			return dErrors.New(dErrors.CodeValidation, "voting_power must be positive")
		}
		r.power = *r.VotingPower
	}
	return nil
}
