// Package events is the engine's outward event feed. Services append events
// to an outbox in the same transaction as the aggregate write; a relay then
// publishes them to subscribers (the in-process bus and, when configured, Kafka).
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"umoja/pkg/domain"
)

// Type names a domain event.
type Type string

const (
	ProposalCreated        Type = "ProposalCreated"
	VoteCast               Type = "VoteCast"
	ProposalFinalized      Type = "ProposalFinalized"
	ElderApproved          Type = "ElderApproved"
	ProposalArchived       Type = "ProposalArchived"
	ProposalRestored       Type = "ProposalRestored"
	PassCreated            Type = "PassCreated"
	ContributionRecorded   Type = "ContributionRecorded"
	MilestoneStatusChanged Type = "MilestoneStatusChanged"
	MilestoneReleased      Type = "MilestoneReleased"
	PassCancelled          Type = "PassCancelled"
	RefundIssued           Type = "RefundIssued"
)

// Event is one entry of the feed. Payload holds the JSON of the typed
// payload struct for Type.
type Event struct {
	ID          domain.EventID  `json:"id"`
	Type        Type            `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Actor       domain.UserID   `json:"actor,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// New builds an event with a fresh id and the marshalled payload.
func New(t Type, aggregateID string, actor domain.UserID, at time.Time, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:          domain.NewEventID(),
		Type:        t,
		AggregateID: aggregateID,
		Actor:       actor,
		OccurredAt:  at.UTC(),
		Payload:     raw,
	}, nil
}

// MustNew is New for payload structs that always marshal.
func MustNew(t Type, aggregateID string, actor domain.UserID, at time.Time, payload any) Event {
	evt, err := New(t, aggregateID, actor, at, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// Decode unmarshals the payload into T.
func Decode[T any](evt Event) (T, error) {
	var out T
	if err := json.Unmarshal(evt.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", evt.Type, err)
	}
	return out, nil
}

type ProposalCreatedPayload struct {
	ProposalID            domain.ProposalID  `json:"proposal_id"`
	ActionType            string             `json:"action_type"`
	ProposerID            domain.UserID      `json:"proposer_id"`
	CommunityID           domain.CommunityID `json:"community_id"`
	Threshold             int64              `json:"threshold_bp"`
	RequiresElderApproval bool               `json:"requires_elder_approval"`
	VotingDeadline        time.Time          `json:"voting_deadline"`
}

type VoteCastPayload struct {
	ProposalID  domain.ProposalID  `json:"proposal_id"`
	CommunityID domain.CommunityID `json:"community_id"`
	VoterID     domain.UserID      `json:"voter_id"`
	Choice      string             `json:"choice"`
	VotingPower int64              `json:"voting_power"`
	// Overwrote is true when the vote replaced the voter's earlier vote.
	Overwrote bool `json:"overwrote"`
}

type ProposalFinalizedPayload struct {
	ProposalID  domain.ProposalID `json:"proposal_id"`
	ActionType  string            `json:"action_type"`
	Status      string            `json:"status"`
	YesPower    int64             `json:"yes_power"`
	TotalPower  int64             `json:"total_power"`
	ThresholdBP int64             `json:"threshold_bp"`
}

type ElderApprovedPayload struct {
	ProposalID domain.ProposalID `json:"proposal_id"`
	ElderID    domain.UserID     `json:"elder_id"`
}

type ProposalArchivedPayload struct {
	ProposalID domain.ProposalID `json:"proposal_id"`
	Reason     string            `json:"reason"`
}

type ProposalRestoredPayload struct {
	ProposalID domain.ProposalID `json:"proposal_id"`
	Subject    string            `json:"subject"`
}

type PassCreatedPayload struct {
	PassID        domain.PassID      `json:"pass_id"`
	CommunityID   domain.CommunityID `json:"community_id"`
	FundingTarget domain.Amount      `json:"funding_target"`
	Milestones    int                `json:"milestones"`
}

type ContributionRecordedPayload struct {
	PassID      domain.PassID                        `json:"pass_id"`
	SponsorID   domain.UserID                        `json:"sponsor_id"`
	Amount      domain.Amount                        `json:"amount"`
	Allocations map[domain.MilestoneID]domain.Amount `json:"allocations"`
	Source      string                               `json:"source,omitempty"`
}

type MilestoneStatusChangedPayload struct {
	PassID      domain.PassID      `json:"pass_id"`
	MilestoneID domain.MilestoneID `json:"milestone_id"`
	From        string             `json:"from"`
	To          string             `json:"to"`
	ActorID     domain.UserID      `json:"actor_id,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

type MilestoneReleasedPayload struct {
	PassID      domain.PassID      `json:"pass_id"`
	MilestoneID domain.MilestoneID `json:"milestone_id"`
	Amount      domain.Amount      `json:"amount"`
	ReceiptID   string             `json:"receipt_id"`
}

type PassCancelledPayload struct {
	PassID         domain.PassID                   `json:"pass_id"`
	CancellationID domain.CancellationID           `json:"cancellation_id"`
	Reason         string                          `json:"reason"`
	Refunds        map[domain.UserID]domain.Amount `json:"refunds"`
}

type RefundIssuedPayload struct {
	PassID         domain.PassID         `json:"pass_id"`
	CancellationID domain.CancellationID `json:"cancellation_id"`
	SponsorID      domain.UserID         `json:"sponsor_id"`
	Amount         domain.Amount         `json:"amount"`
	ReceiptID      string                `json:"receipt_id"`
}
