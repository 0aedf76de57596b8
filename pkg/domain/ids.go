package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "umoja/pkg/domain-errors"
)

// Engine-issued identifiers are UUIDs wrapped in distinct types so a PassID
// can never be passed where a ProposalID is expected.
type (
	ProposalID     uuid.UUID
	PassID         uuid.UUID
	CancellationID uuid.UUID
	EventID        uuid.UUID
)

// Collaborator-issued identifiers are opaque strings (wallet addresses,
// community slugs, plan step ids). The engine only compares them.
type (
	UserID      string
	CommunityID string
	MilestoneID string
)

// SystemPrincipal is the actor used for automated transitions (oracle or
// time-based milestone signals, background sweeps).
const SystemPrincipal UserID = "system"

func NewProposalID() ProposalID         { return ProposalID(uuid.New()) }
func NewPassID() PassID                 { return PassID(uuid.New()) }
func NewCancellationID() CancellationID { return CancellationID(uuid.New()) }
func NewEventID() EventID               { return EventID(uuid.New()) }

func (id ProposalID) String() string     { return uuid.UUID(id).String() }
func (id PassID) String() string         { return uuid.UUID(id).String() }
func (id CancellationID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string        { return uuid.UUID(id).String() }

func (id ProposalID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PassID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id CancellationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }

func (id ProposalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id PassID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id CancellationID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id EventID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ProposalID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
func (id *PassID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
func (id *CancellationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
func (id *EventID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id UserID) String() string      { return string(id) }
func (id CommunityID) String() string { return string(id) }
func (id MilestoneID) String() string { return string(id) }

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, kind+" cannot be nil")
	}
	return parsed, nil
}

// ParseProposalID validates a proposal id at a trust boundary.
func ParseProposalID(s string) (ProposalID, error) {
	u, err := parseUUID("proposal_id", s)
	return ProposalID(u), err
}

// ParsePassID validates a treatment pass id at a trust boundary.
func ParsePassID(s string) (PassID, error) {
	u, err := parseUUID("pass_id", s)
	return PassID(u), err
}

func ParseCancellationID(s string) (CancellationID, error) {
	u, err := parseUUID("cancellation_id", s)
	return CancellationID(u), err
}

// maxOpaqueIDLength bounds collaborator-issued ids.
const maxOpaqueIDLength = 128

func parseOpaque(kind, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, kind+" is required")
	}
	if len(s) > maxOpaqueIDLength {
		return "", dErrors.Newf(dErrors.CodeValidation, "%s must be %d characters or less", kind, maxOpaqueIDLength)
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid "+kind)
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) || unicode.Is(unicode.Cf, r) {
			return "", dErrors.New(dErrors.CodeValidation, "invalid "+kind)
		}
	}
	return s, nil
}

func ParseUserID(s string) (UserID, error) {
	v, err := parseOpaque("user_id", s)
	return UserID(v), err
}

func ParseCommunityID(s string) (CommunityID, error) {
	v, err := parseOpaque("community_id", s)
	return CommunityID(v), err
}

func ParseMilestoneID(s string) (MilestoneID, error) {
	v, err := parseOpaque("milestone_id", s)
	return MilestoneID(v), err
}
