// Package ledger is the boundary to the external funds-movement service. The
// engine emits release and refund intents through an Adapter and learns of
// their outcome from the returned receipt or from a later asynchronous
// receipt delivered to the escrow ledger.
package ledger

//go:generate mockgen -source=adapter.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"umoja/pkg/domain"
)

// Kind distinguishes release and refund receipts.
type Kind string

const (
	KindRelease Kind = "release"
	KindRefund  Kind = "refund"
)

// ReceiptStatus is the adapter's view of an intent.
type ReceiptStatus string

const (
	// ReceiptPending means the adapter accepted the intent and will confirm later.
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFailed    ReceiptStatus = "failed"
)

// ReleaseRequest moves a milestone's committed funds to the beneficiary.
// The idempotency key is derived from (passId, milestoneId).
type ReleaseRequest struct {
	PassID         domain.PassID
	MilestoneID    domain.MilestoneID
	Amount         domain.Amount
	IdempotencyKey string
}

// RefundRequest returns a sponsor's unreleased contribution. The idempotency
// key is derived from (passId, sponsorId, cancellationId).
type RefundRequest struct {
	PassID         domain.PassID
	SponsorID      domain.UserID
	CancellationID domain.CancellationID
	Amount         domain.Amount
	IdempotencyKey string
}

// Receipt reports the outcome of an intent. Adapters may deliver the same
// receipt more than once.
type Receipt struct {
	ID             string
	Kind           Kind
	Status         ReceiptStatus
	PassID         domain.PassID
	MilestoneID    domain.MilestoneID
	SponsorID      domain.UserID
	CancellationID domain.CancellationID
	IdempotencyKey string
	Reason         string
	At             time.Time
}

// Adapter submits intents to the ledger. Both calls must be idempotent on the
// request's IdempotencyKey.
type Adapter interface {
	SubmitRelease(ctx context.Context, req ReleaseRequest) (Receipt, error)
	SubmitRefund(ctx context.Context, req RefundRequest) (Receipt, error)
}

// ReleaseKey is the idempotency key of a milestone release.
func ReleaseKey(passID domain.PassID, milestoneID domain.MilestoneID) string {
	return "release:" + passID.String() + ":" + string(milestoneID)
}

// RefundKey is the idempotency key of a sponsor refund.
func RefundKey(passID domain.PassID, sponsorID domain.UserID, cancellationID domain.CancellationID) string {
	return "refund:" + passID.String() + ":" + string(sponsorID) + ":" + cancellationID.String()
}
