package models

import (
	"time"

	"umoja/pkg/domain"
)

// IntentStatus tracks a funds movement handed to the ledger.
type IntentStatus string

const (
	IntentPending   IntentStatus = "Pending"
	IntentConfirmed IntentStatus = "Confirmed"
)

// Intent is the durable record of a release or refund. It stays Pending
// until the ledger confirms it and is retried with backoff meanwhile.
type Intent struct {
	Amount         domain.Amount `json:"amount"`
	IdempotencyKey string        `json:"idempotency_key"`
	Status         IntentStatus  `json:"status"`
	ReceiptID      string        `json:"receipt_id,omitempty"`
	Attempts       int           `json:"attempts"`
	NextAttemptAt  time.Time     `json:"next_attempt_at"`
	LastError      string        `json:"last_error,omitempty"`
	Escalated      bool          `json:"escalated,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty"`
}

func newIntent(amount domain.Amount, key string, now time.Time) *Intent {
	return &Intent{
		Amount:         amount,
		IdempotencyKey: key,
		Status:         IntentPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
	}
}

func (i *Intent) IsPending() bool {
	return i != nil && i.Status == IntentPending
}

// Due reports whether a pending intent should be submitted at now.
func (i *Intent) Due(now time.Time) bool {
	return i.IsPending() && !i.NextAttemptAt.After(now)
}

// confirm marks the intent confirmed. It returns false for a duplicate receipt.
func (i *Intent) confirm(receiptID string, now time.Time) bool {
	if i.Status == IntentConfirmed {
		return false
	}
	i.Status = IntentConfirmed
	i.ReceiptID = receiptID
	i.LastError = ""
	at := now
	i.ConfirmedAt = &at
	return true
}

// Attempt records one submission that did not confirm. It returns true when
// this attempt exhausted the retry budget for the first time.
func (i *Intent) Attempt(next time.Time, lastError string, budget int) bool {
	i.Attempts++
	i.NextAttemptAt = next
	i.LastError = lastError
	if budget > 0 && i.Attempts >= budget && !i.Escalated {
		i.Escalated = true
		return true
	}
	return false
}

func (i *Intent) clone() *Intent {
	if i == nil {
		return nil
	}
	cp := *i
	if i.ConfirmedAt != nil {
		at := *i.ConfirmedAt
		cp.ConfirmedAt = &at
	}
	return &cp
}
