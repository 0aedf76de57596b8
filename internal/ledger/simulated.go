package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulated is an in-process Adapter for development and tests. It confirms
// every intent synchronously, or leaves it pending when Async is set, and
// returns the same receipt for a repeated idempotency key.
type Simulated struct {
	Async bool

	mu       sync.Mutex
	receipts map[string]Receipt
	now      func() time.Time
}

func NewSimulated() *Simulated {
	return &Simulated{receipts: make(map[string]Receipt), now: time.Now}
}

func (s *Simulated) SubmitRelease(_ context.Context, req ReleaseRequest) (Receipt, error) {
	return s.receipt(req.IdempotencyKey, Receipt{
		Kind:        KindRelease,
		PassID:      req.PassID,
		MilestoneID: req.MilestoneID,
	}), nil
}

func (s *Simulated) SubmitRefund(_ context.Context, req RefundRequest) (Receipt, error) {
	return s.receipt(req.IdempotencyKey, Receipt{
		Kind:           KindRefund,
		PassID:         req.PassID,
		SponsorID:      req.SponsorID,
		CancellationID: req.CancellationID,
	}), nil
}

func (s *Simulated) receipt(key string, r Receipt) Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.receipts[key]; ok {
		return existing
	}
	r.ID = uuid.NewString()
	r.IdempotencyKey = key
	r.At = s.now()
	r.Status = ReceiptConfirmed
	if s.Async {
		r.Status = ReceiptPending
	}
	s.receipts[key] = r
	return r
}

// Confirm marks a pending intent confirmed and returns the receipt an
// asynchronous ledger would deliver.
func (s *Simulated) Confirm(key string) (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[key]
	if !ok {
		return Receipt{}, false
	}
	r.Status = ReceiptConfirmed
	r.At = s.now()
	s.receipts[key] = r
	return r, true
}

// Submitted returns how many distinct intents the adapter has seen.
func (s *Simulated) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}
