package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"umoja/internal/escrow/models"
	"umoja/internal/events"
	"umoja/internal/ledger"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/requestcontext"
)

// ReleaseMilestone creates the release intent of a verified, fully funded
// milestone and submits it. Calling it again for a milestone that already has
// an intent returns the pass unchanged.
func (s *Service) ReleaseMilestone(ctx context.Context, passID domain.PassID, milestoneID domain.MilestoneID) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "release_milestone")
	defer func() { end(err) }()

	var created bool
	pass, err := s.mutate(ctx, passID, func(p *models.TreatmentPass, now time.Time) (bool, []events.Event, error) {
		m, err := p.Milestone(milestoneID)
		if err != nil {
			return false, nil, err
		}
		if m.Release != nil {
			created = false
			return false, nil, nil
		}
		if err := p.CanRelease(milestoneID); err != nil {
			return false, nil, err
		}
		_, created = p.ApplyReleaseIntent(milestoneID, now)
		return created, nil, nil
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return pass, nil
	}
	s.logAudit(ctx, "release_intent_created",
		"pass_id", passID,
		"milestone_id", milestoneID,
	)
	return s.submitFresh(ctx, pass), nil
}

// outcome is the result of one ledger submission.
type outcome struct {
	target  models.PendingIntent
	receipt ledger.Receipt
	err     error
}

// submitFresh submits the intents of p that were never attempted and returns
// the pass as recorded afterwards. Ledger failures leave the intents pending
// for the retry worker and are never returned to the caller.
func (s *Service) submitFresh(ctx context.Context, p *models.TreatmentPass) *models.TreatmentPass {
	var fresh []models.PendingIntent
	for _, pi := range p.PendingIntents() {
		if pi.Intent.Attempts == 0 {
			fresh = append(fresh, pi)
		}
	}
	if len(fresh) == 0 {
		return p
	}
	recorded, err := s.record(ctx, p.ID, s.submit(ctx, p, fresh))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record ledger outcomes",
			"pass_id", p.ID,
			"error", err,
		)
		return p
	}
	return recorded
}

func (s *Service) submit(ctx context.Context, p *models.TreatmentPass, targets []models.PendingIntent) []outcome {
	out := make([]outcome, 0, len(targets))
	for _, pi := range targets {
		var (
			receipt ledger.Receipt
			err     error
		)
		switch pi.Kind {
		case ledger.KindRelease:
			receipt, err = s.ledger.SubmitRelease(ctx, ledger.ReleaseRequest{
				PassID:         p.ID,
				MilestoneID:    pi.MilestoneID,
				Amount:         pi.Intent.Amount,
				IdempotencyKey: pi.Intent.IdempotencyKey,
			})
		case ledger.KindRefund:
			receipt, err = s.ledger.SubmitRefund(ctx, ledger.RefundRequest{
				PassID:         p.ID,
				SponsorID:      pi.SponsorID,
				CancellationID: p.Cancellation.ID,
				Amount:         pi.Intent.Amount,
				IdempotencyKey: pi.Intent.IdempotencyKey,
			})
		}
		s.metrics.IncIntentSubmitted(string(pi.Kind))
		if err != nil {
			s.metrics.IncIntentFailure(string(pi.Kind))
			s.logger.WarnContext(ctx, "ledger submission failed",
				"pass_id", p.ID,
				"kind", pi.Kind,
				"idempotency_key", pi.Intent.IdempotencyKey,
				"error", err,
			)
		}
		out = append(out, outcome{target: pi, receipt: receipt, err: err})
	}
	return out
}

// record writes the outcomes of a submission round onto the pass.
func (s *Service) record(ctx context.Context, id domain.PassID, outcomes []outcome) (*models.TreatmentPass, error) {
	var escalated []models.PendingIntent
	pass, err := s.mutate(ctx, id, func(p *models.TreatmentPass, now time.Time) (bool, []events.Event, error) {
		escalated = escalated[:0]
		var (
			changed bool
			evts    []events.Event
		)
		for _, o := range outcomes {
			intent, err := p.FindIntent(o.target.Kind, o.target.MilestoneID, o.target.SponsorID)
			if err != nil || !intent.IsPending() {
				continue
			}
			if o.err == nil && o.receipt.Status == ledger.ReceiptConfirmed {
				evt, ok, err := s.confirm(ctx, p, o.target.Kind, o.target.MilestoneID, o.target.SponsorID, o.receipt.ID, now)
				if err != nil {
					return false, nil, err
				}
				if ok {
					changed = true
					evts = append(evts, evt)
				}
				continue
			}
			reason := "awaiting ledger confirmation"
			switch {
			case o.err != nil:
				reason = o.err.Error()
			case o.receipt.Status == ledger.ReceiptFailed:
				reason = "ledger rejected: " + o.receipt.Reason
			}
			if intent.Attempt(now.Add(s.backoff(intent.Attempts+1)), reason, s.retryBudget) {
				escalated = append(escalated, o.target)
			}
			changed = true
		}
		return changed, evts, nil
	})
	if err != nil {
		return nil, err
	}
	for _, pi := range escalated {
		s.metrics.IncIntentEscalated(string(pi.Kind))
		s.logger.ErrorContext(ctx, "ledger intent exhausted its retry budget",
			"pass_id", id,
			"kind", pi.Kind,
			"milestone_id", pi.MilestoneID,
			"sponsor_id", pi.SponsorID,
			"idempotency_key", pi.Intent.IdempotencyKey,
		)
	}
	return pass, nil
}

// confirm settles one intent and returns its event. ok is false when the
// intent was already confirmed.
func (s *Service) confirm(ctx context.Context, p *models.TreatmentPass, kind ledger.Kind, milestoneID domain.MilestoneID, sponsorID domain.UserID, receiptID string, now time.Time) (events.Event, bool, error) {
	switch kind {
	case ledger.KindRelease:
		ok, err := p.ApplyReleaseConfirmed(milestoneID, receiptID, now)
		if err != nil || !ok {
			return events.Event{}, false, err
		}
		m, _ := p.Milestone(milestoneID)
		s.metrics.IncIntentConfirmed(string(kind))
		s.logAudit(ctx, string(events.MilestoneReleased),
			"pass_id", p.ID,
			"milestone_id", milestoneID,
			"amount", m.ReleasedAmount,
			"receipt_id", receiptID,
		)
		return s.newEvent(ctx, events.MilestoneReleased, p.ID, now, events.MilestoneReleasedPayload{
			PassID:      p.ID,
			MilestoneID: milestoneID,
			Amount:      m.ReleasedAmount,
			ReceiptID:   receiptID,
		}), true, nil
	case ledger.KindRefund:
		ok, err := p.ApplyRefundConfirmed(sponsorID, receiptID, now)
		if err != nil || !ok {
			return events.Event{}, false, err
		}
		refund := p.Cancellation.Refunds[sponsorID]
		s.metrics.IncIntentConfirmed(string(kind))
		s.logAudit(ctx, string(events.RefundIssued),
			"pass_id", p.ID,
			"sponsor_id", sponsorID,
			"amount", refund.Amount,
			"receipt_id", receiptID,
		)
		return s.newEvent(ctx, events.RefundIssued, p.ID, now, events.RefundIssuedPayload{
			PassID:         p.ID,
			CancellationID: p.Cancellation.ID,
			SponsorID:      sponsorID,
			Amount:         refund.Amount,
			ReceiptID:      receiptID,
		}), true, nil
	}
	return events.Event{}, false, dErrors.Newf(dErrors.CodeValidation, "unknown receipt kind %q", kind)
}

// HandleReceipt applies an asynchronous ledger receipt. The receipt must
// carry the intent's idempotency key. Duplicate receipts and receipts for
// settled intents change nothing.
func (s *Service) HandleReceipt(ctx context.Context, r ledger.Receipt) (_ *models.TreatmentPass, err error) {
	ctx, end := s.span(ctx, "handle_receipt")
	defer func() { end(err) }()

	if r.ID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "receipt id is required")
	}
	if r.IdempotencyKey == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "receipt idempotency key is required")
	}
	target := models.PendingIntent{Kind: r.Kind, MilestoneID: r.MilestoneID, SponsorID: r.SponsorID}

	pass, err := s.GetPass(ctx, r.PassID)
	if err != nil {
		return nil, err
	}
	intent, err := pass.FindIntent(r.Kind, r.MilestoneID, r.SponsorID)
	if err != nil {
		return nil, err
	}
	if r.IdempotencyKey != intent.IdempotencyKey {
		return nil, dErrors.New(dErrors.CodeValidation, "receipt does not match the intent's idempotency key")
	}
	if !intent.IsPending() || r.Status == ledger.ReceiptPending {
		return pass, nil
	}
	target.Intent = intent
	return s.record(ctx, r.PassID, []outcome{{target: target, receipt: r}})
}

// backoff is the delay before attempt n+1, growing exponentially from the
// initial interval up to the maximum.
func (s *Service) backoff(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.MaxInterval = s.maxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.InitialInterval
	for range n {
		d = b.NextBackOff()
	}
	return d
}

// RetryDue resubmits every pending intent whose retry time has come and
// creates missing release intents for verified, funded milestones. It
// returns how many intents were submitted.
func (s *Service) RetryDue(ctx context.Context, now time.Time) (int, error) {
	ctx = requestcontext.WithTime(ctx, now)
	due, err := s.store.ListDue(ctx, now, s.retryBatch)
	if err != nil {
		return 0, s.translate(err)
	}

	submitted := 0
	pending := map[ledger.Kind]int{}
	for _, candidate := range due {
		p := candidate
		if len(p.RecoverReleases(now)) > 0 {
			p, err = s.mutate(ctx, candidate.ID, func(p *models.TreatmentPass, now time.Time) (bool, []events.Event, error) {
				ids := p.RecoverReleases(now)
				return len(ids) > 0, nil, nil
			})
			if err != nil {
				s.logger.WarnContext(ctx, "failed to recover release intents", "pass_id", candidate.ID, "error", err)
				continue
			}
			s.logger.InfoContext(ctx, "recovered release intents", "pass_id", p.ID)
		}

		var targets []models.PendingIntent
		for _, pi := range p.PendingIntents() {
			pending[pi.Kind]++
			if pi.Intent.Due(now) {
				targets = append(targets, pi)
			}
		}
		if len(targets) == 0 {
			continue
		}
		if _, err := s.record(ctx, p.ID, s.submit(ctx, p, targets)); err != nil {
			s.logger.WarnContext(ctx, "failed to record retried intents", "pass_id", p.ID, "error", err)
			continue
		}
		submitted += len(targets)
	}
	s.metrics.SetPendingIntents(string(ledger.KindRelease), pending[ledger.KindRelease])
	s.metrics.SetPendingIntents(string(ledger.KindRefund), pending[ledger.KindRefund])
	if submitted > 0 {
		s.logger.InfoContext(ctx, "retried ledger intents", "count", submitted)
	}
	return submitted, nil
}

// RunRetrier calls RetryDue every interval until ctx is cancelled.
func (s *Service) RunRetrier(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := s.RetryDue(ctx, now); err != nil {
				s.logger.ErrorContext(ctx, "intent retry failed", "error", err)
			}
		}
	}
}
