// Package service implements the milestone escrow ledger. A treatment pass is
// changed only through mutate, which serializes writers per pass with an
// optimistic version check. Funds move through durable intents: the intent
// is written with the state change that caused it and handed to the ledger
// adapter after the write commits.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"umoja/internal/escrow/models"
	"umoja/internal/events"
	govservice "umoja/internal/governance/service"
	"umoja/internal/ledger"
	"umoja/internal/platform/metrics"
	"umoja/internal/platform/tracing"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/sentinel"
	txcontext "umoja/pkg/platform/tx"
	"umoja/pkg/requestcontext"
)

// Store persists treatment passes.
//
// Error Contract:
//   - FindByID returns sentinel.ErrNotFound for unknown ids
//   - Update returns sentinel.ErrVersionConflict when the stored version is
//     not expectedVersion
type Store interface {
	Create(ctx context.Context, p *models.TreatmentPass) error
	FindByID(ctx context.Context, id domain.PassID) (*models.TreatmentPass, error)
	Update(ctx context.Context, p *models.TreatmentPass, expectedVersion int64) error
	// ListDue returns passes whose NextDueAt is at or before now, earliest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.TreatmentPass, error)
}

// Approvals is the consensus gate in front of governed escrow mutations.
// RestoreApproval undoes a RequireApproval whose write did not commit.
type Approvals interface {
	RequireApproval(ctx context.Context, g govservice.Gate) error
	RestoreApproval(ctx context.Context, g govservice.Gate) error
}

const (
	defaultOCCAttempts    = 5
	defaultRetryBudget    = 8
	defaultInitialBackoff = 5 * time.Second
	defaultMaxBackoff     = 30 * time.Minute
	defaultRetryBatch     = 100
)

// Service owns every treatment pass.
type Service struct {
	store     Store
	approvals Approvals
	ledger    ledger.Adapter
	outbox    events.Appender
	tx        txcontext.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics

	occAttempts    int
	retryBudget    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	retryBatch     int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTx(tx txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithOCCAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.occAttempts = n
		}
	}
}

// WithRetryPolicy sets the intent backoff and the attempt count after which
// an unconfirmed intent is escalated. Escalated intents keep retrying at
// the maximum backoff.
func WithRetryPolicy(budget int, initial, maxBackoff time.Duration) Option {
	return func(s *Service) {
		if budget > 0 {
			s.retryBudget = budget
		}
		if initial > 0 {
			s.initialBackoff = initial
		}
		if maxBackoff >= s.initialBackoff {
			s.maxBackoff = maxBackoff
		}
	}
}

func New(store Store, approvals Approvals, adapter ledger.Adapter, outbox events.Appender, opts ...Option) *Service {
	s := &Service{
		store:          store,
		approvals:      approvals,
		ledger:         adapter,
		outbox:         outbox,
		tx:             txcontext.LocalRunner{},
		logger:         slog.Default(),
		occAttempts:    defaultOCCAttempts,
		retryBudget:    defaultRetryBudget,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		retryBatch:     defaultRetryBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutation applies one change to a loaded pass. It reports whether the pass
// changed; events are appended only when it did.
type mutation func(p *models.TreatmentPass, now time.Time) (bool, []events.Event, error)

// mutate runs fn against the current pass, retrying version conflicts. fn
// may run more than once and must not have side effects outside the pass
// and the transaction in ctx.
func (s *Service) mutate(ctx context.Context, id domain.PassID, fn mutation) (*models.TreatmentPass, error) {
	now := requestcontext.Now(ctx)
	for attempt := 1; ; attempt++ {
		var result *models.TreatmentPass
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			p, err := s.store.FindByID(ctx, id)
			if err != nil {
				return err
			}
			expected := p.Version

			changed, evts, err := fn(p, now)
			if err != nil {
				return err
			}
			result = p
			if !changed {
				return nil
			}

			p.Version = expected + 1
			if err := s.store.Update(ctx, p, expected); err != nil {
				return err
			}
			if len(evts) == 0 {
				return nil
			}
			return s.outbox.Append(ctx, evts...)
		})
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, sentinel.ErrVersionConflict):
			s.metrics.IncOCCRetry("treatment_pass")
			if attempt >= s.occAttempts {
				return nil, dErrors.Wrap(err, dErrors.CodeConcurrency, "treatment pass changed concurrently, retry later")
			}
			continue
		default:
			return nil, s.translate(err)
		}
	}
}

func (s *Service) translate(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeInvalidPass, "treatment pass not found")
	}
	if errors.Is(err, sentinel.ErrAlreadyExists) {
		return dErrors.New(dErrors.CodeConflict, "treatment pass already exists")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "treatment pass store failure")
}

func (s *Service) newEvent(ctx context.Context, t events.Type, id domain.PassID, at time.Time, payload any) events.Event {
	evt := events.MustNew(t, id.String(), requestcontext.ActorID(ctx), at, payload)
	evt.RequestID = requestcontext.RequestID(ctx)
	return evt
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func (s *Service) span(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracing.Start(ctx, "escrow", op)
	return ctx, func(err error) { tracing.End(span, err) }
}
