// Package service implements the proposal and voting manager. Every mutation
// loads the proposal, applies lazy expiry, checks the transition on the
// aggregate and writes it back with an optimistic version check, appending
// its events to the outbox in the same transaction.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"umoja/internal/events"
	"umoja/internal/governance/models"
	"umoja/internal/identity"
	"umoja/internal/platform/metrics"
	"umoja/internal/platform/tracing"
	"umoja/internal/policy"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/sentinel"
	txcontext "umoja/pkg/platform/tx"
	"umoja/pkg/requestcontext"
)

// Store persists proposals and their votes.
//
// Error Contract:
//   - FindByID returns sentinel.ErrNotFound for unknown ids
//   - Update returns sentinel.ErrVersionConflict when the stored version is
//     not expectedVersion
type Store interface {
	Create(ctx context.Context, p *models.Proposal) error
	FindByID(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	// Update writes p (whose Version is already bumped) and upserts the
	// changed votes.
	Update(ctx context.Context, p *models.Proposal, expectedVersion int64, changedVotes ...models.Vote) error
	// ListActive returns Open and ElderPending proposals, optionally limited
	// to one community.
	ListActive(ctx context.Context, community domain.CommunityID) ([]*models.Proposal, error)
}

// Policies is the read side of the policy registry.
type Policies interface {
	Get(actionType policy.ActionType) (policy.ConsensusPolicy, error)
	RequiresConsensus(actionType policy.ActionType, payload map[string]any) (bool, error)
}

const (
	defaultGracePeriod = 24 * time.Hour
	defaultOCCAttempts = 5

	// DefaultMaxVotingPower bounds one ballot's weight.
	DefaultMaxVotingPower int64 = 10_000
)

// Service coordinates proposals, votes and elder approvals.
type Service struct {
	store       Store
	policies    Policies
	directory   identity.Directory
	outbox      events.Appender
	tx          txcontext.Runner
	logger      *slog.Logger
	metrics     *metrics.Metrics
	gracePeriod time.Duration
	occAttempts int
	maxPower    int64
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

// WithGracePeriod sets how long after the deadline an undecided proposal
// stays Open or ElderPending before it expires.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.gracePeriod = d
		}
	}
}

// WithOCCAttempts bounds the retries on version conflicts.
func WithOCCAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.occAttempts = n
		}
	}
}

// WithMaxVotingPower caps the power a single ballot may carry.
func WithMaxVotingPower(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPower = n
		}
	}
}

func New(store Store, policies Policies, directory identity.Directory, outbox events.Appender, opts ...Option) *Service {
	s := &Service{
		store:       store,
		policies:    policies,
		directory:   directory,
		outbox:      outbox,
		tx:          txcontext.LocalRunner{},
		logger:      slog.Default(),
		gracePeriod: defaultGracePeriod,
		occAttempts: defaultOCCAttempts,
		maxPower:    DefaultMaxVotingPower,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutation applies one change to a loaded proposal and returns the events and
// votes to persist. A nil event slice with a nil error means nothing changed.
type mutation func(p *models.Proposal, now time.Time) ([]events.Event, []models.Vote, error)

// mutate runs fn against the current proposal, retrying version conflicts.
// Lazy expiry found on load is persisted even when fn refuses the operation.
func (s *Service) mutate(ctx context.Context, id domain.ProposalID, fn mutation) (*models.Proposal, error) {
	now := requestcontext.Now(ctx)
	for attempt := 1; ; attempt++ {
		var (
			result *models.Proposal
			opErr  error
		)
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			p, err := s.load(ctx, id)
			if err != nil {
				return err
			}
			expected := p.Version

			var evts []events.Event
			if p.ExpireIfOverdue(now, s.gracePeriod) {
				evts = append(evts, s.finalizedEvent(ctx, p, now))
				s.metrics.IncProposalExpired()
			}
			more, votes, err := fn(p, now)
			if err != nil {
				if len(evts) == 0 {
					return err
				}
				opErr = err
				votes = nil
			} else {
				evts = append(evts, more...)
			}
			result = p
			if len(evts) == 0 {
				return nil
			}

			p.Version = expected + 1
			if err := s.store.Update(ctx, p, expected, votes...); err != nil {
				return err
			}
			return s.outbox.Append(ctx, evts...)
		})
		switch {
		case err == nil:
			if opErr != nil {
				return nil, opErr
			}
			return result, nil
		case errors.Is(err, sentinel.ErrVersionConflict):
			s.metrics.IncOCCRetry("proposal")
			if attempt >= s.occAttempts {
				return nil, dErrors.Wrap(err, dErrors.CodeConcurrency, "proposal changed concurrently, retry later")
			}
			continue
		default:
			return nil, s.translate(err)
		}
	}
}

func (s *Service) load(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// translate maps store sentinels to coded errors and passes coded errors through.
func (s *Service) translate(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "proposal not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "proposal store failure")
}

func (s *Service) newEvent(ctx context.Context, t events.Type, id domain.ProposalID, actor domain.UserID, at time.Time, payload any) events.Event {
	evt := events.MustNew(t, id.String(), actor, at, payload)
	evt.RequestID = requestcontext.RequestID(ctx)
	return evt
}

func (s *Service) finalizedEvent(ctx context.Context, p *models.Proposal, now time.Time) events.Event {
	return s.newEvent(ctx, events.ProposalFinalized, p.ID, requestcontext.ActorID(ctx), now, events.ProposalFinalizedPayload{
		ProposalID:  p.ID,
		ActionType:  string(p.ActionType),
		Status:      string(p.Status),
		YesPower:    p.YesPower,
		TotalPower:  p.TotalPower,
		ThresholdBP: int64(p.Threshold),
	})
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func (s *Service) requireMember(ctx context.Context, user domain.UserID, community domain.CommunityID) error {
	ok, err := s.directory.IsCommunityMember(ctx, user, community)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependency, "identity directory unavailable")
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "user is not a member of the community")
	}
	return nil
}

func (s *Service) span(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracing.Start(ctx, "governance", op)
	return ctx, func(err error) { tracing.End(span, err) }
}
