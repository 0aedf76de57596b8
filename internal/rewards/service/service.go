// Package service accrues rewards from the event feed. A failing reward store
// or identity directory delays rewards but never reaches the escrow or voting
// operation that produced the event.
//
// Accrue is the synchronous entry point for durable feeds: it returns the
// failure so the Kafka consumer or the outbox relay redelivers the event.
// Handle queues in memory instead and only suits the in-memory deployment,
// whose outbox does not survive a restart either.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"umoja/internal/events"
	"umoja/internal/identity"
	"umoja/internal/platform/metrics"
	"umoja/internal/rewards/models"
	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/sentinel"
)

// Store is the append-only reward ledger.
type Store interface {
	// Append writes an entry; a second entry for the same event returns
	// sentinel.ErrAlreadyExists.
	Append(ctx context.Context, e models.Entry) error
	ListByUser(ctx context.Context, user domain.UserID) ([]models.Entry, error)
	Balance(ctx context.Context, user domain.UserID) (domain.Amount, error)
}

// Tiers resolves membership tiers.
type Tiers interface {
	MembershipTier(ctx context.Context, user domain.UserID) (identity.Tier, error)
}

type pending struct {
	evt      events.Event
	attempts int
	due      time.Time
}

// Accruer consumes events and appends reward entries.
type Accruer struct {
	store   Store
	tiers   Tiers
	rates   models.Rates
	logger  *slog.Logger
	metrics *metrics.Metrics

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time

	mu    sync.Mutex
	queue []pending
	wake  chan struct{}
}

type Option func(*Accruer)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Accruer) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Accruer) {
		a.metrics = m
	}
}

// WithRetryPolicy bounds redelivery of a failing event. After maxAttempts
// the event is dropped from the queue with an error log.
func WithRetryPolicy(maxAttempts int, initial, max time.Duration) Option {
	return func(a *Accruer) {
		a.maxAttempts = maxAttempts
		a.initialBackoff = initial
		a.maxBackoff = max
	}
}

// WithClock replaces time.Now for scheduling retries.
func WithClock(now func() time.Time) Option {
	return func(a *Accruer) {
		a.now = now
	}
}

func New(store Store, tiers Tiers, rates models.Rates, opts ...Option) *Accruer {
	a := &Accruer{
		store:          store,
		tiers:          tiers,
		rates:          rates,
		logger:         slog.Default(),
		maxAttempts:    10,
		initialBackoff: time.Second,
		maxBackoff:     5 * time.Minute,
		now:            time.Now,
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle queues evt for accrual. It only fails for undecodable payloads,
// which no retry can fix.
func (a *Accruer) Handle(ctx context.Context, evt events.Event) error {
	if _, ok, err := models.Recipient(evt); err != nil {
		a.logger.WarnContext(ctx, "reward event dropped",
			"event_id", evt.ID.String(),
			"event_type", string(evt.Type),
			"error", err,
		)
		return nil
	} else if !ok {
		return nil
	}

	a.mu.Lock()
	a.queue = append(a.queue, pending{evt: evt, due: a.now()})
	size := len(a.queue)
	a.mu.Unlock()
	a.metrics.SetRewardQueueSize(size)

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Accrue writes the reward for evt now. Undecodable payloads are dropped
// with a warning; any other failure is returned for redelivery.
func (a *Accruer) Accrue(ctx context.Context, evt events.Event) error {
	if _, _, err := models.Recipient(evt); err != nil {
		a.logger.WarnContext(ctx, "reward event dropped",
			"event_id", evt.ID.String(),
			"event_type", string(evt.Type),
			"error", err,
		)
		return nil
	}
	if err := a.accrue(ctx, evt); err != nil {
		a.metrics.IncRewardFailure()
		a.logger.WarnContext(ctx, "reward accrual failed",
			"event_id", evt.ID.String(),
			"event_type", string(evt.Type),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeDependency, "reward accrual failed")
	}
	return nil
}

// Types lists the events the accruer subscribes to.
func Types() []events.Type {
	return []events.Type{events.ContributionRecorded, events.MilestoneStatusChanged, events.VoteCast}
}

// Process accrues every queued event due at now and returns how many were
// written. Failures are requeued with exponential backoff.
func (a *Accruer) Process(ctx context.Context, now time.Time) int {
	a.mu.Lock()
	var due, later []pending
	for _, p := range a.queue {
		if p.due.After(now) {
			later = append(later, p)
		} else {
			due = append(due, p)
		}
	}
	a.queue = later
	a.mu.Unlock()

	written := 0
	var retry []pending
	for _, p := range due {
		err := a.accrue(ctx, p.evt)
		if err == nil {
			written++
			continue
		}
		p.attempts++
		a.metrics.IncRewardFailure()
		if p.attempts >= a.maxAttempts {
			a.logger.ErrorContext(ctx, "reward accrual abandoned",
				"event_id", p.evt.ID.String(),
				"event_type", string(p.evt.Type),
				"attempts", p.attempts,
				"error", err,
			)
			continue
		}
		p.due = now.Add(a.backoff(p.attempts))
		a.logger.WarnContext(ctx, "reward accrual failed",
			"event_id", p.evt.ID.String(),
			"attempts", p.attempts,
			"retry_at", p.due,
			"error", err,
		)
		retry = append(retry, p)
	}

	a.mu.Lock()
	a.queue = append(a.queue, retry...)
	size := len(a.queue)
	a.mu.Unlock()
	a.metrics.SetRewardQueueSize(size)
	return written
}

// Pending returns how many events wait in the queue.
func (a *Accruer) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Run processes the queue whenever events arrive or a retry comes due,
// until ctx is done.
func (a *Accruer) Run(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.wake:
		case <-ticker.C:
		}
		a.Process(ctx, a.now())
	}
}

func (a *Accruer) accrue(ctx context.Context, evt events.Event) error {
	acc, ok, err := models.Recipient(evt)
	if err != nil || !ok {
		return err
	}
	tier, err := a.tiers.MembershipTier(ctx, acc.UserID)
	if err != nil {
		return err
	}
	amount := models.ComputeReward(acc, tier, a.rates)
	if amount == 0 {
		return nil
	}
	err = a.store.Append(ctx, models.Entry{
		EventID:   evt.ID,
		UserID:    acc.UserID,
		EventType: evt.Type,
		Tier:      tier,
		Amount:    amount,
		CreatedAt: evt.OccurredAt,
	})
	if errors.Is(err, sentinel.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	a.metrics.IncRewardAccrued(string(evt.Type))
	a.logger.InfoContext(ctx, "reward accrued",
		"event_id", evt.ID.String(),
		"user_id", acc.UserID,
		"amount", int64(amount),
		"tier", string(tier),
	)
	return nil
}

func (a *Accruer) backoff(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initialBackoff
	b.MaxInterval = a.maxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.InitialInterval
	for range n {
		d = b.NextBackOff()
	}
	return d
}

// ListEntries returns a user's reward entries, oldest first.
func (a *Accruer) ListEntries(ctx context.Context, user domain.UserID) ([]models.Entry, error) {
	if user == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	entries, err := a.store.ListByUser(ctx, user)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "reward ledger unavailable")
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// Balance is the sum of a user's reward entries.
func (a *Accruer) Balance(ctx context.Context, user domain.UserID) (domain.Amount, error) {
	if user == "" {
		return 0, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	total, err := a.store.Balance(ctx, user)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeDependency, "reward ledger unavailable")
	}
	return total, nil
}
