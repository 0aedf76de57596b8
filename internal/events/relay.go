package events

import (
	"context"
	"log/slog"
	"time"

	"umoja/internal/platform/metrics"
	"umoja/pkg/domain"
	txcontext "umoja/pkg/platform/tx"
)

const defaultRelayBatch = 100

// Relay drains the outbox into a Publisher. Events are marked published only
// after the publisher accepted them, so delivery is at least once.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	tx        txcontext.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	batch     int
	interval  time.Duration
}

type RelayOption func(*Relay)

func WithRelayLogger(l *slog.Logger) RelayOption      { return func(r *Relay) { r.logger = l } }
func WithRelayMetrics(m *metrics.Metrics) RelayOption { return func(r *Relay) { r.metrics = m } }
func WithRelayBatch(n int) RelayOption                { return func(r *Relay) { r.batch = n } }
func WithRelayInterval(d time.Duration) RelayOption   { return func(r *Relay) { r.interval = d } }
func WithRelayTx(tx txcontext.Runner) RelayOption     { return func(r *Relay) { r.tx = tx } }

func NewRelay(outbox Outbox, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		tx:        txcontext.LocalRunner{},
		logger:    slog.Default(),
		batch:     defaultRelayBatch,
		interval:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush publishes one batch and returns how many events went out.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var published int
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		pending, err := r.outbox.ListUnpublished(ctx, r.batch)
		if err != nil {
			return err
		}
		r.metrics.SetOutboxBacklog(len(pending))
		if len(pending) == 0 {
			return nil
		}
		if err := r.publisher.Publish(ctx, pending...); err != nil {
			return err
		}
		ids := make([]domain.EventID, len(pending))
		for i, evt := range pending {
			ids[i] = evt.ID
			r.metrics.IncEventPublished(string(evt.Type))
		}
		published = len(pending)
		return r.outbox.MarkPublished(ctx, ids, time.Now())
	})
	return published, err
}

// Run flushes until ctx is done. A full batch is followed immediately by
// another flush; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.Flush(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "outbox relay flush failed", "error", err)
		}
		if err == nil && n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
