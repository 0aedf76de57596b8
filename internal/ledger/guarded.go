package ledger

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"umoja/internal/platform/metrics"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/circuit"
)

// Guarded wraps an Adapter with pacing, a per-call timeout and a circuit
// breaker. While the breaker is open, calls fail fast with a dependency error
// and the escrow ledger keeps the intent pending for its retry loop.
type Guarded struct {
	next    Adapter
	limiter *rate.Limiter
	breaker *circuit.Breaker
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type GuardOption func(*Guarded)

func WithRateLimit(perSecond float64, burst int) GuardOption {
	return func(g *Guarded) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithTimeout(d time.Duration) GuardOption { return func(g *Guarded) { g.timeout = d } }

func WithBreaker(b *circuit.Breaker) GuardOption { return func(g *Guarded) { g.breaker = b } }

func WithGuardLogger(l *slog.Logger) GuardOption { return func(g *Guarded) { g.logger = l } }

func WithGuardMetrics(m *metrics.Metrics) GuardOption { return func(g *Guarded) { g.metrics = m } }

func NewGuarded(next Adapter, opts ...GuardOption) *Guarded {
	g := &Guarded{
		next:    next,
		limiter: rate.NewLimiter(rate.Inf, 1),
		breaker: circuit.New("ledger"),
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) SubmitRelease(ctx context.Context, req ReleaseRequest) (Receipt, error) {
	return g.call(ctx, "submit_release", func(ctx context.Context) (Receipt, error) {
		return g.next.SubmitRelease(ctx, req)
	})
}

func (g *Guarded) SubmitRefund(ctx context.Context, req RefundRequest) (Receipt, error) {
	return g.call(ctx, "submit_refund", func(ctx context.Context) (Receipt, error) {
		return g.next.SubmitRefund(ctx, req)
	})
}

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) (Receipt, error)) (Receipt, error) {
	if !g.breaker.Allow() {
		return Receipt{}, dErrors.New(dErrors.CodeDependency, "ledger circuit open")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return Receipt{}, dErrors.Wrap(err, dErrors.CodeTimeout, "ledger rate limit wait aborted")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	receipt, err := fn(ctx)
	g.metrics.ObserveLedgerCall(op, time.Since(start))

	if err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "ledger circuit opened", "operation", op, "error", err)
		}
		if _, coded := dErrors.As(err); coded {
			return Receipt{}, err
		}
		return Receipt{}, dErrors.Wrap(err, dErrors.CodeDependency, "ledger "+op+" failed")
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "ledger circuit closed", "operation", op)
	}
	return receipt, nil
}
