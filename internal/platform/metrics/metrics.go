package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics is
// valid and records nothing, so services built without WithMetrics need no guards.
type Metrics struct {
	ProposalsCreated   *prometheus.CounterVec
	VotesCast          prometheus.Counter
	ProposalsFinalized *prometheus.CounterVec
	ProposalsExpired   prometheus.Counter
	ElderApprovals     prometheus.Counter

	ContributionsRecorded prometheus.Counter
	ContributedAmount     prometheus.Counter
	OverAllocations       prometheus.Counter
	PassesCancelled       prometheus.Counter

	MilestoneTransitions *prometheus.CounterVec
	IntentsSubmitted     *prometheus.CounterVec
	IntentsConfirmed     *prometheus.CounterVec
	IntentFailures       *prometheus.CounterVec
	IntentsEscalated     *prometheus.CounterVec
	PendingIntents       *prometheus.GaugeVec
	LedgerLatency        *prometheus.HistogramVec

	OCCRetries *prometheus.CounterVec

	RewardsAccrued  *prometheus.CounterVec
	RewardFailures  prometheus.Counter
	RewardQueueSize prometheus.Gauge

	EventsPublished *prometheus.CounterVec
	OutboxBacklog   prometheus.Gauge

	EndpointLatency *prometheus.HistogramVec
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProposalsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_proposals_created_total",
			Help: "Proposals created, by action type",
		}, []string{"action_type"}),
		VotesCast: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_votes_cast_total",
			Help: "Votes cast or overwritten",
		}),
		ProposalsFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_proposals_finalized_total",
			Help: "Proposals finalized, by resulting status",
		}, []string{"status"}),
		ProposalsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_proposals_expired_total",
			Help: "Proposals that expired past deadline plus grace",
		}),
		ElderApprovals: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_elder_approvals_total",
			Help: "Elder sign-offs recorded",
		}),
		ContributionsRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_contributions_recorded_total",
			Help: "Sponsor contributions accepted",
		}),
		ContributedAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_contributed_amount_total",
			Help: "Sum of accepted contributions in minor units",
		}),
		OverAllocations: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_over_allocations_total",
			Help: "Contributions rejected for overcommitting a milestone",
		}),
		PassesCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_passes_cancelled_total",
			Help: "Treatment passes cancelled",
		}),
		MilestoneTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_milestone_transitions_total",
			Help: "Milestone status changes, by target status",
		}, []string{"status"}),
		IntentsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_ledger_intents_submitted_total",
			Help: "Release and refund intents submitted to the ledger adapter",
		}, []string{"kind"}),
		IntentsConfirmed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_ledger_intents_confirmed_total",
			Help: "Intents confirmed by ledger receipts",
		}, []string{"kind"}),
		IntentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_ledger_intent_failures_total",
			Help: "Failed ledger submissions, by kind",
		}, []string{"kind"}),
		IntentsEscalated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_ledger_intents_escalated_total",
			Help: "Intents that exhausted the retry budget",
		}, []string{"kind"}),
		PendingIntents: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "umoja_ledger_intents_pending",
			Help: "Intents awaiting confirmation at the last retry sweep",
		}, []string{"kind"}),
		LedgerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "umoja_ledger_call_duration_seconds",
			Help:    "Ledger adapter call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		OCCRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_occ_retries_total",
			Help: "Optimistic concurrency retries, by aggregate",
		}, []string{"aggregate"}),
		RewardsAccrued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_rewards_accrued_total",
			Help: "Reward entries appended, by event type",
		}, []string{"event_type"}),
		RewardFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "umoja_reward_failures_total",
			Help: "Reward accrual attempts that failed and were requeued",
		}),
		RewardQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "umoja_reward_queue_size",
			Help: "Events waiting for reward accrual retry",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "umoja_events_published_total",
			Help: "Domain events relayed from the outbox, by event type",
		}, []string{"event_type"}),
		OutboxBacklog: f.NewGauge(prometheus.GaugeOpts{
			Name: "umoja_outbox_backlog",
			Help: "Unpublished events seen by the last relay pass",
		}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "umoja_http_request_duration_seconds",
			Help:    "HTTP handler latency, by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) IncProposalCreated(actionType string) {
	if m == nil {
		return
	}
	m.ProposalsCreated.WithLabelValues(actionType).Inc()
}

func (m *Metrics) IncVoteCast() {
	if m == nil {
		return
	}
	m.VotesCast.Inc()
}

func (m *Metrics) IncProposalFinalized(status string) {
	if m == nil {
		return
	}
	m.ProposalsFinalized.WithLabelValues(status).Inc()
}

func (m *Metrics) IncProposalExpired() {
	if m == nil {
		return
	}
	m.ProposalsExpired.Inc()
}

func (m *Metrics) IncElderApproval() {
	if m == nil {
		return
	}
	m.ElderApprovals.Inc()
}

// ObserveContribution records an accepted contribution of amount minor units.
func (m *Metrics) ObserveContribution(amount int64) {
	if m == nil {
		return
	}
	m.ContributionsRecorded.Inc()
	m.ContributedAmount.Add(float64(amount))
}

func (m *Metrics) IncOverAllocation() {
	if m == nil {
		return
	}
	m.OverAllocations.Inc()
}

func (m *Metrics) IncPassCancelled() {
	if m == nil {
		return
	}
	m.PassesCancelled.Inc()
}

func (m *Metrics) IncMilestoneTransition(status string) {
	if m == nil {
		return
	}
	m.MilestoneTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncIntentSubmitted(kind string) {
	if m == nil {
		return
	}
	m.IntentsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncIntentConfirmed(kind string) {
	if m == nil {
		return
	}
	m.IntentsConfirmed.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncIntentFailure(kind string) {
	if m == nil {
		return
	}
	m.IntentFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncIntentEscalated(kind string) {
	if m == nil {
		return
	}
	m.IntentsEscalated.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetPendingIntents(kind string, n int) {
	if m == nil {
		return
	}
	m.PendingIntents.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) ObserveLedgerCall(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncOCCRetry(aggregate string) {
	if m == nil {
		return
	}
	m.OCCRetries.WithLabelValues(aggregate).Inc()
}

func (m *Metrics) IncRewardAccrued(eventType string) {
	if m == nil {
		return
	}
	m.RewardsAccrued.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncRewardFailure() {
	if m == nil {
		return
	}
	m.RewardFailures.Inc()
}

func (m *Metrics) SetRewardQueueSize(n int) {
	if m == nil {
		return
	}
	m.RewardQueueSize.Set(float64(n))
}

func (m *Metrics) IncEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetOutboxBacklog(n int) {
	if m == nil {
		return
	}
	m.OutboxBacklog.Set(float64(n))
}

func (m *Metrics) ObserveEndpointLatency(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.EndpointLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}
