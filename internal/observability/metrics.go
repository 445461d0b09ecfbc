package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine exports.
type Metrics struct {
	// Admission
	BetsAccepted     *prometheus.CounterVec
	BetsRejected     *prometheus.CounterVec
	BetsCancelled    prometheus.Counter
	AdmissionLatency prometheus.Histogram

	// Round clock
	RoundTransitions *prometheus.CounterVec
	RoundsOpened     *prometheus.CounterVec

	// Settlement
	RoundsSettled       *prometheus.CounterVec
	SettlementDuration  prometheus.Histogram
	SettlementFailures  *prometheus.CounterVec
	SettlementRetries   *prometheus.CounterVec
	IndecisionTriggered prometheus.Counter
	PayoutMinor         *prometheus.CounterVec

	// Ledger
	LedgerOps     *prometheus.CounterVec
	LedgerReplays *prometheus.CounterVec

	// Broadcast
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	WSClients       prometheus.Gauge

	// Archive
	RoundsArchived prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BetsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_bets_accepted_total",
			Help: "Bets accepted by admission",
		}, []string{"market", "mode"}),

		BetsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_bets_rejected_total",
			Help: "Bets rejected by admission",
		}, []string{"reason"}),

		BetsCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "roundbet_bets_cancelled_total",
			Help: "Bets cancelled before freeze",
		}),

		AdmissionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundbet_admission_duration_seconds",
			Help:    "Time from request to accepted bet",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		RoundTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_round_transitions_total",
			Help: "Round state transitions",
		}, []string{"class", "to"}),

		RoundsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_rounds_opened_total",
			Help: "Rounds opened per duration class",
		}, []string{"class"}),

		RoundsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_rounds_settled_total",
			Help: "Rounds settled per duration class",
		}, []string{"class"}),

		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roundbet_settlement_duration_seconds",
			Help:    "Wall time to settle one round",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),

		SettlementFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_settlement_failures_total",
			Help: "Settlement attempts that did not complete",
		}, []string{"reason"}),

		SettlementRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_settlement_retries_total",
			Help: "Settlement retries scheduled by the clock",
		}, []string{"class"}),

		IndecisionTriggered: f.NewCounter(prometheus.CounterOpts{
			Name: "roundbet_indecision_rounds_total",
			Help: "Rounds resolved by the indecision override",
		}),

		PayoutMinor: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_payout_minor_units_total",
			Help: "Payouts credited, in minor units",
		}, []string{"mode"}),

		LedgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_ledger_ops_total",
			Help: "Applied ledger operations",
		}, []string{"kind"}),

		LedgerReplays: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_ledger_replays_total",
			Help: "Ledger operations ignored as replays",
		}, []string{"kind"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_events_published_total",
			Help: "Events handed to the signal bus",
		}, []string{"type"}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roundbet_event_publish_errors_total",
			Help: "Events the signal bus failed to accept",
		}, []string{"type"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "roundbet_ws_clients",
			Help: "Connected websocket clients",
		}),

		RoundsArchived: f.NewCounter(prometheus.CounterOpts{
			Name: "roundbet_rounds_archived_total",
			Help: "Settled rounds exported to object storage",
		}),
	}
}
