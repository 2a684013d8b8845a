package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for propose calls.
const (
	OutcomeCreated   = "created"
	OutcomeVersioned = "versioned"
	OutcomeUnchanged = "unchanged"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
)

// Metrics holds the prompt-store Prometheus metrics.
type Metrics struct {
	Proposals       *prometheus.CounterVec
	Tombstones      prometheus.Counter
	AuditFailures   prometheus.Counter
	ProposeDuration prometheus.Histogram
}

// New creates and registers all prompt metrics.
func New() *Metrics {
	return &Metrics{
		Proposals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "promptvault_proposals_total",
			Help: "Propose calls by outcome",
		}, []string{"outcome"}),
		Tombstones: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promptvault_tombstones_total",
			Help: "Business keys soft-deleted",
		}),
		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promptvault_audit_append_failures_total",
			Help: "Audit appends that failed after a committed version transition",
		}),
		ProposeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "promptvault_propose_duration_seconds",
			Help:    "Latency of propose calls including lock wait",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordProposal increments the outcome counter by 1.
func (m *Metrics) RecordProposal(outcome string) {
	if m == nil {
		return
	}
	m.Proposals.WithLabelValues(outcome).Inc()
}

// ObservePropose records one propose latency sample.
func (m *Metrics) ObservePropose(seconds float64) {
	if m == nil {
		return
	}
	m.ProposeDuration.Observe(seconds)
}

// RecordTombstone increments the tombstone counter.
func (m *Metrics) RecordTombstone() {
	if m == nil {
		return
	}
	m.Tombstones.Inc()
}

// RecordAuditFailure increments the audit failure counter.
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}
