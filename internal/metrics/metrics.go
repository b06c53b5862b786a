// Package metrics exposes the gateway's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RelayRequests      *prometheus.CounterVec
	LedgerSubmissions  *prometheus.CounterVec
	SpendingRejections prometheus.Counter
	RateRejections     prometheus.Counter
	BlobOffloads       prometheus.Counter
	InboxFetches       prometheus.Counter
	FeePayerBalance    prometheus.Gauge
}

// New registers the gateway collectors on reg; pass a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay_gateway",
			Name:      "relay_requests_total",
			Help:      "Relay requests by outcome.",
		}, []string{"outcome"}),
		LedgerSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay_gateway",
			Name:      "ledger_submissions_total",
			Help:      "Ledger submissions by result.",
		}, []string{"result"}),
		SpendingRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay_gateway",
			Name:      "spending_rejections_total",
			Help:      "Relays rejected by the daily spending guard.",
		}),
		RateRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay_gateway",
			Name:      "rate_rejections_total",
			Help:      "Relays rejected by the per-identity rate limiter.",
		}),
		BlobOffloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay_gateway",
			Name:      "blob_offloads_total",
			Help:      "Payloads stored out of line because they exceeded the inline threshold.",
		}),
		InboxFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay_gateway",
			Name:      "inbox_fetches_total",
			Help:      "Inbox queries served.",
		}),
		FeePayerBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay_gateway",
			Name:      "fee_payer_balance_lamports",
			Help:      "Last observed fee payer balance.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RelayRequests,
			m.LedgerSubmissions,
			m.SpendingRejections,
			m.RateRejections,
			m.BlobOffloads,
			m.InboxFetches,
			m.FeePayerBalance,
		)
	}
	return m
}
