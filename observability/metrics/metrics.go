// Package metrics exposes prometheus instrumentation for the reconciliation
// engines.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconMetrics counts reconciliation outcomes segmented by entity and result.
type ReconMetrics struct {
	Confirmations     *prometheus.CounterVec
	StaleReadsSkipped prometheus.Counter
	MismatchesLogged  prometheus.Counter
	HandshakeFailures *prometheus.CounterVec
	PendingLeases     prometheus.Gauge
}

var (
	reconOnce     sync.Once
	reconRegistry *ReconMetrics
)

// Recon returns the lazily-initialised reconciliation metrics registry.
func Recon() *ReconMetrics {
	reconOnce.Do(func() {
		reconRegistry = &ReconMetrics{
			Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "womnet",
				Subsystem: "recon",
				Name:      "confirmations_total",
				Help:      "Ledger confirmations applied to the projection, segmented by entity and status.",
			}, []string{"entity", "status"}),
			StaleReadsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "womnet",
				Subsystem: "recon",
				Name:      "stale_reads_skipped_total",
				Help:      "Ledger reads discarded by the monotonic block guard.",
			}),
			MismatchesLogged: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "womnet",
				Subsystem: "recon",
				Name:      "mismatches_total",
				Help:      "Confirmations whose stored identity disagreed with the ledger.",
			}),
			HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "womnet",
				Subsystem: "hub",
				Name:      "handshake_failures_total",
				Help:      "Rejected hub handshakes segmented by stable failure code.",
			}, []string{"code"}),
			PendingLeases: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "womnet",
				Subsystem: "recon",
				Name:      "pending_leases",
				Help:      "Leases currently tracking in-flight ledger transactions.",
			}),
		}
		prometheus.MustRegister(
			reconRegistry.Confirmations,
			reconRegistry.StaleReadsSkipped,
			reconRegistry.MismatchesLogged,
			reconRegistry.HandshakeFailures,
			reconRegistry.PendingLeases,
		)
	})
	return reconRegistry
}
