package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payvault",
			Name:      "sync_passes_total",
			Help:      "Sync passes by result.",
		},
		[]string{"result"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payvault",
			Name:      "sync_operations_total",
			Help:      "Replayed operations by entity, action and outcome.",
		},
		[]string{"entity", "action", "outcome"},
	)

	pendingOps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payvault",
			Name:      "sync_pending_operations",
			Help:      "Operations waiting for replay.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncPasses, operations, pendingOps)
	})
}

// IncPass increments the pass counter for a result label.
func IncPass(result string) {
	syncPasses.WithLabelValues(result).Inc()
}

// IncOperation increments the per-operation outcome counter.
func IncOperation(entity, action, outcome string) {
	operations.WithLabelValues(entity, action, outcome).Inc()
}

// SetPending records the current pending queue depth.
func SetPending(n int) {
	pendingOps.Set(float64(n))
}
