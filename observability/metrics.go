package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// OracleMetrics tracks price-validation outcomes and the circuit-breaker
// latch.
type OracleMetrics struct {
	validations  *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	breakerTrips *prometheus.CounterVec
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			validations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eurovault",
				Subsystem: "oracle",
				Name:      "validations_total",
				Help:      "Price report validations segmented by backend and outcome.",
			}, []string{"backend", "outcome"}),
			breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "eurovault",
				Subsystem: "oracle",
				Name:      "breaker_triggered",
				Help:      "1 while the circuit breaker is latched for the backend.",
			}, []string{"backend"}),
			breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eurovault",
				Subsystem: "oracle",
				Name:      "breaker_trips_total",
				Help:      "Circuit breaker trips segmented by backend and cause.",
			}, []string{"backend", "cause"}),
		}
		prometheus.MustRegister(
			oracleRegistry.validations,
			oracleRegistry.breakerState,
			oracleRegistry.breakerTrips,
		)
	})
	return oracleRegistry
}

// RecordValidation counts one price read by outcome ("valid" or the rejection
// class).
func (m *OracleMetrics) RecordValidation(backend, outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(backend, outcome).Inc()
}

// SetBreaker records the latch position for the backend.
func (m *OracleMetrics) SetBreaker(backend string, triggered bool) {
	if m == nil {
		return
	}
	value := 0.0
	if triggered {
		value = 1.0
	}
	m.breakerState.WithLabelValues(backend).Set(value)
}

// RecordTrip counts one latch transition to triggered.
func (m *OracleMetrics) RecordTrip(backend, cause string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(backend, cause).Inc()
}

// VaultMetrics tracks mint/redeem activity.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "eurovault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "eurovault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
		prometheus.MustRegister(vaultRegistry.operations, vaultRegistry.latency)
	})
	return vaultRegistry
}

// RecordOperation counts one vault operation with its duration.
func (m *VaultMetrics) RecordOperation(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(seconds)
}
