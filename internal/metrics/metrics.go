// Package metrics exposes container, lifecycle and pool metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/moolen/citadel/internal/lifecycle"
	"github.com/moolen/citadel/internal/pool"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for one kernel. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CommissionsTotal    *prometheus.CounterVec   // Components commissioned, by container
	FailuresTotal       *prometheus.CounterVec   // Component commission failures, by container and stage
	DisposalErrorsTotal *prometheus.CounterVec   // Teardown errors, by container
	CommissionDuration  *prometheus.HistogramVec // Container commission time, by container
	TransitionsTotal    *prometheus.CounterVec   // Instance state transitions, by target state
	PoolLive            *prometheus.GaugeVec     // Live pooled instances, by pool
	PoolCheckedOut      *prometheus.GaugeVec     // Checked-out pooled instances, by pool
	PoolAvailable       *prometheus.GaugeVec     // Available pooled instances, by pool
	ContainersStarted   prometheus.Gauge         // Containers currently started
}

// NewMetrics creates and registers the metrics.
// The registerer parameter allows flexible registration (e.g., global registry, test registry).
// The instanceName parameter enables multi-kernel metric tracking via ConstLabels.
func NewMetrics(reg prometheus.Registerer, instanceName string) *Metrics {
	labels := prometheus.Labels{"instance": instanceName}

	m := &Metrics{
		CommissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "citadel_component_commissions_total",
			Help:        "Total number of component instances commissioned",
			ConstLabels: labels,
		}, []string{"container"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "citadel_component_failures_total",
			Help:        "Total number of component commission failures",
			ConstLabels: labels,
		}, []string{"container", "stage"}),
		DisposalErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "citadel_disposal_errors_total",
			Help:        "Total number of errors raised while decommissioning",
			ConstLabels: labels,
		}, []string{"container"}),
		CommissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "citadel_container_commission_duration_seconds",
			Help:        "Time taken to commission a container",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"container"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "citadel_lifecycle_transitions_total",
			Help:        "Total number of instance state transitions",
			ConstLabels: labels,
		}, []string{"state"}),
		PoolLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "citadel_pool_live_instances",
			Help:        "Current number of live pooled instances",
			ConstLabels: labels,
		}, []string{"pool"}),
		PoolCheckedOut: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "citadel_pool_checked_out_instances",
			Help:        "Current number of checked-out pooled instances",
			ConstLabels: labels,
		}, []string{"pool"}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "citadel_pool_available_instances",
			Help:        "Current number of available pooled instances",
			ConstLabels: labels,
		}, []string{"pool"}),
		ContainersStarted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "citadel_containers_started",
			Help:        "Current number of started containers",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		m.CommissionsTotal,
		m.FailuresTotal,
		m.DisposalErrorsTotal,
		m.CommissionDuration,
		m.TransitionsTotal,
		m.PoolLive,
		m.PoolCheckedOut,
		m.PoolAvailable,
		m.ContainersStarted,
	)
	return m
}

// ObservePool implements pool.Observer.
func (m *Metrics) ObservePool(s pool.Stats) {
	if m == nil {
		return
	}
	m.PoolLive.WithLabelValues(s.Name).Set(float64(s.Live))
	m.PoolCheckedOut.WithLabelValues(s.Name).Set(float64(s.CheckedOut))
	m.PoolAvailable.WithLabelValues(s.Name).Set(float64(s.Available))
}

// ObserveTransition is a lifecycle.TransitionFunc.
func (m *Metrics) ObserveTransition(_ *lifecycle.Instance, _, to lifecycle.State) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(to.String()).Inc()
}

// Commissioned records one commissioned component instance.
func (m *Metrics) Commissioned(container string) {
	if m == nil {
		return
	}
	m.CommissionsTotal.WithLabelValues(container).Inc()
}

// Failed records a component commission failure.
func (m *Metrics) Failed(container, stage string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(container, stage).Inc()
}

// DisposalErrors records teardown errors.
func (m *Metrics) DisposalErrors(container string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.DisposalErrorsTotal.WithLabelValues(container).Add(float64(n))
}

// ContainerStarted records a commissioned container and its duration.
func (m *Metrics) ContainerStarted(container string, took time.Duration) {
	if m == nil {
		return
	}
	m.CommissionDuration.WithLabelValues(container).Observe(took.Seconds())
	m.ContainersStarted.Inc()
}

// ContainerStopped records a decommissioned container.
func (m *Metrics) ContainerStopped() {
	if m == nil {
		return
	}
	m.ContainersStarted.Dec()
}
