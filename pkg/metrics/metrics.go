package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts every transition attempt by machine and
	// outcome ("success", "invalid", or "error" for any other failure).
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_transitions_total",
			Help: "Total number of transition attempts by machine and outcome",
		},
		[]string{"machine_id", "outcome"},
	)

	TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventbus_transition_duration_seconds",
			Help:    "Time taken to execute a transition's full critical section, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"machine_id"},
	)

	// TriggeredEventsTotal counts rule fan-out by source/target machine.
	TriggeredEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_triggered_events_total",
			Help: "Total number of events triggered by the rules engine",
		},
		[]string{"source_machine", "target_machine"},
	)

	// ContainerOperationsTotal counts container manager operations by
	// kind and outcome.
	ContainerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_container_operations_total",
			Help: "Total number of container manager operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	ContainerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventbus_container_operation_duration_seconds",
			Help:    "Time taken by container manager operations, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ActiveMachines reports the number of registered machines.
	ActiveMachines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventbus_active_machines",
			Help: "Number of registered state machines",
		},
	)

	// APIRequestsTotal and APIRequestDuration cover the HTTP surface.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventbus_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ReconciliationDuration and ReconciliationCyclesTotal cover the
	// background drift-reconciliation loop.
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventbus_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbus_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_reconciliation_repairs_total",
			Help: "Total number of machines repaired by the reconciler, by machine id",
		},
		[]string{"machine_id"},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionsTotal,
		TransitionDuration,
		TriggeredEventsTotal,
		ContainerOperationsTotal,
		ContainerOperationDuration,
		ActiveMachines,
		APIRequestsTotal,
		APIRequestDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciliationRepairsTotal,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
