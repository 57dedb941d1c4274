package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for knot.
type Metrics struct {
	config MetricsConfig

	// Relation operation metrics
	relationOps       *prometheus.CounterVec
	relationOpSeconds *prometheus.HistogramVec

	// Dual-write failure metrics
	partialWrites *prometheus.CounterVec

	// Reconciliation metrics
	reconcileRepairs      *prometheus.CounterVec
	consistencyViolations *prometheus.CounterVec

	// Store metrics
	storeCalls       *prometheus.CounterVec
	storeCallSeconds *prometheus.HistogramVec

	// Gate metrics
	gateDecisions *prometheus.CounterVec

	// Policy metrics
	policyDenials *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		relationOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relation_ops_total",
				Help:      "Total number of relationship operations by outcome",
			},
			[]string{"operation", "status"},
		),
		relationOpSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "relation_op_duration_seconds",
				Help:      "Duration of relationship operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		partialWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partial_writes_total",
				Help:      "Total number of dual-write operations that committed only one half",
			},
			[]string{"operation"},
		),

		reconcileRepairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_repairs_total",
				Help:      "Total number of dangling edge halves pruned at read time",
			},
			[]string{"invariant"},
		),
		consistencyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consistency_violations_total",
				Help:      "Total number of invariant violations observed on read",
			},
			[]string{"invariant"},
		),

		storeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_calls_total",
				Help:      "Total number of record store calls",
			},
			[]string{"call", "status"},
		),
		storeCallSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_call_duration_seconds",
				Help:      "Duration of record store calls in seconds",
				Buckets:   buckets,
			},
			[]string{"call"},
		),

		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_decisions_total",
				Help:      "Total number of session gate routing decisions",
			},
			[]string{"decision"},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of operations denied by policy",
			},
			[]string{"policy"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.relationOps,
		m.relationOpSeconds,
		m.partialWrites,
		m.reconcileRepairs,
		m.consistencyViolations,
		m.storeCalls,
		m.storeCallSeconds,
		m.gateDecisions,
		m.policyDenials,
		m.errorsByClass,
	)

	return m, nil
}

// RecordOperation records a completed relationship operation.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if m.relationOps == nil {
		return
	}
	m.relationOps.WithLabelValues(operation, status).Inc()
	m.relationOpSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPartialWrite records a dual-write operation that committed only
// its first half.
func (m *Metrics) RecordPartialWrite(operation string) {
	if m.partialWrites == nil {
		return
	}
	m.partialWrites.WithLabelValues(operation).Inc()
}

// RecordReconcileRepair records a dangling half pruned at read time.
func (m *Metrics) RecordReconcileRepair(invariant string) {
	if m.reconcileRepairs == nil {
		return
	}
	m.reconcileRepairs.WithLabelValues(invariant).Inc()
}

// RecordConsistencyViolation records an invariant violation observed on read.
func (m *Metrics) RecordConsistencyViolation(invariant string) {
	if m.consistencyViolations == nil {
		return
	}
	m.consistencyViolations.WithLabelValues(invariant).Inc()
}

// RecordStoreCall records a record store call with its duration.
func (m *Metrics) RecordStoreCall(call, status string, duration time.Duration) {
	if m.storeCalls == nil {
		return
	}
	m.storeCalls.WithLabelValues(call, status).Inc()
	m.storeCallSeconds.WithLabelValues(call).Observe(duration.Seconds())
}

// RecordGateDecision records a session gate routing decision.
func (m *Metrics) RecordGateDecision(decision string) {
	if m.gateDecisions == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

// RecordPolicyDenial records an operation denied by a named policy.
func (m *Metrics) RecordPolicyDenial(policy string) {
	if m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(policy).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// It returns immediately; the server runs until the process exits.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = server.ListenAndServe()
	}()

	return nil
}
