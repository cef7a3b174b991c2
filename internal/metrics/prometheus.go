package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Query streamer metrics
	queryChunkDuration   *prometheus.HistogramVec
	querySelfHealTotal   *prometheus.CounterVec
	queryDecodeErrTotal  *prometheus.CounterVec

	// Lifecycle metrics
	contextMergeRetryTotal    prometheus.Counter
	contextMergeConflictTotal prometheus.Counter

	// Backend router / circuit breaker metrics
	backendErrorsTotal *prometheus.CounterVec
	circuitStateTotal  *prometheus.CounterVec

	// Correlation index metrics
	correlationGCTotal prometheus.Counter

	// Sweeper metrics
	sweepDuration   prometheus.Histogram
	sweepHealedTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
// Metrics that fail to register are still recorded but are not exposed via reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initQueryMetrics(reg)
	s.initLifecycleMetrics(reg)
	s.initBackendMetrics(reg)
	s.initSweeperMetrics(reg)
	return s
}

func (s *PrometheusSink) initQueryMetrics(reg prometheus.Registerer) {
	s.queryChunkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execrepo_query_chunk_duration_seconds",
		Help:    "Duration of decoding one chunk of a streaming query.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"backend_role"})

	s.querySelfHealTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "execrepo_query_self_heal_total",
		Help: "Total number of stale index entries removed during streaming queries.",
	}, []string{"backend_role", "index_type"})

	s.queryDecodeErrTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "execrepo_query_decode_errors_total",
		Help: "Total number of non-NotFound decode errors encountered during streaming queries.",
	}, []string{"backend_role"})

	s.register(reg, s.queryChunkDuration, "execrepo_query_chunk_duration_seconds")
	s.register(reg, s.querySelfHealTotal, "execrepo_query_self_heal_total")
	s.register(reg, s.queryDecodeErrTotal, "execrepo_query_decode_errors_total")
}

func (s *PrometheusSink) initLifecycleMetrics(reg prometheus.Registerer) {
	s.contextMergeRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "execrepo_context_merge_retries_total",
		Help: "Total number of storeExecutionContext optimistic-retry attempts beyond the first.",
	})
	s.contextMergeConflictTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "execrepo_context_merge_conflicts_total",
		Help: "Total number of storeExecutionContext calls that exhausted their retry budget.",
	})

	s.register(reg, s.contextMergeRetryTotal, "execrepo_context_merge_retries_total")
	s.register(reg, s.contextMergeConflictTotal, "execrepo_context_merge_conflicts_total")
}

func (s *PrometheusSink) initBackendMetrics(reg prometheus.Registerer) {
	s.backendErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "execrepo_backend_errors_total",
		Help: "Total number of kvstore.Backend errors by backend role and operation.",
	}, []string{"backend_role", "op"})

	s.circuitStateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "execrepo_circuit_transitions_total",
		Help: "Total number of circuit breaker state transitions by backend role and new state.",
	}, []string{"backend_role", "state"})

	s.correlationGCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "execrepo_correlation_gc_total",
		Help: "Total number of stale correlation pointers garbage-collected.",
	})

	s.register(reg, s.backendErrorsTotal, "execrepo_backend_errors_total")
	s.register(reg, s.circuitStateTotal, "execrepo_circuit_transitions_total")
	s.register(reg, s.correlationGCTotal, "execrepo_correlation_gc_total")
}

func (s *PrometheusSink) initSweeperMetrics(reg prometheus.Registerer) {
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "execrepo_sweep_duration_seconds",
		Help:    "Duration of one index sweeper pass.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})
	s.sweepHealedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "execrepo_sweep_healed_total",
		Help: "Total number of stale entries healed by the index sweeper across all passes.",
	})

	s.register(reg, s.sweepDuration, "execrepo_sweep_duration_seconds")
	s.register(reg, s.sweepHealedTotal, "execrepo_sweep_healed_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) QueryChunkCompleted(role string, size int, duration time.Duration) {
	s.queryChunkDuration.WithLabelValues(role).Observe(duration.Seconds())
}

func (s *PrometheusSink) QuerySelfHeal(role, indexType string) {
	s.querySelfHealTotal.WithLabelValues(role, indexType).Inc()
}

func (s *PrometheusSink) QueryDecodeError(role string) {
	s.queryDecodeErrTotal.WithLabelValues(role).Inc()
}

func (s *PrometheusSink) ContextMergeRetry() {
	s.contextMergeRetryTotal.Inc()
}

func (s *PrometheusSink) ContextMergeConflict() {
	s.contextMergeConflictTotal.Inc()
}

func (s *PrometheusSink) BackendError(role, op string) {
	s.backendErrorsTotal.WithLabelValues(role, op).Inc()
}

func (s *PrometheusSink) CircuitOpened(role string) {
	s.circuitStateTotal.WithLabelValues(role, "open").Inc()
}

func (s *PrometheusSink) CircuitClosed(role string) {
	s.circuitStateTotal.WithLabelValues(role, "closed").Inc()
}

func (s *PrometheusSink) CorrelationGC() {
	s.correlationGCTotal.Inc()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, healed int) {
	s.sweepDuration.Observe(duration.Seconds())
	s.sweepHealedTotal.Add(float64(healed))
}
