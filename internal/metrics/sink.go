package metrics

import "time"

// Sink defines the interface for recording execution-repository metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Query streamer metrics
	QueryChunkCompleted(role string, size int, duration time.Duration)
	QuerySelfHeal(role, indexType string)
	QueryDecodeError(role string)

	// Lifecycle / optimistic concurrency metrics
	ContextMergeRetry()
	ContextMergeConflict()

	// Backend router / circuit breaker metrics
	BackendError(role, op string)
	CircuitOpened(role string)
	CircuitClosed(role string)

	// Correlation index metrics
	CorrelationGC()

	// Index sweeper metrics
	SweepCompleted(duration time.Duration, healed int)
}

// Backend role labels shared by CircuitOpened/Closed, BackendError, and the
// query metrics.
const (
	RoleCurrent  = "current"
	RolePrevious = "previous"
)
