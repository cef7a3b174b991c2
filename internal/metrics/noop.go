package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) QueryChunkCompleted(role string, size int, duration time.Duration) {}
func (n *NoopSink) QuerySelfHeal(role, indexType string)                              {}
func (n *NoopSink) QueryDecodeError(role string)                                      {}
func (n *NoopSink) ContextMergeRetry()                                                {}
func (n *NoopSink) ContextMergeConflict()                                             {}
func (n *NoopSink) BackendError(role, op string)                                      {}
func (n *NoopSink) CircuitOpened(role string)                                         {}
func (n *NoopSink) CircuitClosed(role string)                                         {}
func (n *NoopSink) CorrelationGC()                                                    {}
func (n *NoopSink) SweepCompleted(duration time.Duration, healed int)                  {}
