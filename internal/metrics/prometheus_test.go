package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_QuerySelfHealLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.QuerySelfHeal(RoleCurrent, "set")
	sink.QuerySelfHeal(RoleCurrent, "set")
	sink.QuerySelfHeal(RolePrevious, "zset")

	val := getCounterVecValue(t, reg, "execrepo_query_self_heal_total",
		map[string]string{"backend_role": RoleCurrent, "index_type": "set"})
	if val != 2 {
		t.Errorf("self_heal[current,set] = %v, want 2", val)
	}

	val = getCounterVecValue(t, reg, "execrepo_query_self_heal_total",
		map[string]string{"backend_role": RolePrevious, "index_type": "zset"})
	if val != 1 {
		t.Errorf("self_heal[previous,zset] = %v, want 1", val)
	}
}

func TestPrometheusSink_QueryDecodeError(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.QueryDecodeError(RoleCurrent)
	sink.QueryDecodeError(RoleCurrent)

	val := getCounterVecValue(t, reg, "execrepo_query_decode_errors_total",
		map[string]string{"backend_role": RoleCurrent})
	if val != 2 {
		t.Errorf("decode_errors[current] = %v, want 2", val)
	}
}

func TestPrometheusSink_ContextMergeCounters(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.ContextMergeRetry()
	sink.ContextMergeRetry()
	sink.ContextMergeConflict()

	retries := getCounterValue(t, reg, "execrepo_context_merge_retries_total")
	if retries != 2 {
		t.Errorf("context_merge_retries_total = %v, want 2", retries)
	}
	conflicts := getCounterValue(t, reg, "execrepo_context_merge_conflicts_total")
	if conflicts != 1 {
		t.Errorf("context_merge_conflicts_total = %v, want 1", conflicts)
	}
}

func TestPrometheusSink_BackendErrorLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BackendError(RoleCurrent, "storeExecution")
	sink.BackendError(RolePrevious, "retrieve")

	val := getCounterVecValue(t, reg, "execrepo_backend_errors_total",
		map[string]string{"backend_role": RoleCurrent, "op": "storeExecution"})
	if val != 1 {
		t.Errorf("backend_errors[current,storeExecution] = %v, want 1", val)
	}
}

func TestPrometheusSink_CircuitTransitions(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CircuitOpened(RolePrevious)
	sink.CircuitClosed(RolePrevious)
	sink.CircuitClosed(RolePrevious)

	openVal := getCounterVecValue(t, reg, "execrepo_circuit_transitions_total",
		map[string]string{"backend_role": RolePrevious, "state": "open"})
	if openVal != 1 {
		t.Errorf("circuit_transitions[previous,open] = %v, want 1", openVal)
	}
	closedVal := getCounterVecValue(t, reg, "execrepo_circuit_transitions_total",
		map[string]string{"backend_role": RolePrevious, "state": "closed"})
	if closedVal != 2 {
		t.Errorf("circuit_transitions[previous,closed] = %v, want 2", closedVal)
	}
}

func TestPrometheusSink_CorrelationGC(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CorrelationGC()
	sink.CorrelationGC()
	sink.CorrelationGC()

	val := getCounterValue(t, reg, "execrepo_correlation_gc_total")
	if val != 3 {
		t.Errorf("correlation_gc_total = %v, want 3", val)
	}
}

func TestPrometheusSink_SweepCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SweepCompleted(2*time.Second, 5)
	sink.SweepCompleted(1*time.Second, 3)

	val := getCounterValue(t, reg, "execrepo_sweep_healed_total")
	if val != 8 {
		t.Errorf("sweep_healed_total = %v, want 8", val)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// Registering metrics twice with the same registry should not panic.
	// The second registration will fail, but should be handled gracefully.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	// Second registration will fail for all metrics, but should not panic.
	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
