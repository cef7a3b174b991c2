package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/execrepo/internal/domain"
)

// mockRepository returns configurable streamed executions and correlation
// GC counts.
type mockRepository struct {
	mu         sync.Mutex
	byType     map[domain.ExecutionType][]executionResult
	gcCount    int
	gcErr      error
	sweepCalls int
}

func (m *mockRepository) RetrieveAll(ctx context.Context, t domain.ExecutionType) <-chan executionResult {
	ch := make(chan executionResult, 8)
	go func() {
		defer close(ch)
		m.mu.Lock()
		results := append([]executionResult(nil), m.byType[t]...)
		m.mu.Unlock()
		for _, r := range results {
			if ctx.Err() != nil {
				return
			}
			ch <- r
		}
	}()
	return ch
}

func (m *mockRepository) SweepCorrelations(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepCalls++
	return m.gcCount, m.gcErr
}

// mockMetrics records SweepCompleted calls.
type mockMetrics struct {
	mu     sync.Mutex
	calls  int
	healed []int
}

func (m *mockMetrics) SweepCompleted(duration time.Duration, healed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.healed = append(m.healed, healed)
}

func TestSweeper_RunCycleDrainsBothTypesAndGCs(t *testing.T) {
	repo := &mockRepository{
		byType: map[domain.ExecutionType][]executionResult{
			domain.Pipeline:      {{Value: &domain.Execution{ID: "p1"}}, {Value: &domain.Execution{ID: "p2"}}},
			domain.Orchestration: {{Value: &domain.Execution{ID: "o1"}}},
		},
		gcCount: 2,
	}
	metrics := &mockMetrics{}

	s := New(Config{Interval: time.Hour}, repo, metrics)
	s.runCycle(context.Background())

	if repo.sweepCalls != 1 {
		t.Errorf("expected SweepCorrelations to be called once, got %d", repo.sweepCalls)
	}
	if metrics.calls != 1 {
		t.Fatalf("expected SweepCompleted to be called once, got %d", metrics.calls)
	}
	if metrics.healed[0] != 2 {
		t.Errorf("healed = %d, want 2 (from correlation GC)", metrics.healed[0])
	}
}

func TestSweeper_RunCycleToleratesStreamErrors(t *testing.T) {
	repo := &mockRepository{
		byType: map[domain.ExecutionType][]executionResult{
			domain.Pipeline: {{Err: errors.New("decode failed")}, {Value: &domain.Execution{ID: "p1"}}},
		},
	}
	metrics := &mockMetrics{}

	s := New(Config{Interval: time.Hour}, repo, metrics)
	s.runCycle(context.Background())

	if metrics.calls != 1 {
		t.Errorf("expected the cycle to complete despite a stream error, SweepCompleted calls = %d", metrics.calls)
	}
}

func TestSweeper_RunCycleToleratesCorrelationSweepError(t *testing.T) {
	repo := &mockRepository{gcErr: errors.New("backend down")}
	metrics := &mockMetrics{}

	s := New(Config{Interval: time.Hour}, repo, metrics)
	s.runCycle(context.Background())

	if metrics.calls != 1 {
		t.Fatalf("expected the cycle to complete despite a correlation sweep error, got %d calls", metrics.calls)
	}
	if metrics.healed[0] != 0 {
		t.Errorf("healed = %d, want 0 when SweepCorrelations errors", metrics.healed[0])
	}
}

func TestSweeper_RunStopsOnContextCancellation(t *testing.T) {
	repo := &mockRepository{}
	metrics := &mockMetrics{}

	s := New(Config{Interval: 10 * time.Millisecond}, repo, metrics)
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	s.Run(ctx)

	metrics.mu.Lock()
	calls := metrics.calls
	metrics.mu.Unlock()
	if calls < 1 {
		t.Error("expected at least one sweep cycle before cancellation")
	}
}

func TestSweeper_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != 5*time.Minute {
		t.Errorf("default interval should be 5m, got %s", cfg.Interval)
	}
}
