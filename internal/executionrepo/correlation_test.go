package executionrepo

import (
	"context"
	"errors"
	"testing"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore/kvtest"
	"github.com/djlord-it/execrepo/internal/metrics"
	"github.com/djlord-it/execrepo/internal/testutil"
)

func newTestCorrelation() (*correlationIndex, *writer, *kvtest.Backend) {
	backend := kvtest.New()
	r := newRouter(backend, nil, nil, nil)
	c := newCodec()
	rd := newReader(r, c)
	return newCorrelationIndex(r, rd, metrics.NewNoopSink()), newWriter(r, c), backend
}

func TestRetrieveOrchestrationForCorrelationIdNotFound(t *testing.T) {
	ctx := testutil.TestContext(t)
	corr, _, _ := newTestCorrelation()

	_, err := corr.retrieveOrchestrationForCorrelationId(ctx, "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRetrieveOrchestrationForCorrelationIdResolvesInFlight(t *testing.T) {
	ctx := testutil.TestContext(t)
	corr, w, _ := newTestCorrelation()

	e := &domain.Execution{
		ID:     "orch-1",
		Type:   domain.Orchestration,
		Status: domain.Running,
		Trigger: domain.Trigger{Data: map[string]interface{}{"correlationId": "cid-1"}},
	}
	if err := w.storeExecution(ctx, e); err != nil {
		t.Fatalf("storeExecution: %v", err)
	}

	got, err := corr.retrieveOrchestrationForCorrelationId(ctx, "cid-1")
	if err != nil {
		t.Fatalf("retrieveOrchestrationForCorrelationId: %v", err)
	}
	if got.ID != "orch-1" {
		t.Errorf("got id %q, want orch-1", got.ID)
	}
}

func TestRetrieveOrchestrationForCorrelationIdGCsOnComplete(t *testing.T) {
	ctx := testutil.TestContext(t)
	corr, w, backend := newTestCorrelation()

	e := &domain.Execution{
		ID:     "orch-2",
		Type:   domain.Orchestration,
		Status: domain.Succeeded,
		Trigger: domain.Trigger{Data: map[string]interface{}{"correlationId": "cid-2"}},
	}
	if err := w.storeExecution(ctx, e); err != nil {
		t.Fatalf("storeExecution: %v", err)
	}

	_, err := corr.retrieveOrchestrationForCorrelationId(ctx, "cid-2")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFound for a completed orchestration, got %v", err)
	}

	_, ok, getErr := backend.GetString(ctx, correlationKey("cid-2"))
	if getErr != nil {
		t.Fatalf("GetString: %v", getErr)
	}
	if ok {
		t.Error("correlation pointer should have been garbage-collected")
	}
}

func TestRetrieveOrchestrationForCorrelationIdRetriesTransientBackendError(t *testing.T) {
	ctx := testutil.TestContext(t)
	corr, w, backend := newTestCorrelation()

	e := &domain.Execution{
		ID:      "orch-3",
		Type:    domain.Orchestration,
		Status:  domain.Running,
		Trigger: domain.Trigger{Data: map[string]interface{}{"correlationId": "cid-3"}},
	}
	if err := w.storeExecution(ctx, e); err != nil {
		t.Fatalf("storeExecution: %v", err)
	}

	backend.FailNext = errors.New("transient backend blip")

	got, err := corr.retrieveOrchestrationForCorrelationId(ctx, "cid-3")
	if err != nil {
		t.Fatalf("expected the retry loop to absorb one transient failure, got %v", err)
	}
	if got.ID != "orch-3" {
		t.Errorf("got id %q, want orch-3", got.ID)
	}
}

func TestRetrieveOrchestrationForCorrelationIdExhaustsRetriesOnPersistentError(t *testing.T) {
	ctx := testutil.TestContext(t)
	r := newRouter(&alwaysFailBackend{}, nil, nil, nil)
	c := newCodec()
	rd := newReader(r, c)
	corr := newCorrelationIndexWithRetryLimit(r, rd, metrics.NewNoopSink(), 3)

	_, err := corr.retrieveOrchestrationForCorrelationId(ctx, "cid-4")
	if err == nil || IsNotFound(err) {
		t.Fatalf("expected a backend error after exhausting retries, got %v", err)
	}
}

// alwaysFailBackend wraps kvtest.Backend and makes GetString always fail,
// for exercising retrieveOrchestrationForCorrelationId's retry budget.
type alwaysFailBackend struct {
	*kvtest.Backend
}

func (b *alwaysFailBackend) GetString(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("backend unavailable")
}
