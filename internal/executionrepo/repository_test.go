package executionrepo

import (
	"testing"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore/kvtest"
	"github.com/djlord-it/execrepo/internal/testutil"
)

func TestRepositoryEndToEndLifecycle(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	repo := New(backend, Options{})

	e := sampleExecution()
	e.Status = domain.NotStarted
	if err := repo.StoreExecution(ctx, e); err != nil {
		t.Fatalf("StoreExecution: %v", err)
	}

	got, err := repo.Retrieve(ctx, e.Type, e.ID)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got.ID != e.ID {
		t.Fatalf("got id %q, want %q", got.ID, e.ID)
	}

	if err := repo.UpdateStatus(ctx, e.Type, e.ID, domain.Running); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := repo.Pause(ctx, e.Type, e.ID, "alice"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := repo.Resume(ctx, e.Type, e.ID, "bob", false); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := repo.StoreExecutionContext(ctx, e.Type, e.ID, map[string]interface{}{"k": "v"}); err != nil {
		t.Fatalf("StoreExecutionContext: %v", err)
	}

	got, err = repo.Retrieve(ctx, e.Type, e.ID)
	if err != nil {
		t.Fatalf("Retrieve after mutations: %v", err)
	}
	if got.Status != domain.Running {
		t.Errorf("status = %s, want RUNNING", got.Status)
	}
	if got.Context["k"] != "v" {
		t.Errorf("context = %v, want k=v", got.Context)
	}

	canceled, err := repo.IsCanceled(ctx, e.Type, e.ID)
	if err != nil {
		t.Fatalf("IsCanceled: %v", err)
	}
	if canceled {
		t.Error("expected not canceled")
	}

	results := repo.RetrieveAll(ctx, e.Type)
	execs, errs := drain(results)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 1 {
		t.Fatalf("got %d executions, want 1", len(execs))
	}

	if err := repo.Delete(ctx, e.Type, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Retrieve(ctx, e.Type, e.ID); !IsNotFound(err) {
		t.Fatalf("expected NotFound after Delete, got %v", err)
	}
}

func TestRepositoryDefaultsOptions(t *testing.T) {
	backend := kvtest.New()
	repo := New(backend, Options{})
	if repo.query.chunkSize != defaultChunkSize {
		t.Errorf("chunkSize = %d, want default %d", repo.query.chunkSize, defaultChunkSize)
	}
	if repo.lifecycle.mergeRetries != defaultContextMergeRetries {
		t.Errorf("mergeRetries = %d, want default %d", repo.lifecycle.mergeRetries, defaultContextMergeRetries)
	}
	if repo.correlation.retries != defaultCorrelationRetries {
		t.Errorf("correlation retries = %d, want default %d", repo.correlation.retries, defaultCorrelationRetries)
	}
}

func TestRepositorySweepCorrelationsGCsCompletedOrchestrations(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	repo := New(backend, Options{})

	e := &domain.Execution{
		ID:      "orch-sweep",
		Type:    domain.Orchestration,
		Status:  domain.Succeeded,
		Trigger: domain.Trigger{Data: map[string]interface{}{"correlationId": "cid-sweep"}},
	}
	if err := repo.StoreExecution(ctx, e); err != nil {
		t.Fatalf("StoreExecution: %v", err)
	}

	gced, err := repo.SweepCorrelations(ctx)
	if err != nil {
		t.Fatalf("SweepCorrelations: %v", err)
	}
	if gced != 1 {
		t.Errorf("gced = %d, want 1", gced)
	}

	if _, err := repo.RetrieveOrchestrationForCorrelationId(ctx, "cid-sweep"); !IsNotFound(err) {
		t.Fatalf("expected NotFound after sweep, got %v", err)
	}
}
