package executionrepo

import (
	"testing"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
	"github.com/djlord-it/execrepo/internal/kvstore/kvtest"
	"github.com/djlord-it/execrepo/internal/metrics"
	"github.com/djlord-it/execrepo/internal/testutil"
)

func drain(ch <-chan ExecutionResult) ([]*domain.Execution, []error) {
	var execs []*domain.Execution
	var errs []error
	for r := range ch {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		execs = append(execs, r.Value)
	}
	return execs, errs
}

func newPipeline(id, app, cfg string, status domain.Status, buildTime int64) *domain.Execution {
	return &domain.Execution{
		ID:               id,
		Type:             domain.Pipeline,
		Application:      app,
		Status:           status,
		BuildTime:        buildTime,
		PipelineConfigID: cfg,
	}
}

func TestQueryRetrieveStreamsAllOfType(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	r := newRouter(backend, nil, nil, nil)
	c := newCodec()
	w := newWriter(r, c)
	rd := newReader(r, c)
	qs := newQueryStreamer(r, c, rd, 2, 4, 4, metrics.NewNoopSink())

	for i := 0; i < 5; i++ {
		e := newPipeline(string(rune('a'+i)), "app1", "cfg1", domain.Succeeded, int64(i))
		if err := w.storeExecution(ctx, e); err != nil {
			t.Fatalf("storeExecution: %v", err)
		}
	}

	execs, errs := drain(qs.retrieve(ctx, domain.Pipeline))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 5 {
		t.Fatalf("got %d executions, want 5", len(execs))
	}
}

func TestQueryFiltersByStatus(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	r := newRouter(backend, nil, nil, nil)
	c := newCodec()
	w := newWriter(r, c)
	rd := newReader(r, c)
	qs := newQueryStreamer(r, c, rd, 10, 4, 4, metrics.NewNoopSink())

	running := &domain.Execution{ID: "o1", Type: domain.Orchestration, Application: "app1", Status: domain.Running}
	succeeded := &domain.Execution{ID: "o2", Type: domain.Orchestration, Application: "app1", Status: domain.Succeeded}
	if err := w.storeExecution(ctx, running); err != nil {
		t.Fatalf("storeExecution: %v", err)
	}
	if err := w.storeExecution(ctx, succeeded); err != nil {
		t.Fatalf("storeExecution: %v", err)
	}

	criteria := Criteria{Statuses: map[domain.Status]struct{}{domain.Running: {}}}
	execs, errs := drain(qs.retrieveOrchestrationsForApplication(ctx, "app1", criteria))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 1 || execs[0].ID != "o1" {
		t.Errorf("got %v, want just o1 (RUNNING)", execs)
	}
}

func TestQueryLimitBoundsResults(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	r := newRouter(backend, nil, nil, nil)
	c := newCodec()
	w := newWriter(r, c)
	rd := newReader(r, c)
	qs := newQueryStreamer(r, c, rd, 10, 4, 4, metrics.NewNoopSink())

	for i := 0; i < 5; i++ {
		o := &domain.Execution{ID: string(rune('a' + i)), Type: domain.Orchestration, Application: "app1", Status: domain.Succeeded}
		if err := w.storeExecution(ctx, o); err != nil {
			t.Fatalf("storeExecution: %v", err)
		}
	}

	execs, errs := drain(qs.retrieveOrchestrationsForApplication(ctx, "app1", Criteria{Limit: 2}))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 2 {
		t.Errorf("got %d executions, want 2 (bounded by Limit)", len(execs))
	}
}

func TestQueryPipelinesForApplication(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	r := newRouter(backend, nil, nil, nil)
	c := newCodec()
	w := newWriter(r, c)
	rd := newReader(r, c)
	qs := newQueryStreamer(r, c, rd, 10, 4, 4, metrics.NewNoopSink())

	_ = w.storeExecution(ctx, newPipeline("p1", "app1", "cfg1", domain.Succeeded, 1))
	_ = w.storeExecution(ctx, newPipeline("p2", "app2", "cfg2", domain.Succeeded, 2))

	execs, errs := drain(qs.retrievePipelinesForApplication(ctx, "app1"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 1 || execs[0].ID != "p1" {
		t.Errorf("got %v, want just p1", execs)
	}
}

func TestQueryPipelinesForPipelineConfigIdNewestFirst(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	r := newRouter(backend, nil, nil, nil)
	c := newCodec()
	w := newWriter(r, c)
	rd := newReader(r, c)
	qs := newQueryStreamer(r, c, rd, 10, 4, 4, metrics.NewNoopSink())

	_ = w.storeExecution(ctx, newPipeline("old", "app1", "cfg1", domain.Succeeded, 100))
	_ = w.storeExecution(ctx, newPipeline("new", "app1", "cfg1", domain.Succeeded, 200))

	execs, errs := drain(qs.retrievePipelinesForPipelineConfigId(ctx, "cfg1", Criteria{}))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 2 || execs[0].ID != "new" || execs[1].ID != "old" {
		t.Errorf("got %v, want [new old]", execs)
	}
}

func TestQuerySelfHealsStaleSetIndexEntry(t *testing.T) {
	ctx := testutil.TestContext(t)
	backend := kvtest.New()
	r := newRouter(backend, nil, nil, nil)
	c := newCodec()
	w := newWriter(r, c)
	rd := newReader(r, c)
	qs := newQueryStreamer(r, c, rd, 10, 4, 4, metrics.NewNoopSink())

	e := newPipeline("p1", "app1", "cfg1", domain.Succeeded, 1)
	if err := w.storeExecution(ctx, e); err != nil {
		t.Fatalf("storeExecution: %v", err)
	}
	// Corrupt: delete the hash record but leave the allJobs set entry
	// behind, simulating a crash between delete steps.
	_ = backend.Delete(ctx, executionKey(domain.Pipeline, "p1"))

	execs, errs := drain(qs.retrieve(ctx, domain.Pipeline))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 0 {
		t.Errorf("got %d executions, want 0 after self-heal", len(execs))
	}

	members, err := backend.SetMembers(ctx, allJobsKey(domain.Pipeline))
	if err != nil {
		t.Fatalf("SetMembers: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("allJobs still has stale id %v after self-heal", members)
	}
}

func TestQueryDedupesAcrossBackends(t *testing.T) {
	ctx := testutil.TestContext(t)
	primary := kvtest.New()
	previous := kvtest.New()
	r := newRouter(primary, previous, nil, nil)
	c := newCodec()
	rd := newReader(r, c)
	qs := newQueryStreamer(r, c, rd, 10, 4, 4, metrics.NewNoopSink())

	e := newPipeline("p1", "app1", "cfg1", domain.Succeeded, 1)
	// Write the SAME id's seed entry into both backends' allJobs indexes,
	// but only materialize the record on primary.
	wPrimary := newWriter(newRouter(primary, nil, nil, nil), c)
	if err := wPrimary.storeExecution(ctx, e); err != nil {
		t.Fatalf("storeExecution: %v", err)
	}
	seedOp := kvstore.Op{Kind: kvstore.OpSAdd, Key: allJobsKey(domain.Pipeline), Value: "p1"}
	if err := previous.RunTx(ctx, seedOp); err != nil {
		t.Fatalf("seed previous: %v", err)
	}

	execs, errs := drain(qs.retrieve(ctx, domain.Pipeline))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(execs) != 1 {
		t.Errorf("got %d executions, want 1 (deduped across backends)", len(execs))
	}
}
