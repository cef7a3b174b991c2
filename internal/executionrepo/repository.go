// Package executionrepo is the execution repository: the durable state
// layer mediating between the orchestrator's control plane and one or two
// kvstore.Backend instances.
package executionrepo

import (
	"context"
	"time"

	"github.com/djlord-it/execrepo/internal/circuitbreaker"
	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
	"github.com/djlord-it/execrepo/internal/metrics"
)

// Options configures a Repository.
type Options struct {
	// Previous is the optional second backend consulted during rolling
	// migrations. Nil disables it.
	Previous kvstore.Backend

	// ChunkSize bounds how many ids a query worker decodes per scheduled
	// unit of work. Defaults to 75.
	ChunkSize int

	// QueryAllWorkers bounds concurrency for whole-table scans
	// (retrieve). Defaults to 10.
	QueryAllWorkers int

	// QueryAppWorkers bounds concurrency for application/pipeline-scoped
	// queries. Defaults to 25.
	QueryAppWorkers int

	// CircuitBreakerThreshold and CircuitBreakerCooldown configure the
	// Backend Router's per-role circuit breaker. A zero threshold
	// disables circuit tracking (the breaker field stays nil).
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration

	// ContextMergeRetryLimit bounds storeExecutionContext's optimistic
	// watch/merge retry loop. Defaults to 10.
	ContextMergeRetryLimit int

	// CorrelationRetryLimit bounds how many times a correlation lookup
	// retries a transient backend error before giving up. Defaults to 10.
	CorrelationRetryLimit int

	Metrics metrics.Sink
}

// Repository is the facade combining the backend router, codec, aggregate
// writer/reader, lifecycle controller, query streamer, and correlation
// index behind the repository's public operations.
type Repository struct {
	router      *router
	codec       *codec
	writer      *writer
	reader      *reader
	lifecycle   *lifecycle
	query       *queryStreamer
	correlation *correlationIndex
}

// New builds a Repository over primary (and optionally opts.Previous).
func New(primary kvstore.Backend, opts Options) *Repository {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.QueryAllWorkers < 1 {
		opts.QueryAllWorkers = 10
	}
	if opts.QueryAppWorkers < 1 {
		opts.QueryAppWorkers = 25
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}

	var breaker *circuitbreaker.CircuitBreaker
	if opts.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(opts.CircuitBreakerThreshold, opts.CircuitBreakerCooldown)
	}

	r := newRouter(primary, opts.Previous, breaker, opts.Metrics)
	c := newCodec()
	rd := newReader(r, c)

	return &Repository{
		router:      r,
		codec:       c,
		writer:      newWriter(r, c),
		reader:      rd,
		lifecycle:   newLifecycleWithRetryLimit(r, c, opts.Metrics, opts.ContextMergeRetryLimit),
		query:       newQueryStreamer(r, c, rd, opts.ChunkSize, opts.QueryAllWorkers, opts.QueryAppWorkers, opts.Metrics),
		correlation: newCorrelationIndexWithRetryLimit(r, rd, opts.Metrics, opts.CorrelationRetryLimit),
	}
}

// Writer operations

func (repo *Repository) StoreExecution(ctx context.Context, e *domain.Execution) error {
	return repo.writer.storeExecution(ctx, e)
}

func (repo *Repository) StoreStage(ctx context.Context, s *domain.Stage) error {
	return repo.writer.storeStage(ctx, s)
}

func (repo *Repository) UpdateStageContext(ctx context.Context, s *domain.Stage) error {
	return repo.writer.updateStageContext(ctx, s)
}

func (repo *Repository) AddStage(ctx context.Context, s *domain.Stage) error {
	return repo.writer.addStage(ctx, s)
}

func (repo *Repository) RemoveStage(ctx context.Context, e *domain.Execution, stageID string) error {
	return repo.writer.removeStage(ctx, e, stageID)
}

// Reader operations

func (repo *Repository) Retrieve(ctx context.Context, t domain.ExecutionType, id string) (*domain.Execution, error) {
	return repo.reader.retrieve(ctx, t, id)
}

// Lifecycle operations

func (repo *Repository) Cancel(ctx context.Context, t domain.ExecutionType, id, user, reason string) error {
	return repo.lifecycle.cancel(ctx, t, id, user, reason)
}

func (repo *Repository) Pause(ctx context.Context, t domain.ExecutionType, id, user string) error {
	return repo.lifecycle.pause(ctx, t, id, user)
}

func (repo *Repository) Resume(ctx context.Context, t domain.ExecutionType, id, user string, ignoreCurrent bool) error {
	return repo.lifecycle.resume(ctx, t, id, user, ignoreCurrent)
}

func (repo *Repository) UpdateStatus(ctx context.Context, t domain.ExecutionType, id string, status domain.Status) error {
	return repo.lifecycle.updateStatus(ctx, t, id, status)
}

func (repo *Repository) Delete(ctx context.Context, t domain.ExecutionType, id string) error {
	return repo.lifecycle.delete(ctx, t, id)
}

func (repo *Repository) StoreExecutionContext(ctx context.Context, t domain.ExecutionType, id string, partial map[string]interface{}) error {
	return repo.lifecycle.storeExecutionContext(ctx, t, id, partial)
}

func (repo *Repository) IsCanceled(ctx context.Context, t domain.ExecutionType, id string) (bool, error) {
	return repo.lifecycle.isCanceled(ctx, t, id)
}

// Query operations

func (repo *Repository) RetrieveAll(ctx context.Context, t domain.ExecutionType) <-chan ExecutionResult {
	return repo.query.retrieve(ctx, t)
}

func (repo *Repository) RetrievePipelinesForApplication(ctx context.Context, app string) <-chan ExecutionResult {
	return repo.query.retrievePipelinesForApplication(ctx, app)
}

func (repo *Repository) RetrievePipelinesForPipelineConfigId(ctx context.Context, cfgID string, criteria Criteria) <-chan ExecutionResult {
	return repo.query.retrievePipelinesForPipelineConfigId(ctx, cfgID, criteria)
}

func (repo *Repository) RetrieveOrchestrationsForApplication(ctx context.Context, app string, criteria Criteria) <-chan ExecutionResult {
	return repo.query.retrieveOrchestrationsForApplication(ctx, app, criteria)
}

// Correlation index

func (repo *Repository) RetrieveOrchestrationForCorrelationId(ctx context.Context, cid string) (*domain.Execution, error) {
	return repo.correlation.retrieveOrchestrationForCorrelationId(ctx, cid)
}

// SweepCorrelations proactively garbage-collects every correlation pointer
// whose target orchestration has completed, rather than waiting for a
// caller to resolve one. It reports how many pointers were removed, for
// use by a background maintenance loop.
func (repo *Repository) SweepCorrelations(ctx context.Context) (int, error) {
	return repo.correlation.sweep(ctx)
}
