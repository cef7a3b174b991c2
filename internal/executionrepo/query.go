package executionrepo

import (
	"context"
	"sync"
	"time"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
	"github.com/djlord-it/execrepo/internal/metrics"
	"github.com/djlord-it/execrepo/internal/streamutil"
)

// Criteria filters and bounds a streaming query.
type Criteria struct {
	Statuses map[domain.Status]struct{}
	Limit    int
}

// ExecutionResult is one decoded execution or the error that stopped its
// decode, streamed by the query methods.
type ExecutionResult = streamutil.Result[*domain.Execution]

const defaultChunkSize = 75

// queryStreamer implements the three lazy, chunked, fan-out queries.
type queryStreamer struct {
	router       *router
	codec        *codec
	reader       *reader
	chunkSize    int
	allPool      *streamutil.Pool
	appPool      *streamutil.Pool
	metrics      metrics.Sink
}

func newQueryStreamer(r *router, c *codec, rd *reader, chunkSize, allWorkers, appWorkers int, sink metrics.Sink) *queryStreamer {
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &queryStreamer{
		router:    r,
		codec:     c,
		reader:    rd,
		chunkSize: chunkSize,
		allPool:   streamutil.NewPool(allWorkers),
		appPool:   streamutil.NewPool(appWorkers),
		metrics:   sink,
	}
}

// retrieve streams every execution of type t across both backends.
func (q *queryStreamer) retrieve(ctx context.Context, t domain.ExecutionType) <-chan ExecutionResult {
	return q.streamBySetIndex(ctx, t, allJobsKey(t), nil, q.allPool)
}

// retrievePipelinesForApplication streams pipelines for app.
func (q *queryStreamer) retrievePipelinesForApplication(ctx context.Context, app string) <-chan ExecutionResult {
	return q.streamBySetIndex(ctx, domain.Pipeline, appIndexKey(domain.Pipeline, app), nil, q.appPool)
}

// retrieveOrchestrationsForApplication streams orchestrations for app
// matching criteria.
func (q *queryStreamer) retrieveOrchestrationsForApplication(ctx context.Context, app string, criteria Criteria) <-chan ExecutionResult {
	return q.streamBySetIndex(ctx, domain.Orchestration, appIndexKey(domain.Orchestration, app), &criteria, q.appPool)
}

// retrievePipelinesForPipelineConfigId streams pipelines for cfgID, newest
// first per backend, matching criteria.
func (q *queryStreamer) retrievePipelinesForPipelineConfigId(ctx context.Context, cfgID string, criteria Criteria) <-chan ExecutionResult {
	return q.streamByZSetIndex(ctx, pipelineConfigKey(cfgID), criteria, q.appPool)
}

// roleFor labels the i'th backend returned by router.all(): index 0 is
// always current, index 1 (if present) is always previous.
func roleFor(i int) string {
	if i == 0 {
		return metrics.RoleCurrent
	}
	return metrics.RolePrevious
}

// streamBySetIndex drives the common algorithm for a set-backed index
// (allJobs / app indices).
func (q *queryStreamer) streamBySetIndex(ctx context.Context, t domain.ExecutionType, indexKey string, criteria *Criteria, pool *streamutil.Pool) <-chan ExecutionResult {
	var sources []<-chan ExecutionResult
	seen := make(map[string]struct{})

	for i, backend := range q.router.all() {
		role := roleFor(i)
		ids, err := backend.SetMembers(ctx, indexKey)
		if err != nil {
			q.metrics.BackendError(role, "retrieve.seed")
			sources = append(sources, errorSource[*domain.Execution](err))
			continue
		}
		ids = dedupeAgainstSeen(ids, seen)
		if criteria != nil {
			ids = q.filterByStatus(ctx, backend, t, ids, *criteria)
		}
		ids = applyLimit(ids, criteriaLimit(criteria))
		sources = append(sources, q.decodeChunked(ctx, backend, role, t, indexKey, kvstore.KeySet, ids, pool))
	}

	return streamutil.Merge(ctx, sources...)
}

// streamByZSetIndex drives the common algorithm for a sorted-set-backed
// index (pipeline:executions:<cfgId>), preserving newest-first order per
// chunk.
func (q *queryStreamer) streamByZSetIndex(ctx context.Context, indexKey string, criteria Criteria, pool *streamutil.Pool) <-chan ExecutionResult {
	var sources []<-chan ExecutionResult
	seen := make(map[string]struct{})

	// When bounded, fetch criteria.Limit ids directly from the index rather
	// than the whole sorted set; ZREVRANGE already returns them newest first.
	stop := int64(-1)
	if criteria.Limit > 0 {
		stop = int64(criteria.Limit) - 1
	}

	for i, backend := range q.router.all() {
		role := roleFor(i)
		ids, err := backend.SortedSetRevRange(ctx, indexKey, 0, stop)
		if err != nil {
			q.metrics.BackendError(role, "retrieve.seed")
			sources = append(sources, errorSource[*domain.Execution](err))
			continue
		}
		ids = dedupeAgainstSeen(ids, seen)
		ids = q.filterByStatus(ctx, backend, domain.Pipeline, ids, criteria)
		ids = applyLimit(ids, criteria.Limit)
		sources = append(sources, q.decodeChunked(ctx, backend, role, domain.Pipeline, indexKey, kvstore.KeyZSet, ids, pool))
	}

	return streamutil.Merge(ctx, sources...)
}

// filterByStatus keeps only ids whose current status field is in
// criteria.Statuses. A batch of HashGet calls backs the "pipeline all the
// status reads" step; the fake and Redis backends both make this cheap.
func (q *queryStreamer) filterByStatus(ctx context.Context, backend kvstore.Backend, t domain.ExecutionType, ids []string, criteria Criteria) []string {
	if len(criteria.Statuses) == 0 {
		return ids
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		status, ok, err := backend.HashGet(ctx, executionKey(t, id), fieldStatus)
		if err != nil || !ok {
			continue
		}
		if _, want := criteria.Statuses[domain.Status(status)]; want {
			kept = append(kept, id)
		}
	}
	return kept
}

// decodeChunked streams ids in chunks of q.chunkSize, each chunk scheduled
// on pool, self-healing stale ids as they're discovered.
func (q *queryStreamer) decodeChunked(ctx context.Context, backend kvstore.Backend, role string, t domain.ExecutionType, indexKey string, indexType kvstore.KeyType, ids []string, pool *streamutil.Pool) <-chan ExecutionResult {
	out := make(chan streamutil.Result[*domain.Execution])

	go func() {
		defer close(out)
		var wg sync.WaitGroup

		for start := 0; start < len(ids); start += q.chunkSize {
			end := start + q.chunkSize
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]

			wg.Add(1)
			err := pool.Go(ctx, func() {
				defer wg.Done()
				q.decodeChunk(ctx, backend, role, t, indexKey, indexType, chunk, out)
			})
			if err != nil {
				wg.Done()
				break
			}
		}

		wg.Wait()
	}()

	return out
}

func (q *queryStreamer) decodeChunk(ctx context.Context, backend kvstore.Backend, role string, t domain.ExecutionType, indexKey string, indexType kvstore.KeyType, ids []string, out chan<- streamutil.Result[*domain.Execution]) {
	start := time.Now()
	for _, id := range ids {
		e, err := q.reader.retrieveFrom(ctx, backend, t, id)
		if err != nil {
			if IsNotFound(err) {
				q.selfHeal(ctx, backend, indexKey, indexType, id)
				q.metrics.QuerySelfHeal(role, indexTypeLabel(indexType))
				continue
			}
			q.metrics.QueryDecodeError(role)
			continue
		}
		if streamutil.Emit(ctx, out, streamutil.Result[*domain.Execution]{Value: e}) != nil {
			return
		}
	}
	q.metrics.QueryChunkCompleted(role, len(ids), time.Since(start))
}

func indexTypeLabel(t kvstore.KeyType) string {
	if t == kvstore.KeyZSet {
		return "zset"
	}
	return "set"
}

// selfHeal removes a stale id from its seed index, dispatching on the
// index's reported runtime type rather than which query produced it.
func (q *queryStreamer) selfHeal(ctx context.Context, backend kvstore.Backend, indexKey string, indexType kvstore.KeyType, id string) {
	switch indexType {
	case kvstore.KeyZSet:
		_ = backend.RunTx(ctx, kvstore.Op{Kind: kvstore.OpZRem, Key: indexKey, Value: id})
	default:
		_ = backend.RunTx(ctx, kvstore.Op{Kind: kvstore.OpSRem, Key: indexKey, Value: id})
	}
}

func dedupeAgainstSeen(ids []string, seen map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func applyLimit(ids []string, limit int) []string {
	if limit <= 0 || limit >= len(ids) {
		return ids
	}
	return ids[:limit]
}

func criteriaLimit(c *Criteria) int {
	if c == nil {
		return 0
	}
	return c.Limit
}

func errorSource[T any](err error) <-chan streamutil.Result[T] {
	ch := make(chan streamutil.Result[T], 1)
	ch <- streamutil.Result[T]{Err: err}
	close(ch)
	return ch
}
