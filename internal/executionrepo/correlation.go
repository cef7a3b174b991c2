package executionrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
	"github.com/djlord-it/execrepo/internal/metrics"
)

// defaultCorrelationRetries bounds the transient-backend-error retry loop
// in retrieveOrchestrationForCorrelationId when the caller doesn't
// configure a limit.
const defaultCorrelationRetries = 10

// correlationIndex resolves an external correlation key to the in-flight
// orchestration it points at, garbage-collecting the pointer once that
// orchestration completes.
type correlationIndex struct {
	router  *router
	reader  *reader
	metrics metrics.Sink
	retries int
}

func newCorrelationIndex(r *router, rd *reader, sink metrics.Sink) *correlationIndex {
	return newCorrelationIndexWithRetryLimit(r, rd, sink, defaultCorrelationRetries)
}

func newCorrelationIndexWithRetryLimit(r *router, rd *reader, sink metrics.Sink, retries int) *correlationIndex {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if retries < 1 {
		retries = defaultCorrelationRetries
	}
	return &correlationIndex{router: r, reader: rd, metrics: sink, retries: retries}
}

// retrieveOrchestrationForCorrelationId resolves cid. It fails with
// KindNotFound if no pointer exists, or if the pointer resolves to a
// completed orchestration (in which case the stale pointer is removed
// first).
func (c *correlationIndex) retrieveOrchestrationForCorrelationId(ctx context.Context, cid string) (*domain.Execution, error) {
	key := correlationKey(cid)

	var foundOn kvstore.Backend
	var orchestrationID string
	var lookupErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		foundOn, orchestrationID, lookupErr = c.locatePointer(ctx, key)
		if lookupErr == nil {
			break
		}
	}
	if lookupErr != nil {
		return nil, newErr(KindBackend, "retrieveOrchestrationForCorrelationId", lookupErr)
	}
	if foundOn == nil {
		return nil, newErr(KindNotFound, "retrieveOrchestrationForCorrelationId", fmt.Errorf("no pointer for %s", cid))
	}

	var e *domain.Execution
	var err error
	for attempt := 0; attempt < c.retries; attempt++ {
		e, err = c.reader.retrieveFrom(ctx, foundOn, domain.Orchestration, orchestrationID)
		if err == nil || IsNotFound(err) {
			break
		}
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, newErr(KindBackend, "retrieveOrchestrationForCorrelationId", err)
	}

	if e.Complete() {
		_ = foundOn.Delete(ctx, key)
		c.metrics.CorrelationGC()
		return nil, newErr(KindNotFound, "retrieveOrchestrationForCorrelationId", fmt.Errorf("orchestration %s is complete", orchestrationID))
	}
	return e, nil
}

// locatePointer scans every backend for key, returning the backend it was
// found on (nil if no backend has it) and the pointed-to id.
func (c *correlationIndex) locatePointer(ctx context.Context, key string) (kvstore.Backend, string, error) {
	for _, backend := range c.router.all() {
		v, ok, err := backend.GetString(ctx, key)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return backend, v, nil
		}
	}
	return nil, "", nil
}

// sweep proactively applies the same GC rule as
// retrieveOrchestrationForCorrelationId to every correlation pointer on
// every backend, instead of waiting for a caller to resolve one.
func (c *correlationIndex) sweep(ctx context.Context) (gced int, err error) {
	for _, backend := range c.router.all() {
		keys, err := backend.ScanKeys(ctx, "correlation:*")
		if err != nil {
			return gced, newErr(KindBackend, "sweepCorrelations", err)
		}
		for _, key := range keys {
			cid := strings.TrimPrefix(key, "correlation:")
			if _, err := c.retrieveOrchestrationForCorrelationId(ctx, cid); err != nil && IsNotFound(err) {
				// NotFound is also returned when the pointer's orchestration
				// is missing, and that pointer is left in place; count only
				// pointers that are actually gone.
				if _, ok, getErr := backend.GetString(ctx, key); getErr == nil && !ok {
					gced++
				}
			}
		}
	}
	return gced, nil
}
