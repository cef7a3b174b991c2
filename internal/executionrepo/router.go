package executionrepo

import (
	"context"

	"github.com/djlord-it/execrepo/internal/circuitbreaker"
	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
	"github.com/djlord-it/execrepo/internal/metrics"
)

// backendRole names the two possible roles a backend can play, used as the
// circuit breaker's tracking key.
type backendRole string

const (
	roleCurrent  backendRole = "current"
	rolePrevious backendRole = "previous"
)

// router owns the primary and optional previous backend and locates which
// one holds a given execution.
type router struct {
	primary  kvstore.Backend
	previous kvstore.Backend // nil if no previous backend is configured
	breaker  *circuitbreaker.CircuitBreaker
	metrics  metrics.Sink
}

func newRouter(primary, previous kvstore.Backend, breaker *circuitbreaker.CircuitBreaker, sink metrics.Sink) *router {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &router{primary: primary, previous: previous, breaker: breaker, metrics: sink}
}

// all returns every configured backend, primary first.
func (r *router) all() []kvstore.Backend {
	if r.previous == nil {
		return []kvstore.Backend{r.primary}
	}
	return []kvstore.Backend{r.primary, r.previous}
}

// locate returns the backend that holds a record for id under key, probing
// primary first. If neither backend has it, primary is returned by default
// so callers can still write through it.
func (r *router) locate(ctx context.Context, t domain.ExecutionType, id string) (kvstore.Backend, error) {
	key := executionKey(t, id)

	if r.allow(roleCurrent) {
		ok, err := r.primary.Exists(ctx, key)
		r.record(roleCurrent, err)
		if err != nil {
			return nil, err
		}
		if ok {
			return r.primary, nil
		}
	}

	if r.previous != nil && r.allow(rolePrevious) {
		ok, err := r.previous.Exists(ctx, key)
		r.record(rolePrevious, err)
		if err == nil && ok {
			return r.previous, nil
		}
	}

	return r.primary, nil
}

// allow reports whether role's circuit is closed. A nil breaker means no
// circuit tracking is configured; always allowed.
func (r *router) allow(role backendRole) bool {
	if r.breaker == nil {
		return true
	}
	return r.breaker.Allow(string(role)) == nil
}

// record feeds a probe's outcome back into the breaker, if one is
// configured, and surfaces any state transition or backend error as a
// metric.
func (r *router) record(role backendRole, err error) {
	if err != nil {
		r.metrics.BackendError(string(role), "locate")
	}
	if r.breaker == nil {
		return
	}
	if err == nil {
		if r.breaker.RecordSuccess(string(role)) {
			r.metrics.CircuitClosed(string(role))
		}
	} else {
		if r.breaker.RecordFailure(string(role)) {
			r.metrics.CircuitOpened(string(role))
		}
	}
}
