package executionrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
	"github.com/djlord-it/execrepo/internal/metrics"
)

// defaultContextMergeRetries bounds storeExecutionContext's optimistic
// retry loop when the caller doesn't configure a limit, surfacing
// ErrWatchConflict rather than spinning forever under a pathological writer.
const defaultContextMergeRetries = 10

// lifecycle implements status transitions and the deletion / context-merge
// operations that read-modify-write a single execution's hash.
type lifecycle struct {
	router      *router
	codec       *codec
	clock       func() time.Time
	metrics     metrics.Sink
	mergeRetries int
}

func newLifecycle(r *router, c *codec, sink metrics.Sink) *lifecycle {
	return newLifecycleWithRetryLimit(r, c, sink, defaultContextMergeRetries)
}

func newLifecycleWithRetryLimit(r *router, c *codec, sink metrics.Sink, mergeRetries int) *lifecycle {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if mergeRetries < 1 {
		mergeRetries = defaultContextMergeRetries
	}
	return &lifecycle{router: r, codec: c, clock: time.Now, metrics: sink, mergeRetries: mergeRetries}
}

func (l *lifecycle) now() int64 {
	return l.clock().UnixMilli()
}

func (l *lifecycle) cancel(ctx context.Context, t domain.ExecutionType, id, user, reason string) error {
	backend, err := l.router.locate(ctx, t, id)
	if err != nil {
		return newErr(KindBackend, "cancel", err)
	}
	key := executionKey(t, id)

	status, ok, err := backend.HashGet(ctx, key, fieldStatus)
	if err != nil {
		return newErr(KindBackend, "cancel", err)
	}
	if !ok {
		return newErr(KindNotFound, "cancel", fmt.Errorf("no record for %s", key))
	}

	ops := []kvstore.Op{
		{Kind: kvstore.OpHSet, Key: key, Field: fieldCanceled, Value: "true"},
	}
	if user != "" {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldCanceledBy, Value: user})
	}
	if reason != "" {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldCancellationReason, Value: reason})
	}
	if domain.Status(status) == domain.NotStarted {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldStatus, Value: string(domain.Canceled)})
	}

	if err := backend.RunTx(ctx, ops...); err != nil {
		return newErr(KindBackend, "cancel", err)
	}
	return nil
}

func (l *lifecycle) pause(ctx context.Context, t domain.ExecutionType, id, user string) error {
	backend, err := l.router.locate(ctx, t, id)
	if err != nil {
		return newErr(KindBackend, "pause", err)
	}
	key := executionKey(t, id)

	status, ok, err := backend.HashGet(ctx, key, fieldStatus)
	if err != nil {
		return newErr(KindBackend, "pause", err)
	}
	if !ok {
		return newErr(KindNotFound, "pause", fmt.Errorf("no record for %s", key))
	}
	if domain.Status(status) != domain.Running {
		return newErr(KindInvalidState, "pause", fmt.Errorf("status is %s, not RUNNING", status))
	}

	paused := domain.PausedDetails{PausedBy: user, PauseTime: l.now()}
	b, err := json.Marshal(paused)
	if err != nil {
		return newErr(KindBackend, "pause", err)
	}

	err = backend.RunTx(ctx,
		kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldPaused, Value: string(b)},
		kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldStatus, Value: string(domain.Paused)},
	)
	if err != nil {
		return newErr(KindBackend, "pause", err)
	}
	return nil
}

func (l *lifecycle) resume(ctx context.Context, t domain.ExecutionType, id, user string, ignoreCurrent bool) error {
	backend, err := l.router.locate(ctx, t, id)
	if err != nil {
		return newErr(KindBackend, "resume", err)
	}
	key := executionKey(t, id)

	fields, err := backend.HashGetAll(ctx, key)
	if err != nil {
		return newErr(KindBackend, "resume", err)
	}
	if len(fields) == 0 {
		return newErr(KindNotFound, "resume", fmt.Errorf("no record for %s", key))
	}

	if !ignoreCurrent && domain.Status(fields[fieldStatus]) != domain.Paused {
		return newErr(KindInvalidState, "resume", fmt.Errorf("status is %s, not PAUSED", fields[fieldStatus]))
	}

	var paused domain.PausedDetails
	if v := fields[fieldPaused]; v != "" {
		_ = json.Unmarshal([]byte(v), &paused)
	}
	paused.ResumedBy = user
	paused.ResumeTime = l.now()
	b, err := json.Marshal(paused)
	if err != nil {
		return newErr(KindBackend, "resume", err)
	}

	err = backend.RunTx(ctx,
		kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldPaused, Value: string(b)},
		kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldStatus, Value: string(domain.Running)},
	)
	if err != nil {
		return newErr(KindBackend, "resume", err)
	}
	return nil
}

func (l *lifecycle) updateStatus(ctx context.Context, t domain.ExecutionType, id string, status domain.Status) error {
	backend, err := l.router.locate(ctx, t, id)
	if err != nil {
		return newErr(KindBackend, "updateStatus", err)
	}
	key := executionKey(t, id)

	ops := []kvstore.Op{
		{Kind: kvstore.OpHSet, Key: key, Field: fieldStatus, Value: string(status)},
	}
	if status == domain.Running {
		ops = append(ops,
			kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldCanceled, Value: "false"},
			kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldStartTime, Value: fmt.Sprintf("%d", l.now())},
		)
	}
	if status.Complete() {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldEndTime, Value: fmt.Sprintf("%d", l.now())})
	}

	if err := backend.RunTx(ctx, ops...); err != nil {
		return newErr(KindBackend, "updateStatus", err)
	}
	return nil
}

func (l *lifecycle) delete(ctx context.Context, t domain.ExecutionType, id string) error {
	backend, err := l.router.locate(ctx, t, id)
	if err != nil {
		return newErr(KindBackend, "delete", err)
	}
	key := executionKey(t, id)

	fields, err := backend.HashGetAll(ctx, key)
	if err != nil {
		return newErr(KindBackend, "delete", err)
	}

	ops := []kvstore.Op{
		{Kind: kvstore.OpSRem, Key: allJobsKey(t), Value: id},
		{Kind: kvstore.OpDel, Key: key},
		{Kind: kvstore.OpDel, Key: stageIndexKey(t, id)},
	}
	if app := fields[fieldApplication]; app != "" {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpSRem, Key: appIndexKey(t, app), Value: id})
	}
	if t == domain.Pipeline {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpZRem, Key: pipelineConfigKey(fields[fieldPipelineConfigID]), Value: id})
	}

	if err := backend.RunTx(ctx, ops...); err != nil {
		return newErr(KindBackend, "delete", err)
	}
	return nil
}

// storeExecutionContext merges partial into the execution's context field
// using the backend's watch/optimistic-retry primitive.
func (l *lifecycle) storeExecutionContext(ctx context.Context, t domain.ExecutionType, id string, partial map[string]interface{}) error {
	backend, err := l.router.locate(ctx, t, id)
	if err != nil {
		return newErr(KindBackend, "storeExecutionContext", err)
	}
	key := executionKey(t, id)

	merge := func(current string) (string, error) {
		merged := map[string]interface{}{}
		if current != "" {
			if err := json.Unmarshal([]byte(current), &merged); err != nil {
				return "", err
			}
		}
		for k, v := range partial {
			merged[k] = v
		}
		b, err := json.Marshal(merged)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	for attempt := 0; attempt < l.mergeRetries; attempt++ {
		if attempt > 0 {
			l.metrics.ContextMergeRetry()
		}
		err := backend.WatchMergeHashField(ctx, key, fieldContext, merge)
		if err == nil {
			return nil
		}
		if err == kvstore.ErrWatchConflict {
			continue
		}
		return newErr(KindBackend, "storeExecutionContext", err)
	}
	l.metrics.ContextMergeConflict()
	return newErr(KindBackend, "storeExecutionContext", kvstore.ErrWatchConflict)
}

func (l *lifecycle) isCanceled(ctx context.Context, t domain.ExecutionType, id string) (bool, error) {
	backend, err := l.router.locate(ctx, t, id)
	if err != nil {
		return false, newErr(KindBackend, "isCanceled", err)
	}
	key := executionKey(t, id)
	v, ok, err := backend.HashGet(ctx, key, fieldCanceled)
	if err != nil {
		return false, newErr(KindBackend, "isCanceled", err)
	}
	if !ok {
		return false, newErr(KindNotFound, "isCanceled", fmt.Errorf("no record for %s", key))
	}
	return decodeBool(v), nil
}
