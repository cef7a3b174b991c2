package executionrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
)

// writer implements the aggregate-level write operations: full-execution
// store and incremental stage mutations.
type writer struct {
	router *router
	codec  *codec
}

func newWriter(r *router, c *codec) *writer {
	return &writer{router: r, codec: c}
}

// storeExecution writes e atomically to whichever backend currently holds
// (or, for a brand new id, will hold) it, then maintains the correlation
// pointer outside the transaction.
func (w *writer) storeExecution(ctx context.Context, e *domain.Execution) error {
	backend, err := w.router.locate(ctx, e.Type, e.ID)
	if err != nil {
		return newErr(KindBackend, "storeExecution", err)
	}

	key := executionKey(e.Type, e.ID)
	fields, stageIDs := w.codec.encode(e)

	ops := []kvstore.Op{
		{Kind: kvstore.OpSAdd, Key: allJobsKey(e.Type), Value: e.ID},
		{Kind: kvstore.OpSAdd, Key: appIndexKey(e.Type, e.Application), Value: e.ID},
		{Kind: kvstore.OpHDel, Key: key, Field: legacyConfigField},
		{Kind: kvstore.OpDel, Key: stageIndexKey(e.Type, e.ID)},
	}
	if e.Type == domain.Pipeline {
		ops = append(ops, kvstore.Op{
			Kind:  kvstore.OpZAdd,
			Key:   pipelineConfigKey(e.PipelineConfigID),
			Value: e.ID,
			Score: float64(e.BuildTime),
		})
	}
	for field, value := range fields {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: field, Value: value})
	}
	for _, sid := range stageIDs {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpRPush, Key: stageIndexKey(e.Type, e.ID), Value: sid})
	}

	if err := backend.RunTx(ctx, ops...); err != nil {
		return newErr(KindBackend, "storeExecution", err)
	}

	if cid := e.Trigger.CorrelationID(); cid != "" {
		if err := backend.SetString(ctx, correlationKey(cid), e.ID); err != nil {
			return newErr(KindBackend, "storeExecution.correlation", err)
		}
	}
	return nil
}

// storeStage writes stage's namespaced fields on its execution's backend,
// deleting any field whose new value is absent.
func (w *writer) storeStage(ctx context.Context, s *domain.Stage) error {
	if s.Execution == nil {
		return newErr(KindInvalidArgument, "storeStage", fmt.Errorf("stage %s has no execution", s.ID))
	}
	e := s.Execution
	backend, err := w.router.locate(ctx, e.Type, e.ID)
	if err != nil {
		return newErr(KindBackend, "storeStage", err)
	}

	key := executionKey(e.Type, e.ID)
	fields := w.codec.encodeStage(s)

	ops := make([]kvstore.Op, 0, len(fields))
	for _, suffix := range stageFieldSuffixes {
		field := stageField(s.ID, suffix)
		value, ok := fields[field]
		if !ok || isAbsent(value) {
			ops = append(ops, kvstore.Op{Kind: kvstore.OpHDel, Key: key, Field: field})
			continue
		}
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: field, Value: value})
	}

	if err := backend.RunTx(ctx, ops...); err != nil {
		return newErr(KindBackend, "storeStage", err)
	}
	return nil
}

// updateStageContext overwrites only stage.<id>.context.
func (w *writer) updateStageContext(ctx context.Context, s *domain.Stage) error {
	if s.Execution == nil {
		return newErr(KindInvalidArgument, "updateStageContext", fmt.Errorf("stage %s has no execution", s.ID))
	}
	e := s.Execution
	backend, err := w.router.locate(ctx, e.Type, e.ID)
	if err != nil {
		return newErr(KindBackend, "updateStageContext", err)
	}

	key := executionKey(e.Type, e.ID)
	field := stageField(s.ID, stageFieldContext)
	value := encodeJSON(s.Context)
	if isAbsent(value) {
		if err := backend.RunTx(ctx, kvstore.Op{Kind: kvstore.OpHDel, Key: key, Field: field}); err != nil {
			return newErr(KindBackend, "updateStageContext", err)
		}
		return nil
	}
	if err := backend.RunTx(ctx, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: field, Value: value}); err != nil {
		return newErr(KindBackend, "updateStageContext", err)
	}
	return nil
}

// addStage inserts a synthetic stage before or after its parent in the
// ordered stage index, then rewrites the denormalized stageIndex field
// from the committed order. Precondition: s must be synthetic.
func (w *writer) addStage(ctx context.Context, s *domain.Stage) error {
	if !s.IsSynthetic() {
		return newErr(KindInvalidArgument, "addStage", fmt.Errorf("stage %s is not synthetic", s.ID))
	}
	e := s.Execution
	if e == nil {
		return newErr(KindInvalidArgument, "addStage", fmt.Errorf("stage %s has no execution", s.ID))
	}
	backend, err := w.router.locate(ctx, e.Type, e.ID)
	if err != nil {
		return newErr(KindBackend, "addStage", err)
	}

	key := executionKey(e.Type, e.ID)
	listKey := stageIndexKey(e.Type, e.ID)
	fields := w.codec.encodeStage(s)

	ops := make([]kvstore.Op, 0, len(fields)+1)
	for field, value := range fields {
		if isAbsent(value) {
			continue
		}
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: field, Value: value})
	}

	insertOp := kvstore.Op{Key: listKey, Pivot: s.ParentStageID, Value: s.ID}
	if s.SyntheticStageOwner == domain.SyntheticStageOwnerBefore {
		insertOp.Kind = kvstore.OpLInsertBefore
	} else {
		insertOp.Kind = kvstore.OpLInsertAfter
	}
	ops = append(ops, insertOp)

	if err := backend.RunTx(ctx, ops...); err != nil {
		return newErr(KindBackend, "addStage", err)
	}

	ids, err := backend.ListRange(ctx, listKey, 0, -1)
	if err != nil {
		return newErr(KindBackend, "addStage.reindex", err)
	}
	if err := rewriteStageIndexField(ctx, backend, key, ids); err != nil {
		return newErr(KindBackend, "addStage.reindex", err)
	}
	return nil
}

// removeStage removes stageId from e's stage index and deletes its
// namespaced fields.
func (w *writer) removeStage(ctx context.Context, e *domain.Execution, stageID string) error {
	backend, err := w.router.locate(ctx, e.Type, e.ID)
	if err != nil {
		return newErr(KindBackend, "removeStage", err)
	}

	key := executionKey(e.Type, e.ID)
	listKey := stageIndexKey(e.Type, e.ID)

	ids, err := backend.ListRange(ctx, listKey, 0, -1)
	if err != nil {
		return newErr(KindBackend, "removeStage", err)
	}
	listPopulated := len(ids) > 0
	if !listPopulated {
		// Ordered list is absent (legacy record): fall back to the
		// denormalized stageIndex hash field, the same source codec.decode
		// uses, so a legacy record's other stage ids aren't discarded.
		indexField, _, err := backend.HashGet(ctx, key, fieldStageIndex)
		if err != nil {
			return newErr(KindBackend, "removeStage", err)
		}
		if indexField != "" {
			ids = strings.Split(indexField, ",")
		}
	}

	remaining := make([]string, 0, len(ids))
	found := false
	for _, id := range ids {
		if id == stageID {
			found = true
			continue
		}
		remaining = append(remaining, id)
	}

	ops := make([]kvstore.Op, 0, len(stageFieldSuffixes)+2)
	for _, suffix := range stageFieldSuffixes {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpHDel, Key: key, Field: stageField(stageID, suffix)})
	}
	if listPopulated && found {
		ops = append(ops, kvstore.Op{Kind: kvstore.OpLRem, Key: listKey, Value: stageID})
	} else {
		// Ordered list didn't hold stageID (legacy record, sourced from the
		// hash fallback above, or simply absent); re-materialize it from the
		// remaining ids so the list and hash stay in agreement.
		ops = append(ops, kvstore.Op{Kind: kvstore.OpDel, Key: listKey})
		for _, id := range remaining {
			ops = append(ops, kvstore.Op{Kind: kvstore.OpRPush, Key: listKey, Value: id})
		}
	}
	ops = append(ops, kvstore.Op{Kind: kvstore.OpHSet, Key: key, Field: fieldStageIndex, Value: joinIDs(remaining)})

	if err := backend.RunTx(ctx, ops...); err != nil {
		return newErr(KindBackend, "removeStage", err)
	}
	return nil
}

func rewriteStageIndexField(ctx context.Context, backend kvstore.Backend, execKey string, ids []string) error {
	return backend.RunTx(ctx, kvstore.Op{Kind: kvstore.OpHSet, Key: execKey, Field: fieldStageIndex, Value: joinIDs(ids)})
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
