package executionrepo

import (
	"context"
	"fmt"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/kvstore"
)

// reader implements retrieve: a single transactional hash+list read,
// reconstructed via the codec.
type reader struct {
	router *router
	codec  *codec
}

func newReader(r *router, c *codec) *reader {
	return &reader{router: r, codec: c}
}

// retrieve loads the execution identified by (t, id). It fails with
// KindNotFound if no hash exists for it on its located backend.
func (rd *reader) retrieve(ctx context.Context, t domain.ExecutionType, id string) (*domain.Execution, error) {
	backend, err := rd.router.locate(ctx, t, id)
	if err != nil {
		return nil, newErr(KindBackend, "retrieve", err)
	}
	return rd.retrieveFrom(ctx, backend, t, id)
}

// retrieveFrom loads id directly from backend, skipping the router. Used
// by the query streamer, which already knows which backend a seed id came
// from.
func (rd *reader) retrieveFrom(ctx context.Context, backend kvstore.Backend, t domain.ExecutionType, id string) (*domain.Execution, error) {
	key := executionKey(t, id)
	listKey := stageIndexKey(t, id)

	fields, stageIDs, err := backend.ReadHashAndList(ctx, key, listKey)
	if err != nil {
		return nil, newErr(KindBackend, "retrieve", err)
	}
	if len(fields) == 0 {
		return nil, newErr(KindNotFound, "retrieve", fmt.Errorf("no record for %s", key))
	}

	e, err := rd.codec.decode(id, t, fields, stageIDs)
	if err != nil {
		return nil, newErr(KindBackend, "retrieve.decode", err)
	}
	return e, nil
}
