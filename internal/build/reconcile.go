package build

import (
	"context"

	"github.com/transitdocs/schedule-builder/internal/docstore"
)

// reconciler upserts one collection document by document and, once the
// batch is complete, deletes every stored key the batch did not touch.
type reconciler struct {
	store    *docstore.Store
	coll     docstore.Collection
	keys     []string
	upserted int
}

func newReconciler(store *docstore.Store, coll docstore.Collection) *reconciler {
	return &reconciler{store: store, coll: coll}
}

func (r *reconciler) upsert(ctx context.Context, key string, doc any) error {
	if err := r.store.Put(ctx, r.coll, key, doc); err != nil {
		return persistenceError(err, "upsert %s %s", r.coll, key)
	}
	r.keys = append(r.keys, key)
	r.upserted++
	return nil
}

// finish removes stale documents. It must only run after every document of
// the batch was upserted.
func (r *reconciler) finish(ctx context.Context) (docstore.Counts, error) {
	deleted, err := r.store.DeleteExcept(ctx, r.coll, r.keys)
	if err != nil {
		return docstore.Counts{}, persistenceError(err, "reconcile %s", r.coll)
	}
	return docstore.Counts{Upserted: r.upserted, Deleted: int(deleted)}, nil
}
