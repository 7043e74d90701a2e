package models

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/consolidation_backend/appctx"
)

// Loaders batch the lookups needed to fill read-time fields of reconciliations.
// A Loaders value caches for its lifetime, so create one per request or per call.
type Loaders struct {
	RelationLoader *dataloader.Loader[RelationKey, *BranchProductDocument]
	StateLoader    *dataloader.Loader[ReconciliationStateCode, *ReconciliationState]
}

type relationReader struct {
	store Store
}

type stateReader struct {
	store Store
}

func NewLoaders(store Store) *Loaders {
	relationReader := &relationReader{store: store}
	stateReader := &stateReader{store: store}
	return &Loaders{
		RelationLoader: dataloader.NewBatchedLoader(relationReader.getRelations, dataloader.WithWait[RelationKey, *BranchProductDocument](time.Millisecond)),
		StateLoader:    dataloader.NewBatchedLoader(stateReader.getStates, dataloader.WithWait[ReconciliationStateCode, *ReconciliationState](time.Millisecond)),
	}
}

// WithLoaders stores request-scoped loaders in ctx.
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyLoaders, loaders)
}

// LoadersFor returns the request-scoped loaders, or nil.
func LoadersFor(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(appctx.ContextKeyLoaders).(*Loaders)
	return loaders
}

func (r *relationReader) getRelations(ctx context.Context, keys []RelationKey) []*dataloader.Result[*BranchProductDocument] {
	relations, err := r.store.GetRelations(ctx, keys)
	if err != nil {
		return handleError[*BranchProductDocument](len(keys), err)
	}
	byKey := make(map[RelationKey]*BranchProductDocument, len(relations))
	for _, rel := range relations {
		byKey[rel.Key()] = rel
	}
	results := make([]*dataloader.Result[*BranchProductDocument], len(keys))
	for i, key := range keys {
		if rel, ok := byKey[key]; ok {
			results[i] = &dataloader.Result[*BranchProductDocument]{Data: rel}
		} else {
			results[i] = &dataloader.Result[*BranchProductDocument]{Error: NewNotFoundError("relation", key.String())}
		}
	}
	return results
}

func (r *stateReader) getStates(ctx context.Context, codes []ReconciliationStateCode) []*dataloader.Result[*ReconciliationState] {
	states, err := r.store.GetStates(ctx, codes)
	if err != nil {
		return handleError[*ReconciliationState](len(codes), err)
	}
	byCode := make(map[ReconciliationStateCode]*ReconciliationState, len(states))
	for _, st := range states {
		byCode[st.Code] = st
	}
	results := make([]*dataloader.Result[*ReconciliationState], len(codes))
	for i, code := range codes {
		if st, ok := byCode[code]; ok {
			results[i] = &dataloader.Result[*ReconciliationState]{Data: st}
		} else {
			results[i] = &dataloader.Result[*ReconciliationState]{Error: NewNotFoundError("reconciliation state", string(code))}
		}
	}
	return results
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// Project fills the derived name and description fields from the authoritative relation
// and state rows. Missing references leave the fields blank; other errors are returned.
func (l *Loaders) Project(ctx context.Context, records []*Reconciliation) error {
	if len(records) == 0 {
		return nil
	}
	keys := make([]RelationKey, len(records))
	codes := make([]ReconciliationStateCode, len(records))
	for i, rec := range records {
		rec.clearProjection()
		keys[i] = rec.Key()
		codes[i] = rec.StateCode
	}

	relationThunk := l.RelationLoader.LoadMany(ctx, keys)
	stateThunk := l.StateLoader.LoadMany(ctx, codes)
	relations, relationErrs := relationThunk()
	states, stateErrs := stateThunk()

	for i, rec := range records {
		if err := errAt(relationErrs, i); err != nil {
			if !IsNotFound(err) {
				return err
			}
		} else if rel := relations[i]; rel != nil {
			if rel.Branch != nil {
				rec.BranchName = rel.Branch.Name
			}
			if rel.Product != nil {
				rec.ProductName = rel.Product.Name
			}
			if rel.Document != nil {
				rec.DocumentDescription = rel.Document.Description
			}
		}
		if err := errAt(stateErrs, i); err != nil {
			if !IsNotFound(err) {
				return err
			}
		} else if st := states[i]; st != nil {
			rec.StateDescription = st.Description
		}
	}
	return nil
}

func errAt(errs []error, i int) error {
	if i < len(errs) {
		return errs[i]
	}
	return nil
}
