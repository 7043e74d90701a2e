package models

import (
	"context"
)

// KeyResolver turns a (branch, product, document) triple into an existing relation.
// It is stateless and safe for concurrent use.
type KeyResolver struct {
	store Store
}

func NewKeyResolver(store Store) *KeyResolver {
	return &KeyResolver{store: store}
}

// ValidateReferences checks that each code of the key exists on its own.
// It is the precondition for creating a relation.
func (r *KeyResolver) ValidateReferences(ctx context.Context, key RelationKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if _, err := r.store.GetBranch(ctx, key.BranchCode); err != nil {
		return err
	}
	if _, err := r.store.GetProduct(ctx, key.ProductCode); err != nil {
		return err
	}
	if _, err := r.store.GetDocument(ctx, key.DocumentCode); err != nil {
		return err
	}
	return nil
}

// Resolve returns the relation for key. A missing code or a missing combination is a
// *NotFoundError naming the first thing that is absent.
func (r *KeyResolver) Resolve(ctx context.Context, key RelationKey) (*BranchProductDocument, error) {
	key = NewRelationKey(key.BranchCode, key.ProductCode, key.DocumentCode)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	relations, err := r.store.GetRelations(ctx, []RelationKey{key})
	if err != nil {
		return nil, err
	}
	if len(relations) > 0 {
		return relations[0], nil
	}
	// the triple is unknown; report the most specific missing part
	if err := r.ValidateReferences(ctx, key); err != nil {
		return nil, err
	}
	return nil, NewNotFoundError("relation", key.String())
}
