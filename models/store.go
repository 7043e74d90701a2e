package models

import "context"

// Store is the persistence contract used by the services and the batch processor.
//
// Lookups by key return a *NotFoundError when the row is absent. Unique key
// violations return a *ConflictError. Everything else is a *StorageError.
type Store interface {
	CreateBranch(ctx context.Context, branch *Branch) error
	GetBranch(ctx context.Context, code string) (*Branch, error)
	ListBranches(ctx context.Context) ([]*Branch, error)

	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, code string) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)

	CreateDocument(ctx context.Context, document *Document) error
	GetDocument(ctx context.Context, code string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)

	CreateRelation(ctx context.Context, relation *BranchProductDocument) error
	// GetRelations returns the relations that exist, with Branch, Product and Document loaded.
	// Missing keys are skipped.
	GetRelations(ctx context.Context, keys []RelationKey) ([]*BranchProductDocument, error)
	ListRelations(ctx context.Context, filter RelationFilter) ([]*BranchProductDocument, error)
	DeleteRelation(ctx context.Context, key RelationKey) error

	UpsertState(ctx context.Context, state *ReconciliationState) error
	// GetStates returns the states that exist; missing codes are skipped.
	GetStates(ctx context.Context, codes []ReconciliationStateCode) ([]*ReconciliationState, error)
	ListStates(ctx context.Context) ([]*ReconciliationState, error)

	CreateReconciliation(ctx context.Context, rec *Reconciliation) error
	UpdateReconciliation(ctx context.Context, rec *Reconciliation) error
	DeleteReconciliation(ctx context.Context, id int) error
	// TransitionState sets the state of one record in a single atomic write.
	// When unless is non-empty and the record already holds that state nothing is written
	// and changed is false. A missing id is a *NotFoundError.
	TransitionState(ctx context.Context, id int, to ReconciliationStateCode, unless ReconciliationStateCode) (changed bool, err error)
	// FindReconciliations returns matching records ordered by id.
	// A nil page returns every match.
	FindReconciliations(ctx context.Context, filter ReconciliationFilter, page *PageRequest) ([]*Reconciliation, error)
	CountReconciliations(ctx context.Context, filter ReconciliationFilter) (int64, error)
}
