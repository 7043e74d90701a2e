package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/sirupsen/logrus"
)

// ReferenceService manages branches, products, documents, relations and states.
type ReferenceService struct {
	store    Store
	resolver *KeyResolver
	logger   *logrus.Logger
}

func NewReferenceService(store Store, logger *logrus.Logger) *ReferenceService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &ReferenceService{store: store, resolver: NewKeyResolver(store), logger: logger}
}

func (s *ReferenceService) CreateBranch(ctx context.Context, input *NewBranch) (*Branch, error) {
	input.normalize()
	if err := validateInput(input); err != nil {
		return nil, err
	}
	branch := &Branch{Code: input.Code, Name: input.Name}
	if err := s.store.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	return branch, nil
}

func (s *ReferenceService) GetBranch(ctx context.Context, code string) (*Branch, error) {
	return s.store.GetBranch(ctx, code)
}

func (s *ReferenceService) ListBranches(ctx context.Context) ([]*Branch, error) {
	return s.store.ListBranches(ctx)
}

func (s *ReferenceService) CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	input.normalize()
	if err := validateInput(input); err != nil {
		return nil, err
	}
	product := &Product{Code: input.Code, Name: input.Name}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ReferenceService) GetProduct(ctx context.Context, code string) (*Product, error) {
	return s.store.GetProduct(ctx, code)
}

func (s *ReferenceService) ListProducts(ctx context.Context) ([]*Product, error) {
	return s.store.ListProducts(ctx)
}

func (s *ReferenceService) CreateDocument(ctx context.Context, input *NewDocument) (*Document, error) {
	input.normalize()
	if err := validateInput(input); err != nil {
		return nil, err
	}
	document := &Document{Code: input.Code, Description: input.Description}
	if err := s.store.CreateDocument(ctx, document); err != nil {
		return nil, err
	}
	return document, nil
}

func (s *ReferenceService) GetDocument(ctx context.Context, code string) (*Document, error) {
	return s.store.GetDocument(ctx, code)
}

func (s *ReferenceService) ListDocuments(ctx context.Context) ([]*Document, error) {
	return s.store.ListDocuments(ctx)
}

// CreateRelation links an existing branch, product and document. When the
// relation already exists it is returned as is.
func (s *ReferenceService) CreateRelation(ctx context.Context, key RelationKey) (*BranchProductDocument, error) {
	key = NewRelationKey(key.BranchCode, key.ProductCode, key.DocumentCode)
	if err := validateInput(key); err != nil {
		return nil, err
	}
	if err := s.resolver.ValidateReferences(ctx, key); err != nil {
		return nil, err
	}
	if existing, err := s.resolver.Resolve(ctx, key); err == nil {
		return existing, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	relation := &BranchProductDocument{
		BranchCode:   key.BranchCode,
		ProductCode:  key.ProductCode,
		DocumentCode: key.DocumentCode,
	}
	if err := s.store.CreateRelation(ctx, relation); err != nil {
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
	}
	return s.resolver.Resolve(ctx, key)
}

func (s *ReferenceService) GetRelation(ctx context.Context, key RelationKey) (*BranchProductDocument, error) {
	return s.resolver.Resolve(ctx, key)
}

// DeleteRelation removes a relation. It reports false when the relation does not
// exist and a *ConflictError while reconciliations still reference it.
func (s *ReferenceService) DeleteRelation(ctx context.Context, key RelationKey) (bool, error) {
	key = NewRelationKey(key.BranchCode, key.ProductCode, key.DocumentCode)
	if err := key.Validate(); err != nil {
		return false, err
	}
	if err := s.store.DeleteRelation(ctx, key); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *ReferenceService) ListRelations(ctx context.Context, filter RelationFilter) ([]*BranchProductDocument, error) {
	return s.store.ListRelations(ctx, filter)
}

func (s *ReferenceService) ListRelationsByBranch(ctx context.Context, branchCode string) ([]*BranchProductDocument, error) {
	return s.store.ListRelations(ctx, RelationFilter{BranchCode: branchCode})
}

func (s *ReferenceService) ListRelationsByProduct(ctx context.Context, productCode string) ([]*BranchProductDocument, error) {
	return s.store.ListRelations(ctx, RelationFilter{ProductCode: productCode})
}

func (s *ReferenceService) ListRelationsByDocument(ctx context.Context, documentCode string) ([]*BranchProductDocument, error) {
	return s.store.ListRelations(ctx, RelationFilter{DocumentCode: documentCode})
}

func (s *ReferenceService) ListStates(ctx context.Context) ([]*ReconciliationState, error) {
	return s.store.ListStates(ctx)
}

// SeedReconciliationStates upserts the A/B/C/D enumeration.
func SeedReconciliationStates(ctx context.Context, store Store) error {
	for i := range DefaultReconciliationStates {
		st := DefaultReconciliationStates[i]
		if err := store.UpsertState(ctx, &st); err != nil {
			return err
		}
	}
	return nil
}
