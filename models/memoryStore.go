package models

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mmdatafocus/consolidation_backend/utils"
)

// MemoryStore is an in-process Store. It backs local runs (STORE_BACKEND=memory) and tests.
type MemoryStore struct {
	mu sync.RWMutex

	branches  map[string]Branch
	products  map[string]Product
	documents map[string]Document
	relations map[RelationKey]BranchProductDocument
	states    map[ReconciliationStateCode]ReconciliationState
	records   map[int]Reconciliation
	nextID    int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		branches:  map[string]Branch{},
		products:  map[string]Product{},
		documents: map[string]Document{},
		relations: map[RelationKey]BranchProductDocument{},
		states:    map[ReconciliationStateCode]ReconciliationState{},
		records:   map[int]Reconciliation{},
		nextID:    1,
	}
}

func (s *MemoryStore) CreateBranch(ctx context.Context, branch *Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branch.Code]; ok {
		return &ConflictError{Resource: "branch", Key: branch.Code}
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	s.branches[branch.Code] = *branch
	return nil
}

func (s *MemoryStore) GetBranch(ctx context.Context, code string) (*Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[code]
	if !ok {
		return nil, NewNotFoundError("branch", code)
	}
	return &b, nil
}

func (s *MemoryStore) ListBranches(ctx context.Context) ([]*Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Branch, 0, len(s.branches))
	for _, b := range s.branches {
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, product *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.Code]; ok {
		return &ConflictError{Resource: "product", Key: product.Code}
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.Code] = *product
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, code string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[code]
	if !ok {
		return nil, NewNotFoundError("product", code)
	}
	return &p, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, document *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[document.Code]; ok {
		return &ConflictError{Resource: "document", Key: document.Code}
	}
	if document.CreatedAt.IsZero() {
		document.CreatedAt = time.Now().UTC()
	}
	s.documents[document.Code] = *document
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, code string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[code]
	if !ok {
		return nil, NewNotFoundError("document", code)
	}
	return &d, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Document, 0, len(s.documents))
	for _, d := range s.documents {
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) CreateRelation(ctx context.Context, relation *BranchProductDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := relation.Key()
	if _, ok := s.relations[key]; ok {
		return &ConflictError{Resource: "relation", Key: key.String()}
	}
	if _, ok := s.branches[key.BranchCode]; !ok {
		return NewNotFoundError("branch", key.BranchCode)
	}
	if _, ok := s.products[key.ProductCode]; !ok {
		return NewNotFoundError("product", key.ProductCode)
	}
	if _, ok := s.documents[key.DocumentCode]; !ok {
		return NewNotFoundError("document", key.DocumentCode)
	}
	if relation.CreatedAt.IsZero() {
		relation.CreatedAt = time.Now().UTC()
	}
	stored := *relation
	stored.Branch, stored.Product, stored.Document = nil, nil, nil
	s.relations[key] = stored
	return nil
}

// loadRelation copies a relation and attaches its references. Caller holds the lock.
func (s *MemoryStore) loadRelation(rel BranchProductDocument) *BranchProductDocument {
	if b, ok := s.branches[rel.BranchCode]; ok {
		rel.Branch = &b
	}
	if p, ok := s.products[rel.ProductCode]; ok {
		rel.Product = &p
	}
	if d, ok := s.documents[rel.DocumentCode]; ok {
		rel.Document = &d
	}
	return &rel
}

func (s *MemoryStore) GetRelations(ctx context.Context, keys []RelationKey) ([]*BranchProductDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BranchProductDocument, 0, len(keys))
	for _, key := range utils.UniqueSlice(keys) {
		rel, ok := s.relations[key]
		if !ok {
			continue
		}
		out = append(out, s.loadRelation(rel))
	}
	return out, nil
}

func (s *MemoryStore) ListRelations(ctx context.Context, filter RelationFilter) ([]*BranchProductDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BranchProductDocument, 0)
	for _, rel := range s.relations {
		rel := rel
		if !filter.Matches(&rel) {
			continue
		}
		out = append(out, s.loadRelation(rel))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *MemoryStore) DeleteRelation(ctx context.Context, key RelationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relations[key]; !ok {
		return NewNotFoundError("relation", key.String())
	}
	for _, rec := range s.records {
		if rec.Key() == key {
			return &ConflictError{Resource: "reconciliation", Key: key.String(), ExistingID: rec.ID}
		}
	}
	delete(s.relations, key)
	return nil
}

func (s *MemoryStore) UpsertState(ctx context.Context, state *ReconciliationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Code] = *state
	return nil
}

func (s *MemoryStore) GetStates(ctx context.Context, codes []ReconciliationStateCode) ([]*ReconciliationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ReconciliationState, 0, len(codes))
	for _, code := range utils.UniqueSlice(codes) {
		st, ok := s.states[code]
		if !ok {
			continue
		}
		out = append(out, &st)
	}
	return out, nil
}

func (s *MemoryStore) ListStates(ctx context.Context) ([]*ReconciliationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ReconciliationState, 0, len(s.states))
	for _, st := range s.states {
		st := st
		out = append(out, &st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// DeleteState removes a state definition. Used to simulate a misconfigured enumeration.
func (s *MemoryStore) DeleteState(code ReconciliationStateCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, code)
}

func (s *MemoryStore) findDuplicate(rec *Reconciliation) (int, bool) {
	date := utils.NormalizeDate(rec.ReconciliationDate)
	key := rec.Key()
	for id, existing := range s.records {
		if id == rec.ID {
			continue
		}
		if existing.Key() == key && utils.NormalizeDate(existing.ReconciliationDate).Equal(date) {
			return id, true
		}
	}
	return 0, false
}

func (s *MemoryStore) CreateReconciliation(ctx context.Context, rec *Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relations[rec.Key()]; !ok {
		return NewNotFoundError("relation", rec.Key().String())
	}
	if _, ok := s.states[rec.StateCode]; !ok {
		return NewNotFoundError("reconciliation state", string(rec.StateCode))
	}
	if id, dup := s.findDuplicate(rec); dup {
		return &ConflictError{Resource: "reconciliation", Key: rec.Key().String() + "@" + rec.ReconciliationDate.Format(utils.DateLayout), ExistingID: id}
	}
	rec.ID = s.nextID
	s.nextID++
	rec.ReconciliationDate = utils.NormalizeDate(rec.ReconciliationDate)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	stored := *rec
	stored.clearProjection()
	s.records[rec.ID] = stored
	return nil
}

func (s *MemoryStore) UpdateReconciliation(ctx context.Context, rec *Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return NewNotFoundError("reconciliation", strconv.Itoa(rec.ID))
	}
	if _, ok := s.states[rec.StateCode]; !ok {
		return NewNotFoundError("reconciliation state", string(rec.StateCode))
	}
	if id, dup := s.findDuplicate(rec); dup {
		return &ConflictError{Resource: "reconciliation", Key: rec.Key().String(), ExistingID: id}
	}
	stored := *rec
	stored.clearProjection()
	s.records[rec.ID] = stored
	return nil
}

func (s *MemoryStore) DeleteReconciliation(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return NewNotFoundError("reconciliation", strconv.Itoa(id))
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) TransitionState(ctx context.Context, id int, to ReconciliationStateCode, unless ReconciliationStateCode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false, NewNotFoundError("reconciliation", strconv.Itoa(id))
	}
	if _, ok := s.states[to]; !ok {
		return false, NewNotFoundError("reconciliation state", string(to))
	}
	if unless != "" && rec.StateCode == unless {
		return false, nil
	}
	rec.StateCode = to
	s.records[id] = rec
	return true, nil
}

func (s *MemoryStore) match(filter ReconciliationFilter) []*Reconciliation {
	out := make([]*Reconciliation, 0)
	for _, rec := range s.records {
		rec := rec
		if filter.Matches(&rec) {
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) FindReconciliations(ctx context.Context, filter ReconciliationFilter, page *PageRequest) ([]*Reconciliation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.match(filter.Normalized())
	if page == nil {
		return out, nil
	}
	p := page.normalized()
	start := p.Offset()
	if start < 0 || start >= len(out) {
		return []*Reconciliation{}, nil
	}
	end := start + p.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (s *MemoryStore) CountReconciliations(ctx context.Context, filter ReconciliationFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.match(filter.Normalized()))), nil
}

// String is used in log fields.
func (s *MemoryStore) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memory(records=%d relations=%d)", len(s.records), len(s.relations))
}
