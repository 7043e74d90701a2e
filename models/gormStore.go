package models

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrRowIsReferenced = 1451
	mysqlErrNoReferencedRow = 1452
	reconciliationStatesKey = "ReconciliationStates"
	reconciliationStatesTTL = time.Hour
)

// GormStore is the MySQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// wrapGormError maps driver errors onto the typed errors of this package.
func wrapGormError(op string, resource string, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError(resource, id)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDuplicateEntry:
			return &ConflictError{Resource: resource, Key: id}
		case mysqlErrRowIsReferenced:
			return &ConflictError{Resource: resource, Key: id}
		case mysqlErrNoReferencedRow:
			return NewNotFoundError(resource+" reference", id)
		}
	}
	return &StorageError{Op: op, Err: err, Unreachable: isConnectivityError(err)}
}

func isConnectivityError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *GormStore) CreateBranch(ctx context.Context, branch *Branch) error {
	err := s.db.WithContext(ctx).Create(branch).Error
	return wrapGormError("CreateBranch", "branch", branch.Code, err)
}

func (s *GormStore) GetBranch(ctx context.Context, code string) (*Branch, error) {
	var branch Branch
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&branch).Error
	if err != nil {
		return nil, wrapGormError("GetBranch", "branch", code, err)
	}
	return &branch, nil
}

func (s *GormStore) ListBranches(ctx context.Context) ([]*Branch, error) {
	var branches []*Branch
	err := s.db.WithContext(ctx).Order("code").Find(&branches).Error
	return branches, wrapGormError("ListBranches", "branch", "", err)
}

func (s *GormStore) CreateProduct(ctx context.Context, product *Product) error {
	err := s.db.WithContext(ctx).Create(product).Error
	return wrapGormError("CreateProduct", "product", product.Code, err)
}

func (s *GormStore) GetProduct(ctx context.Context, code string) (*Product, error) {
	var product Product
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&product).Error
	if err != nil {
		return nil, wrapGormError("GetProduct", "product", code, err)
	}
	return &product, nil
}

func (s *GormStore) ListProducts(ctx context.Context) ([]*Product, error) {
	var products []*Product
	err := s.db.WithContext(ctx).Order("code").Find(&products).Error
	return products, wrapGormError("ListProducts", "product", "", err)
}

func (s *GormStore) CreateDocument(ctx context.Context, document *Document) error {
	err := s.db.WithContext(ctx).Create(document).Error
	return wrapGormError("CreateDocument", "document", document.Code, err)
}

func (s *GormStore) GetDocument(ctx context.Context, code string) (*Document, error) {
	var document Document
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&document).Error
	if err != nil {
		return nil, wrapGormError("GetDocument", "document", code, err)
	}
	return &document, nil
}

func (s *GormStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	var documents []*Document
	err := s.db.WithContext(ctx).Order("code").Find(&documents).Error
	return documents, wrapGormError("ListDocuments", "document", "", err)
}

func (s *GormStore) CreateRelation(ctx context.Context, relation *BranchProductDocument) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(relation).Error
	return wrapGormError("CreateRelation", "relation", relation.Key().String(), err)
}

func (s *GormStore) GetRelations(ctx context.Context, keys []RelationKey) ([]*BranchProductDocument, error) {
	keys = utils.UniqueSlice(keys)
	if len(keys) == 0 {
		return nil, nil
	}
	tuples := make([][]interface{}, 0, len(keys))
	for _, k := range keys {
		tuples = append(tuples, []interface{}{k.BranchCode, k.ProductCode, k.DocumentCode})
	}
	var relations []*BranchProductDocument
	err := s.db.WithContext(ctx).
		Preload("Branch").Preload("Product").Preload("Document").
		Where("(branch_code, product_code, document_code) IN ?", tuples).
		Find(&relations).Error
	return relations, wrapGormError("GetRelations", "relation", "", err)
}

func (s *GormStore) ListRelations(ctx context.Context, filter RelationFilter) ([]*BranchProductDocument, error) {
	q := s.db.WithContext(ctx).Preload("Branch").Preload("Product").Preload("Document")
	if filter.BranchCode != "" {
		q = q.Where("branch_code = ?", filter.BranchCode)
	}
	if filter.ProductCode != "" {
		q = q.Where("product_code = ?", filter.ProductCode)
	}
	if filter.DocumentCode != "" {
		q = q.Where("document_code = ?", filter.DocumentCode)
	}
	var relations []*BranchProductDocument
	err := q.Order("branch_code, product_code, document_code").Find(&relations).Error
	return relations, wrapGormError("ListRelations", "relation", "", err)
}

func (s *GormStore) DeleteRelation(ctx context.Context, key RelationKey) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inUse Reconciliation
		err := applyReconciliationFilter(tx.Model(&Reconciliation{}), ReconciliationFilter{}.ForRelation(key)).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Take(&inUse).Error
		if err == nil {
			return &ConflictError{Resource: "reconciliation", Key: key.String(), ExistingID: inUse.ID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapGormError("DeleteRelation", "relation", key.String(), err)
		}

		res := tx.Where("branch_code = ? AND product_code = ? AND document_code = ?", key.BranchCode, key.ProductCode, key.DocumentCode).
			Delete(&BranchProductDocument{})
		if res.Error != nil {
			return wrapGormError("DeleteRelation", "relation", key.String(), res.Error)
		}
		if res.RowsAffected == 0 {
			return NewNotFoundError("relation", key.String())
		}
		return nil
	})
}

func (s *GormStore) UpsertState(ctx context.Context, state *ReconciliationState) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(state).Error
	if err != nil {
		return wrapGormError("UpsertState", "reconciliation state", string(state.Code), err)
	}
	if cacheErr := config.RemoveRedisKey(reconciliationStatesKey); cacheErr != nil {
		config.LogError(config.GetLogger(), "gormStore.go", "UpsertState", "invalidating state cache", nil, cacheErr)
	}
	return nil
}

func (s *GormStore) GetStates(ctx context.Context, codes []ReconciliationStateCode) ([]*ReconciliationState, error) {
	all, err := s.ListStates(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[ReconciliationStateCode]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}
	out := make([]*ReconciliationState, 0, len(codes))
	for _, st := range all {
		if wanted[st.Code] {
			out = append(out, st)
		}
	}
	return out, nil
}

// ListStates reads through the Redis cache. The enumeration is tiny and rarely changes.
func (s *GormStore) ListStates(ctx context.Context) ([]*ReconciliationState, error) {
	var states []*ReconciliationState
	if ok, err := config.GetRedisObject(reconciliationStatesKey, &states); err == nil && ok {
		return states, nil
	}
	states = nil
	if err := s.db.WithContext(ctx).Order("code").Find(&states).Error; err != nil {
		return nil, wrapGormError("ListStates", "reconciliation state", "", err)
	}
	if err := config.SetRedisObject(reconciliationStatesKey, states, reconciliationStatesTTL); err != nil {
		config.LogError(config.GetLogger(), "gormStore.go", "ListStates", "caching states", nil, err)
	}
	return states, nil
}

func (s *GormStore) CreateReconciliation(ctx context.Context, rec *Reconciliation) error {
	rec.ReconciliationDate = utils.NormalizeDate(rec.ReconciliationDate)
	err := s.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return nil
	}
	wrapped := wrapGormError("CreateReconciliation", "reconciliation", rec.Key().String(), err)
	var conflict *ConflictError
	if errors.As(wrapped, &conflict) {
		existing, findErr := s.FindReconciliations(ctx, ReconciliationFilter{}.OnDate(rec.ReconciliationDate).ForRelation(rec.Key()), nil)
		if findErr == nil && len(existing) > 0 {
			conflict.ExistingID = existing[0].ID
		}
		rec.ID = 0
	}
	return wrapped
}

func (s *GormStore) UpdateReconciliation(ctx context.Context, rec *Reconciliation) error {
	id := strconv.Itoa(rec.ID)
	res := s.db.WithContext(ctx).Model(&Reconciliation{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
		"reconciliation_date": utils.NormalizeDate(rec.ReconciliationDate),
		"branch_code":         rec.BranchCode,
		"product_code":        rec.ProductCode,
		"document_code":       rec.DocumentCode,
		"physical_difference": rec.PhysicalDifference,
		"value_difference":    rec.ValueDifference,
		"state_code":          rec.StateCode,
	})
	if res.Error != nil {
		return wrapGormError("UpdateReconciliation", "reconciliation", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.ensureReconciliationExists(ctx, rec.ID)
	}
	return nil
}

func (s *GormStore) ensureReconciliationExists(ctx context.Context, id int) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Reconciliation{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return wrapGormError("CountReconciliation", "reconciliation", strconv.Itoa(id), err)
	}
	if count == 0 {
		return NewNotFoundError("reconciliation", strconv.Itoa(id))
	}
	return nil
}

func (s *GormStore) DeleteReconciliation(ctx context.Context, id int) error {
	res := s.db.WithContext(ctx).Delete(&Reconciliation{}, id)
	if res.Error != nil {
		return wrapGormError("DeleteReconciliation", "reconciliation", strconv.Itoa(id), res.Error)
	}
	if res.RowsAffected == 0 {
		return NewNotFoundError("reconciliation", strconv.Itoa(id))
	}
	return nil
}

func (s *GormStore) TransitionState(ctx context.Context, id int, to ReconciliationStateCode, unless ReconciliationStateCode) (bool, error) {
	q := s.db.WithContext(ctx).Model(&Reconciliation{}).Where("id = ?", id)
	if unless != "" {
		q = q.Where("state_code <> ?", unless)
	}
	res := q.Update("state_code", to)
	if res.Error != nil {
		return false, wrapGormError("TransitionState", "reconciliation", strconv.Itoa(id), res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// nothing written: either the id is absent or the guard held
	if err := s.ensureReconciliationExists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func applyReconciliationFilter(q *gorm.DB, f ReconciliationFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.StartDate != nil {
		q = q.Where("reconciliation_date >= ?", f.StartDate.Format(utils.DateLayout))
	}
	if f.EndDate != nil {
		q = q.Where("reconciliation_date <= ?", f.EndDate.Format(utils.DateLayout))
	}
	if f.BranchCode != "" {
		q = q.Where("branch_code = ?", f.BranchCode)
	}
	if f.ProductCode != "" {
		q = q.Where("product_code = ?", f.ProductCode)
	}
	if f.DocumentCode != "" {
		q = q.Where("document_code = ?", f.DocumentCode)
	}
	if f.StateCode != "" {
		q = q.Where("state_code = ?", f.StateCode)
	}
	return q
}

func (s *GormStore) FindReconciliations(ctx context.Context, filter ReconciliationFilter, page *PageRequest) ([]*Reconciliation, error) {
	q := applyReconciliationFilter(s.db.WithContext(ctx).Model(&Reconciliation{}), filter.Normalized()).Order("id ASC")
	if page != nil {
		p := page.normalized()
		q = q.Offset(p.Offset()).Limit(p.Limit)
	}
	var records []*Reconciliation
	if err := q.Find(&records).Error; err != nil {
		return nil, wrapGormError("FindReconciliations", "reconciliation", "", err)
	}
	return records, nil
}

func (s *GormStore) CountReconciliations(ctx context.Context, filter ReconciliationFilter) (int64, error) {
	var count int64
	err := applyReconciliationFilter(s.db.WithContext(ctx).Model(&Reconciliation{}), filter.Normalized()).Count(&count).Error
	if err != nil {
		return 0, wrapGormError("CountReconciliations", "reconciliation", "", err)
	}
	return count, nil
}
