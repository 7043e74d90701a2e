package models

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("consolidation_backend/models")

// ReconciliationService owns the reconciliation lifecycle and the filter engine.
// Every read accessor is a specialization of Query.
type ReconciliationService struct {
	store            Store
	resolver         *KeyResolver
	logger           *logrus.Logger
	strictDuplicates bool
	now              func() time.Time
}

func NewReconciliationService(store Store, logger *logrus.Logger) *ReconciliationService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &ReconciliationService{
		store:            store,
		resolver:         NewKeyResolver(store),
		logger:           logger,
		strictDuplicates: config.StrictDuplicateReconciliation(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithStrictDuplicates switches duplicate creates between returning the existing
// record (false) and failing with a *ConflictError (true).
func (s *ReconciliationService) WithStrictDuplicates(strict bool) *ReconciliationService {
	s.strictDuplicates = strict
	return s
}

func (s *ReconciliationService) Store() Store {
	return s.store
}

func (s *ReconciliationService) loaders(ctx context.Context) *Loaders {
	if l := LoadersFor(ctx); l != nil {
		return l
	}
	return NewLoaders(s.store)
}

// requireState checks the code is in the enumeration and defined in the store.
func (s *ReconciliationService) requireState(ctx context.Context, raw ReconciliationStateCode) (*ReconciliationState, error) {
	code, err := ParseReconciliationStateCode(string(raw))
	if err != nil {
		return nil, err
	}
	states, err := s.store.GetStates(ctx, []ReconciliationStateCode{code})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, NewNotFoundError("reconciliation state", string(code))
	}
	return states[0], nil
}

// Create stores a new reconciliation. A record that already exists for the same
// (date, relation) is returned unchanged unless strict duplicates are enabled.
func (s *ReconciliationService) Create(ctx context.Context, input *NewReconciliation) (*Reconciliation, error) {
	rec, _, err := s.CreateOrGet(ctx, input)
	return rec, err
}

// CreateOrGet is Create that also reports whether a new row was written.
func (s *ReconciliationService) CreateOrGet(ctx context.Context, input *NewReconciliation) (*Reconciliation, bool, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationService.Create")
	defer span.End()

	if input == nil {
		return nil, false, NewValidationError("", nil, "input is required")
	}
	if err := input.validate(); err != nil {
		return nil, false, err
	}
	key := input.Key()
	date := utils.NormalizeDate(input.ReconciliationDate)
	span.SetAttributes(attribute.String("relation", key.String()), attribute.String("date", date.Format(utils.DateLayout)))

	if _, err := s.resolver.Resolve(ctx, key); err != nil {
		return nil, false, err
	}
	if _, err := s.requireState(ctx, input.StateCode); err != nil {
		return nil, false, err
	}

	existing, err := s.GetByDateAndRelation(ctx, date, key)
	if err != nil && !IsNotFound(err) {
		return nil, false, err
	}
	if existing != nil {
		return s.duplicate(existing)
	}

	createdAt := s.now()
	if input.CreatedAt != nil && !input.CreatedAt.IsZero() {
		createdAt = input.CreatedAt.UTC()
	}
	rec := &Reconciliation{
		ReconciliationDate: date,
		BranchCode:         key.BranchCode,
		ProductCode:        key.ProductCode,
		DocumentCode:       key.DocumentCode,
		PhysicalDifference: input.PhysicalDifference.Round(2),
		ValueDifference:    input.ValueDifference.Round(2),
		StateCode:          input.StateCode,
		CreatedAt:          createdAt,
	}
	if err := s.store.CreateReconciliation(ctx, rec); err != nil {
		// lost a race with a concurrent create of the same key
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			winner, getErr := s.GetByDateAndRelation(ctx, date, key)
			if getErr != nil {
				return nil, false, err
			}
			return s.duplicate(winner)
		}
		config.LogError(s.logger, "reconciliationService.go", "CreateOrGet", "CreateReconciliation", key.String(), err)
		return nil, false, err
	}

	if err := s.loaders(ctx).Project(ctx, []*Reconciliation{rec}); err != nil {
		return nil, false, err
	}
	s.logger.WithFields(logrus.Fields{
		"field":    "CreateReconciliation",
		"id":       rec.ID,
		"relation": key.String(),
		"date":     date.Format(utils.DateLayout),
	}).Info("reconciliation created")
	return rec, true, nil
}

func (s *ReconciliationService) duplicate(existing *Reconciliation) (*Reconciliation, bool, error) {
	if s.strictDuplicates {
		return nil, false, &ConflictError{
			Resource:   "reconciliation",
			Key:        existing.Key().String() + "@" + existing.ReconciliationDate.Format(utils.DateLayout),
			ExistingID: existing.ID,
		}
	}
	s.logger.WithFields(logrus.Fields{
		"field":    "CreateReconciliation",
		"id":       existing.ID,
		"relation": existing.Key().String(),
	}).Info("reconciliation already exists; returning existing record")
	return existing, false, nil
}

// Update replaces the differences and state of a record. The identifying
// (date, relation) pair cannot change.
func (s *ReconciliationService) Update(ctx context.Context, id int, input *NewReconciliation) (*Reconciliation, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationService.Update", trace.WithAttributes(attribute.Int("id", id)))
	defer span.End()

	if input == nil {
		return nil, NewValidationError("", nil, "input is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !utils.NormalizeDate(input.ReconciliationDate).Equal(utils.NormalizeDate(rec.ReconciliationDate)) {
		return nil, NewValidationError("reconciliation_date", input.ReconciliationDate.Format(utils.DateLayout), "reconciliation date cannot be changed")
	}
	if input.Key() != rec.Key() {
		return nil, NewValidationError("relation", input.Key().String(), "branch, product and document cannot be changed")
	}
	if _, err := s.resolver.Resolve(ctx, rec.Key()); err != nil {
		return nil, err
	}
	if _, err := s.requireState(ctx, input.StateCode); err != nil {
		return nil, err
	}

	rec.PhysicalDifference = input.PhysicalDifference.Round(2)
	rec.ValueDifference = input.ValueDifference.Round(2)
	rec.StateCode = input.StateCode
	if err := s.store.UpdateReconciliation(ctx, rec); err != nil {
		config.LogError(s.logger, "reconciliationService.go", "Update", "UpdateReconciliation", id, err)
		return nil, err
	}
	if err := s.loaders(ctx).Project(ctx, []*Reconciliation{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateState sets the state of one record. An unknown state code is an invalid
// argument and is checked first. A missing record returns false with a *NotFoundError.
// Concurrent calls on the same record are last-write-wins.
func (s *ReconciliationService) UpdateState(ctx context.Context, id int, stateCode string) (bool, error) {
	state, err := s.requireState(ctx, ReconciliationStateCode(stateCode))
	if err != nil {
		if IsNotFound(err) {
			return false, NewInvalidArgumentError("state_code", stateCode, err.Error())
		}
		return false, err
	}
	if _, err := s.store.TransitionState(ctx, id, state.Code, ""); err != nil {
		if !IsNotFound(err) {
			config.LogError(s.logger, "reconciliationService.go", "UpdateState", "TransitionState", id, err)
		}
		return false, err
	}
	return true, nil
}

// Delete removes one record. It reports false when the id does not exist.
func (s *ReconciliationService) Delete(ctx context.Context, id int) (bool, error) {
	if err := s.store.DeleteReconciliation(ctx, id); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		config.LogError(s.logger, "reconciliationService.go", "Delete", "DeleteReconciliation", id, err)
		return false, err
	}
	return true, nil
}

// Query returns every record matching filter, ordered by id, with derived fields filled.
// An invalid filter fails before the store is touched.
func (s *ReconciliationService) Query(ctx context.Context, filter ReconciliationFilter) ([]*Reconciliation, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationService.Query")
	defer span.End()

	filter = filter.Normalized()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	records, err := s.store.FindReconciliations(ctx, filter, nil)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	if err := s.loaders(ctx).Project(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// QueryPage is Query with offset pagination. TotalRecords equals len(Query(filter)).
func (s *ReconciliationService) QueryPage(ctx context.Context, filter ReconciliationFilter, page PageRequest) (*Page[*Reconciliation], error) {
	ctx, span := tracer.Start(ctx, "ReconciliationService.QueryPage")
	defer span.End()

	filter = filter.Normalized()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	page = page.normalized()

	total, err := s.store.CountReconciliations(ctx, filter)
	if err != nil {
		return nil, err
	}
	records, err := s.store.FindReconciliations(ctx, filter, &page)
	if err != nil {
		return nil, err
	}
	if err := s.loaders(ctx).Project(ctx, records); err != nil {
		return nil, err
	}
	result := &Page[*Reconciliation]{Items: records, Page: page.Page, Limit: page.Limit}
	result.SetPaginationStats(total)
	return result, nil
}

func (s *ReconciliationService) Count(ctx context.Context, filter ReconciliationFilter) (int64, error) {
	filter = filter.Normalized()
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	return s.store.CountReconciliations(ctx, filter)
}

func (s *ReconciliationService) first(records []*Reconciliation, resource string, id string) (*Reconciliation, error) {
	if len(records) == 0 {
		return nil, NewNotFoundError(resource, id)
	}
	return records[0], nil
}

func (s *ReconciliationService) GetByID(ctx context.Context, id int) (*Reconciliation, error) {
	records, err := s.Query(ctx, ReconciliationFilter{ID: &id})
	if err != nil {
		return nil, err
	}
	return s.first(records, "reconciliation", strconv.Itoa(id))
}

func (s *ReconciliationService) ListAll(ctx context.Context) ([]*Reconciliation, error) {
	return s.Query(ctx, ReconciliationFilter{})
}

func (s *ReconciliationService) ListByDate(ctx context.Context, date time.Time) ([]*Reconciliation, error) {
	return s.Query(ctx, ReconciliationFilter{}.OnDate(date))
}

func (s *ReconciliationService) ListByBranch(ctx context.Context, branchCode string) ([]*Reconciliation, error) {
	return s.Query(ctx, ReconciliationFilter{BranchCode: branchCode})
}

func (s *ReconciliationService) ListByProduct(ctx context.Context, productCode string) ([]*Reconciliation, error) {
	return s.Query(ctx, ReconciliationFilter{ProductCode: productCode})
}

func (s *ReconciliationService) ListByState(ctx context.Context, stateCode ReconciliationStateCode) ([]*Reconciliation, error) {
	return s.Query(ctx, ReconciliationFilter{StateCode: stateCode})
}

func (s *ReconciliationService) ListByDateAndState(ctx context.Context, date time.Time, stateCode ReconciliationStateCode) ([]*Reconciliation, error) {
	return s.Query(ctx, ReconciliationFilter{StateCode: stateCode}.OnDate(date))
}

func (s *ReconciliationService) ListMismatchedByDate(ctx context.Context, date time.Time) ([]*Reconciliation, error) {
	return s.ListByDateAndState(ctx, date, ReconciliationStateMismatched)
}

func (s *ReconciliationService) ListByRelation(ctx context.Context, key RelationKey) ([]*Reconciliation, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.Query(ctx, ReconciliationFilter{}.ForRelation(key))
}

// GetByDateAndRelation returns the single record for (date, relation).
func (s *ReconciliationService) GetByDateAndRelation(ctx context.Context, date time.Time, key RelationKey) (*Reconciliation, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	records, err := s.Query(ctx, ReconciliationFilter{}.OnDate(date).ForRelation(key))
	if err != nil {
		return nil, err
	}
	return s.first(records, "reconciliation", key.String()+"@"+utils.NormalizeDate(date).Format(utils.DateLayout))
}
