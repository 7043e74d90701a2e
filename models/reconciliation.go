package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation is one (date, relation) comparison of physical and virtual stock.
// Name and description fields are projections filled at read time and never persisted.
type Reconciliation struct {
	ID                 int                     `gorm:"primary_key" json:"id"`
	ReconciliationDate time.Time               `gorm:"type:date;not null;uniqueIndex:idx_reconciliation_date_relation,priority:1" json:"reconciliation_date"`
	BranchCode         string                  `gorm:"size:5;not null;index;uniqueIndex:idx_reconciliation_date_relation,priority:2" json:"branch_code"`
	ProductCode        string                  `gorm:"size:5;not null;index;uniqueIndex:idx_reconciliation_date_relation,priority:3" json:"product_code"`
	DocumentCode       string                  `gorm:"size:10;not null;uniqueIndex:idx_reconciliation_date_relation,priority:4" json:"document_code"`
	PhysicalDifference decimal.Decimal         `gorm:"type:decimal(12,2);not null" json:"physical_difference"`
	ValueDifference    decimal.Decimal         `gorm:"type:decimal(20,2);not null" json:"value_difference"`
	StateCode          ReconciliationStateCode `gorm:"size:2;not null;index" json:"state_code"`
	CreatedAt          time.Time               `gorm:"autoCreateTime" json:"created_at"`

	BranchName          string `gorm:"-" json:"branch_name"`
	ProductName         string `gorm:"-" json:"product_name"`
	DocumentDescription string `gorm:"-" json:"document_description"`
	StateDescription    string `gorm:"-" json:"state_description"`
}

func (r *Reconciliation) Key() RelationKey {
	return RelationKey{BranchCode: r.BranchCode, ProductCode: r.ProductCode, DocumentCode: r.DocumentCode}
}

func (r *Reconciliation) IsMismatched() bool {
	return r.StateCode.IsMismatched()
}

func (r *Reconciliation) IsBalanced() bool {
	return r.StateCode.IsBalanced()
}

// IsComplete reports whether every required attribute is present.
func (r *Reconciliation) IsComplete() bool {
	return !r.ReconciliationDate.IsZero() &&
		r.Key().Validate() == nil &&
		r.StateCode.IsValid()
}

// Evaluate applies the evaluation policy to the stored differences.
func (r *Reconciliation) Evaluate() MismatchDecision {
	return EvaluateDifferences(r.PhysicalDifference, r.ValueDifference)
}

func (r *Reconciliation) MatchesFilter(f ReconciliationFilter) bool {
	return f.Matches(r)
}

// clearProjection resets read-time fields so stale values never outlive a write.
func (r *Reconciliation) clearProjection() {
	r.BranchName = ""
	r.ProductName = ""
	r.DocumentDescription = ""
	r.StateDescription = ""
}

// NewReconciliation is the input for create and update. Both differences are
// pointers so an absent value is distinguishable from zero.
type NewReconciliation struct {
	ReconciliationDate time.Time               `json:"reconciliation_date"`
	BranchCode         string                  `json:"branch_code" validate:"required,max=5"`
	ProductCode        string                  `json:"product_code" validate:"required,max=5"`
	DocumentCode       string                  `json:"document_code" validate:"required,max=10"`
	PhysicalDifference *decimal.Decimal        `json:"physical_difference" validate:"required"`
	ValueDifference    *decimal.Decimal        `json:"value_difference" validate:"required"`
	StateCode          ReconciliationStateCode `json:"state_code" validate:"required"`
	CreatedAt          *time.Time              `json:"created_at"`
}

var (
	maxPhysicalDifference = decimal.New(1, 10) // decimal(12,2)
	maxValueDifference    = decimal.New(1, 18) // decimal(20,2)
)

func (input *NewReconciliation) Key() RelationKey {
	return NewRelationKey(input.BranchCode, input.ProductCode, input.DocumentCode)
}

// validate checks shape only; existence of the relation and state is checked by the service.
func (input *NewReconciliation) validate() error {
	if input.ReconciliationDate.IsZero() {
		return NewValidationError("reconciliation_date", nil, "reconciliation date is required")
	}
	if err := validateInput(input); err != nil {
		return err
	}
	if err := input.Key().Validate(); err != nil {
		return err
	}
	code, err := ParseReconciliationStateCode(string(input.StateCode))
	if err != nil {
		return err
	}
	input.StateCode = code
	if input.PhysicalDifference.Abs().GreaterThanOrEqual(maxPhysicalDifference) {
		return NewValidationError("physical_difference", input.PhysicalDifference.String(), "physical difference out of range")
	}
	if input.ValueDifference.Abs().GreaterThanOrEqual(maxValueDifference) {
		return NewValidationError("value_difference", input.ValueDifference.String(), "value difference out of range")
	}
	return nil
}
