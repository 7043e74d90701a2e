package models

import (
	"strings"
	"time"

	"github.com/mmdatafocus/consolidation_backend/utils"
)

// ReconciliationFilter is a conjunction of optional predicates.
// Nil or empty fields impose no constraint. The date range is inclusive.
type ReconciliationFilter struct {
	ID           *int                    `json:"id,omitempty"`
	StartDate    *time.Time              `json:"start_date,omitempty"`
	EndDate      *time.Time              `json:"end_date,omitempty"`
	BranchCode   string                  `json:"branch_code,omitempty"`
	ProductCode  string                  `json:"product_code,omitempty"`
	DocumentCode string                  `json:"document_code,omitempty"`
	StateCode    ReconciliationStateCode `json:"state_code,omitempty"`
}

// Validate rejects a start date after the end date and unknown state codes.
func (f ReconciliationFilter) Validate() error {
	if f.StartDate != nil && f.EndDate != nil &&
		utils.NormalizeDate(*f.StartDate).After(utils.NormalizeDate(*f.EndDate)) {
		return NewInvalidFilterError("start_date", f.StartDate.Format(utils.DateLayout), "start date must not be after end date")
	}
	if f.StateCode != "" && !f.StateCode.IsValid() {
		return NewInvalidArgumentError("state_code", string(f.StateCode), "unknown reconciliation state")
	}
	return nil
}

// Normalized trims codes and truncates dates to UTC days.
func (f ReconciliationFilter) Normalized() ReconciliationFilter {
	out := f
	if f.StartDate != nil {
		d := utils.NormalizeDate(*f.StartDate)
		out.StartDate = &d
	}
	if f.EndDate != nil {
		d := utils.NormalizeDate(*f.EndDate)
		out.EndDate = &d
	}
	out.BranchCode = strings.TrimSpace(f.BranchCode)
	out.ProductCode = strings.TrimSpace(f.ProductCode)
	out.DocumentCode = strings.TrimSpace(f.DocumentCode)
	out.StateCode = ReconciliationStateCode(strings.ToUpper(strings.TrimSpace(string(f.StateCode))))
	return out
}

// Matches is the in-process form of the predicate used by stores that filter in memory.
// It expects a normalized filter.
func (f ReconciliationFilter) Matches(r *Reconciliation) bool {
	if r == nil {
		return false
	}
	if f.ID != nil && r.ID != *f.ID {
		return false
	}
	date := utils.NormalizeDate(r.ReconciliationDate)
	if f.StartDate != nil && date.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && date.After(*f.EndDate) {
		return false
	}
	if f.BranchCode != "" && r.BranchCode != f.BranchCode {
		return false
	}
	if f.ProductCode != "" && r.ProductCode != f.ProductCode {
		return false
	}
	if f.DocumentCode != "" && r.DocumentCode != f.DocumentCode {
		return false
	}
	if f.StateCode != "" && r.StateCode != f.StateCode {
		return false
	}
	return true
}

// OnDate narrows the filter to a single day.
func (f ReconciliationFilter) OnDate(date time.Time) ReconciliationFilter {
	d := utils.NormalizeDate(date)
	f.StartDate = &d
	f.EndDate = &d
	return f
}

// InMonth narrows the filter to a calendar month.
func (f ReconciliationFilter) InMonth(year int, month time.Month) ReconciliationFilter {
	start, next := utils.MonthRange(year, month)
	end := next.AddDate(0, 0, -1)
	f.StartDate = &start
	f.EndDate = &end
	return f
}

// ForRelation narrows the filter to one relation.
func (f ReconciliationFilter) ForRelation(key RelationKey) ReconciliationFilter {
	f.BranchCode = key.BranchCode
	f.ProductCode = key.ProductCode
	f.DocumentCode = key.DocumentCode
	return f
}
