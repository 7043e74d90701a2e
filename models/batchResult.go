package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const batchRunTimeLayout = "02/01/2006 15:04:05"

// BatchRecordOutcome is one line of a date-scoped batch run.
type BatchRecordOutcome struct {
	ReconciliationID int                     `json:"reconciliation_id"`
	Relation         RelationKey             `json:"relation"`
	PreviousState    ReconciliationStateCode `json:"previous_state"`
	Decision         MismatchDecision        `json:"decision"`
	Outcome          BatchOutcome            `json:"outcome"`
	Error            string                  `json:"error,omitempty"`
}

// DateBatchResult summarizes a date-scoped run that moves flagged records to D.
type DateBatchResult struct {
	RunId               string                `json:"run_id"`
	Date                time.Time             `json:"date"`
	RunDateTime         time.Time             `json:"run_date_time"`
	RecordsConsidered   int                   `json:"records_considered"`
	ChangedToMismatched int                   `json:"changed_to_mismatched"`
	AlreadyMismatched   int                   `json:"already_mismatched"`
	NeedsReview         int                   `json:"needs_review"`
	Failed              int                   `json:"failed"`
	Aborted             bool                  `json:"aborted"`
	AbortReason         string                `json:"abort_reason,omitempty"`
	Outcomes            []*BatchRecordOutcome `json:"outcomes"`
}

// NeedsReviewOutcomes lists records stored as D that the policy no longer flags.
func (r *DateBatchResult) NeedsReviewOutcomes() []*BatchRecordOutcome {
	return r.filter(BatchOutcomeNeedsReview)
}

func (r *DateBatchResult) FailedOutcomes() []*BatchRecordOutcome {
	return r.filter(BatchOutcomeFailed)
}

func (r *DateBatchResult) filter(outcome BatchOutcome) []*BatchRecordOutcome {
	out := make([]*BatchRecordOutcome, 0)
	for _, o := range r.Outcomes {
		if o.Outcome == outcome {
			out = append(out, o)
		}
	}
	return out
}

// BatchResult is the read-only snapshot of a period. It never writes state.
type BatchResult struct {
	RunId             string            `json:"run_id"`
	Year              int               `json:"year"`
	Month             int               `json:"month"`
	TotalProcessed    int               `json:"total_processed"`
	TotalMismatched   int               `json:"total_mismatched"`
	RunDateTime       time.Time         `json:"run_date_time"`
	MismatchedRecords []*Reconciliation `json:"mismatched_records"`
	PendingCorrection []*Reconciliation `json:"pending_correction"`
	NeedsReview       []*Reconciliation `json:"needs_review"`
}

// MismatchPercentage is TotalMismatched over TotalProcessed in percent, rounded to 2 places.
func (r *BatchResult) MismatchPercentage() decimal.Decimal {
	if r.TotalProcessed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.TotalMismatched)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(r.TotalProcessed))).
		Round(2)
}

func (r *BatchResult) HasMismatches() bool {
	return r.TotalMismatched > 0
}

// Period formats as MM/YYYY.
func (r *BatchResult) Period() string {
	return fmt.Sprintf("%02d/%d", r.Month, r.Year)
}

func (r *BatchResult) FormattedRunTime() string {
	return r.RunDateTime.Format(batchRunTimeLayout)
}

// PeriodRequest is the input of a period run.
type PeriodRequest struct {
	Year  int `json:"year" form:"year" validate:"required,min=2020,max=2100"`
	Month int `json:"month" form:"month" validate:"required,min=1,max=12"`
}

// Validate returns a *ValidationError for a year outside 2020..2100 or a month outside 1..12.
func (p PeriodRequest) Validate() error {
	if err := validateInput(p); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Kind = ErrInvalidFilter
			return verr
		}
		return err
	}
	return nil
}
