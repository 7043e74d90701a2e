package models

import (
	"fmt"
	"strings"
)

type ReconciliationStateCode string

const (
	ReconciliationStateAccepted    ReconciliationStateCode = "A"
	ReconciliationStateUnderReview ReconciliationStateCode = "B"
	ReconciliationStateBalanced    ReconciliationStateCode = "C"
	ReconciliationStateMismatched  ReconciliationStateCode = "D"
)

// DefaultReconciliationStates is the closed state enumeration seeded on migration.
var DefaultReconciliationStates = []ReconciliationState{
	{Code: ReconciliationStateAccepted, Description: "Accepted"},
	{Code: ReconciliationStateUnderReview, Description: "Under review"},
	{Code: ReconciliationStateBalanced, Description: "Balanced"},
	{Code: ReconciliationStateMismatched, Description: "Mismatched"},
}

func (s ReconciliationStateCode) IsValid() bool {
	switch s {
	case ReconciliationStateAccepted,
		ReconciliationStateUnderReview,
		ReconciliationStateBalanced,
		ReconciliationStateMismatched:
		return true
	}
	return false
}

func (s ReconciliationStateCode) String() string {
	return string(s)
}

func (s ReconciliationStateCode) IsMismatched() bool {
	return s == ReconciliationStateMismatched
}

func (s ReconciliationStateCode) IsBalanced() bool {
	return s == ReconciliationStateBalanced
}

func (s ReconciliationStateCode) RequiresReview() bool {
	return s == ReconciliationStateUnderReview
}

func (s ReconciliationStateCode) IsAccepted() bool {
	return s == ReconciliationStateAccepted
}

// ParseReconciliationStateCode normalizes case and whitespace. Unknown codes are an
// invalid argument, not a missing record.
func ParseReconciliationStateCode(v string) (ReconciliationStateCode, error) {
	code := ReconciliationStateCode(strings.ToUpper(strings.TrimSpace(v)))
	if !code.IsValid() {
		return "", NewInvalidArgumentError("state_code", v, fmt.Sprintf("unknown reconciliation state %q", v))
	}
	return code, nil
}

type MismatchDecision string

const (
	MismatchDecisionMismatched MismatchDecision = "Mismatched"
	MismatchDecisionUnchanged  MismatchDecision = "Unchanged"
)

// BatchOutcome is the per-record result of a date-scoped batch run.
type BatchOutcome string

const (
	// policy flags the record and it was moved to D by this run
	BatchOutcomeChangedToMismatched BatchOutcome = "ChangedToMismatched"
	// policy flags the record and it was already D
	BatchOutcomeAlreadyMismatched BatchOutcome = "AlreadyMismatched"
	// stored D but the policy no longer flags it; left for manual review
	BatchOutcomeNeedsReview BatchOutcome = "NeedsReview"
	BatchOutcomeUnchanged   BatchOutcome = "Unchanged"
	BatchOutcomeFailed      BatchOutcome = "Failed"
)
