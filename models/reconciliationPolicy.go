package models

import "github.com/shopspring/decimal"

// Fixed business thresholds. They are not runtime configurable.
var (
	PhysicalDifferenceThreshold = decimal.NewFromInt(10)
	ValueDifferenceThreshold    = decimal.NewFromInt(1000000)
)

// EvaluateDifferences decides whether a pair of differences marks a record as mismatched.
//
// A record is mismatched when the physical difference exceeds PhysicalDifferenceThreshold,
// when the value difference exceeds ValueDifferenceThreshold, or when both differences are
// non-zero. Thresholds compare signed values, so a negative difference only counts through
// the last rule.
func EvaluateDifferences(physical, value decimal.Decimal) MismatchDecision {
	if physical.GreaterThan(PhysicalDifferenceThreshold) {
		return MismatchDecisionMismatched
	}
	if value.GreaterThan(ValueDifferenceThreshold) {
		return MismatchDecisionMismatched
	}
	if !physical.IsZero() && !value.IsZero() {
		return MismatchDecisionMismatched
	}
	return MismatchDecisionUnchanged
}

func (d MismatchDecision) IsMismatched() bool {
	return d == MismatchDecisionMismatched
}
