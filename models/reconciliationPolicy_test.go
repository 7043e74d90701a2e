package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEvaluateDifferences(t *testing.T) {
	tests := []struct {
		name     string
		physical string
		value    string
		want     MismatchDecision
	}{
		{"physical over threshold", "15.0", "0", MismatchDecisionMismatched},
		{"value over threshold", "0", "1500000.00", MismatchDecisionMismatched},
		{"both small but nonzero", "0.01", "0.01", MismatchDecisionMismatched},
		{"both zero", "0", "0", MismatchDecisionUnchanged},
		{"physical at threshold", "10", "0", MismatchDecisionUnchanged},
		{"value at threshold", "0", "1000000", MismatchDecisionUnchanged},
		{"physical just over", "10.01", "0", MismatchDecisionMismatched},
		{"only physical nonzero", "5", "0", MismatchDecisionUnchanged},
		{"only value nonzero", "0", "999999.99", MismatchDecisionUnchanged},
		{"negative physical alone", "-50", "0", MismatchDecisionUnchanged},
		{"negative pair", "-1", "-1", MismatchDecisionMismatched},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decimal.RequireFromString(tt.physical)
			v := decimal.RequireFromString(tt.value)
			got := EvaluateDifferences(p, v)
			if got != tt.want {
				t.Fatalf("EvaluateDifferences(%s, %s) = %s, want %s", tt.physical, tt.value, got, tt.want)
			}
			if again := EvaluateDifferences(p, v); again != got {
				t.Fatalf("EvaluateDifferences not deterministic: %s then %s", got, again)
			}
		})
	}
}

func TestEvaluateDifferencesMatchesRule(t *testing.T) {
	values := []string{"-20", "-0.01", "0", "0.01", "9.99", "10", "10.01", "999999.99", "1000000", "1000000.01"}
	for _, ps := range values {
		for _, vs := range values {
			p := decimal.RequireFromString(ps)
			v := decimal.RequireFromString(vs)
			want := p.GreaterThan(PhysicalDifferenceThreshold) ||
				v.GreaterThan(ValueDifferenceThreshold) ||
				(!p.IsZero() && !v.IsZero())
			if got := EvaluateDifferences(p, v).IsMismatched(); got != want {
				t.Fatalf("EvaluateDifferences(%s, %s).IsMismatched() = %v, want %v", ps, vs, got, want)
			}
		}
	}
}

func TestReconciliationEvaluate(t *testing.T) {
	rec := &Reconciliation{PhysicalDifference: decimal.NewFromInt(11), ValueDifference: decimal.Zero}
	if !rec.Evaluate().IsMismatched() {
		t.Fatalf("expected record to be flagged")
	}
}
