package models

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

var testKey = RelationKey{BranchCode: "B01", ProductCode: "P01", DocumentCode: "DOC1"}

// newSeededStore returns a memory store with the default states, two branches,
// one product, one document and relations B01/P01/DOC1 and B02/P01/DOC1.
func newSeededStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	if err := SeedReconciliationStates(ctx, store); err != nil {
		t.Fatalf("seed states: %v", err)
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(store.CreateBranch(ctx, &Branch{Code: "B01", Name: "Main Branch"}))
	must(store.CreateBranch(ctx, &Branch{Code: "B02", Name: "Second Branch"}))
	must(store.CreateProduct(ctx, &Product{Code: "P01", Name: "Rice"}))
	must(store.CreateDocument(ctx, &Document{Code: "DOC1", Description: "General ledger"}))
	must(store.CreateRelation(ctx, &BranchProductDocument{BranchCode: "B01", ProductCode: "P01", DocumentCode: "DOC1"}))
	must(store.CreateRelation(ctx, &BranchProductDocument{BranchCode: "B02", ProductCode: "P01", DocumentCode: "DOC1"}))
	return store
}

func newTestService(t *testing.T) (*ReconciliationService, *MemoryStore) {
	t.Helper()
	store := newSeededStore(t)
	svc := NewReconciliationService(store, quietLogger()).WithStrictDuplicates(false)
	return svc, store
}

func newInput(date time.Time, branch, physical, value string, state ReconciliationStateCode) *NewReconciliation {
	return &NewReconciliation{
		ReconciliationDate: date,
		BranchCode:         branch,
		ProductCode:        "P01",
		DocumentCode:       "DOC1",
		PhysicalDifference: dec(physical),
		ValueDifference:    dec(value),
		StateCode:          state,
	}
}
