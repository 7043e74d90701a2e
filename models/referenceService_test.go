package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyResolverResolve(t *testing.T) {
	store := newSeededStore(t)
	resolver := NewKeyResolver(store)
	ctx := context.Background()

	rel, err := resolver.Resolve(ctx, NewRelationKey(" B01", "P01 ", "DOC1"))
	require.NoError(t, err)
	assert.Equal(t, testKey, rel.Key())
	require.NotNil(t, rel.Branch)
	assert.Equal(t, "Main Branch", rel.Branch.Name)

	tests := []struct {
		name     string
		key      RelationKey
		resource string
	}{
		{"missing branch", NewRelationKey("B99", "P01", "DOC1"), "branch"},
		{"missing product", NewRelationKey("B01", "P99", "DOC1"), "product"},
		{"missing document", NewRelationKey("B01", "P01", "DOC9"), "document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(ctx, tt.key)
			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, tt.resource, nf.Resource)
		})
	}

	require.NoError(t, store.CreateDocument(ctx, &Document{Code: "DOC2", Description: "Stock card"}))
	_, err = resolver.Resolve(ctx, NewRelationKey("B01", "P01", "DOC2"))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "relation", nf.Resource)

	_, err = resolver.Resolve(ctx, NewRelationKey("", "P01", "DOC1"))
	assert.True(t, IsValidation(err))
}

func TestReferenceServiceRelations(t *testing.T) {
	store := newSeededStore(t)
	svc := NewReferenceService(store, quietLogger())
	ctx := context.Background()

	_, err := svc.CreateDocument(ctx, &NewDocument{Code: " doc2 ", Description: "Stock card"})
	require.NoError(t, err)
	doc, err := svc.GetDocument(ctx, "doc2")
	require.NoError(t, err)
	assert.Equal(t, "Stock card", doc.Description)

	rel, err := svc.CreateRelation(ctx, NewRelationKey("B01", "P01", "doc2"))
	require.NoError(t, err)
	assert.Equal(t, "doc2", rel.DocumentCode)

	again, err := svc.CreateRelation(ctx, NewRelationKey("B01", "P01", "doc2"))
	require.NoError(t, err)
	assert.Equal(t, rel.Key(), again.Key())

	_, err = svc.CreateRelation(ctx, NewRelationKey("B01", "P77", "doc2"))
	assert.True(t, IsNotFound(err))

	byBranch, err := svc.ListRelationsByBranch(ctx, "B01")
	require.NoError(t, err)
	assert.Len(t, byBranch, 2)
	byDocument, err := svc.ListRelationsByDocument(ctx, "DOC1")
	require.NoError(t, err)
	assert.Len(t, byDocument, 2)
	byProduct, err := svc.ListRelationsByProduct(ctx, "P01")
	require.NoError(t, err)
	assert.Len(t, byProduct, 3)

	ok, err := svc.DeleteRelation(ctx, NewRelationKey("B01", "P01", "doc2"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.DeleteRelation(ctx, NewRelationKey("B01", "P01", "doc2"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteRelationInUse(t *testing.T) {
	store := newSeededStore(t)
	recSvc := NewReconciliationService(store, quietLogger())
	refSvc := NewReferenceService(store, quietLogger())
	ctx := context.Background()

	rec, err := recSvc.Create(ctx, newInput(day(2024, time.May, 2), "B01", "0", "0", ReconciliationStateAccepted))
	require.NoError(t, err)

	ok, err := refSvc.DeleteRelation(ctx, testKey)
	assert.False(t, ok)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rec.ID, conflict.ExistingID)
}

func TestReferenceServiceValidation(t *testing.T) {
	svc := NewReferenceService(NewMemoryStore(), quietLogger())
	ctx := context.Background()

	_, err := svc.CreateBranch(ctx, &NewBranch{Code: "TOOLONG", Name: "x"})
	assert.True(t, IsValidation(err))
	_, err = svc.CreateProduct(ctx, &NewProduct{Code: "", Name: "x"})
	assert.True(t, IsValidation(err))

	b, err := svc.CreateBranch(ctx, &NewBranch{Code: "B10", Name: "North"})
	require.NoError(t, err)
	assert.Equal(t, "B10", b.Code)
	_, err = svc.CreateBranch(ctx, &NewBranch{Code: "B10", Name: "North again"})
	assert.True(t, IsConflict(err))

	branches, err := svc.ListBranches(ctx)
	require.NoError(t, err)
	assert.Len(t, branches, 1)
}

func TestSeedReconciliationStates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, SeedReconciliationStates(ctx, store))
	require.NoError(t, SeedReconciliationStates(ctx, store))

	states, err := NewReferenceService(store, quietLogger()).ListStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 4)
	assert.Equal(t, ReconciliationStateAccepted, states[0].Code)
	assert.Equal(t, ReconciliationStateMismatched, states[3].Code)
}
