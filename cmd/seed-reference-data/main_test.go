package main

import (
	"context"
	"testing"

	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSeed = `
branches:
  - code: B01
    name: Main Branch
  - code: B02
    name: Harbour
products:
  - {code: P01, name: Rice}
documents:
  - {code: DOC1, description: General ledger}
relations:
  - {branch_code: B01, product_code: P01, document_code: DOC1}
  - {branch_code: B02, product_code: P01, document_code: DOC1}
`

func TestParseSeedFile(t *testing.T) {
	f, err := parseSeedFile([]byte(sampleSeed))
	require.NoError(t, err)
	assert.Len(t, f.Branches, 2)
	assert.Equal(t, "Harbour", f.Branches[1].Name)
	assert.Equal(t, "General ledger", f.Documents[0].Description)
	assert.Equal(t, models.RelationKey{BranchCode: "B02", ProductCode: "P01", DocumentCode: "DOC1"}, f.Relations[1])

	_, err = parseSeedFile([]byte("branches: [unterminated"))
	assert.Error(t, err)
}

func TestSeedIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()

	f, err := parseSeedFile([]byte(sampleSeed))
	require.NoError(t, err)
	counts, err := seed(ctx, store, f)
	require.NoError(t, err)
	assert.Equal(t, seedCounts{Created: 2}, counts["branches"])
	assert.Equal(t, seedCounts{Created: 2}, counts["relations"])

	f, err = parseSeedFile([]byte(sampleSeed))
	require.NoError(t, err)
	counts, err = seed(ctx, store, f)
	require.NoError(t, err)
	assert.Equal(t, seedCounts{Skipped: 2}, counts["branches"])
	assert.Equal(t, seedCounts{Skipped: 1}, counts["products"])

	states, err := store.ListStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 4)
	relations, err := store.ListRelations(ctx, models.RelationFilter{})
	require.NoError(t, err)
	assert.Len(t, relations, 2)
}

func TestSeedStopsOnUnknownReference(t *testing.T) {
	f, err := parseSeedFile([]byte(`
branches:
  - {code: B01, name: Main Branch}
relations:
  - {branch_code: B01, product_code: P09, document_code: DOC1}
`))
	require.NoError(t, err)
	_, err = seed(context.Background(), models.NewMemoryStore(), f)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestSeedRejectsInvalidBranch(t *testing.T) {
	f, err := parseSeedFile([]byte(`
branches:
  - {code: TOOLONG, name: x}
`))
	require.NoError(t, err)
	_, err = seed(context.Background(), models.NewMemoryStore(), f)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}
