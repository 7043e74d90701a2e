package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/models"
)

// seedFile is the YAML layout of a reference data file:
//
//	branches:
//	  - {code: B01, name: Main Branch}
//	products:
//	  - {code: P01, name: Rice}
//	documents:
//	  - {code: DOC1, description: General ledger}
//	relations:
//	  - {branch_code: B01, product_code: P01, document_code: DOC1}
type seedFile struct {
	Branches  []models.NewBranch   `yaml:"branches"`
	Products  []models.NewProduct  `yaml:"products"`
	Documents []models.NewDocument `yaml:"documents"`
	Relations []models.RelationKey `yaml:"relations"`
}

type seedCounts struct {
	Created int
	Skipped int
}

func (c seedCounts) String() string {
	return fmt.Sprintf("created=%d skipped=%d", c.Created, c.Skipped)
}

func parseSeedFile(data []byte) (*seedFile, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// tally counts a conflict as already seeded so reruns are safe.
func tally(counts *seedCounts, err error) error {
	var conflict *models.ConflictError
	switch {
	case err == nil:
		counts.Created++
	case errors.As(err, &conflict):
		counts.Skipped++
	default:
		return err
	}
	return nil
}

// seed writes the states and then every entity in dependency order.
func seed(ctx context.Context, store models.Store, f *seedFile) (map[string]seedCounts, error) {
	if err := models.SeedReconciliationStates(ctx, store); err != nil {
		return nil, fmt.Errorf("seed states: %w", err)
	}
	ref := models.NewReferenceService(store, nil)
	out := map[string]seedCounts{}

	var counts seedCounts
	for i := range f.Branches {
		_, err := ref.CreateBranch(ctx, &f.Branches[i])
		if err := tally(&counts, err); err != nil {
			return out, fmt.Errorf("branch %q: %w", f.Branches[i].Code, err)
		}
	}
	out["branches"] = counts

	counts = seedCounts{}
	for i := range f.Products {
		_, err := ref.CreateProduct(ctx, &f.Products[i])
		if err := tally(&counts, err); err != nil {
			return out, fmt.Errorf("product %q: %w", f.Products[i].Code, err)
		}
	}
	out["products"] = counts

	counts = seedCounts{}
	for i := range f.Documents {
		_, err := ref.CreateDocument(ctx, &f.Documents[i])
		if err := tally(&counts, err); err != nil {
			return out, fmt.Errorf("document %q: %w", f.Documents[i].Code, err)
		}
	}
	out["documents"] = counts

	// CreateRelation returns an existing relation without error
	counts = seedCounts{}
	for _, key := range f.Relations {
		if _, err := ref.CreateRelation(ctx, key); err != nil {
			return out, fmt.Errorf("relation %s: %w", key.String(), err)
		}
		counts.Created++
	}
	out["relations"] = counts
	return out, nil
}

func main() {
	file := flag.String("file", "", "Required: YAML file with branches, products, documents and relations")
	migrate := flag.Bool("migrate", false, "Run AutoMigrate before seeding")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(2)
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
		os.Exit(1)
	}
	f, err := parseSeedFile(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if *migrate {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	}

	counts, err := seed(context.Background(), models.NewGormStore(db), f)
	for _, kind := range []string{"branches", "products", "documents", "relations"} {
		if c, ok := counts[kind]; ok {
			fmt.Printf("%s: %s\n", kind, c)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
}
