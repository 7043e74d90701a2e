package models

import (
	"context"

	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MigrateTable creates or updates the reconciliation schema.
func MigrateTable(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Branch{}, &Product{}, &Document{},
		&ReconciliationState{},
		&BranchProductDocument{},
		&Reconciliation{},
	)
	if err != nil {
		config.LogError(config.GetLogger(), "Migration", "MigrateTable", "auto migrate", nil, err)
		return err
	}
	return nil
}

// MigrateAndSeed runs MigrateTable then seeds the reconciliation states.
func MigrateAndSeed(ctx context.Context, db *gorm.DB, store Store) error {
	if err := MigrateTable(db); err != nil {
		return err
	}
	if err := SeedReconciliationStates(ctx, store); err != nil {
		return err
	}
	config.GetLogger().WithFields(logrus.Fields{
		"field":  "Migration",
		"states": len(DefaultReconciliationStates),
	}).Info("schema migrated")
	return nil
}
