package config

import (
	"os"
	"strings"
)

// StrictDuplicateReconciliation makes a duplicate create for an existing
// (date, relation) pair fail with a conflict instead of returning the existing record.
//
// Set via env:
// - STRICT_DUPLICATE_RECONCILIATION=true
func StrictDuplicateReconciliation() bool {
	return boolFromEnv("STRICT_DUPLICATE_RECONCILIATION")
}

// BatchConcurrency is the default number of records evaluated in parallel by a batch run.
//
// Set via env:
// - BATCH_CONCURRENCY=8 (default 4)
func BatchConcurrency() int {
	n := intFromEnv("BATCH_CONCURRENCY", 4)
	if n < 1 {
		return 1
	}
	return n
}

// BatchNotifyEnabled publishes a Pub/Sub event when a batch run completes.
func BatchNotifyEnabled() bool {
	return boolFromEnv("BATCH_NOTIFY_ENABLED")
}

// BatchReportArchiveEnabled uploads the period spreadsheet to GCS_BUCKET after a period run.
func BatchReportArchiveEnabled() bool {
	return boolFromEnv("BATCH_REPORT_ARCHIVE_ENABLED")
}

// UseMemoryStore selects the in-process store (STORE_BACKEND=memory). Local/demo only.
func UseMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("STORE_BACKEND")), "memory")
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
