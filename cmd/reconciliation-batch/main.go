package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/mmdatafocus/consolidation_backend/models/reports"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"github.com/mmdatafocus/consolidation_backend/workflow"
)

func main() {
	dateStr := flag.String("date", "", "Run the date batch for YYYY-MM-DD (moves flagged records to state D)")
	year := flag.Int("year", 0, "Period year for the read-only snapshot (use with --month)")
	month := flag.Int("month", 0, "Period month 1-12 for the read-only snapshot (use with --year)")
	concurrency := flag.Int("concurrency", 0, "Optional: records evaluated in parallel (default BATCH_CONCURRENCY)")
	reportPath := flag.String("report", "", "Optional: write the period spreadsheet to this path")
	flag.Parse()

	hasDate := strings.TrimSpace(*dateStr) != ""
	hasPeriod := *year != 0 || *month != 0
	if hasDate == hasPeriod {
		fmt.Fprintln(os.Stderr, "exactly one of --date or --year/--month is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := config.GetLogger()
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	processor := workflow.NewBatchProcessor(models.NewGormStore(db), logger)
	if *concurrency > 0 {
		processor.WithConcurrency(*concurrency)
	}

	if hasDate {
		date, err := utils.ParseDate(*dateStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --date: %v\n", err)
			os.Exit(2)
		}
		result, err := processor.RunBatchForDate(ctx, date)
		if result != nil {
			printJSON(result)
			for _, o := range result.FailedOutcomes() {
				fmt.Fprintf(os.Stderr, "failed: id=%d relation=%s error=%s\n", o.ReconciliationID, o.Relation.String(), o.Error)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "batch failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	result, err := processor.RunBatchForPeriod(ctx, *year, *month)
	if err != nil {
		fmt.Fprintf(os.Stderr, "period snapshot failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
	fmt.Printf("period=%s processed=%d mismatched=%d (%s%%) run=%s\n",
		result.Period(), result.TotalProcessed, result.TotalMismatched,
		result.MismatchPercentage().StringFixed(2), result.FormattedRunTime())

	if *reportPath != "" {
		data, err := reports.BuildBatchReport(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build report: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*reportPath, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("report written to %s\n", *reportPath)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
