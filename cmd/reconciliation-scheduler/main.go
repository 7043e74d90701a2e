package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"github.com/mmdatafocus/consolidation_backend/workflow"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultDailySchedule   = "30 1 * * *"
	defaultMonthlySchedule = "0 3 1 * *"
	runTimeout             = 30 * time.Minute
)

// batchRunner is the part of workflow.BatchProcessor the scheduler drives.
type batchRunner interface {
	RunBatchForDate(ctx context.Context, date time.Time) (*models.DateBatchResult, error)
	RunBatchForPeriod(ctx context.Context, year, month int) (*models.BatchResult, error)
}

// previousDay is the date the daily job evaluates: yesterday in loc.
func previousDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc).AddDate(0, 0, -1)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// previousMonth is the period the monthly job snapshots.
func previousMonth(now time.Time, loc *time.Location) (int, int) {
	local := now.In(loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
	return first.Year(), int(first.Month())
}

type jobs struct {
	runner batchRunner
	logger *logrus.Logger
	loc    *time.Location
	now    func() time.Time
}

func (j *jobs) daily(ctx context.Context) {
	date := previousDay(j.now(), j.loc)
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	result, err := j.runner.RunBatchForDate(ctx, date)
	if err != nil {
		config.LogError(j.logger, "reconciliation-scheduler", "daily", date.Format(utils.DateLayout), result, err)
		return
	}
	j.logger.WithFields(logrus.Fields{
		"field":                 "scheduler",
		"date":                  date.Format(utils.DateLayout),
		"changed_to_mismatched": result.ChangedToMismatched,
		"needs_review":          result.NeedsReview,
		"failed":                result.Failed,
	}).Info("daily reconciliation batch finished")
}

func (j *jobs) monthly(ctx context.Context) {
	year, month := previousMonth(j.now(), j.loc)
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	result, err := j.runner.RunBatchForPeriod(ctx, year, month)
	if err != nil {
		config.LogError(j.logger, "reconciliation-scheduler", "monthly", fmt.Sprintf("%02d/%d", month, year), nil, err)
		return
	}
	j.logger.WithFields(logrus.Fields{
		"field":      "scheduler",
		"period":     result.Period(),
		"processed":  result.TotalProcessed,
		"mismatched": result.TotalMismatched,
	}).Info("monthly reconciliation snapshot finished")
}

// schedule registers both jobs on c. An empty spec disables that job.
func (j *jobs) schedule(ctx context.Context, c *cron.Cron, dailySpec, monthlySpec string) error {
	if dailySpec != "" {
		if _, err := c.AddFunc(dailySpec, func() { j.daily(ctx) }); err != nil {
			return fmt.Errorf("unable to schedule daily batch: %w", err)
		}
	}
	if monthlySpec != "" {
		if _, err := c.AddFunc(monthlySpec, func() { j.monthly(ctx) }); err != nil {
			return fmt.Errorf("unable to schedule monthly snapshot: %w", err)
		}
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	dailySpec := flag.String("daily", envOr("RECONCILIATION_DAILY_SCHEDULE", defaultDailySchedule), "Cron spec for the date batch over yesterday; empty disables")
	monthlySpec := flag.String("monthly", envOr("RECONCILIATION_MONTHLY_SCHEDULE", defaultMonthlySchedule), "Cron spec for the previous month snapshot; empty disables")
	timeZone := flag.String("tz", envOr("RECONCILIATION_TIMEZONE", "UTC"), "Time zone the schedules and business dates are evaluated in")
	flag.Parse()

	loc, err := time.LoadLocation(*timeZone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --tz %q: %v; using UTC\n", *timeZone, err)
		loc = time.UTC
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

	j := &jobs{
		runner: workflow.NewBatchProcessor(models.NewGormStore(db), logger),
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
	c := cron.New(cron.WithLocation(loc))
	if err := j.schedule(ctx, c, *dailySpec, *monthlySpec); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	c.Start()
	logger.WithFields(logrus.Fields{
		"field":   "scheduler",
		"daily":   *dailySpec,
		"monthly": *monthlySpec,
		"tz":      loc.String(),
	}).Info("reconciliation scheduler started")

	<-ctx.Done()
	// wait for a running job to finish
	<-c.Stop().Done()
}
