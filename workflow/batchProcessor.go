package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("consolidation_backend/workflow")

const (
	BatchKindDate   = "date"
	BatchKindPeriod = "period"

	batchLockTTL = 5 * time.Minute
)

// BatchLocker keeps concurrent runs for the same scope apart across instances.
// Obtain returns ErrLockNotObtained when another run holds the lock.
type BatchLocker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// BatchNotifier announces finished runs.
type BatchNotifier interface {
	NotifyBatchCompleted(ctx context.Context, msg config.BatchCompletedMessage) error
}

// ReportArchiver stores the period spreadsheet and returns its object name.
type ReportArchiver interface {
	ArchivePeriodReport(ctx context.Context, result *models.BatchResult) (string, error)
}

var ErrLockNotObtained = errors.New("batch lock not obtained")

// BatchProcessor applies the mismatch policy to stored reconciliations.
// It is triggered externally and never schedules itself.
type BatchProcessor struct {
	service     *models.ReconciliationService
	store       models.Store
	logger      *logrus.Logger
	concurrency int

	Locker   BatchLocker
	Notifier BatchNotifier
	Archiver ReportArchiver

	now func() time.Time
}

// NewBatchProcessor wires the processor from the environment: BATCH_CONCURRENCY,
// the Redis lock when Redis is connected, and the optional Pub/Sub and GCS hooks.
func NewBatchProcessor(store models.Store, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = config.GetLogger()
	}
	p := &BatchProcessor{
		service:     models.NewReconciliationService(store, logger),
		store:       store,
		logger:      logger,
		concurrency: config.BatchConcurrency(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if locker := config.GetRedisLock(); locker != nil {
		p.Locker = NewRedisBatchLocker(locker)
	}
	if config.BatchNotifyEnabled() {
		p.Notifier = PubSubBatchNotifier{}
	}
	if config.BatchReportArchiveEnabled() {
		p.Archiver = GCSReportArchiver{}
	}
	return p
}

// WithConcurrency overrides the number of records evaluated in parallel.
func (p *BatchProcessor) WithConcurrency(n int) *BatchProcessor {
	if n < 1 {
		n = 1
	}
	p.concurrency = n
	return p
}

// obtainLock is best-effort: per-record updates are atomic, so a run proceeds
// without the lock when Redis is absent, failing, or another run holds it.
func (p *BatchProcessor) obtainLock(ctx context.Context, key string) func() {
	noop := func() {}
	if p.Locker == nil {
		return noop
	}
	release, err := p.Locker.Obtain(ctx, key, batchLockTTL)
	if errors.Is(err, ErrLockNotObtained) {
		p.logger.WithFields(logrus.Fields{
			"field": "BatchProcessor",
			"lock":  key,
		}).Warn("batch lock held by another run; proceeding without lock")
		return noop
	}
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"field": "BatchProcessor",
			"lock":  key,
		}).Warn("error obtaining batch lock; proceeding without lock: " + err.Error())
		return noop
	}
	return func() {
		// release must not depend on the run context, which may be cancelled
		if err := release(context.Background()); err != nil {
			p.logger.WithFields(logrus.Fields{
				"field": "BatchProcessor",
				"lock":  key,
			}).Warn("failed to release batch lock: " + err.Error())
		}
	}
}

// requireMismatchState fails with a *ConfigurationError when state D is not defined.
func (p *BatchProcessor) requireMismatchState(ctx context.Context) error {
	states, err := p.store.GetStates(ctx, []models.ReconciliationStateCode{models.ReconciliationStateMismatched})
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return models.NewConfigurationError("reconciliation states",
			fmt.Sprintf("mismatch state %q is not defined", models.ReconciliationStateMismatched))
	}
	return nil
}

// RunBatchForDate evaluates every record on date and moves the ones the policy
// flags to state D. Records already in D that the policy no longer flags are
// reported as needing review and left untouched.
//
// A failure on one record is recorded on its outcome and does not stop the run.
// An unreachable store or a cancelled ctx stops scheduling further records; the
// partial result is returned together with the error. Committed updates stay.
func (p *BatchProcessor) RunBatchForDate(ctx context.Context, date time.Time) (*models.DateBatchResult, error) {
	date = utils.NormalizeDate(date)
	runId := uuid.NewString()
	ctx, span := tracer.Start(ctx, "BatchProcessor.RunBatchForDate", trace.WithAttributes(
		attribute.String("run_id", runId),
		attribute.String("date", date.Format(utils.DateLayout)),
	))
	defer span.End()
	logger := p.logger.WithFields(logrus.Fields{
		"field":  "RunBatchForDate",
		"run_id": runId,
		"date":   date.Format(utils.DateLayout),
	})
	logger.Info("batch run started")

	if err := p.requireMismatchState(ctx); err != nil {
		config.LogError(p.logger, "batchProcessor.go", "RunBatchForDate", "requireMismatchState", runId, err)
		return nil, err
	}

	defer p.obtainLock(ctx, "lock:reconciliation-batch:"+date.Format(utils.DateLayout))()

	records, err := p.store.FindReconciliations(ctx, models.ReconciliationFilter{}.OnDate(date), nil)
	if err != nil {
		config.LogError(p.logger, "batchProcessor.go", "RunBatchForDate", "FindReconciliations", runId, err)
		return nil, err
	}

	outcomes := make([]*models.BatchRecordOutcome, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, rec := range records {
		if gctx.Err() != nil {
			break
		}
		i, rec := i, rec
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome, err := p.evaluateRecord(gctx, rec)
			outcomes[i] = outcome
			if err != nil && (models.IsUnreachable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return err
			}
			return nil
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	result := &models.DateBatchResult{
		RunId:       runId,
		Date:        date,
		RunDateTime: p.now(),
		Outcomes:    make([]*models.BatchRecordOutcome, 0, len(records)),
	}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		result.Outcomes = append(result.Outcomes, o)
		switch o.Outcome {
		case models.BatchOutcomeChangedToMismatched:
			result.ChangedToMismatched++
		case models.BatchOutcomeAlreadyMismatched:
			result.AlreadyMismatched++
		case models.BatchOutcomeNeedsReview:
			result.NeedsReview++
		case models.BatchOutcomeFailed:
			result.Failed++
		}
	}
	result.RecordsConsidered = len(result.Outcomes)
	if runErr != nil {
		result.Aborted = true
		result.AbortReason = runErr.Error()
	}

	entry := logger.WithFields(logrus.Fields{
		"considered":            result.RecordsConsidered,
		"changed_to_mismatched": result.ChangedToMismatched,
		"already_mismatched":    result.AlreadyMismatched,
		"needs_review":          result.NeedsReview,
		"failed":                result.Failed,
	})
	span.SetAttributes(
		attribute.Int("considered", result.RecordsConsidered),
		attribute.Int("changed_to_mismatched", result.ChangedToMismatched),
	)
	if result.Aborted {
		span.RecordError(runErr)
		entry.Error("batch run aborted: " + result.AbortReason)
	} else {
		entry.Info("batch run completed")
	}

	p.notify(ctx, config.BatchCompletedMessage{
		RunId:            runId,
		Kind:             BatchKindDate,
		Date:             date.Format(utils.DateLayout),
		TotalProcessed:   result.RecordsConsidered,
		TotalMismatched:  result.ChangedToMismatched + result.AlreadyMismatched,
		TotalNeedsReview: result.NeedsReview,
		TotalFailed:      result.Failed,
		Aborted:          result.Aborted,
		RunDateTime:      result.RunDateTime,
	})
	return result, runErr
}

// evaluateRecord is one atomic read-modify-write. The returned error is also
// recorded on the outcome.
func (p *BatchProcessor) evaluateRecord(ctx context.Context, rec *models.Reconciliation) (*models.BatchRecordOutcome, error) {
	ctx, span := tracer.Start(ctx, "BatchProcessor.evaluateRecord", trace.WithAttributes(attribute.Int("id", rec.ID)))
	defer span.End()

	outcome := &models.BatchRecordOutcome{
		ReconciliationID: rec.ID,
		Relation:         rec.Key(),
		PreviousState:    rec.StateCode,
		Decision:         rec.Evaluate(),
	}
	entry := p.logger.WithFields(logrus.Fields{
		"field":             "evaluateRecord",
		"reconciliation_id": rec.ID,
		"relation":          rec.Key().String(),
	})
	if !outcome.Decision.IsMismatched() {
		if rec.StateCode.IsMismatched() {
			outcome.Outcome = models.BatchOutcomeNeedsReview
			entry.Warn("record stored as mismatched is no longer flagged; needs manual review")
		} else {
			outcome.Outcome = models.BatchOutcomeUnchanged
		}
		return outcome, nil
	}

	changed, err := p.store.TransitionState(ctx, rec.ID, models.ReconciliationStateMismatched, models.ReconciliationStateMismatched)
	if err != nil {
		outcome.Outcome = models.BatchOutcomeFailed
		outcome.Error = err.Error()
		config.LogError(p.logger, "batchProcessor.go", "evaluateRecord", "TransitionState", rec.Key().String(), err)
		return outcome, err
	}
	if changed {
		outcome.Outcome = models.BatchOutcomeChangedToMismatched
		entry.WithField("previous_state", rec.StateCode).Info("record moved to mismatched")
	} else {
		outcome.Outcome = models.BatchOutcomeAlreadyMismatched
	}
	return outcome, nil
}

// RunBatchForPeriod computes the read-only mismatch snapshot of a month. It
// never writes state. Mismatched records are those stored as D plus those the
// policy flags, each counted once.
func (p *BatchProcessor) RunBatchForPeriod(ctx context.Context, year, month int) (*models.BatchResult, error) {
	req := models.PeriodRequest{Year: year, Month: month}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := p.requireMismatchState(ctx); err != nil {
		return nil, err
	}
	runId := uuid.NewString()
	ctx, span := tracer.Start(ctx, "BatchProcessor.RunBatchForPeriod", trace.WithAttributes(
		attribute.String("run_id", runId),
		attribute.Int("year", year),
		attribute.Int("month", month),
	))
	defer span.End()
	logger := p.logger.WithFields(logrus.Fields{
		"field":  "RunBatchForPeriod",
		"run_id": runId,
		"period": fmt.Sprintf("%02d/%d", month, year),
	})
	logger.Info("period snapshot started")

	defer p.obtainLock(ctx, fmt.Sprintf("lock:reconciliation-batch:%04d-%02d", year, month))()

	records, err := p.service.Query(ctx, models.ReconciliationFilter{}.InMonth(year, time.Month(month)))
	if err != nil {
		config.LogError(p.logger, "batchProcessor.go", "RunBatchForPeriod", "Query", runId, err)
		return nil, err
	}

	result := &models.BatchResult{
		RunId:             runId,
		Year:              year,
		Month:             month,
		TotalProcessed:    len(records),
		RunDateTime:       p.now(),
		MismatchedRecords: make([]*models.Reconciliation, 0),
		PendingCorrection: make([]*models.Reconciliation, 0),
		NeedsReview:       make([]*models.Reconciliation, 0),
	}
	for _, rec := range records {
		flagged := rec.Evaluate().IsMismatched()
		stored := rec.StateCode.IsMismatched()
		if flagged || stored {
			result.MismatchedRecords = append(result.MismatchedRecords, rec)
		}
		switch {
		case flagged && !stored:
			result.PendingCorrection = append(result.PendingCorrection, rec)
		case stored && !flagged:
			result.NeedsReview = append(result.NeedsReview, rec)
		}
	}
	result.TotalMismatched = len(result.MismatchedRecords)

	logger.WithFields(logrus.Fields{
		"processed":          result.TotalProcessed,
		"mismatched":         result.TotalMismatched,
		"pending_correction": len(result.PendingCorrection),
		"needs_review":       len(result.NeedsReview),
	}).Info("period snapshot computed")

	if p.Archiver != nil {
		if object, err := p.Archiver.ArchivePeriodReport(ctx, result); err != nil {
			config.LogError(p.logger, "batchProcessor.go", "RunBatchForPeriod", "ArchivePeriodReport", runId, err)
		} else {
			logger.WithField("object", object).Info("period report archived")
		}
	}

	p.notify(ctx, config.BatchCompletedMessage{
		RunId:            runId,
		Kind:             BatchKindPeriod,
		Year:             year,
		Month:            month,
		TotalProcessed:   result.TotalProcessed,
		TotalMismatched:  result.TotalMismatched,
		TotalNeedsReview: len(result.NeedsReview),
		RunDateTime:      result.RunDateTime,
	})
	return result, nil
}

// notify never fails the run.
func (p *BatchProcessor) notify(ctx context.Context, msg config.BatchCompletedMessage) {
	if p.Notifier == nil {
		return
	}
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		msg.CorrelationId = id
	} else {
		msg.CorrelationId = msg.RunId
	}
	if err := p.Notifier.NotifyBatchCompleted(context.WithoutCancel(ctx), msg); err != nil {
		config.LogError(p.logger, "batchProcessor.go", "notify", "NotifyBatchCompleted", msg, err)
	}
}

// RunPeriods runs several period snapshots in sequence. Used by the scheduler
// when catching up on missed months.
func (p *BatchProcessor) RunPeriods(ctx context.Context, periods []models.PeriodRequest) ([]*models.BatchResult, error) {
	results := make([]*models.BatchResult, 0, len(periods))
	for _, period := range periods {
		r, err := p.RunBatchForPeriod(ctx, period.Year, period.Month)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}
