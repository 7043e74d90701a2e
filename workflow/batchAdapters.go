package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/mmdatafocus/consolidation_backend/models/reports"
	"github.com/mmdatafocus/consolidation_backend/utils"
)

// RedisBatchLocker takes a redislock lease per batch scope.
type RedisBatchLocker struct {
	client *redislock.Client
}

func NewRedisBatchLocker(client *redislock.Client) *RedisBatchLocker {
	return &RedisBatchLocker{client: client}
}

func (l *RedisBatchLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// PubSubBatchNotifier publishes to PUBSUB_BATCH_TOPIC.
type PubSubBatchNotifier struct{}

func (PubSubBatchNotifier) NotifyBatchCompleted(ctx context.Context, msg config.BatchCompletedMessage) error {
	_, err := config.PublishBatchCompleted(ctx, msg)
	return err
}

// GCSReportArchiver uploads the period spreadsheet to GCS_BUCKET.
type GCSReportArchiver struct{}

func (GCSReportArchiver) ArchivePeriodReport(ctx context.Context, result *models.BatchResult) (string, error) {
	data, err := reports.BuildBatchReport(result)
	if err != nil {
		return "", err
	}
	object := reports.BatchReportFileName(result)
	if err := utils.UploadBytesToGCS(ctx, object, data, reports.XlsxMediaType); err != nil {
		return "", err
	}
	return object, nil
}
