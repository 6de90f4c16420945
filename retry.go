package tuma

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tumapay/tuma/config"
	redlock "github.com/tumapay/tuma/internal/lock"
	"github.com/tumapay/tuma/internal/notification"
	"github.com/tumapay/tuma/model"
)

const (
	sweepLockKey       = "webhook_retry_sweep"
	sweepLockDuration  = 2 * time.Minute
	sweepBatchSize     = 100
	retryClaimStaleTTL = 10 * time.Minute
)

// scheduleWebhookRetry parks a failed webhook as a durable retry record and
// enqueues its first reprocessing attempt.
func (l *Tuma) scheduleWebhookRetry(ctx context.Context, provider string, rawPayload []byte, cause error) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	record := &model.WebhookRetryRecord{
		RetryID:     model.GenerateUUIDWithSuffix("rty"),
		Provider:    provider,
		RawPayload:  rawPayload,
		RetryCount:  0,
		NextRetryAt: time.Now().Add(cnf.RetryDelay(0)),
		Status:      model.RetryStatusPending,
		CreatedAt:   time.Now(),
	}
	if cause != nil {
		record.LastError = cause.Error()
	}

	if err := l.datasource.CreateRetryRecord(ctx, record); err != nil {
		return err
	}
	if err := l.queue.queueWebhookRetry(record); err != nil {
		// The sweep picks the record up once it is due; an enqueue failure
		// only delays the first attempt.
		logrus.Warnf("failed to enqueue webhook retry %s: %v", record.RetryID, err)
	}
	return nil
}

// ProcessDueRetries is the periodic sweep over due retry records. A redis
// lock keeps at most one sweep in flight across all instances, and each
// record is claimed with a conditional update before it is handed to the
// queue, so two racing sweeps cannot double-process a retry.
func (l *Tuma) ProcessDueRetries(ctx context.Context) error {
	ctx, span := otel.Tracer("tuma.retry").Start(ctx, "Sweeping due webhook retries")
	defer span.End()

	locker := redlock.NewLocker(l.redis, sweepLockKey, model.GenerateUUIDWithSuffix("loc"))
	if err := locker.Lock(ctx, sweepLockDuration); err != nil {
		// Another instance is already sweeping.
		span.AddEvent("Sweep already in flight")
		return nil
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Warnf("failed to release sweep lock: %v", err)
		}
	}(locker, ctx)

	records, err := l.datasource.GetDueRetries(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var dispatched int
	for _, record := range records {
		claimed, err := l.datasource.ClaimRetryRecord(ctx, record.RetryID, retryClaimStaleTTL)
		if err != nil {
			logrus.Errorf("failed to claim retry record %s: %v", record.RetryID, err)
			continue
		}
		if !claimed {
			continue
		}
		if err := l.queue.queueWebhookRetry(record); err != nil {
			logrus.Errorf("failed to enqueue retry record %s: %v", record.RetryID, err)
			continue
		}
		dispatched++
	}

	span.AddEvent("Sweep complete", trace.WithAttributes(
		attribute.Int("retries.due", len(records)),
		attribute.Int("retries.dispatched", dispatched),
	))
	return nil
}

// ProcessRetryTask is the asynq handler that reprocesses one stored webhook.
// Success resolves the record; a permanent failure or an exhausted attempt
// budget parks it as permanently failed with an operator notification.
// Records are never deleted.
func (l *Tuma) ProcessRetryTask(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("tuma.retry").Start(ctx, "Processing webhook retry")
	defer span.End()

	var payload WebhookRetryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		span.RecordError(err)
		return err
	}

	record, err := l.datasource.GetRetryRecord(ctx, payload.RetryID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if record.Status != model.RetryStatusPending {
		// Already resolved or parked by another attempt.
		return nil
	}

	outcome, _, processErr := l.processWebhookPayload(ctx, record.Provider, record.RawPayload)
	span.SetAttributes(attribute.String("retry.outcome", outcome))

	switch outcome {
	case OutcomeApplied, OutcomeDuplicate, OutcomeIgnored:
		return l.datasource.ResolveRetryRecord(ctx, record.RetryID)
	case OutcomeMalformed, OutcomeRejected:
		return l.parkRetryRecord(ctx, record, processErr)
	default:
		return l.rescheduleRetryRecord(ctx, record, processErr)
	}
}

func (l *Tuma) rescheduleRetryRecord(ctx context.Context, record *model.WebhookRetryRecord, cause error) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	attempt := record.RetryCount + 1
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	if attempt >= cnf.WebhookRetry.MaxAttempts {
		return l.parkRetryRecord(ctx, record, cause)
	}

	nextRetryAt := time.Now().Add(cnf.RetryDelay(attempt))
	if err := l.datasource.RescheduleRetry(ctx, record.RetryID, attempt, nextRetryAt, lastError); err != nil {
		return err
	}
	record.RetryCount = attempt
	record.NextRetryAt = nextRetryAt
	if err := l.queue.queueWebhookRetry(record); err != nil {
		// The sweep re-dispatches it once due.
		logrus.Warnf("failed to enqueue webhook retry %s: %v", record.RetryID, err)
	}
	return nil
}

func (l *Tuma) parkRetryRecord(ctx context.Context, record *model.WebhookRetryRecord, cause error) error {
	lastError := "max retry attempts reached"
	if cause != nil {
		lastError = cause.Error()
	}
	if err := l.datasource.MarkRetryPermanentlyFailed(ctx, record.RetryID, lastError); err != nil {
		return err
	}
	notification.NotifyError(fmt.Errorf("webhook retry %s (%s) permanently failed after %d attempts: %s", record.RetryID, record.Provider, record.RetryCount+1, lastError))
	return nil
}

// ListRetryRecords retrieves retry records in a given status, newest first.
func (l *Tuma) ListRetryRecords(ctx context.Context, status model.RetryStatus, limit, offset int) ([]*model.WebhookRetryRecord, error) {
	ctx, span := otel.Tracer("tuma.retry").Start(ctx, "Listing retry records")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	return l.datasource.GetRetryRecordsByStatus(ctx, status, limit, offset)
}
