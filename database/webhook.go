package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

// RecordWebhookEvent appends one audit row for a provider delivery. Audit
// rows are written for every delivery that passes signature verification,
// whatever the processing outcome.
func (d Datasource) RecordWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	var transactionID interface{} = event.TransactionID
	if event.TransactionID == "" {
		transactionID = nil
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO tuma.webhook_events (event_id, provider, source_ip, raw_payload, transaction_id, normalized_status, outcome, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.EventID, event.Provider, event.SourceIP, event.RawPayload, transactionID, event.Normalized, event.Outcome, event.Error, event.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record webhook event", err)
	}
	return nil
}

// GetWebhookEvents retrieves audit rows, newest first. An empty provider
// returns events for all providers.
func (d Datasource) GetWebhookEvents(ctx context.Context, provider string, limit, offset int) ([]model.WebhookEvent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, event_id, provider, source_ip, raw_payload, COALESCE(transaction_id, ''), normalized_status, outcome, error, created_at
		FROM tuma.webhook_events
		WHERE ($1 = '' OR provider = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, provider, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook events", err)
	}
	defer rows.Close()

	events := []model.WebhookEvent{}
	for rows.Next() {
		event := model.WebhookEvent{}
		err := rows.Scan(&event.ID, &event.EventID, &event.Provider, &event.SourceIP, &event.RawPayload, &event.TransactionID, &event.Normalized, &event.Outcome, &event.Error, &event.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating webhook events", err)
	}
	return events, nil
}

// CreateRetryRecord persists a failed webhook for later reprocessing.
func (d Datasource) CreateRetryRecord(ctx context.Context, record *model.WebhookRetryRecord) error {
	ctx, span := otel.Tracer("webhook.datasource").Start(ctx, "Creating retry record")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO tuma.webhook_retries (retry_id, provider, raw_payload, retry_count, next_retry_at, status, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.RetryID, record.Provider, record.RawPayload, record.RetryCount, record.NextRetryAt, record.Status, record.LastError, record.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create retry record", err)
	}

	span.AddEvent("Retry record created", trace.WithAttributes(
		attribute.String("retry.id", record.RetryID),
		attribute.String("retry.provider", record.Provider),
	))
	return nil
}

const retryColumns = `id, retry_id, provider, raw_payload, retry_count, next_retry_at, status, COALESCE(last_error, ''), claimed_at, created_at`

// GetRetryRecord retrieves a retry record by ID.
func (d Datasource) GetRetryRecord(ctx context.Context, id string) (*model.WebhookRetryRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+retryColumns+`
		FROM tuma.webhook_retries
		WHERE retry_id = $1
	`, id)

	record, err := scanRetryRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Retry record with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve retry record", err)
	}
	return record, nil
}

// GetDueRetries retrieves pending retries whose next_retry_at has passed and
// that are not currently claimed by another instance, oldest due first.
func (d Datasource) GetDueRetries(ctx context.Context, asOf time.Time, limit int) ([]*model.WebhookRetryRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+retryColumns+`
		FROM tuma.webhook_retries
		WHERE status = $1 AND next_retry_at <= $2 AND claimed_at IS NULL
		ORDER BY next_retry_at ASC
		LIMIT $3
	`, model.RetryStatusPending, asOf, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due retries", err)
	}
	defer rows.Close()

	records := []*model.WebhookRetryRecord{}
	for rows.Next() {
		record, err := scanRetryRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan retry record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating retry records", err)
	}
	return records, nil
}

// ClaimRetryRecord marks a retry record as owned by this instance. The update
// is conditional on the record being pending and unclaimed, so exactly one
// instance wins a concurrent claim. Claims older than staleAfter are treated
// as abandoned by a crashed worker and can be re-claimed.
func (d Datasource) ClaimRetryRecord(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE tuma.webhook_retries
		SET claimed_at = $2
		WHERE retry_id = $1 AND status = $3 AND (claimed_at IS NULL OR claimed_at < $4)
	`, id, time.Now(), model.RetryStatusPending, time.Now().Add(-staleAfter))
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim retry record", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	return rowsAffected == 1, nil
}

// RescheduleRetry releases the claim and schedules the next attempt.
func (d Datasource) RescheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE tuma.webhook_retries
		SET retry_count = $2, next_retry_at = $3, last_error = $4, claimed_at = NULL
		WHERE retry_id = $1
	`, id, retryCount, nextRetryAt, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reschedule retry", err)
	}
	return checkRetryRowFound(result, id)
}

// ResolveRetryRecord marks a retry as successfully reprocessed. Records are
// kept, never deleted, so the retry history stays auditable.
func (d Datasource) ResolveRetryRecord(ctx context.Context, id string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE tuma.webhook_retries
		SET status = $2, claimed_at = NULL
		WHERE retry_id = $1
	`, id, model.RetryStatusResolved)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve retry record", err)
	}
	return checkRetryRowFound(result, id)
}

// MarkRetryPermanentlyFailed parks a retry that exhausted its attempt budget.
func (d Datasource) MarkRetryPermanentlyFailed(ctx context.Context, id, lastError string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE tuma.webhook_retries
		SET status = $2, last_error = $3, claimed_at = NULL
		WHERE retry_id = $1
	`, id, model.RetryStatusPermanentlyFailed, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark retry as permanently failed", err)
	}
	return checkRetryRowFound(result, id)
}

// GetRetryRecordsByStatus retrieves retry records in a given status, newest
// first. Operators use this to review the permanently failed backlog.
func (d Datasource) GetRetryRecordsByStatus(ctx context.Context, status model.RetryStatus, limit, offset int) ([]*model.WebhookRetryRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+retryColumns+`
		FROM tuma.webhook_retries
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve retry records", err)
	}
	defer rows.Close()

	records := []*model.WebhookRetryRecord{}
	for rows.Next() {
		record, err := scanRetryRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan retry record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating retry records", err)
	}
	return records, nil
}

func scanRetryRecord(row rowScanner) (*model.WebhookRetryRecord, error) {
	record := model.WebhookRetryRecord{}
	var claimedAt sql.NullTime
	err := row.Scan(&record.ID, &record.RetryID, &record.Provider, &record.RawPayload, &record.RetryCount, &record.NextRetryAt, &record.Status, &record.LastError, &claimedAt, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		record.ClaimedAt = &claimedAt.Time
	}
	return &record, nil
}

func checkRetryRowFound(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Retry record with ID '%s' not found", id), nil)
	}
	return nil
}
