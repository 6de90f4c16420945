package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

func TestRecordWebhookEvent_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	event := &model.WebhookEvent{
		EventID:       "whk_1",
		Provider:      "mtnmomo",
		SourceIP:      "196.201.214.200",
		RawPayload:    []byte(`{"status":"SUCCESS"}`),
		TransactionID: "txn_1",
		Normalized:    model.StatusCompleted,
		Outcome:       "applied",
		CreatedAt:     time.Now(),
	}

	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WithArgs(event.EventID, event.Provider, event.SourceIP, event.RawPayload, event.TransactionID, event.Normalized, event.Outcome, event.Error, event.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordWebhookEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRetryRecord_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	record := &model.WebhookRetryRecord{
		RetryID:     "rty_1",
		Provider:    "airtelmoney",
		RawPayload:  []byte(`{"status":"TS"}`),
		RetryCount:  0,
		NextRetryAt: time.Now().Add(time.Second),
		Status:      model.RetryStatusPending,
		LastError:   "transaction not found",
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec("INSERT INTO tuma.webhook_retries").
		WithArgs(record.RetryID, record.Provider, record.RawPayload, record.RetryCount, record.NextRetryAt, record.Status, record.LastError, record.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreateRetryRecord(context.Background(), record)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDueRetries_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	asOf := time.Now()
	rows := sqlmock.NewRows([]string{"id", "retry_id", "provider", "raw_payload", "retry_count", "next_retry_at", "status", "last_error", "claimed_at", "created_at"}).
		AddRow(1, "rty_1", "mtnmomo", []byte(`{}`), 2, asOf.Add(-time.Minute), model.RetryStatusPending, "internal error", nil, asOf.Add(-time.Hour))

	mock.ExpectQuery("SELECT .* FROM tuma.webhook_retries").
		WithArgs(model.RetryStatusPending, asOf, 100).
		WillReturnRows(rows)

	records, err := ds.GetDueRetries(context.Background(), asOf, 100)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "rty_1", records[0].RetryID)
	assert.Equal(t, 2, records[0].RetryCount)
	assert.Nil(t, records[0].ClaimedAt)
}

func TestClaimRetryRecord_Won(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE tuma.webhook_retries").
		WithArgs("rty_1", sqlmock.AnyArg(), model.RetryStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := ds.ClaimRetryRecord(context.Background(), "rty_1", 10*time.Minute)
	assert.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimRetryRecord_LostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE tuma.webhook_retries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := ds.ClaimRetryRecord(context.Background(), "rty_1", 10*time.Minute)
	assert.NoError(t, err)
	assert.False(t, claimed)
}

func TestRescheduleRetry_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	nextRetryAt := time.Now().Add(5 * time.Second)
	mock.ExpectExec("UPDATE tuma.webhook_retries").
		WithArgs("rty_1", 1, nextRetryAt, "provider timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.RescheduleRetry(context.Background(), "rty_1", 1, nextRetryAt, "provider timeout")
	assert.NoError(t, err)
}

func TestResolveRetryRecord_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE tuma.webhook_retries").
		WithArgs("rty_1", model.RetryStatusResolved).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.ResolveRetryRecord(context.Background(), "rty_1")
	assert.NoError(t, err)
}

func TestMarkRetryPermanentlyFailed_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE tuma.webhook_retries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.MarkRetryPermanentlyFailed(context.Background(), "rty_missing", "max attempts reached")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.CodeOf(err))
}
