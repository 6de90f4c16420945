package tuma

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestIngestWebhook_AppliesCompletion(t *testing.T) {
	service, mock := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_1","status":"SUCCESSFUL","amount":"5000","currency":"KES"}`)

	// Transaction lookup, once for idempotency and once inside the transition
	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_1").
		WillReturnRows(pendingTransactionRows("txn_1", "payment", 5000))
	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_1").
		WillReturnRows(pendingTransactionRows("txn_1", "payment", 5000))

	expectTransitionWithEntry(mock, 5000)
	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_1").
		WillReturnRows(completedTransactionRows("txn_1", "payment", 5000))

	// The audit row carries the normalized transaction and status
	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WithArgs(sqlmock.AnyArg(), "mtnmomo", "127.0.0.1", payload, "txn_1", model.StatusCompleted, OutcomeApplied, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "127.0.0.1")
	assert.NoError(t, err)
	assert.True(t, result.Received)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhook_DuplicateDeliveryIsNoOp(t *testing.T) {
	service, mock := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_1","status":"SUCCESSFUL"}`)

	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_1").
		WillReturnRows(completedTransactionRows("txn_1", "payment", 5000))
	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "127.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhook_RejectsBadSignature(t *testing.T) {
	service, _ := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_1","status":"SUCCESSFUL"}`)

	_, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, "deadbeef", "127.0.0.1")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidSignature, apierror.CodeOf(err))
}

func TestIngestWebhook_RejectsUnknownSource(t *testing.T) {
	service, _ := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_1","status":"SUCCESSFUL"}`)

	_, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "8.8.8.8")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrUnauthorizedSource, apierror.CodeOf(err))
}

func TestIngestWebhook_RejectsUnknownProvider(t *testing.T) {
	service, _ := newTestTuma(t)

	_, err := service.IngestWebhook(context.Background(), "acmepay", []byte(`{}`), "sig", "127.0.0.1")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrUnauthorizedSource, apierror.CodeOf(err))
}

func TestIngestWebhook_CIDRAllowList(t *testing.T) {
	service, mock := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_1","status":"SUCCESSFUL"}`)

	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_1").
		WillReturnRows(completedTransactionRows("txn_1", "payment", 5000))
	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "10.20.30.40")
	assert.NoError(t, err)
	assert.True(t, result.Received)
}

func TestIngestWebhook_MalformedPayloadIsAudited(t *testing.T) {
	service, mock := newTestTuma(t)

	payload := []byte(`{"unexpected":"shape"}`)

	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "127.0.0.1")
	assert.NoError(t, err)
	assert.True(t, result.Received)
	assert.Equal(t, OutcomeMalformed, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhook_UnknownTransactionSchedulesRetry(t *testing.T) {
	service, mock := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_ghost","status":"SUCCESSFUL"}`)

	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO tuma.webhook_retries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "127.0.0.1")
	assert.NoError(t, err)
	assert.True(t, result.Received)
	assert.Equal(t, OutcomeRetrying, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhook_SettlementFailureSchedulesRetry(t *testing.T) {
	service, mock := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_1","status":"SUCCESSFUL"}`)

	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_1").
		WillReturnRows(pendingTransactionRows("txn_1", "payment", 5000))
	mock.ExpectQuery("SELECT .* FROM tuma.transactions").
		WithArgs("txn_1").
		WillReturnRows(pendingTransactionRows("txn_1", "payment", 5000))

	// The atomic transition fails; the transaction stays pending so the
	// scheduled retry can settle it later instead of masking a lost entry
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tuma.transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tuma.transaction_status_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tuma.balances").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM tuma.balances .* FOR UPDATE").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	mock.ExpectExec("INSERT INTO tuma.webhook_retries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "127.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, OutcomeRetrying, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestWebhook_NonFinalStatusIgnored(t *testing.T) {
	service, mock := newTestTuma(t)

	payload := []byte(`{"externalId":"txn_1","status":"PENDING"}`)

	mock.ExpectExec("INSERT INTO tuma.webhook_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := service.IngestWebhook(context.Background(), "mtnmomo", payload, signPayload("momo-secret", payload), "127.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)
}

func TestParseMTNMomoWebhook(t *testing.T) {
	event, err := parseMTNMomoWebhook([]byte(`{"externalId":"ref_9","status":"FAILED","reason":"payer not found"}`))
	assert.NoError(t, err)
	assert.Equal(t, "ref_9", event.TransactionID)
	assert.Equal(t, model.StatusFailed, event.Status)
	assert.Equal(t, "payer not found", event.Message)

	_, err = parseMTNMomoWebhook([]byte(`{"status":"FAILED"}`))
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrMalformedWebhook, apierror.CodeOf(err))
}

func TestParseAirtelMoneyWebhook(t *testing.T) {
	event, err := parseAirtelMoneyWebhook([]byte(`{"transaction":{"id":"txn_5","status_code":"TS","message":"done","airtel_money_id":"AM123"}}`))
	assert.NoError(t, err)
	assert.Equal(t, "txn_5", event.TransactionID)
	assert.Equal(t, model.StatusCompleted, event.Status)

	_, err = parseAirtelMoneyWebhook([]byte(`{"transaction":{"id":"txn_5"}}`))
	assert.Error(t, err)
}

func TestParseMpesaWebhook(t *testing.T) {
	event, err := parseMpesaWebhook([]byte(`{"Body":{"stkCallback":{"MerchantRequestID":"ref_7","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"Success"}}}`))
	assert.NoError(t, err)
	assert.Equal(t, "ref_7", event.TransactionID)
	assert.Equal(t, model.StatusCompleted, event.Status)

	event, err = parseMpesaWebhook([]byte(`{"Body":{"stkCallback":{"MerchantRequestID":"ref_7","ResultCode":1032,"ResultDesc":"Cancelled by user"}}}`))
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, event.Status)

	_, err = parseMpesaWebhook([]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`))
	assert.Error(t, err)
}
