package tuma

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tumapay/tuma/config"
	"github.com/tumapay/tuma/internal/apierror"
	redlock "github.com/tumapay/tuma/internal/lock"
	"github.com/tumapay/tuma/internal/notification"
	"github.com/tumapay/tuma/model"
)

// CreateTransaction records a new payment or payout in pending status,
// together with the zero-effect placeholder ledger entry marking intent. The
// placeholder creates the account balance lazily but moves no money; the
// balance-affecting entry follows when the transaction settles.
func (l *Tuma) CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := otel.Tracer("tuma.transaction").Start(ctx, "Creating transaction")
	defer span.End()

	if err := validateNewTransaction(txn); err != nil {
		span.RecordError(err)
		return nil, err
	}

	exists, err := l.datasource.TransactionExistsByRef(ctx, txn.Reference)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if exists {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction with reference '%s' already exists", txn.Reference), nil)
	}

	txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	txn.Status = model.StatusPending
	txn.CreatedAt = time.Now()
	txn.UpdatedAt = txn.CreatedAt

	saved, err := l.datasource.RecordTransaction(ctx, txn)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	_, err = l.datasource.RecordPendingEntry(ctx, &model.LedgerEntryDraft{
		AccountID:     txn.AccountID,
		TransactionID: txn.TransactionID,
		Kind:          txn.Kind,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		CreatedBy:     model.SystemActor,
		Description:   fmt.Sprintf("%s initiated", txn.Kind),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.AddEvent("Transaction created", trace.WithAttributes(
		attribute.String("transaction.id", saved.TransactionID),
		attribute.Int64("transaction.amount", saved.Amount),
	))
	return saved, nil
}

func validateNewTransaction(txn *model.Transaction) error {
	if txn.AccountID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "account_id is required", nil)
	}
	if !txn.Kind.Valid() {
		return apierror.NewAPIError(apierror.ErrInvalidKind, fmt.Sprintf("unknown transaction kind %q", txn.Kind), nil)
	}
	if txn.Amount <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be positive", nil)
	}
	if txn.Currency == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "currency is required", nil)
	}
	if txn.Reference == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "reference is required", nil)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (l *Tuma) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := otel.Tracer("tuma.transaction").Start(ctx, "Getting transaction")
	defer span.End()

	return l.datasource.GetTransaction(ctx, id)
}

// ListTransactions retrieves transactions, newest first, optionally filtered
// by status.
func (l *Tuma) ListTransactions(ctx context.Context, status string, limit, offset int) ([]model.Transaction, error) {
	ctx, span := otel.Tracer("tuma.transaction").Start(ctx, "Listing transactions")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	if status != "" {
		return l.datasource.GetTransactionsByStatus(ctx, status, limit, offset)
	}
	return l.datasource.GetAllTransactions(ctx, limit, offset)
}

// staleReportBatchSize caps how many stuck transactions a single sweep
// reports.
const staleReportBatchSize = 50

// ReportStaleTransactions finds transactions stuck in pending past the
// configured threshold and alerts the operator. A payment pending that long
// usually means the provider callback was never delivered.
func (l *Tuma) ReportStaleTransactions(ctx context.Context) ([]model.Transaction, error) {
	ctx, span := otel.Tracer("tuma.transaction").Start(ctx, "Reporting stale transactions")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(conf.StalePending.AfterSec) * time.Second)
	stale, err := l.datasource.GetStaleTransactions(ctx, model.StatusPending, cutoff, staleReportBatchSize)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	for _, txn := range stale {
		logrus.Warnf("transaction %s pending since %s, no provider callback received", txn.TransactionID, txn.CreatedAt.Format(time.RFC3339))
	}
	notification.NotifyError(fmt.Errorf("%d transactions pending longer than %ds, oldest is %s",
		len(stale), conf.StalePending.AfterSec, stale[0].TransactionID))

	span.AddEvent("Stale transactions reported", trace.WithAttributes(
		attribute.Int("transaction.count", len(stale))))
	return stale, nil
}

// ListStatusHistory retrieves a transaction's append-only status history.
func (l *Tuma) ListStatusHistory(ctx context.Context, transactionID string) ([]model.StatusRecord, error) {
	ctx, span := otel.Tracer("tuma.transaction").Start(ctx, "Listing status history")
	defer span.End()

	return l.datasource.GetStatusHistory(ctx, transactionID)
}

// Transition moves a transaction to a new status and applies the ledger
// effect the transition rule table dictates. The status update, history row,
// and ledger entry commit in one database transaction under the account
// lock, so a terminal status is never visible without its ledger entry and
// concurrent transitions cannot double-apply. Settlement entries that would
// overdraw the account are rejected before anything is written.
func (l *Tuma) Transition(ctx context.Context, transactionID, newStatus, actor, reason string, metadata map[string]interface{}) (*model.StatusRecord, error) {
	ctx, span := otel.Tracer("tuma.transaction").Start(ctx, "Transitioning transaction")
	defer span.End()

	if actor == "" {
		actor = model.SystemActor
	}

	txn, err := l.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	effect, ok := model.EffectOfTransition(txn.Status, newStatus, txn.Kind)
	if !ok {
		err := apierror.NewAPIError(apierror.ErrInvalidTransition,
			fmt.Sprintf("Transaction '%s' is '%s', cannot transition to '%s'", transactionID, txn.Status, newStatus), nil)
		span.RecordError(err)
		return nil, err
	}

	locker, err := l.acquireAccountLock(ctx, txn.AccountID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		if err := locker.Unlock(ctx); err != nil {
			span.RecordError(err)
		}
	}(locker, ctx)

	// All money movement for the account is serialized behind the lock, so an
	// overdraw check here holds until the settlement entry commits.
	if effect.MovesMoney {
		if err := l.checkSettlementFunds(ctx, txn, effect.Kind); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	record := &model.StatusRecord{
		RecordID:       model.GenerateUUIDWithSuffix("tsr"),
		TransactionID:  txn.TransactionID,
		PreviousStatus: txn.Status,
		Status:         newStatus,
		UpdatedBy:      actor,
		Reason:         reason,
		MetaData:       metadata,
		CreatedAt:      time.Now(),
	}

	if _, err := l.datasource.TransitionTransaction(ctx, transactionID, record, transitionEffectDraft(txn, record, effect)); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if effect.MovesMoney {
		l.invalidateBalance(ctx, txn.AccountID, txn.Currency)
	}

	span.AddEvent("Transaction transitioned", trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
		attribute.String("status.previous", record.PreviousStatus),
		attribute.String("status.new", record.Status),
	))
	return record, nil
}

func (l *Tuma) checkSettlementFunds(ctx context.Context, txn *model.Transaction, kind model.EntryKind) error {
	delta, err := model.SignedAmount(kind, txn.Amount)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidKind, err.Error(), err)
	}
	if delta >= 0 {
		return nil
	}

	balance, err := l.datasource.GetBalance(ctx, txn.AccountID, txn.Currency)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrNotFound {
			balance = model.NewBalance(txn.AccountID, txn.Currency)
		} else {
			return err
		}
	}
	if balance.WouldOverdraw(delta) {
		return apierror.NewAPIError(apierror.ErrInsufficientBalance,
			fmt.Sprintf("Insufficient balance: account '%s' has %d %s available, settlement requires %d", txn.AccountID, balance.AvailableBalance, txn.Currency, -delta),
			map[string]interface{}{"available_balance": balance.AvailableBalance, "requested": -delta})
	}
	return nil
}

// transitionEffectDraft builds the ledger entry the rule table prescribes
// for a transition. Completion settles the full transaction amount; failure
// and cancellation record a zero-amount adjustment for audit only. The
// datasource commits the entry together with the status update.
func transitionEffectDraft(txn *model.Transaction, record *model.StatusRecord, effect model.LedgerEffect) *model.LedgerEntryDraft {
	if effect.MovesMoney {
		return &model.LedgerEntryDraft{
			AccountID:     txn.AccountID,
			TransactionID: txn.TransactionID,
			Kind:          effect.Kind,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			CreatedBy:     record.UpdatedBy,
			Reference:     fmt.Sprintf("%s_%s", txn.Reference, record.Status),
			Description:   fmt.Sprintf("%s %s", txn.Kind, record.Status),
		}
	}

	description := fmt.Sprintf("%s %s", txn.Kind, record.Status)
	if record.Reason != "" {
		description = fmt.Sprintf("%s: %s", description, record.Reason)
	}
	return &model.LedgerEntryDraft{
		AccountID:     txn.AccountID,
		TransactionID: txn.TransactionID,
		Kind:          model.EntryKindAdjustment,
		Amount:        0,
		Currency:      txn.Currency,
		CreatedBy:     record.UpdatedBy,
		Description:   description,
		Audit:         true,
	}
}
