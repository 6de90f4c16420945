package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

// ApplyLedgerEntry appends a balance-affecting entry and folds it into the
// account balance in one database transaction. The balance row is created
// lazily on the account's first entry, locked for the duration of the write,
// and updated with an optimistic version check. Overdraws are rejected before
// anything is written.
func (d Datasource) ApplyLedgerEntry(ctx context.Context, draft *model.LedgerEntryDraft) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("ledger.datasource").Start(ctx, "Applying ledger entry")
	defer span.End()

	delta, err := completedEntryDelta(draft)
	if err != nil {
		return nil, err
	}
	return d.appendEntry(ctx, span, draft, delta, model.EntryStatusCompleted)
}

// completedEntryDelta validates a draft and resolves the signed balance
// movement it carries. Audit drafts always move zero.
func completedEntryDelta(draft *model.LedgerEntryDraft) (int64, error) {
	if err := draft.Validate(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	delta, err := model.SignedAmount(draft.Kind, draft.Amount)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInvalidKind, err.Error(), err)
	}
	if draft.Audit {
		delta = 0
	}
	return delta, nil
}

// RecordPendingEntry appends the zero-effect placeholder written when a
// transaction is created. It marks intent in the ledger without changing the
// balance; the balance-affecting entry follows when the transaction settles.
func (d Datasource) RecordPendingEntry(ctx context.Context, draft *model.LedgerEntryDraft) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("ledger.datasource").Start(ctx, "Recording pending entry")
	defer span.End()

	if draft.AccountID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "account_id is required", nil)
	}
	if !draft.Kind.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidKind, fmt.Sprintf("unknown entry kind %q", draft.Kind), nil)
	}
	if draft.Currency == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "currency is required", nil)
	}
	return d.appendEntry(ctx, span, draft, 0, model.EntryStatusPending)
}

func (d Datasource) appendEntry(ctx context.Context, span trace.Span, draft *model.LedgerEntryDraft, delta int64, status model.EntryStatus) (*model.LedgerEntry, error) {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	entry, err := writeEntry(ctx, span, tx, draft, delta, status)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	span.AddEvent("Ledger entry applied", trace.WithAttributes(
		attribute.String("entry.id", entry.EntryID),
		attribute.Int64("entry.amount", entry.Amount),
	))
	return entry, nil
}

// writeEntry appends an entry and folds its movement into the balance row
// inside the caller's transaction. Callers own commit and rollback, which
// lets a status transition and its settlement entry share one transaction.
func writeEntry(ctx context.Context, span trace.Span, tx *sql.Tx, draft *model.LedgerEntryDraft, delta int64, status model.EntryStatus) (*model.LedgerEntry, error) {
	metaDataJSON, err := json.Marshal(draft.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	balance, err := lockBalanceForUpdate(ctx, tx, draft.AccountID, draft.Currency)
	if err != nil {
		return nil, err
	}

	if delta < 0 && balance.WouldOverdraw(delta) {
		span.AddEvent("Insufficient balance", trace.WithAttributes(
			attribute.String("account.id", draft.AccountID),
			attribute.Int64("balance.available", balance.AvailableBalance),
			attribute.Int64("entry.delta", delta),
		))
		return nil, apierror.NewAPIError(apierror.ErrInsufficientBalance,
			fmt.Sprintf("Insufficient balance: account '%s' has %d %s available, entry requires %d", draft.AccountID, balance.AvailableBalance, draft.Currency, -delta),
			map[string]interface{}{"available_balance": balance.AvailableBalance, "requested": -delta})
	}

	entry := &model.LedgerEntry{
		EntryID:       model.GenerateUUIDWithSuffix("lde"),
		AccountID:     draft.AccountID,
		TransactionID: draft.TransactionID,
		Kind:          draft.Kind,
		Amount:        delta,
		BalanceBefore: balance.AvailableBalance,
		BalanceAfter:  balance.AvailableBalance + delta,
		Currency:      draft.Currency,
		Status:        status,
		CreatedBy:     draft.CreatedBy,
		Reference:     draft.Reference,
		Description:   draft.Description,
		MetaData:      draft.MetaData,
		CreatedAt:     time.Now(),
	}
	if entry.CreatedBy == "" {
		entry.CreatedBy = model.SystemActor
	}

	var transactionID interface{} = entry.TransactionID
	if entry.TransactionID == "" {
		transactionID = nil
	}
	var reference interface{} = entry.Reference
	if entry.Reference == "" {
		reference = nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tuma.ledger_entries (entry_id, account_id, transaction_id, kind, amount, balance_before, balance_after, currency, status, created_by, reference, description, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, entry.EntryID, entry.AccountID, transactionID, entry.Kind, entry.Amount, entry.BalanceBefore, entry.BalanceAfter, entry.Currency, entry.Status, entry.CreatedBy, reference, entry.Description, metaDataJSON, entry.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Ledger entry with this reference already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}

	if delta != 0 {
		balance.Apply(delta)
		if err := updateBalance(ctx, tx, balance); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

// GetLedgerEntry retrieves a single entry by its entry ID.
func (d Datasource) GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, entry_id, account_id, COALESCE(transaction_id, ''), kind, amount, balance_before, balance_after, currency, status, created_by, COALESCE(reference, ''), description, meta_data, created_at
		FROM tuma.ledger_entries
		WHERE entry_id = $1
	`, id)

	entry, err := scanLedgerEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Ledger entry with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entry", err)
	}
	return entry, nil
}

// GetEntriesByAccount retrieves an account's entries, newest first.
func (d Datasource) GetEntriesByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, entry_id, account_id, COALESCE(transaction_id, ''), kind, amount, balance_before, balance_after, currency, status, created_by, COALESCE(reference, ''), description, meta_data, created_at
		FROM tuma.ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

// GetEntriesByTransaction retrieves every entry recorded for a transaction in
// append order.
func (d Datasource) GetEntriesByTransaction(ctx context.Context, transactionID string) ([]model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, entry_id, account_id, COALESCE(transaction_id, ''), kind, amount, balance_before, balance_after, currency, status, created_by, COALESCE(reference, ''), description, meta_data, created_at
		FROM tuma.ledger_entries
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	return collectLedgerEntries(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedgerEntry(row rowScanner) (*model.LedgerEntry, error) {
	entry := model.LedgerEntry{}
	var metaDataJSON []byte
	err := row.Scan(&entry.ID, &entry.EntryID, &entry.AccountID, &entry.TransactionID, &entry.Kind, &entry.Amount, &entry.BalanceBefore, &entry.BalanceAfter, &entry.Currency, &entry.Status, &entry.CreatedBy, &entry.Reference, &entry.Description, &metaDataJSON, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &entry.MetaData); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

func collectLedgerEntries(rows *sql.Rows) ([]model.LedgerEntry, error) {
	entries := []model.LedgerEntry{}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating ledger entries", err)
	}
	return entries, nil
}
