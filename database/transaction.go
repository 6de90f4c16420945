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

const transactionColumns = `id, transaction_id, account_id, kind, amount, currency, COALESCE(provider, ''), reference, COALESCE(description, ''), status, meta_data, created_at, updated_at`

// RecordTransaction persists a new transaction. The reference is unique
// across all transactions; a duplicate is reported as a conflict.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := otel.Tracer("transaction.datasource").Start(ctx, "Saving transaction to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	var provider interface{} = txn.Provider
	if txn.Provider == "" {
		provider = nil
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO tuma.transactions (transaction_id, account_id, kind, amount, currency, provider, reference, description, status, meta_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, txn.TransactionID, txn.AccountID, txn.Kind, txn.Amount, txn.Currency, provider, txn.Reference, txn.Description, txn.Status, metaDataJSON, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction with reference '%s' already exists", txn.Reference), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}

	return txn, nil
}

// GetTransaction retrieves a transaction by its ID.
func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM tuma.transactions
		WHERE transaction_id = $1
	`, id)

	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

// GetTransactionByRef retrieves a transaction by its external reference.
func (d Datasource) GetTransactionByRef(ctx context.Context, reference string) (model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM tuma.transactions
		WHERE reference = $1
	`, reference)

	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Transaction{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with reference '%s' not found", reference), err)
		}
		return model.Transaction{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return *txn, nil
}

// TransactionExistsByRef checks whether a reference has been used before.
func (d Datasource) TransactionExistsByRef(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM tuma.transactions WHERE reference = $1)
	`, reference).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check transaction existence", err)
	}
	return exists, nil
}

// GetAllTransactions retrieves transactions, newest first.
func (d Datasource) GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM tuma.transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetTransactionsByStatus retrieves transactions in a given status.
func (d Datasource) GetTransactionsByStatus(ctx context.Context, status string, limit, offset int) ([]model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM tuma.transactions
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetStaleTransactions retrieves transactions stuck in a status since before
// olderThan, oldest first. Used by operator tooling to find payments that
// never received a provider callback.
func (d Datasource) GetStaleTransactions(ctx context.Context, status string, olderThan time.Time, limit int) ([]model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM tuma.transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, status, olderThan, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// TransitionTransaction moves a transaction from record.PreviousStatus to
// record.Status, appends the status history row, and, when the transition
// carries a ledger effect, appends the entry and folds it into the balance,
// all in one database transaction. A terminal status is only ever visible
// together with its ledger entry; a failed entry write rolls the status
// back too. The status update is conditional on the current status, so a
// concurrent transition or a terminal state loses the race cleanly instead
// of double-applying.
func (d Datasource) TransitionTransaction(ctx context.Context, id string, record *model.StatusRecord, effect *model.LedgerEntryDraft) (*model.Transaction, error) {
	ctx, span := otel.Tracer("transaction.datasource").Start(ctx, "Transitioning transaction status")
	defer span.End()

	metaDataJSON, err := json.Marshal(record.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	result, err := tx.ExecContext(ctx, `
		UPDATE tuma.transactions
		SET status = $2, updated_at = $3
		WHERE transaction_id = $1 AND status = $4
	`, id, record.Status, record.CreatedAt, record.PreviousStatus)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		// Either the transaction does not exist or it is no longer in the
		// expected status. Distinguish the two for the caller.
		var current string
		scanErr := tx.QueryRowContext(ctx, `SELECT status FROM tuma.transactions WHERE transaction_id = $1`, id).Scan(&current)
		if scanErr == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), scanErr)
		}
		if scanErr != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read transaction status", scanErr)
		}
		return nil, apierror.NewAPIError(apierror.ErrInvalidTransition,
			fmt.Sprintf("Transaction '%s' is '%s', cannot transition from '%s' to '%s'", id, current, record.PreviousStatus, record.Status), nil)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tuma.transaction_status_records (record_id, transaction_id, previous_status, status, updated_by, reason, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.RecordID, record.TransactionID, record.PreviousStatus, record.Status, record.UpdatedBy, record.Reason, metaDataJSON, record.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record status history", err)
	}

	if effect != nil {
		delta, err := completedEntryDelta(effect)
		if err != nil {
			return nil, err
		}
		if _, err := writeEntry(ctx, span, tx, effect, delta, model.EntryStatusCompleted); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	span.AddEvent("Transaction status updated", trace.WithAttributes(
		attribute.String("transaction.id", id),
		attribute.String("status.previous", record.PreviousStatus),
		attribute.String("status.new", record.Status),
	))
	return d.GetTransaction(ctx, id)
}

// GetStatusHistory retrieves a transaction's status records in append order.
func (d Datasource) GetStatusHistory(ctx context.Context, transactionID string) ([]model.StatusRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, record_id, transaction_id, previous_status, status, updated_by, COALESCE(reason, ''), meta_data, created_at
		FROM tuma.transaction_status_records
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve status history", err)
	}
	defer rows.Close()

	records := []model.StatusRecord{}
	for rows.Next() {
		record := model.StatusRecord{}
		var metaDataJSON []byte
		err := rows.Scan(&record.ID, &record.RecordID, &record.TransactionID, &record.PreviousStatus, &record.Status, &record.UpdatedBy, &record.Reason, &metaDataJSON, &record.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan status record", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &record.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating status records", err)
	}
	return records, nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	txn := model.Transaction{}
	var metaDataJSON []byte
	err := row.Scan(&txn.ID, &txn.TransactionID, &txn.AccountID, &txn.Kind, &txn.Amount, &txn.Currency, &txn.Provider, &txn.Reference, &txn.Description, &txn.Status, &metaDataJSON, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, err
		}
	}
	return &txn, nil
}

func collectTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	transactions := []model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating transactions", err)
	}
	return transactions, nil
}
