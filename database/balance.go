package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

// lockBalanceForUpdate returns the balance row for an account and currency,
// creating a zero row if this is the account's first entry, and holds a row
// lock until the surrounding transaction commits.
func lockBalanceForUpdate(ctx context.Context, tx *sql.Tx, accountID, currency string) (*model.Balance, error) {
	seed := model.NewBalance(accountID, currency)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tuma.balances (balance_id, account_id, currency, available_balance, pending_balance, total_balance, version, created_at, last_updated)
		VALUES ($1, $2, $3, 0, 0, 0, 0, $4, $4)
		ON CONFLICT (account_id, currency) DO NOTHING
	`, seed.BalanceID, accountID, currency, seed.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create balance", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, balance_id, account_id, available_balance, pending_balance, total_balance, currency, version, created_at, last_updated
		FROM tuma.balances
		WHERE account_id = $1 AND currency = $2
		FOR UPDATE
	`, accountID, currency)

	balance := &model.Balance{}
	err = row.Scan(&balance.ID, &balance.BalanceID, &balance.AccountID, &balance.AvailableBalance, &balance.PendingBalance, &balance.TotalBalance, &balance.Currency, &balance.Version, &balance.CreatedAt, &balance.LastUpdated)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock balance", err)
	}
	return balance, nil
}

// updateBalance writes a mutated balance back inside tx with an optimistic
// version check. The row lock makes a version miss unlikely, but the check
// stays as a guard against writes that bypass the lock.
func updateBalance(ctx context.Context, tx *sql.Tx, balance *model.Balance) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE tuma.balances
		SET available_balance = $2, pending_balance = $3, total_balance = $4, last_updated = $5, version = version + 1
		WHERE balance_id = $1 AND version = $6
	`, balance.BalanceID, balance.AvailableBalance, balance.PendingBalance, balance.TotalBalance, balance.LastUpdated, balance.Version)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Optimistic locking failure: balance with ID '%s' was updated by another transaction", balance.BalanceID), nil)
	}

	balance.Version++
	return nil
}

// GetBalance retrieves the derived balance for an account and currency.
func (d Datasource) GetBalance(ctx context.Context, accountID, currency string) (*model.Balance, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, balance_id, account_id, available_balance, pending_balance, total_balance, currency, version, created_at, last_updated
		FROM tuma.balances
		WHERE account_id = $1 AND currency = $2
	`, accountID, currency)

	balance := &model.Balance{}
	err := row.Scan(&balance.ID, &balance.BalanceID, &balance.AccountID, &balance.AvailableBalance, &balance.PendingBalance, &balance.TotalBalance, &balance.Currency, &balance.Version, &balance.CreatedAt, &balance.LastUpdated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance for account '%s' (%s) not found", accountID, currency), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balance", err)
	}
	return balance, nil
}

// GetAllBalances retrieves balances ordered by creation time.
func (d Datasource) GetAllBalances(ctx context.Context, limit, offset int) ([]model.Balance, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, balance_id, account_id, available_balance, pending_balance, total_balance, currency, version, created_at, last_updated
		FROM tuma.balances
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balances", err)
	}
	defer rows.Close()

	return collectBalances(rows)
}

// GetDistinctBalanceAccounts retrieves every balance row, oldest first, for a
// full reconciliation sweep.
func (d Datasource) GetDistinctBalanceAccounts(ctx context.Context) ([]model.Balance, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, balance_id, account_id, available_balance, pending_balance, total_balance, currency, version, created_at, last_updated
		FROM tuma.balances
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balances", err)
	}
	defer rows.Close()

	return collectBalances(rows)
}

func collectBalances(rows *sql.Rows) ([]model.Balance, error) {
	balances := []model.Balance{}
	for rows.Next() {
		balance := model.Balance{}
		err := rows.Scan(&balance.ID, &balance.BalanceID, &balance.AccountID, &balance.AvailableBalance, &balance.PendingBalance, &balance.TotalBalance, &balance.Currency, &balance.Version, &balance.CreatedAt, &balance.LastUpdated)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan balance", err)
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating balances", err)
	}
	return balances, nil
}
