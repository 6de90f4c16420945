package database

import (
	"context"

	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

// SumPostedEntries replays the ledger for one account by summing every
// completed, balance-affecting entry. Zero-amount audit entries and pending
// placeholders are excluded: they never moved money, so they contribute
// nothing to the expected balance or the reconciliation volume. Returns the
// summed amount and the number of entries replayed.
func (d Datasource) SumPostedEntries(ctx context.Context, accountID, currency string) (int64, int64, error) {
	var sum, count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM tuma.ledger_entries
		WHERE account_id = $1 AND currency = $2 AND status = $3 AND amount <> 0
	`, accountID, currency, model.EntryStatusCompleted).Scan(&sum, &count)
	if err != nil {
		return 0, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to replay ledger entries", err)
	}
	return sum, count, nil
}

// GetPostedEntriesPaginated retrieves completed balance-affecting entries for
// an account in append order, for drift reports that sample the entries
// behind a mismatch.
func (d Datasource) GetPostedEntriesPaginated(ctx context.Context, accountID, currency string, batchSize int, offset int64) ([]*model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, entry_id, account_id, COALESCE(transaction_id, ''), kind, amount, balance_before, balance_after, currency, status, created_by, COALESCE(reference, ''), description, meta_data, created_at
		FROM tuma.ledger_entries
		WHERE account_id = $1 AND currency = $2 AND status = $3 AND amount <> 0
		ORDER BY id ASC
		LIMIT $4 OFFSET $5
	`, accountID, currency, model.EntryStatusCompleted, batchSize, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve posted entries", err)
	}
	defer rows.Close()

	entries := []*model.LedgerEntry{}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating posted entries", err)
	}
	return entries, nil
}
