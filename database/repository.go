package database

import (
	"context"
	"time"

	"github.com/tumapay/tuma/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	ledger         // Ledger entry append and lookup operations
	balance        // Balance read operations
	transaction    // Transaction lifecycle operations
	webhook        // Webhook audit and retry persistence
	reconciliation // Ledger replay queries
}

// ledger defines methods for appending and reading the append-only ledger.
type ledger interface {
	ApplyLedgerEntry(ctx context.Context, draft *model.LedgerEntryDraft) (*model.LedgerEntry, error)   // Atomically appends an entry and updates the account balance
	RecordPendingEntry(ctx context.Context, draft *model.LedgerEntryDraft) (*model.LedgerEntry, error) // Appends a zero-effect placeholder entry marking intent
	GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error)                       // Retrieves an entry by ID
	GetEntriesByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error)
	GetEntriesByTransaction(ctx context.Context, transactionID string) ([]model.LedgerEntry, error)
}

// balance defines methods for reading derived balances. Balances are only
// ever written through ApplyLedgerEntry.
type balance interface {
	GetBalance(ctx context.Context, accountID, currency string) (*model.Balance, error) // Retrieves the balance for an account and currency
	GetAllBalances(ctx context.Context, limit, offset int) ([]model.Balance, error)
}

// transaction defines methods for handling transactions.
type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)                            // Records a new transaction
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)                                            // Retrieves a transaction by ID
	GetTransactionByRef(ctx context.Context, reference string) (model.Transaction, error)                                 // Retrieves a transaction by reference
	TransactionExistsByRef(ctx context.Context, reference string) (bool, error)                                           // Checks if a transaction exists by reference
	GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error)                               // Retrieves all transactions
	TransitionTransaction(ctx context.Context, id string, record *model.StatusRecord, effect *model.LedgerEntryDraft) (*model.Transaction, error) // Atomically moves a transaction between statuses, appends the history row, and applies the ledger effect
	GetStatusHistory(ctx context.Context, transactionID string) ([]model.StatusRecord, error)                             // Retrieves the append-only status history
	GetTransactionsByStatus(ctx context.Context, status string, limit, offset int) ([]model.Transaction, error)           // Retrieves transactions filtered by status
	GetStaleTransactions(ctx context.Context, status string, olderThan time.Time, limit int) ([]model.Transaction, error) // Retrieves transactions stuck in a status
}

// webhook defines methods for webhook audit records and durable retries.
type webhook interface {
	RecordWebhookEvent(ctx context.Context, event *model.WebhookEvent) error
	GetWebhookEvents(ctx context.Context, provider string, limit, offset int) ([]model.WebhookEvent, error)
	CreateRetryRecord(ctx context.Context, record *model.WebhookRetryRecord) error
	GetRetryRecord(ctx context.Context, id string) (*model.WebhookRetryRecord, error)
	GetDueRetries(ctx context.Context, asOf time.Time, limit int) ([]*model.WebhookRetryRecord, error) // Retrieves unclaimed pending retries due at or before asOf
	ClaimRetryRecord(ctx context.Context, id string, staleAfter time.Duration) (bool, error)           // Claims a retry record for this instance
	RescheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error
	ResolveRetryRecord(ctx context.Context, id string) error
	MarkRetryPermanentlyFailed(ctx context.Context, id, lastError string) error
	GetRetryRecordsByStatus(ctx context.Context, status model.RetryStatus, limit, offset int) ([]*model.WebhookRetryRecord, error)
}

// reconciliation defines the replay queries behind drift reports.
type reconciliation interface {
	SumPostedEntries(ctx context.Context, accountID, currency string) (int64, int64, error) // Sums balance-affecting entries for an account; returns (sum, entry count)
	GetPostedEntriesPaginated(ctx context.Context, accountID, currency string, batchSize int, offset int64) ([]*model.LedgerEntry, error)
	GetDistinctBalanceAccounts(ctx context.Context) ([]model.Balance, error) // Retrieves every balance row for a full reconciliation sweep
}
