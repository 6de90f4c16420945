package tuma

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	redlock "github.com/tumapay/tuma/internal/lock"
	"github.com/tumapay/tuma/model"
)

const (
	accountLockDuration = 30 * time.Second
	accountLockWait     = 10 * time.Second
)

// acquireAccountLock serializes all money movement for one account across
// every instance of the service. Callers must Unlock with the returned
// locker.
func (l *Tuma) acquireAccountLock(ctx context.Context, accountID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(l.redis, accountID, model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, accountLockDuration, accountLockWait); err != nil {
		return nil, err
	}
	return locker, nil
}

// AppendEntry appends a ledger entry and folds it into the account balance as
// one atomic unit. This is the only money-movement path: administrative
// adjustments go through it with kind=adjustment, the same validation as any
// other entry.
func (l *Tuma) AppendEntry(ctx context.Context, draft *model.LedgerEntryDraft) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("tuma.ledger").Start(ctx, "Appending ledger entry")
	defer span.End()

	if err := draft.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	locker, err := l.acquireAccountLock(ctx, draft.AccountID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func(locker *redlock.Locker, ctx context.Context) {
		if err := locker.Unlock(ctx); err != nil {
			span.RecordError(err)
		}
	}(locker, ctx)

	entry, err := l.datasource.ApplyLedgerEntry(ctx, draft)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	l.invalidateBalance(ctx, draft.AccountID, draft.Currency)

	span.AddEvent("Ledger entry appended", trace.WithAttributes(
		attribute.String("entry.id", entry.EntryID),
		attribute.String("account.id", entry.AccountID),
		attribute.Int64("entry.amount", entry.Amount),
	))
	return entry, nil
}

// GetLedgerEntry retrieves a single ledger entry by ID.
func (l *Tuma) GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error) {
	ctx, span := otel.Tracer("tuma.ledger").Start(ctx, "Getting ledger entry")
	defer span.End()

	return l.datasource.GetLedgerEntry(ctx, id)
}

// ListEntriesByAccount retrieves an account's entries, newest first.
func (l *Tuma) ListEntriesByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	ctx, span := otel.Tracer("tuma.ledger").Start(ctx, "Listing entries by account")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	return l.datasource.GetEntriesByAccount(ctx, accountID, limit, offset)
}

// ListEntriesByTransaction retrieves every entry recorded for a transaction.
func (l *Tuma) ListEntriesByTransaction(ctx context.Context, transactionID string) ([]model.LedgerEntry, error) {
	ctx, span := otel.Tracer("tuma.ledger").Start(ctx, "Listing entries by transaction")
	defer span.End()

	return l.datasource.GetEntriesByTransaction(ctx, transactionID)
}
