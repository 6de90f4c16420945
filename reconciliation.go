package tuma

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/internal/notification"
	"github.com/tumapay/tuma/model"
)

const driftSampleSize = 10

// DriftReport is the outcome of replaying one account's ledger against its
// cached balance. A zero difference means the account is balanced.
type DriftReport struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	// Expected is the balance derived by replaying completed,
	// balance-affecting ledger entries.
	Expected int64 `json:"expected"`
	// Actual is the cached available balance.
	Actual     int64 `json:"actual"`
	Difference int64 `json:"difference"`
	// EntryCount is the number of entries replayed. Zero-amount audit
	// entries and pending placeholders are not counted.
	EntryCount int64 `json:"entry_count"`
	// SampleEntries holds the most recent replayed entries when the account
	// drifted, as a starting point for investigation.
	SampleEntries []*model.LedgerEntry `json:"sample_entries,omitempty"`
	CheckedAt     time.Time            `json:"checked_at"`
}

// Balanced reports whether the replayed ledger matches the cached balance.
func (r *DriftReport) Balanced() bool {
	return r.Difference == 0
}

// Reconcile replays all completed ledger entries for one account and compares
// the sum against the cached available balance. It is a read-only diagnostic:
// a non-zero difference is reported and notified, never corrected, because
// drift means the aggregator's atomicity broke and the ledger is the source
// of truth for what actually happened.
func (l *Tuma) Reconcile(ctx context.Context, accountID, currency string) (*DriftReport, error) {
	ctx, span := otel.Tracer("tuma.reconciliation").Start(ctx, "Reconciling account")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	balance, err := l.datasource.GetBalance(ctx, accountID, currency)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	expected, entryCount, err := l.datasource.SumPostedEntries(ctx, accountID, currency)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &DriftReport{
		AccountID:  accountID,
		Currency:   currency,
		Expected:   expected,
		Actual:     balance.AvailableBalance,
		Difference: balance.AvailableBalance - expected,
		EntryCount: entryCount,
		CheckedAt:  time.Now(),
	}

	if !report.Balanced() {
		report.SampleEntries = l.sampleDriftEntries(ctx, accountID, currency, entryCount)
		span.AddEvent("Reconciliation drift detected", trace.WithAttributes(
			attribute.Int64("drift.expected", report.Expected),
			attribute.Int64("drift.actual", report.Actual),
			attribute.Int64("drift.difference", report.Difference),
		))
		notification.NotifyError(fmt.Errorf("reconciliation drift on account %s (%s): ledger replays to %d, cached balance is %d (difference %d)",
			accountID, currency, report.Expected, report.Actual, report.Difference))
	}
	return report, nil
}

// ReconcileAll replays every known account. Accounts keep reconciling after
// one drifts; the drifted reports are all returned.
func (l *Tuma) ReconcileAll(ctx context.Context) ([]*DriftReport, error) {
	ctx, span := otel.Tracer("tuma.reconciliation").Start(ctx, "Reconciling all accounts")
	defer span.End()

	balances, err := l.datasource.GetDistinctBalanceAccounts(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	reports := make([]*DriftReport, 0, len(balances))
	for _, balance := range balances {
		report, err := l.Reconcile(ctx, balance.AccountID, balance.Currency)
		if err != nil {
			if apierror.CodeOf(err) == apierror.ErrNotFound {
				continue
			}
			span.RecordError(err)
			return nil, err
		}
		reports = append(reports, report)
	}

	span.AddEvent("Full reconciliation complete", trace.WithAttributes(
		attribute.Int("accounts.checked", len(reports)),
	))
	return reports, nil
}

func (l *Tuma) sampleDriftEntries(ctx context.Context, accountID, currency string, entryCount int64) []*model.LedgerEntry {
	offset := entryCount - driftSampleSize
	if offset < 0 {
		offset = 0
	}
	entries, err := l.datasource.GetPostedEntriesPaginated(ctx, accountID, currency, driftSampleSize, offset)
	if err != nil {
		return nil
	}
	return entries
}
