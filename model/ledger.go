package model

import (
	"errors"
	"fmt"
	"time"
)

// EntryKind classifies the financial effect of a ledger entry.
type EntryKind string

const (
	EntryKindPayment    EntryKind = "payment"
	EntryKindPayout     EntryKind = "payout"
	EntryKindFee        EntryKind = "fee"
	EntryKindRefund     EntryKind = "refund"
	EntryKindAdjustment EntryKind = "adjustment"
)

// EntryStatus is the lifecycle state of a single ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// SystemActor is the created_by value for entries written by the service
// itself rather than an administrative operator.
const SystemActor = "system"

// Valid reports whether k is one of the supported entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindPayment, EntryKindPayout, EntryKindFee, EntryKindRefund, EntryKindAdjustment:
		return true
	}
	return false
}

// SignedAmount converts the positive magnitude of an entry into the signed
// delta applied to the available balance. payment, refund and adjustment
// credit the account; payout and fee debit it. Adjustments may carry a
// negative magnitude, which is preserved as-is.
func SignedAmount(kind EntryKind, amount int64) (int64, error) {
	switch kind {
	case EntryKindPayment, EntryKindRefund, EntryKindAdjustment:
		return amount, nil
	case EntryKindPayout, EntryKindFee:
		return -amount, nil
	default:
		return 0, fmt.Errorf("unknown entry kind %q", kind)
	}
}

// LedgerEntry is an immutable record of a single financial effect on an
// account. Amount is stored as the signed delta applied to the available
// balance, so payouts and fees carry negative amounts. Once persisted with
// status completed it is never mutated or deleted; corrections are expressed
// as new adjustment entries.
type LedgerEntry struct {
	ID            int64                  `json:"-"`
	EntryID       string                 `json:"entry_id"`
	AccountID     string                 `json:"account_id"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Kind          EntryKind              `json:"kind"`
	Amount        int64                  `json:"amount"`
	BalanceBefore int64                  `json:"balance_before"`
	BalanceAfter  int64                  `json:"balance_after"`
	Currency      string                 `json:"currency"`
	Status        EntryStatus            `json:"status"`
	CreatedBy     string                 `json:"created_by"`
	Reference     string                 `json:"reference,omitempty"`
	Description   string                 `json:"description"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// LedgerEntryDraft is the caller-supplied portion of a ledger entry. The
// balance snapshot and timestamps are stamped by the store at append time,
// never by the caller.
type LedgerEntryDraft struct {
	AccountID     string                 `json:"account_id"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Kind          EntryKind              `json:"kind"`
	Amount        int64                  `json:"amount"`
	Currency      string                 `json:"currency"`
	CreatedBy     string                 `json:"created_by"`
	Reference     string                 `json:"reference,omitempty"`
	Description   string                 `json:"description"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`

	// Audit marks a zero-amount entry recorded purely for audit purposes.
	// Audit entries never move money and are excluded from reconciliation.
	Audit bool `json:"-"`
}

// Validate checks the draft against the append contract. A draft that fails
// validation is never persisted.
func (d *LedgerEntryDraft) Validate() error {
	if d.AccountID == "" {
		return errors.New("account_id is required")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("unknown entry kind %q", d.Kind)
	}
	if d.Currency == "" {
		return errors.New("currency is required")
	}
	if d.Description == "" {
		return errors.New("description is required")
	}
	if d.CreatedBy == "" {
		return errors.New("created_by is required")
	}
	if d.Audit {
		if d.Amount != 0 {
			return errors.New("audit entries must carry a zero amount")
		}
		if d.Kind != EntryKindAdjustment {
			return errors.New("audit entries must be adjustments")
		}
		return nil
	}
	if d.Amount == 0 {
		return errors.New("amount must be non-zero")
	}
	if d.Amount < 0 && d.Kind != EntryKindAdjustment {
		return fmt.Errorf("negative amounts are only valid for adjustments, got %q", d.Kind)
	}
	return nil
}

// CheckSnapshot verifies the balance snapshot invariant
// balance_after == balance_before + amount on a persisted entry.
func (e *LedgerEntry) CheckSnapshot() error {
	if e.BalanceAfter != e.BalanceBefore+e.Amount {
		return fmt.Errorf("snapshot mismatch for entry %s: %d != %d + %d", e.EntryID, e.BalanceAfter, e.BalanceBefore, e.Amount)
	}
	return nil
}
