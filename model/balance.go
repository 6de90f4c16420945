package model

import (
	"time"
)

// Balance is the cached, derived balance for a single merchant account.
// It is created lazily on the first ledger entry for the account, mutated
// only through the aggregator's serialized apply path, and never deleted.
// The available balance must always equal the sum of amounts over all
// completed, balance-affecting ledger entries for the account.
type Balance struct {
	ID               int64     `json:"-"`
	BalanceID        string    `json:"balance_id"`
	AccountID        string    `json:"account_id"`
	AvailableBalance int64     `json:"available_balance"`
	PendingBalance   int64     `json:"pending_balance"`
	TotalBalance     int64     `json:"total_balance"`
	Currency         string    `json:"currency"`
	Version          int64     `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewBalance returns a zero balance for an account, ready to receive its
// first entry.
func NewBalance(accountID, currency string) *Balance {
	now := time.Now()
	return &Balance{
		BalanceID:   GenerateUUIDWithSuffix("bln"),
		AccountID:   accountID,
		Currency:    currency,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Apply folds a signed delta into the available balance and recomputes the
// total. It does not guard against overdrafts; the aggregator checks that
// before committing.
func (b *Balance) Apply(delta int64) {
	b.AvailableBalance += delta
	b.TotalBalance = b.AvailableBalance + b.PendingBalance
	b.LastUpdated = time.Now()
}

// WouldOverdraw reports whether applying delta would take the available
// balance below zero.
func (b *Balance) WouldOverdraw(delta int64) bool {
	return b.AvailableBalance+delta < 0
}
