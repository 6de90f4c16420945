package model

import (
	"encoding/json"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Transaction is a payment or payout record moving money for a merchant
// account. It is created pending and settles into exactly one terminal state.
type Transaction struct {
	ID            int64                  `json:"-"`
	TransactionID string                 `json:"transaction_id"`
	AccountID     string                 `json:"account_id"`
	Kind          EntryKind              `json:"kind"`
	Amount        int64                  `json:"amount"`
	Currency      string                 `json:"currency"`
	Provider      string                 `json:"provider,omitempty"`
	Reference     string                 `json:"reference"`
	Description   string                 `json:"description,omitempty"`
	Status        string                 `json:"status"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// StatusRecord is one row of a transaction's append-only status history.
type StatusRecord struct {
	ID             int64                  `json:"-"`
	RecordID       string                 `json:"record_id"`
	TransactionID  string                 `json:"transaction_id"`
	PreviousStatus string                 `json:"previous_status"`
	Status         string                 `json:"status"`
	UpdatedBy      string                 `json:"updated_by"`
	Reason         string                 `json:"reason,omitempty"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidTransition reports whether previous -> next is a permitted status
// transition. Only pending has successors.
func ValidTransition(previous, next string) bool {
	if previous != StatusPending {
		return false
	}
	return TerminalStatus(next)
}

// LedgerEffect describes what a status transition does to the ledger.
type LedgerEffect struct {
	Kind EntryKind
	// MovesMoney is true when the transition appends a balance-affecting
	// entry for the full transaction amount. False means a zero-amount
	// adjustment is recorded purely for audit.
	MovesMoney bool
}

// EffectOfTransition is the single source of truth for which status changes
// move money. Every caller that turns a transition into a ledger entry must
// go through this table. Completion appends a balance-affecting entry of the
// transaction's own kind (payment for collections, payout for disbursements);
// failure and cancellation record a zero-amount adjustment for audit only.
func EffectOfTransition(previous, next string, txnKind EntryKind) (LedgerEffect, bool) {
	if !ValidTransition(previous, next) {
		return LedgerEffect{}, false
	}
	switch next {
	case StatusCompleted:
		return LedgerEffect{Kind: txnKind, MovesMoney: true}, true
	case StatusFailed, StatusCancelled:
		return LedgerEffect{Kind: EntryKindAdjustment, MovesMoney: false}, true
	}
	return LedgerEffect{}, false
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}
