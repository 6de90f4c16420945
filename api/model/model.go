package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/tumapay/tuma/model"
)

// CreateTransaction is the request body for recording a new payment or
// payout. Amount is expressed in major units and converted to minor units
// with Precision (e.g. amount 150.75 with precision 100 stores 15075).
// A zero precision means the amount is already in minor units.
type CreateTransaction struct {
	AccountID   string                 `json:"account_id"`
	Kind        string                 `json:"kind"`
	Amount      float64                `json:"amount"`
	Precision   float64                `json:"precision"`
	Currency    string                 `json:"currency"`
	Provider    string                 `json:"provider"`
	Reference   string                 `json:"reference"`
	Description string                 `json:"description"`
	MetaData    map[string]interface{} `json:"meta_data"`
}

// TransitionTransaction is the request body for moving a pending
// transaction into a terminal status.
type TransitionTransaction struct {
	Status   string                 `json:"status"`
	Actor    string                 `json:"actor"`
	Reason   string                 `json:"reason"`
	MetaData map[string]interface{} `json:"meta_data"`
}

// RecordAdjustment is the request body for a manual ledger adjustment.
// Adjustments are the only entries operators append directly; settlement
// entries are written by the transaction lifecycle.
type RecordAdjustment struct {
	AccountID     string                 `json:"account_id"`
	TransactionID string                 `json:"transaction_id"`
	Amount        float64                `json:"amount"`
	Precision     float64                `json:"precision"`
	Currency      string                 `json:"currency"`
	Reference     string                 `json:"reference"`
	Description   string                 `json:"description"`
	CreatedBy     string                 `json:"created_by"`
	MetaData      map[string]interface{} `json:"meta_data"`
}

func (t *CreateTransaction) ValidateCreateTransaction() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.AccountID, validation.Required),
		validation.Field(&t.Kind, validation.Required, validation.In(
			string(model.EntryKindPayment),
			string(model.EntryKindPayout),
			string(model.EntryKindFee),
			string(model.EntryKindRefund),
		)),
		validation.Field(&t.Amount, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&t.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&t.Reference, validation.Required),
	)
}

func (t *TransitionTransaction) ValidateTransitionTransaction() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Status, validation.Required, validation.In(
			model.StatusCompleted,
			model.StatusFailed,
			model.StatusCancelled,
		)),
	)
}

func (a *RecordAdjustment) ValidateRecordAdjustment() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.AccountID, validation.Required),
		validation.Field(&a.Amount, validation.Required),
		validation.Field(&a.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&a.Description, validation.Required),
		validation.Field(&a.CreatedBy, validation.Required),
	)
}

// toMinorUnits converts a major-unit amount to minor units without the
// rounding drift of float multiplication.
func toMinorUnits(amount, precision float64) int64 {
	if precision == 0 {
		precision = 1
	}
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(precision)).IntPart()
}

func (t *CreateTransaction) ToTransaction() *model.Transaction {
	return &model.Transaction{
		AccountID:   t.AccountID,
		Kind:        model.EntryKind(t.Kind),
		Amount:      toMinorUnits(t.Amount, t.Precision),
		Currency:    t.Currency,
		Provider:    t.Provider,
		Reference:   t.Reference,
		Description: t.Description,
		MetaData:    t.MetaData,
	}
}

func (a *RecordAdjustment) ToDraft() *model.LedgerEntryDraft {
	return &model.LedgerEntryDraft{
		AccountID:     a.AccountID,
		TransactionID: a.TransactionID,
		Kind:          model.EntryKindAdjustment,
		Amount:        toMinorUnits(a.Amount, a.Precision),
		Currency:      a.Currency,
		Reference:     a.Reference,
		Description:   a.Description,
		CreatedBy:     a.CreatedBy,
		MetaData:      a.MetaData,
	}
}
