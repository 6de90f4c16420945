package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("lde")
	assert.True(t, strings.HasPrefix(id, "lde_"))
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("lde"))
}

func TestSignedAmount(t *testing.T) {
	tests := []struct {
		kind   EntryKind
		amount int64
		want   int64
	}{
		{EntryKindPayment, 5000, 5000},
		{EntryKindRefund, 1200, 1200},
		{EntryKindAdjustment, -300, -300},
		{EntryKindPayout, 1500, -1500},
		{EntryKindFee, 75, -75},
	}
	for _, tt := range tests {
		got, err := SignedAmount(tt.kind, tt.amount)
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, string(tt.kind))
	}

	_, err := SignedAmount(EntryKind("chargeback"), 100)
	assert.Error(t, err)
}

func TestLedgerEntryDraftValidate(t *testing.T) {
	draft := LedgerEntryDraft{
		AccountID:   "acc_1",
		Kind:        EntryKindPayment,
		Amount:      5000,
		Currency:    "KES",
		CreatedBy:   SystemActor,
		Description: "collection settled",
	}
	assert.NoError(t, draft.Validate())

	missingAccount := draft
	missingAccount.AccountID = ""
	assert.Error(t, missingAccount.Validate())

	zeroAmount := draft
	zeroAmount.Amount = 0
	assert.Error(t, zeroAmount.Validate())

	badKind := draft
	badKind.Kind = "chargeback"
	assert.Error(t, badKind.Validate())

	noDescription := draft
	noDescription.Description = ""
	assert.Error(t, noDescription.Validate())

	negativePayment := draft
	negativePayment.Amount = -100
	assert.Error(t, negativePayment.Validate())

	negativeAdjustment := draft
	negativeAdjustment.Kind = EntryKindAdjustment
	negativeAdjustment.Amount = -100
	assert.NoError(t, negativeAdjustment.Validate())
}

func TestLedgerEntryDraftValidate_Audit(t *testing.T) {
	audit := LedgerEntryDraft{
		AccountID:   "acc_1",
		Kind:        EntryKindAdjustment,
		Amount:      0,
		Currency:    "KES",
		CreatedBy:   SystemActor,
		Description: "transaction failed",
		Audit:       true,
	}
	assert.NoError(t, audit.Validate())

	nonZero := audit
	nonZero.Amount = 10
	assert.Error(t, nonZero.Validate())

	wrongKind := audit
	wrongKind.Kind = EntryKindPayment
	assert.Error(t, wrongKind.Validate())
}

func TestCheckSnapshot(t *testing.T) {
	entry := LedgerEntry{EntryID: "lde_1", Amount: -1500, BalanceBefore: 5000, BalanceAfter: 3500, Kind: EntryKindPayout}
	assert.NoError(t, entry.CheckSnapshot())

	entry.BalanceAfter = 3400
	assert.Error(t, entry.CheckSnapshot())
}

func TestBalanceApply(t *testing.T) {
	b := NewBalance("acc_1", "KES")
	assert.Equal(t, int64(0), b.AvailableBalance)
	assert.True(t, strings.HasPrefix(b.BalanceID, "bln_"))

	b.Apply(5000)
	assert.Equal(t, int64(5000), b.AvailableBalance)
	assert.Equal(t, int64(5000), b.TotalBalance)

	b.PendingBalance = 200
	b.Apply(-1500)
	assert.Equal(t, int64(3500), b.AvailableBalance)
	assert.Equal(t, int64(3700), b.TotalBalance)

	assert.True(t, b.WouldOverdraw(-3501))
	assert.False(t, b.WouldOverdraw(-3500))
}

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(StatusPending, StatusCompleted))
	assert.True(t, ValidTransition(StatusPending, StatusFailed))
	assert.True(t, ValidTransition(StatusPending, StatusCancelled))

	assert.False(t, ValidTransition(StatusCompleted, StatusFailed))
	assert.False(t, ValidTransition(StatusFailed, StatusPending))
	assert.False(t, ValidTransition(StatusCancelled, StatusCompleted))
	assert.False(t, ValidTransition(StatusPending, StatusPending))
	assert.False(t, ValidTransition(StatusPending, "settled"))
}

func TestEffectOfTransition(t *testing.T) {
	effect, ok := EffectOfTransition(StatusPending, StatusCompleted, EntryKindPayment)
	assert.True(t, ok)
	assert.True(t, effect.MovesMoney)
	assert.Equal(t, EntryKindPayment, effect.Kind)

	effect, ok = EffectOfTransition(StatusPending, StatusCompleted, EntryKindPayout)
	assert.True(t, ok)
	assert.True(t, effect.MovesMoney)
	assert.Equal(t, EntryKindPayout, effect.Kind)

	effect, ok = EffectOfTransition(StatusPending, StatusFailed, EntryKindPayment)
	assert.True(t, ok)
	assert.False(t, effect.MovesMoney)
	assert.Equal(t, EntryKindAdjustment, effect.Kind)

	effect, ok = EffectOfTransition(StatusPending, StatusCancelled, EntryKindPayment)
	assert.True(t, ok)
	assert.False(t, effect.MovesMoney)

	_, ok = EffectOfTransition(StatusCompleted, StatusFailed, EntryKindPayment)
	assert.False(t, ok)
}

func TestNormalizeProviderStatus(t *testing.T) {
	for _, s := range []string{"SUCCESS", "success", "paid", "SUCCESSFUL", "TS", " completed "} {
		assert.Equal(t, StatusCompleted, NormalizeProviderStatus(s), s)
	}
	for _, s := range []string{"FAILED", "cancelled", "expired", "rejected", "TF", "canceled"} {
		assert.Equal(t, StatusFailed, NormalizeProviderStatus(s), s)
	}
	for _, s := range []string{"PROCESSING", "unknown", ""} {
		assert.Equal(t, StatusPending, NormalizeProviderStatus(s), s)
	}
}
