package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLedgerEntryComputesBalanceAfter(t *testing.T) {
	credit, err := NewLedgerEntry(1, EntryDeposit, OperationCredit, 0,
		decimal.NewFromInt(100), decimal.NewFromInt(50), "deposit")
	require.NoError(t, err)
	assert.True(t, credit.BalanceAfter.Equal(decimal.NewFromInt(150)))

	debit, err := NewLedgerEntry(1, EntrySale, OperationDebit, 0,
		decimal.NewFromInt(30), decimal.NewFromInt(150), "sale")
	require.NoError(t, err)
	assert.True(t, debit.BalanceAfter.Equal(decimal.NewFromInt(120)))

	down, err := NewLedgerEntry(1, EntryAdjustment, OperationAdjustment, DirectionDown,
		decimal.NewFromInt(20), decimal.NewFromInt(120), "correction")
	require.NoError(t, err)
	assert.True(t, down.BalanceAfter.Equal(decimal.NewFromInt(100)))
}

func TestNewLedgerEntryRejectsBadInput(t *testing.T) {
	_, err := NewLedgerEntry(1, EntrySale, OperationDebit, 0,
		decimal.Zero, decimal.NewFromInt(100), "")
	assert.True(t, IsValidation(err))

	_, err = NewLedgerEntry(1, EntrySale, OperationDebit, 0,
		decimal.NewFromInt(-5), decimal.NewFromInt(100), "")
	assert.True(t, IsValidation(err))

	_, err = NewLedgerEntry(1, EntryAdjustment, OperationAdjustment, 0,
		decimal.NewFromInt(5), decimal.NewFromInt(100), "")
	assert.True(t, IsValidation(err))

	_, err = NewLedgerEntry(1, EntrySale, Operation("transfer"), 0,
		decimal.NewFromInt(5), decimal.NewFromInt(100), "")
	assert.True(t, IsValidation(err))
}

func TestSignedAmount(t *testing.T) {
	amount := decimal.NewFromInt(40)
	before := decimal.NewFromInt(100)

	credit, err := NewLedgerEntry(1, EntryRefund, OperationCredit, 0, amount, before, "")
	require.NoError(t, err)
	assert.True(t, credit.SignedAmount().Equal(amount))

	debit, err := NewLedgerEntry(1, EntrySale, OperationDebit, 0, amount, before, "")
	require.NoError(t, err)
	assert.True(t, debit.SignedAmount().Equal(amount.Neg()))

	up, err := NewLedgerEntry(1, EntryAdjustment, OperationAdjustment, DirectionUp, amount, before, "")
	require.NoError(t, err)
	assert.True(t, up.SignedAmount().Equal(amount))

	down, err := NewLedgerEntry(1, EntryAdjustment, OperationAdjustment, DirectionDown, amount, before, "")
	require.NoError(t, err)
	assert.True(t, down.SignedAmount().Equal(amount.Neg()))
}

// A replay of signed amounts must land on the final balance_after, the
// property reconciliation depends on.
func TestReplayReproducesBalance(t *testing.T) {
	balance := decimal.Zero
	replayed := decimal.Zero
	steps := []struct {
		entryType EntryType
		op        Operation
		direction int
		amount    int64
	}{
		{EntryDeposit, OperationCredit, 0, 1000},
		{EntrySale, OperationDebit, 0, 300},
		{EntryAdjustment, OperationAdjustment, DirectionUp, 50},
		{EntryRefund, OperationCredit, 0, 100},
		{EntryAdjustment, OperationAdjustment, DirectionDown, 25},
	}

	for _, step := range steps {
		entry, err := NewLedgerEntry(1, step.entryType, step.op, step.direction,
			decimal.NewFromInt(step.amount), balance, "")
		require.NoError(t, err)
		balance = entry.BalanceAfter
		replayed = replayed.Add(entry.SignedAmount())
	}

	assert.True(t, replayed.Equal(balance))
	assert.True(t, balance.Equal(decimal.NewFromInt(825)))
}
