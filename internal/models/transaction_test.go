package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRefunded, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusProcessing, true},
		{StatusFailed, StatusCompleted, false},
		{StatusRefunded, StatusCompleted, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusRefunded.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusFailed.IsTerminal())
}

func TestTransitionToStampsTimes(t *testing.T) {
	tx := NewTransaction(1, TypeSale, decimal.NewFromInt(100), "NGN", "test")
	require.Equal(t, StatusPending, tx.Status)

	require.NoError(t, tx.TransitionTo(StatusProcessing))
	require.NoError(t, tx.TransitionTo(StatusCompleted))
	require.NotNil(t, tx.CompletedAt)
	assert.Nil(t, tx.FailedAt)

	err := tx.TransitionTo(StatusCompleted)
	require.Error(t, err)
	var transitionErr *InvalidStateTransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestMarkFailed(t *testing.T) {
	tx := NewTransaction(1, TypeSale, decimal.NewFromInt(100), "NGN", "test")
	require.NoError(t, tx.MarkFailed("insufficient funds"))
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, "insufficient funds", tx.FailureReason)
	assert.NotNil(t, tx.FailedAt)
}

func TestRefundable(t *testing.T) {
	sale := NewTransaction(1, TypeSale, decimal.NewFromInt(100), "NGN", "")
	assert.False(t, sale.Refundable())

	require.NoError(t, sale.TransitionTo(StatusCompleted))
	assert.True(t, sale.Refundable())

	deposit := NewTransaction(1, TypeDeposit, decimal.NewFromInt(100), "NGN", "")
	require.NoError(t, deposit.TransitionTo(StatusCompleted))
	assert.False(t, deposit.Refundable())
}

func TestTransactionValidate(t *testing.T) {
	tx := NewTransaction(1, TypeSale, decimal.NewFromInt(100), "NGN", "")
	assert.NoError(t, tx.Validate())

	tx.Amount = decimal.Zero
	assert.Error(t, tx.Validate())

	tx = NewTransaction(0, TypeSale, decimal.NewFromInt(100), "NGN", "")
	assert.Error(t, tx.Validate())

	tx = NewTransaction(1, "UNKNOWN", decimal.NewFromInt(100), "NGN", "")
	assert.Error(t, tx.Validate())
}
