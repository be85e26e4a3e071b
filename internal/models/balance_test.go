package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceReserveSettleCycle(t *testing.T) {
	balance := NewUserBalance(1, "NGN")
	balance.Credit(decimal.NewFromInt(1000))

	require.NoError(t, balance.ReserveFromAvailable(decimal.NewFromInt(400)))
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(600)))
	assert.True(t, balance.Reserved.Equal(decimal.NewFromInt(400)))

	// Settling clears the reservation without crediting back.
	require.NoError(t, balance.CompleteReserved(decimal.NewFromInt(400)))
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(600)))
	assert.True(t, balance.Reserved.IsZero())
}

func TestBalanceReserveReleaseCycle(t *testing.T) {
	balance := NewUserBalance(1, "NGN")
	balance.Credit(decimal.NewFromInt(1000))

	require.NoError(t, balance.ReserveFromAvailable(decimal.NewFromInt(400)))
	require.NoError(t, balance.ReleaseReserved(decimal.NewFromInt(400)))
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(1000)))
	assert.True(t, balance.Reserved.IsZero())
}

func TestBalanceInsufficientFunds(t *testing.T) {
	balance := NewUserBalance(1, "NGN")
	balance.Credit(decimal.NewFromInt(100))

	assert.True(t, IsInsufficientFunds(balance.Debit(decimal.NewFromInt(200))))
	assert.True(t, IsInsufficientFunds(balance.ReserveFromAvailable(decimal.NewFromInt(200))))
	assert.True(t, IsInsufficientFunds(balance.CompleteReserved(decimal.NewFromInt(1))))
	assert.True(t, IsInsufficientFunds(balance.ReleaseReserved(decimal.NewFromInt(1))))

	// The failed calls changed nothing.
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(100)))
	assert.True(t, balance.Reserved.IsZero())
}

func TestBalancePendingLifecycle(t *testing.T) {
	balance := NewUserBalance(1, "NGN")

	balance.MoveToPending(decimal.NewFromInt(500))
	assert.True(t, balance.Pending.Equal(decimal.NewFromInt(500)))

	require.NoError(t, balance.ApprovePending(decimal.NewFromInt(500)))
	assert.True(t, balance.Pending.IsZero())
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(500)))
	assert.True(t, balance.TotalEarned.Equal(decimal.NewFromInt(500)))

	balance.MoveToPending(decimal.NewFromInt(200))
	require.NoError(t, balance.RejectPending(decimal.NewFromInt(200)))
	assert.True(t, balance.Pending.IsZero())
	assert.True(t, balance.TotalEarned.Equal(decimal.NewFromInt(500)))

	assert.True(t, IsInsufficientFunds(balance.ApprovePending(decimal.NewFromInt(1))))
}

func TestBalanceValidate(t *testing.T) {
	balance := NewUserBalance(1, "NGN")
	assert.NoError(t, balance.Validate())

	balance.Available = decimal.NewFromInt(-1)
	assert.Error(t, balance.Validate())

	assert.Error(t, NewUserBalance(0, "NGN").Validate())
	assert.Error(t, NewUserBalance(1, "").Validate())
}
