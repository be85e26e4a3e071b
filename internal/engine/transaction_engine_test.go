package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool-api/internal/models"
)

func TestProcessSale(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(5000)))

	result, err := h.transactionEngine().ProcessSale(ctx, &SaleRequest{
		UserID:      42,
		Amount:      decimal.NewFromInt(1200),
		Description: "order 991",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.StatusCompleted, result.Transaction.Status)

	// Available drops exactly once and nothing stays reserved.
	assert.True(t, result.Balance.Available.Equal(decimal.NewFromInt(3800)))
	assert.True(t, result.Balance.Reserved.IsZero())

	// The settled amount returned to the pool's unallocated share.
	pool, err := h.poolRepo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, pool.AllocatedBalance.Equal(decimal.NewFromInt(3800)))
	assert.True(t, pool.TotalBalance.Equal(decimal.NewFromInt(10000)))

	// Exactly one SALE debit entry, linked to the transaction.
	var sales []*models.LedgerEntry
	for _, entry := range h.ledgerRepo.byUser(42) {
		if entry.EntryType == models.EntrySale {
			sales = append(sales, entry)
		}
	}
	require.Len(t, sales, 1)
	assert.Equal(t, models.OperationDebit, sales[0].Operation)
	assert.True(t, sales[0].BalanceBefore.Equal(decimal.NewFromInt(5000)))
	assert.True(t, sales[0].BalanceAfter.Equal(decimal.NewFromInt(3800)))
	assert.Equal(t, result.Transaction.TransactionID, sales[0].Metadata["transaction_id"])

	require.Len(t, result.Events, 2)
	assert.Equal(t, models.EventTransactionCreated, result.Events[0].Name)
	assert.Equal(t, models.EventTransactionCompleted, result.Events[1].Name)
}

func TestProcessSaleInsufficientFunds(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(500)))

	result, err := h.transactionEngine().ProcessSale(ctx, &SaleRequest{
		UserID: 42,
		Amount: decimal.NewFromInt(800),
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)

	// The attempt is recorded as FAILED while every balance stays put.
	stored, err := h.txRepo.GetByTransactionID(ctx, result.Transaction.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)

	balance, err := h.balanceRepo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(500)))
	assert.True(t, balance.Reserved.IsZero())

	pool, err := h.poolRepo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, pool.AllocatedBalance.Equal(decimal.NewFromInt(500)))

	// No SALE ledger entry for a failed sale.
	for _, entry := range h.ledgerRepo.byUser(42) {
		assert.NotEqual(t, models.EntrySale, entry.EntryType)
	}

	require.Len(t, result.Events, 2)
	assert.Equal(t, models.EventTransactionFailed, result.Events[1].Name)
}

func TestProcessSaleBounds(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	eng := h.transactionEngine()
	ctx := context.Background()

	_, err := eng.ProcessSale(ctx, &SaleRequest{UserID: 42, Amount: decimal.NewFromFloat(0.001)})
	assert.True(t, models.IsValidation(err))

	_, err = eng.ProcessSale(ctx, &SaleRequest{UserID: 42, Amount: decimal.NewFromInt(2000000)})
	assert.True(t, models.IsValidation(err))

	_, err = eng.ProcessSale(ctx, &SaleRequest{UserID: 42, Amount: decimal.NewFromInt(-5)})
	assert.True(t, models.IsValidation(err))
}

func TestProcessSaleIdempotentReplay(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(5000)))
	eng := h.transactionEngine()

	first, err := eng.ProcessSale(ctx, &SaleRequest{
		UserID:         42,
		Amount:         decimal.NewFromInt(1000),
		IdempotencyKey: "sale-abc",
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := eng.ProcessSale(ctx, &SaleRequest{
		UserID:         42,
		Amount:         decimal.NewFromInt(1000),
		IdempotencyKey: "sale-abc",
	})
	require.NoError(t, err)
	assert.True(t, second.WasIdempotent)
	assert.Equal(t, first.Transaction.TransactionID, second.Transaction.TransactionID)

	// The replay moved no funds.
	balance, err := h.balanceRepo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(4000)))
}

func TestProcessRefundFull(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(5000)))
	eng := h.transactionEngine()

	sale, err := eng.ProcessSale(ctx, &SaleRequest{UserID: 42, Amount: decimal.NewFromInt(1200)})
	require.NoError(t, err)
	require.True(t, sale.Success)

	refund, err := eng.ProcessRefund(ctx, &RefundRequest{
		TransactionID: sale.Transaction.TransactionID,
		Reason:        "customer dispute",
	})
	require.NoError(t, err)
	require.True(t, refund.Success)

	// Full refund restores the balance and retires the original.
	assert.True(t, refund.Refund.Amount.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, models.StatusRefunded, refund.Original.Status)
	assert.Equal(t, sale.Transaction.TransactionID, refund.Refund.ParentTransactionID)

	balance, err := h.balanceRepo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(5000)))

	pool, err := h.poolRepo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, pool.AllocatedBalance.Equal(decimal.NewFromInt(5000)))
}

func TestProcessRefundPartial(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(5000)))
	eng := h.transactionEngine()

	sale, err := eng.ProcessSale(ctx, &SaleRequest{UserID: 42, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	first, err := eng.ProcessRefund(ctx, &RefundRequest{
		TransactionID: sale.Transaction.TransactionID,
		Amount:        decimal.NewFromInt(300),
		Reason:        "partial return",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, first.Original.Status)

	// A second partial refund above the remainder is rejected.
	_, err = eng.ProcessRefund(ctx, &RefundRequest{
		TransactionID: sale.Transaction.TransactionID,
		Amount:        decimal.NewFromInt(800),
		Reason:        "too much",
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	// Refunding the exact remainder retires the original.
	second, err := eng.ProcessRefund(ctx, &RefundRequest{
		TransactionID: sale.Transaction.TransactionID,
		Amount:        decimal.NewFromInt(700),
		Reason:        "remainder",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, second.Original.Status)

	balance, err := h.balanceRepo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.NewFromInt(5000)))
}

func TestProcessRefundRequiresCompletedSale(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(100)))
	eng := h.transactionEngine()

	// A failed sale is not refundable.
	failed, err := eng.ProcessSale(ctx, &SaleRequest{UserID: 42, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)
	require.False(t, failed.Success)

	_, err = eng.ProcessRefund(ctx, &RefundRequest{
		TransactionID: failed.Transaction.TransactionID,
		Reason:        "nope",
	})
	require.Error(t, err)
	var transitionErr *models.InvalidStateTransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestDepositLifecycle(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	eng := h.transactionEngine()

	initiated, err := eng.InitiateDeposit(ctx, &DepositRequest{
		UserID:      7,
		Amount:      decimal.NewFromInt(2000),
		Description: "bank transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, initiated.Transaction.Status)
	assert.True(t, initiated.Balance.Pending.Equal(decimal.NewFromInt(2000)))
	require.Len(t, initiated.Events, 1)
	assert.Equal(t, models.EventDepositInitiated, initiated.Events[0].Name)

	approved, err := eng.ApproveDeposit(ctx, &DepositDecisionRequest{
		TransactionID: initiated.Transaction.TransactionID,
		DecidedBy:     "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, approved.Transaction.Status)
	assert.True(t, approved.Balance.Pending.IsZero())
	assert.True(t, approved.Balance.Available.Equal(decimal.NewFromInt(2000)))
	assert.True(t, approved.Balance.TotalEarned.Equal(decimal.NewFromInt(2000)))

	// The custodial total grew and the amount is attributed.
	pool, err := h.poolRepo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, pool.TotalBalance.Equal(decimal.NewFromInt(12000)))
	assert.True(t, pool.AllocatedBalance.Equal(decimal.NewFromInt(2000)))

	entries := h.ledgerRepo.byUser(7)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryDeposit, entries[0].EntryType)
	assert.Equal(t, "ops", entries[0].Metadata["approved_by"])

	// Already decided deposits cannot be approved again.
	_, err = eng.ApproveDeposit(ctx, &DepositDecisionRequest{
		TransactionID: initiated.Transaction.TransactionID,
		DecidedBy:     "ops",
	})
	require.Error(t, err)
}

func TestRejectDeposit(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	eng := h.transactionEngine()

	initiated, err := eng.InitiateDeposit(ctx, &DepositRequest{
		UserID: 7,
		Amount: decimal.NewFromInt(2000),
	})
	require.NoError(t, err)

	rejected, err := eng.RejectDeposit(ctx, &DepositDecisionRequest{
		TransactionID: initiated.Transaction.TransactionID,
		DecidedBy:     "ops",
		Reason:        "source unverified",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rejected.Transaction.Status)
	assert.Equal(t, "source unverified", rejected.Transaction.FailureReason)
	assert.True(t, rejected.Balance.Pending.IsZero())
	assert.True(t, rejected.Balance.Available.IsZero())

	// Nothing reached the pool.
	pool, err := h.poolRepo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, pool.TotalBalance.Equal(decimal.NewFromInt(10000)))
	assert.Empty(t, h.ledgerRepo.byUser(7))
}

func TestCancelTransaction(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	eng := h.transactionEngine()

	initiated, err := eng.InitiateDeposit(ctx, &DepositRequest{
		UserID: 7,
		Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)

	t.Run("another user's deposit looks nonexistent", func(t *testing.T) {
		_, err := eng.CancelTransaction(ctx, &CancelRequest{
			TransactionID: initiated.Transaction.TransactionID,
			UserID:        8,
		})
		assert.ErrorIs(t, err, models.ErrTransactionNotFound)
	})

	t.Run("owner cancels pending deposit", func(t *testing.T) {
		result, err := eng.CancelTransaction(ctx, &CancelRequest{
			TransactionID: initiated.Transaction.TransactionID,
			UserID:        7,
			Reason:        "changed my mind",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, result.Transaction.Status)

		balance, err := h.balanceRepo.GetByUserID(ctx, 7)
		require.NoError(t, err)
		assert.True(t, balance.Pending.IsZero())
	})

	t.Run("cancelled deposit cannot be approved", func(t *testing.T) {
		_, err := eng.ApproveDeposit(ctx, &DepositDecisionRequest{
			TransactionID: initiated.Transaction.TransactionID,
			DecidedBy:     "ops",
		})
		require.Error(t, err)
	})
}

func TestSaleKeepsConservationInvariant(t *testing.T) {
	h := newHarness(decimal.NewFromInt(50000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(1, decimal.NewFromInt(10000)))
	require.NoError(t, h.seedUser(2, decimal.NewFromInt(8000)))
	eng := h.transactionEngine()

	_, err := eng.ProcessSale(ctx, &SaleRequest{UserID: 1, Amount: decimal.NewFromInt(2500)})
	require.NoError(t, err)
	_, err = eng.ProcessSale(ctx, &SaleRequest{UserID: 2, Amount: decimal.NewFromInt(8000)})
	require.NoError(t, err)

	integrity, err := h.reconciliationEngine().VerifyPoolIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, integrity.IsConsistent)
	assert.True(t, integrity.AttributedSum.Equal(decimal.NewFromInt(7500)))
}
