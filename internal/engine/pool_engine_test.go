package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool-api/internal/models"
)

func TestAllocateToUser(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()

	result, err := h.poolEngine().AllocateToUser(ctx, &AllocateRequest{
		UserID:      42,
		Amount:      decimal.NewFromInt(2500),
		Description: "initial float",
	})
	require.NoError(t, err)

	assert.True(t, result.Pool.AllocatedBalance.Equal(decimal.NewFromInt(2500)))
	assert.True(t, result.Pool.Unallocated().Equal(decimal.NewFromInt(7500)))
	assert.True(t, result.Balance.Available.Equal(decimal.NewFromInt(2500)))

	require.NotNil(t, result.Entry)
	assert.Equal(t, models.OperationCredit, result.Entry.Operation)
	assert.True(t, result.Entry.BalanceBefore.IsZero())
	assert.True(t, result.Entry.BalanceAfter.Equal(decimal.NewFromInt(2500)))

	require.Len(t, result.Events, 1)
	assert.Equal(t, models.EventPoolAllocated, result.Events[0].Name)

	stored, err := h.balanceRepo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, stored.Available.Equal(decimal.NewFromInt(2500)))
}

func TestAllocateToUserInsufficientHeadroom(t *testing.T) {
	h := newHarness(decimal.NewFromInt(100))
	ctx := context.Background()

	_, err := h.poolEngine().AllocateToUser(ctx, &AllocateRequest{
		UserID: 42,
		Amount: decimal.NewFromInt(500),
	})
	require.Error(t, err)
	assert.True(t, models.IsInsufficientFunds(err))

	pool, err := h.poolRepo.Get(ctx)
	require.NoError(t, err)
	assert.True(t, pool.AllocatedBalance.IsZero())
	assert.Empty(t, h.ledgerRepo.byUser(42))
}

func TestAllocateRejectsNonPositiveAmount(t *testing.T) {
	h := newHarness(decimal.NewFromInt(100))

	_, err := h.poolEngine().AllocateToUser(context.Background(), &AllocateRequest{
		UserID: 42,
		Amount: decimal.Zero,
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestDeallocateFromUser(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(3000)))

	result, err := h.poolEngine().DeallocateFromUser(ctx, &DeallocateRequest{
		UserID: 42,
		Amount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	assert.True(t, result.Balance.Available.Equal(decimal.NewFromInt(2000)))
	assert.True(t, result.Pool.AllocatedBalance.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, models.OperationDebit, result.Entry.Operation)

	entries := h.ledgerRepo.byUser(42)
	require.Len(t, entries, 2)
}

func TestDeallocateMoreThanAvailable(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(100)))

	_, err := h.poolEngine().DeallocateFromUser(context.Background(), &DeallocateRequest{
		UserID: 42,
		Amount: decimal.NewFromInt(200),
	})
	require.Error(t, err)
	assert.True(t, models.IsInsufficientFunds(err))
}

func TestAddAndRemoveFunds(t *testing.T) {
	h := newHarness(decimal.NewFromInt(1000))
	ctx := context.Background()
	eng := h.poolEngine()

	added, err := eng.AddFunds(ctx, &PoolFundsRequest{Amount: decimal.NewFromInt(500), RequestedBy: "ops"})
	require.NoError(t, err)
	assert.True(t, added.Pool.TotalBalance.Equal(decimal.NewFromInt(1500)))

	removed, err := eng.RemoveFunds(ctx, &PoolFundsRequest{Amount: decimal.NewFromInt(1500), RequestedBy: "ops"})
	require.NoError(t, err)
	assert.True(t, removed.Pool.TotalBalance.IsZero())
}

func TestRemoveFundsRefusesAttributedMoney(t *testing.T) {
	h := newHarness(decimal.NewFromInt(1000))
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(800)))

	_, err := h.poolEngine().RemoveFunds(context.Background(), &PoolFundsRequest{
		Amount:      decimal.NewFromInt(500),
		RequestedBy: "ops",
	})
	require.Error(t, err)
	assert.True(t, models.IsInsufficientFunds(err))
}

func TestPoolHealthGrades(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		h := newHarness(decimal.NewFromInt(100000))
		health, err := h.poolEngine().Health(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.PoolHealthy, health.Status)
		assert.Empty(t, health.Events)
	})

	t.Run("warning on low headroom", func(t *testing.T) {
		h := newHarness(decimal.NewFromInt(100000))
		require.NoError(t, h.seedUser(1, decimal.NewFromInt(97000)))
		health, err := h.poolEngine().Health(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.PoolWarning, health.Status)
	})

	t.Run("heavy allocation is a warning, not critical", func(t *testing.T) {
		h := newHarness(decimal.NewFromInt(100000))
		require.NoError(t, h.seedUser(1, decimal.NewFromInt(99500)))
		health, err := h.poolEngine().Health(ctx)
		require.NoError(t, err)
		// Headroom is nearly gone, but the custodial total is intact.
		assert.Equal(t, models.PoolWarning, health.Status)
		assert.Empty(t, health.Events)
	})

	t.Run("critical when total falls below alert threshold", func(t *testing.T) {
		h := newHarness(decimal.NewFromInt(500))
		health, err := h.poolEngine().Health(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.PoolCritical, health.Status)
		require.Len(t, health.Events, 1)
		assert.Equal(t, models.EventPoolAlert, health.Events[0].Name)
	})
}

func TestReconcileWithGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("in sync within tolerance", func(t *testing.T) {
		h := newHarness(decimal.NewFromInt(10000))
		result, err := h.poolEngine().ReconcileWithGateway(ctx, decimal.NewFromFloat(10000.005))
		require.NoError(t, err)
		assert.True(t, result.InSync)
		require.Len(t, result.Events, 1)
		assert.Equal(t, models.EventPoolReconciled, result.Events[0].Name)
	})

	t.Run("mismatch adopts the gateway balance", func(t *testing.T) {
		h := newHarness(decimal.NewFromInt(10000))
		result, err := h.poolEngine().ReconcileWithGateway(ctx, decimal.NewFromInt(9900))
		require.NoError(t, err)
		assert.False(t, result.InSync)
		assert.True(t, result.Corrected)
		assert.False(t, result.Critical)
		assert.True(t, result.Difference.Equal(decimal.NewFromInt(-100)))
		require.Len(t, result.Events, 1)
		assert.Equal(t, models.EventPoolAlert, result.Events[0].Name)

		// The gateway is authoritative: the recorded total is overwritten.
		pool, err := h.poolRepo.Get(ctx)
		require.NoError(t, err)
		assert.True(t, pool.TotalBalance.Equal(decimal.NewFromInt(9900)))
	})

	t.Run("gap above alert threshold is critical", func(t *testing.T) {
		h := newHarness(decimal.NewFromInt(10000))
		result, err := h.poolEngine().ReconcileWithGateway(ctx, decimal.NewFromInt(5000))
		require.NoError(t, err)
		assert.True(t, result.Corrected)
		assert.True(t, result.Critical)

		pool, err := h.poolRepo.Get(ctx)
		require.NoError(t, err)
		assert.True(t, pool.TotalBalance.Equal(decimal.NewFromInt(5000)))
	})
}

func TestPoolStatus(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	require.NoError(t, h.seedUser(42, decimal.NewFromInt(2500)))

	status, err := h.poolEngine().Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Unallocated.Equal(decimal.NewFromInt(7500)))
	assert.True(t, status.AllocationPercent.Equal(decimal.NewFromInt(25)))
}

func TestPoolReserveAndReleaseHeadroom(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))
	ctx := context.Background()

	_, err := h.poolEngine().ReserveFunds(ctx, &PoolFundsRequest{
		Amount:      decimal.NewFromInt(8000),
		RequestedBy: "ops",
	})
	require.NoError(t, err)

	status, err := h.poolEngine().Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Unallocated.Equal(decimal.NewFromInt(2000)))

	// The earmark shrinks what can be attributed to users.
	_, err = h.poolEngine().AllocateToUser(ctx, &AllocateRequest{
		UserID: 42,
		Amount: decimal.NewFromInt(2500),
	})
	var insufficientErr *models.InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)

	_, err = h.poolEngine().ReleaseFunds(ctx, &PoolFundsRequest{
		Amount:      decimal.NewFromInt(8000),
		RequestedBy: "ops",
	})
	require.NoError(t, err)

	_, err = h.poolEngine().AllocateToUser(ctx, &AllocateRequest{
		UserID: 42,
		Amount: decimal.NewFromInt(2500),
	})
	require.NoError(t, err)
}

func TestPoolReleaseMoreThanReserved(t *testing.T) {
	h := newHarness(decimal.NewFromInt(10000))

	_, err := h.poolEngine().ReleaseFunds(context.Background(), &PoolFundsRequest{
		Amount:      decimal.NewFromInt(1),
		RequestedBy: "ops",
	})
	assert.True(t, models.IsInsufficientFunds(err))
}
