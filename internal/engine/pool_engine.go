package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pool-api/internal/models"
	"pool-api/internal/repository"
)

// PoolEngine owns the custodial pool account: attribution of pool funds to
// users, admin-level fund movements and supervision of the pool's health.
// Every compound movement runs inside one storage transaction so the
// conservation invariant (allocated + reserved <= total, user balances
// backed by allocations) holds at every commit point.
type PoolEngine interface {
	AllocateToUser(ctx context.Context, req *AllocateRequest) (*AllocateResult, error)
	DeallocateFromUser(ctx context.Context, req *DeallocateRequest) (*DeallocateResult, error)
	AddFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error)
	RemoveFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error)
	ReserveFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error)
	ReleaseFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error)
	Status(ctx context.Context) (*PoolStatusResult, error)
	Health(ctx context.Context) (*PoolHealthResult, error)
	ReconcileWithGateway(ctx context.Context, reported decimal.Decimal) (*GatewayReconcileResult, error)
}

// PoolEngineConfig carries the supervision thresholds.
type PoolEngineConfig struct {
	Currency            string
	WarningUnallocated  decimal.Decimal
	WarningAllocatedPct decimal.Decimal
	AlertThreshold      decimal.Decimal
	Tolerance           decimal.Decimal
}

type poolEngine struct {
	poolRepo    repository.PoolRepository
	balanceRepo repository.BalanceRepository
	ledgerRepo  repository.LedgerRepository
	txRunner    repository.TxRunner
	cfg         PoolEngineConfig
}

func NewPoolEngine(
	poolRepo repository.PoolRepository,
	balanceRepo repository.BalanceRepository,
	ledgerRepo repository.LedgerRepository,
	txRunner repository.TxRunner,
	cfg PoolEngineConfig,
) PoolEngine {
	return &poolEngine{
		poolRepo:    poolRepo,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		txRunner:    txRunner,
		cfg:         cfg,
	}
}

type AllocateRequest struct {
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type AllocateResult struct {
	Pool    *models.PoolAccount `json:"pool"`
	Balance *models.UserBalance `json:"balance"`
	Entry   *models.LedgerEntry `json:"entry"`
	Events  []models.Event      `json:"-"`
}

type DeallocateRequest struct {
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type DeallocateResult struct {
	Pool    *models.PoolAccount `json:"pool"`
	Balance *models.UserBalance `json:"balance"`
	Entry   *models.LedgerEntry `json:"entry"`
	Events  []models.Event      `json:"-"`
}

type PoolFundsRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	RequestedBy string          `json:"requested_by"`
}

type PoolFundsResult struct {
	Pool   *models.PoolAccount `json:"pool"`
	Events []models.Event      `json:"-"`
}

type PoolStatusResult struct {
	Pool              *models.PoolAccount `json:"pool"`
	Unallocated       decimal.Decimal     `json:"unallocated"`
	AllocationPercent decimal.Decimal     `json:"allocation_percent"`
}

type PoolHealthResult struct {
	Status            string          `json:"status"`
	Unallocated       decimal.Decimal `json:"unallocated"`
	AllocationPercent decimal.Decimal `json:"allocation_percent"`
	Reasons           []string        `json:"reasons,omitempty"`
	Events            []models.Event  `json:"-"`
}

type GatewayReconcileResult struct {
	ReportedBalance decimal.Decimal `json:"reported_balance"`
	RecordedBalance decimal.Decimal `json:"recorded_balance"`
	Difference      decimal.Decimal `json:"difference"`
	InSync          bool            `json:"in_sync"`
	Corrected       bool            `json:"corrected"`
	Critical        bool            `json:"critical"`
	SyncedAt        time.Time       `json:"synced_at"`
	Events          []models.Event  `json:"-"`
}

// AllocateToUser moves amount from the pool's unallocated headroom into a
// user's available balance, writing the matching ledger credit in the same
// transaction.
func (e *poolEngine) AllocateToUser(ctx context.Context, req *AllocateRequest) (*AllocateResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result := &AllocateResult{}
	err := e.txRunner.WithTransaction(ctx, "pool.allocate", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		if err := pool.Allocate(req.Amount); err != nil {
			return err
		}

		balance, err := e.balanceRepo.GetOrCreate(ctx, req.UserID, pool.Currency)
		if err != nil {
			return err
		}
		balance.Credit(req.Amount)

		entry, err := models.NewLedgerEntry(req.UserID, models.EntryAdjustment, models.OperationCredit, 0,
			req.Amount, balance.Available.Sub(req.Amount), req.Description)
		if err != nil {
			return err
		}

		if err := e.poolRepo.Update(ctx, pool); err != nil {
			return err
		}
		if err := e.balanceRepo.Update(ctx, balance); err != nil {
			return err
		}
		if err := e.ledgerRepo.Insert(ctx, entry); err != nil {
			return err
		}

		result.Pool = pool
		result.Balance = balance
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventPoolAllocated, map[string]interface{}{
		"user_id": req.UserID,
		"amount":  req.Amount.String(),
	}))
	return result, nil
}

// DeallocateFromUser returns amount from a user's available balance to the
// pool's unallocated headroom.
func (e *poolEngine) DeallocateFromUser(ctx context.Context, req *DeallocateRequest) (*DeallocateResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result := &DeallocateResult{}
	err := e.txRunner.WithTransaction(ctx, "pool.deallocate", func(ctx context.Context) error {
		balance, err := e.balanceRepo.GetByUserID(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := balance.Debit(req.Amount); err != nil {
			return err
		}

		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		if err := pool.Deallocate(req.Amount); err != nil {
			return err
		}

		entry, err := models.NewLedgerEntry(req.UserID, models.EntryAdjustment, models.OperationDebit, 0,
			req.Amount, balance.Available.Add(req.Amount), req.Description)
		if err != nil {
			return err
		}

		if err := e.poolRepo.Update(ctx, pool); err != nil {
			return err
		}
		if err := e.balanceRepo.Update(ctx, balance); err != nil {
			return err
		}
		if err := e.ledgerRepo.Insert(ctx, entry); err != nil {
			return err
		}

		result.Pool = pool
		result.Balance = balance
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventPoolDeallocated, map[string]interface{}{
		"user_id": req.UserID,
		"amount":  req.Amount.String(),
	}))
	return result, nil
}

// AddFunds records an admin top-up of the custodial total.
func (e *poolEngine) AddFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result := &PoolFundsResult{}
	err := e.txRunner.WithTransaction(ctx, "pool.add_funds", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		pool.AddFunds(req.Amount)
		if err := e.poolRepo.Update(ctx, pool); err != nil {
			return err
		}
		result.Pool = pool
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventPoolFundsAdded, map[string]interface{}{
		"amount":       req.Amount.String(),
		"requested_by": req.RequestedBy,
	}))
	return result, nil
}

// RemoveFunds withdraws unallocated headroom from the custodial total. It
// refuses to dip into funds attributed or reserved to users.
func (e *poolEngine) RemoveFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result := &PoolFundsResult{}
	err := e.txRunner.WithTransaction(ctx, "pool.remove_funds", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		if err := pool.RemoveFunds(req.Amount); err != nil {
			return err
		}
		if err := e.poolRepo.Update(ctx, pool); err != nil {
			return err
		}
		result.Pool = pool
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventPoolFundsRemoved, map[string]interface{}{
		"amount":       req.Amount.String(),
		"requested_by": req.RequestedBy,
	}))
	return result, nil
}

// ReserveFunds earmarks unallocated headroom at the pool level so a
// multi-step operation cannot be starved by concurrent allocations.
func (e *poolEngine) ReserveFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result := &PoolFundsResult{}
	err := e.txRunner.WithTransaction(ctx, "pool.reserve", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		if err := pool.Reserve(req.Amount); err != nil {
			return err
		}
		if err := e.poolRepo.Update(ctx, pool); err != nil {
			return err
		}
		result.Pool = pool
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseFunds returns a pool-level earmark to unallocated headroom.
func (e *poolEngine) ReleaseFunds(ctx context.Context, req *PoolFundsRequest) (*PoolFundsResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result := &PoolFundsResult{}
	err := e.txRunner.WithTransaction(ctx, "pool.release", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		if err := pool.Release(req.Amount); err != nil {
			return err
		}
		if err := e.poolRepo.Update(ctx, pool); err != nil {
			return err
		}
		result.Pool = pool
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *poolEngine) Status(ctx context.Context) (*PoolStatusResult, error) {
	pool, err := e.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &PoolStatusResult{
		Pool:              pool,
		Unallocated:       pool.Unallocated(),
		AllocationPercent: pool.AllocationPercent(),
	}, nil
}

// Health grades the pool against the configured thresholds. Critical means
// the custodial total fell below the alert threshold; warning covers low
// unallocated headroom or a high allocation share.
func (e *poolEngine) Health(ctx context.Context) (*PoolHealthResult, error) {
	pool, err := e.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}

	unallocated := pool.Unallocated()
	allocationPct := pool.AllocationPercent()

	result := &PoolHealthResult{
		Status:            models.PoolHealthy,
		Unallocated:       unallocated,
		AllocationPercent: allocationPct,
	}

	if pool.TotalBalance.LessThan(e.cfg.AlertThreshold) {
		result.Status = models.PoolCritical
		result.Reasons = append(result.Reasons, "total balance below alert threshold")
	} else {
		if unallocated.LessThan(e.cfg.WarningUnallocated) {
			result.Status = models.PoolWarning
			result.Reasons = append(result.Reasons, "unallocated funds running low")
		}
		if allocationPct.GreaterThan(e.cfg.WarningAllocatedPct) {
			result.Status = models.PoolWarning
			result.Reasons = append(result.Reasons, "allocation share above warning threshold")
		}
	}

	if result.Status == models.PoolCritical {
		result.Events = append(result.Events, models.NewEvent(models.EventPoolAlert, map[string]interface{}{
			"status":      result.Status,
			"unallocated": unallocated.String(),
		}))
	}
	return result, nil
}

// ReconcileWithGateway compares the recorded custodial total against the
// balance the payment gateway reports. The gateway is authoritative: when
// the gap exceeds the tolerance the recorded total is overwritten with the
// reported balance, and the discrepancy is flagged critical when it also
// exceeds the alert threshold.
func (e *poolEngine) ReconcileWithGateway(ctx context.Context, reported decimal.Decimal) (*GatewayReconcileResult, error) {
	syncedAt := time.Now()
	result := &GatewayReconcileResult{
		ReportedBalance: reported,
		SyncedAt:        syncedAt,
	}

	err := e.txRunner.WithTransaction(ctx, "pool.reconcile_gateway", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}

		result.RecordedBalance = pool.TotalBalance
		result.Difference = reported.Sub(pool.TotalBalance)
		result.InSync = result.Difference.Abs().LessThanOrEqual(e.cfg.Tolerance)
		if result.InSync {
			return e.poolRepo.UpdateSyncTime(ctx, syncedAt)
		}

		pool.TotalBalance = reported
		pool.LastSyncedAt = syncedAt
		result.Corrected = true
		return e.poolRepo.Update(ctx, pool)
	})
	if err != nil {
		return nil, err
	}

	if result.InSync {
		result.Events = append(result.Events, models.NewEvent(models.EventPoolReconciled, map[string]interface{}{
			"recorded": result.RecordedBalance.String(),
			"reported": reported.String(),
		}))
		return result, nil
	}

	result.Critical = result.Difference.Abs().GreaterThan(e.cfg.AlertThreshold)
	result.Events = append(result.Events, models.NewEvent(models.EventPoolAlert, map[string]interface{}{
		"reason":     "gateway balance mismatch",
		"recorded":   result.RecordedBalance.String(),
		"reported":   reported.String(),
		"difference": result.Difference.String(),
		"critical":   result.Critical,
	}))
	return result, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}
