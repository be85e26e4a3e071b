package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pool-api/internal/models"
	"pool-api/internal/repository"
)

// ReconciliationEngine replays the ledger against stored balances. It only
// ever reports discrepancies; correcting one is a manual adjustment with its
// own audit trail.
type ReconciliationEngine interface {
	ReconcileUser(ctx context.Context, userID int64) (*UserReconciliationResult, error)
	ReconcileAll(ctx context.Context, batchSize int) (*BatchReconciliationResult, error)
	VerifyPoolIntegrity(ctx context.Context) (*PoolIntegrityResult, error)
}

type reconciliationEngine struct {
	poolRepo    repository.PoolRepository
	balanceRepo repository.BalanceRepository
	ledgerRepo  repository.LedgerRepository
	tolerance   decimal.Decimal
}

func NewReconciliationEngine(
	poolRepo repository.PoolRepository,
	balanceRepo repository.BalanceRepository,
	ledgerRepo repository.LedgerRepository,
	tolerance decimal.Decimal,
) ReconciliationEngine {
	return &reconciliationEngine{
		poolRepo:    poolRepo,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		tolerance:   tolerance,
	}
}

type UserReconciliationResult struct {
	UserID            int64           `json:"user_id"`
	ActualBalance     decimal.Decimal `json:"actual_balance"`
	CalculatedBalance decimal.Decimal `json:"calculated_balance"`
	Difference        decimal.Decimal `json:"difference"`
	IsReconciled      bool            `json:"is_reconciled"`
	EntryCount        int             `json:"entry_count"`
	ReconciledAt      time.Time       `json:"reconciled_at"`
}

type BatchReconciliationResult struct {
	TotalUsers         int                         `json:"total_users"`
	ReconciledUsers    int                         `json:"reconciled_users"`
	DiscrepanciesFound int                         `json:"discrepancies_found"`
	Discrepancies      []*UserReconciliationResult `json:"discrepancies,omitempty"`
	StartedAt          time.Time                   `json:"started_at"`
	FinishedAt         time.Time                   `json:"finished_at"`
	Events             []models.Event              `json:"-"`
}

type PoolIntegrityResult struct {
	AllocatedBalance decimal.Decimal `json:"allocated_balance"`
	AttributedSum    decimal.Decimal `json:"attributed_sum"`
	Difference       decimal.Decimal `json:"difference"`
	IsConsistent     bool            `json:"is_consistent"`
	UserCount        int             `json:"user_count"`
	CheckedAt        time.Time       `json:"checked_at"`
}

// ReconcileUser replays every ledger entry for the user in order and
// compares the replayed sum against the stored attributed funds. Reserved
// funds count as attributed: an earmark moves money within the balance
// without a ledger entry, so available alone would drift mid-reservation.
func (e *reconciliationEngine) ReconcileUser(ctx context.Context, userID int64) (*UserReconciliationResult, error) {
	balance, err := e.balanceRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries, err := e.ledgerRepo.ListByUser(ctx, repository.LedgerQuery{UserID: userID})
	if err != nil {
		return nil, err
	}

	calculated := decimal.Zero
	for _, entry := range entries {
		calculated = calculated.Add(entry.SignedAmount())
	}

	actual := balance.Available.Add(balance.Reserved)
	difference := actual.Sub(calculated)
	return &UserReconciliationResult{
		UserID:            userID,
		ActualBalance:     actual,
		CalculatedBalance: calculated,
		Difference:        difference,
		IsReconciled:      difference.Abs().LessThan(e.tolerance),
		EntryCount:        len(entries),
		ReconciledAt:      time.Now(),
	}, nil
}

// ReconcileAll sweeps every balance in pages of batchSize. Discrepant users
// are collected for reporting and an alert event is produced when any exist.
func (e *reconciliationEngine) ReconcileAll(ctx context.Context, batchSize int) (*BatchReconciliationResult, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	result := &BatchReconciliationResult{StartedAt: time.Now()}
	offset := 0
	for {
		balances, err := e.balanceRepo.List(ctx, batchSize, offset)
		if err != nil {
			return nil, err
		}
		if len(balances) == 0 {
			break
		}

		for _, balance := range balances {
			result.TotalUsers++
			userResult, err := e.ReconcileUser(ctx, balance.UserID)
			if err != nil {
				continue
			}
			if userResult.IsReconciled {
				result.ReconciledUsers++
			} else {
				result.DiscrepanciesFound++
				result.Discrepancies = append(result.Discrepancies, userResult)
			}
		}

		if len(balances) < batchSize {
			break
		}
		offset += batchSize
	}

	result.FinishedAt = time.Now()
	if result.DiscrepanciesFound > 0 {
		result.Events = append(result.Events, models.NewEvent(models.EventPoolAlert, map[string]interface{}{
			"reason":        "ledger reconciliation found discrepancies",
			"discrepancies": result.DiscrepanciesFound,
			"total_users":   result.TotalUsers,
		}))
	}
	return result, nil
}

// VerifyPoolIntegrity checks the conservation invariant across accounts:
// the pool's allocated share must equal the sum of user available and
// reserved balances.
func (e *reconciliationEngine) VerifyPoolIntegrity(ctx context.Context) (*PoolIntegrityResult, error) {
	pool, err := e.poolRepo.Get(ctx)
	if err != nil {
		return nil, err
	}

	attributed := decimal.Zero
	userCount := 0
	offset := 0
	const pageSize = 500
	for {
		balances, err := e.balanceRepo.List(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(balances) == 0 {
			break
		}
		for _, balance := range balances {
			attributed = attributed.Add(balance.Available).Add(balance.Reserved)
			userCount++
		}
		if len(balances) < pageSize {
			break
		}
		offset += pageSize
	}

	difference := pool.AllocatedBalance.Sub(attributed)
	return &PoolIntegrityResult{
		AllocatedBalance: pool.AllocatedBalance,
		AttributedSum:    attributed,
		Difference:       difference,
		IsConsistent:     difference.Abs().LessThanOrEqual(e.tolerance),
		UserCount:        userCount,
		CheckedAt:        time.Now(),
	}, nil
}
