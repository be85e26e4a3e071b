package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pool-api/internal/models"
	"pool-api/internal/repository"
)

// BalanceEngine reads user balances and their audit trail, and applies
// manual adjustments. Regular fund movements go through the pool and
// transaction engines; adjustments exist for support corrections and always
// leave a ledger entry.
type BalanceEngine interface {
	GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error)
	ReserveFunds(ctx context.Context, req *ReserveRequest) (*ReserveResult, error)
	ReleaseReserved(ctx context.Context, req *ReserveRequest) (*ReserveResult, error)
	Adjust(ctx context.Context, req *AdjustRequest) (*AdjustResult, error)
	GetLedger(ctx context.Context, query repository.LedgerQuery) ([]*models.LedgerEntry, error)
	GetLedgerSummary(ctx context.Context, userID int64, start, end time.Time) (*models.LedgerSummary, error)
}

type balanceEngine struct {
	poolRepo    repository.PoolRepository
	balanceRepo repository.BalanceRepository
	ledgerRepo  repository.LedgerRepository
	txRunner    repository.TxRunner
}

func NewBalanceEngine(
	poolRepo repository.PoolRepository,
	balanceRepo repository.BalanceRepository,
	ledgerRepo repository.LedgerRepository,
	txRunner repository.TxRunner,
) BalanceEngine {
	return &balanceEngine{
		poolRepo:    poolRepo,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		txRunner:    txRunner,
	}
}

type AdjustRequest struct {
	UserID int64           `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	// Direction is +1 to credit the user, -1 to debit.
	Direction   int    `json:"direction"`
	Reason      string `json:"reason"`
	AdjustedBy  string `json:"adjusted_by"`
	ReferenceID string `json:"reference_id,omitempty"`
}

type AdjustResult struct {
	Balance *models.UserBalance `json:"balance"`
	Entry   *models.LedgerEntry `json:"entry"`
	Events  []models.Event      `json:"-"`
}

type ReserveRequest struct {
	UserID int64           `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type ReserveResult struct {
	Balance *models.UserBalance `json:"balance"`
}

func (e *balanceEngine) GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	return e.balanceRepo.GetByUserID(ctx, userID)
}

// ReserveFunds earmarks part of a user's available balance. The funds stay
// attributed to the user, so no ledger entry is written until they actually
// move.
func (e *balanceEngine) ReserveFunds(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	result := &ReserveResult{}
	err := e.txRunner.WithTransaction(ctx, "balance.reserve", func(ctx context.Context) error {
		balance, err := e.balanceRepo.GetByUserID(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := balance.ReserveFromAvailable(req.Amount); err != nil {
			return err
		}
		if err := e.balanceRepo.Update(ctx, balance); err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseReserved moves an earmark back to the user's available balance.
func (e *balanceEngine) ReleaseReserved(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	result := &ReserveResult{}
	err := e.txRunner.WithTransaction(ctx, "balance.release", func(ctx context.Context) error {
		balance, err := e.balanceRepo.GetByUserID(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := balance.ReleaseReserved(req.Amount); err != nil {
			return err
		}
		if err := e.balanceRepo.Update(ctx, balance); err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Adjust applies a manual correction to a user's available balance. The pool
// attribution moves with it so conservation holds: an upward adjustment
// consumes unallocated headroom, a downward one returns it.
func (e *balanceEngine) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Direction != models.DirectionUp && req.Direction != models.DirectionDown {
		return nil, &models.ValidationError{Field: "direction", Reason: "must be +1 or -1"}
	}
	if req.Reason == "" {
		return nil, &models.ValidationError{Field: "reason", Reason: "is required"}
	}

	result := &AdjustResult{}
	err := e.txRunner.WithTransaction(ctx, "balance.adjust", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		balance, err := e.balanceRepo.GetOrCreate(ctx, req.UserID, pool.Currency)
		if err != nil {
			return err
		}

		balanceBefore := balance.Available
		if req.Direction == models.DirectionUp {
			if err := pool.Allocate(req.Amount); err != nil {
				return err
			}
			balance.Credit(req.Amount)
		} else {
			if err := balance.Debit(req.Amount); err != nil {
				return err
			}
			if err := pool.Deallocate(req.Amount); err != nil {
				return err
			}
		}

		entry, err := models.NewLedgerEntry(req.UserID, models.EntryAdjustment, models.OperationAdjustment,
			req.Direction, req.Amount, balanceBefore, req.Reason)
		if err != nil {
			return err
		}
		entry.Metadata = map[string]string{"adjusted_by": req.AdjustedBy}
		if req.ReferenceID != "" {
			entry.Metadata["reference_id"] = req.ReferenceID
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

		result.Balance = balance
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *balanceEngine) GetLedger(ctx context.Context, query repository.LedgerQuery) ([]*models.LedgerEntry, error) {
	return e.ledgerRepo.ListByUser(ctx, query)
}

// GetLedgerSummary aggregates a user's entries over a window.
func (e *balanceEngine) GetLedgerSummary(ctx context.Context, userID int64, start, end time.Time) (*models.LedgerSummary, error) {
	entries, err := e.ledgerRepo.ListByUser(ctx, repository.LedgerQuery{
		UserID: userID,
		Start:  start,
		End:    end,
	})
	if err != nil {
		return nil, err
	}

	summary := &models.LedgerSummary{
		UserID:           userID,
		Start:            start,
		End:              end,
		TotalCredits:     decimal.Zero,
		TotalDebits:      decimal.Zero,
		TotalAdjustments: decimal.Zero,
		NetChange:        decimal.Zero,
	}
	for _, entry := range entries {
		switch entry.Operation {
		case models.OperationCredit:
			summary.CreditCount++
			summary.TotalCredits = summary.TotalCredits.Add(entry.Amount)
		case models.OperationDebit:
			summary.DebitCount++
			summary.TotalDebits = summary.TotalDebits.Add(entry.Amount)
		case models.OperationAdjustment:
			summary.AdjustmentCount++
			summary.TotalAdjustments = summary.TotalAdjustments.Add(entry.SignedAmount())
		}
		summary.NetChange = summary.NetChange.Add(entry.SignedAmount())
	}
	return summary, nil
}
