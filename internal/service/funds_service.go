package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"pool-api/internal/cache"
	"pool-api/internal/engine"
	"pool-api/internal/external"
	"pool-api/internal/models"
	"pool-api/internal/monitoring"
	"pool-api/internal/repository"
)

// FundsService is the inbound surface for merchant-facing operations. It
// orchestrates the engines, serves cached reads, publishes domain events
// after commit and records metrics. Events never gate an operation: once
// the engines committed, the result stands.
type FundsService interface {
	GetPoolStatus(ctx context.Context) (*engine.PoolStatusResult, error)
	GetPoolHealth(ctx context.Context) (*engine.PoolHealthResult, error)
	GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error)
	ReserveFunds(ctx context.Context, req *engine.ReserveRequest) (*engine.ReserveResult, error)
	ReleaseReserved(ctx context.Context, req *engine.ReserveRequest) (*engine.ReserveResult, error)
	GetLedger(ctx context.Context, query repository.LedgerQuery) ([]*models.LedgerEntry, error)
	GetLedgerSummary(ctx context.Context, userID int64, start, end time.Time) (*models.LedgerSummary, error)

	ProcessSale(ctx context.Context, req *engine.SaleRequest) (*engine.SaleResult, error)
	ProcessRefund(ctx context.Context, req *engine.RefundRequest) (*engine.RefundResult, error)
	InitiateDeposit(ctx context.Context, req *engine.DepositRequest) (*engine.DepositResult, error)
	CancelTransaction(ctx context.Context, req *engine.CancelRequest) (*engine.CancelResult, error)
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, query repository.TransactionQuery) ([]*models.Transaction, error)

	ReconcileUser(ctx context.Context, userID int64) (*engine.UserReconciliationResult, error)
}

type fundsService struct {
	poolEngine     engine.PoolEngine
	balanceEngine  engine.BalanceEngine
	txEngine       engine.TransactionEngine
	reconciliation engine.ReconciliationEngine
	cache          cache.CacheService
	publisher      external.EventPublisher
	metrics        monitoring.MetricsService
}

func NewFundsService(
	poolEngine engine.PoolEngine,
	balanceEngine engine.BalanceEngine,
	txEngine engine.TransactionEngine,
	reconciliation engine.ReconciliationEngine,
	cacheService cache.CacheService,
	publisher external.EventPublisher,
	metrics monitoring.MetricsService,
) FundsService {
	return &fundsService{
		poolEngine:     poolEngine,
		balanceEngine:  balanceEngine,
		txEngine:       txEngine,
		reconciliation: reconciliation,
		cache:          cacheService,
		publisher:      publisher,
		metrics:        metrics,
	}
}

func (s *fundsService) GetPoolStatus(ctx context.Context) (*engine.PoolStatusResult, error) {
	if pool, err := s.cache.GetCachedPoolStatus(ctx); err == nil {
		return &engine.PoolStatusResult{
			Pool:              pool,
			Unallocated:       pool.Unallocated(),
			AllocationPercent: pool.AllocationPercent(),
		}, nil
	}

	status, err := s.poolEngine.Status(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CachePoolStatus(ctx, status.Pool); err != nil {
		logrus.WithError(err).Warn("Failed to cache pool status")
	}
	s.metrics.RecordPoolBalances(status.Pool)
	return status, nil
}

func (s *fundsService) GetPoolHealth(ctx context.Context) (*engine.PoolHealthResult, error) {
	health, err := s.poolEngine.Health(ctx)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, health.Events...)
	return health, nil
}

func (s *fundsService) GetBalance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	if balance, err := s.cache.GetCachedBalance(ctx, userID); err == nil {
		return balance, nil
	}

	balance, err := s.balanceEngine.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CacheBalance(ctx, balance); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to cache balance")
	}
	return balance, nil
}

func (s *fundsService) ReserveFunds(ctx context.Context, req *engine.ReserveRequest) (*engine.ReserveResult, error) {
	result, err := s.balanceEngine.ReserveFunds(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateBalance(ctx, req.UserID); err != nil {
		logrus.WithError(err).WithField("user_id", req.UserID).Warn("Failed to invalidate balance cache")
	}
	return result, nil
}

func (s *fundsService) ReleaseReserved(ctx context.Context, req *engine.ReserveRequest) (*engine.ReserveResult, error) {
	result, err := s.balanceEngine.ReleaseReserved(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateBalance(ctx, req.UserID); err != nil {
		logrus.WithError(err).WithField("user_id", req.UserID).Warn("Failed to invalidate balance cache")
	}
	return result, nil
}

func (s *fundsService) GetLedger(ctx context.Context, query repository.LedgerQuery) ([]*models.LedgerEntry, error) {
	return s.balanceEngine.GetLedger(ctx, query)
}

func (s *fundsService) GetLedgerSummary(ctx context.Context, userID int64, start, end time.Time) (*models.LedgerSummary, error) {
	return s.balanceEngine.GetLedgerSummary(ctx, userID, start, end)
}

func (s *fundsService) ProcessSale(ctx context.Context, req *engine.SaleRequest) (*engine.SaleResult, error) {
	start := time.Now()
	result, err := s.txEngine.ProcessSale(ctx, req)
	if err != nil {
		s.metrics.RecordFundOperation("sale", "error", time.Since(start))
		return nil, err
	}

	status := "failed"
	if result.Success {
		status = "completed"
		s.invalidate(ctx, req.UserID)
	}
	s.metrics.RecordFundOperation("sale", status, time.Since(start))
	s.metrics.RecordTransaction(string(models.TypeSale), status)
	if result.Success {
		s.metrics.RecordTransactionVolume(result.Transaction.Currency, result.Transaction.Amount.InexactFloat64())
	}

	if !result.WasIdempotent {
		s.publisher.Publish(ctx, result.Events...)
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": result.Transaction.TransactionID,
		"user_id":        req.UserID,
		"amount":         req.Amount.String(),
		"status":         result.Transaction.Status,
	}).Info("Sale processed")
	return result, nil
}

func (s *fundsService) ProcessRefund(ctx context.Context, req *engine.RefundRequest) (*engine.RefundResult, error) {
	start := time.Now()
	result, err := s.txEngine.ProcessRefund(ctx, req)
	if err != nil {
		s.metrics.RecordFundOperation("refund", "error", time.Since(start))
		return nil, err
	}

	s.metrics.RecordFundOperation("refund", "completed", time.Since(start))
	s.metrics.RecordTransaction(string(models.TypeRefund), "completed")
	s.invalidate(ctx, result.Refund.UserID)

	if !result.WasIdempotent {
		s.publisher.Publish(ctx, result.Events...)
	}

	logrus.WithFields(logrus.Fields{
		"refund_id":   result.Refund.TransactionID,
		"original_id": result.Original.TransactionID,
		"amount":      result.Refund.Amount.String(),
	}).Info("Refund processed")
	return result, nil
}

func (s *fundsService) InitiateDeposit(ctx context.Context, req *engine.DepositRequest) (*engine.DepositResult, error) {
	start := time.Now()
	result, err := s.txEngine.InitiateDeposit(ctx, req)
	if err != nil {
		s.metrics.RecordFundOperation("deposit_initiate", "error", time.Since(start))
		return nil, err
	}

	s.metrics.RecordFundOperation("deposit_initiate", "pending", time.Since(start))
	s.invalidate(ctx, req.UserID)

	if !result.WasIdempotent {
		s.publisher.Publish(ctx, result.Events...)
	}
	return result, nil
}

func (s *fundsService) CancelTransaction(ctx context.Context, req *engine.CancelRequest) (*engine.CancelResult, error) {
	result, err := s.txEngine.CancelTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, req.UserID)
	return result, nil
}

func (s *fundsService) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.txEngine.GetTransaction(ctx, transactionID)
}

func (s *fundsService) ListTransactions(ctx context.Context, query repository.TransactionQuery) ([]*models.Transaction, error) {
	return s.txEngine.ListTransactions(ctx, query)
}

func (s *fundsService) ReconcileUser(ctx context.Context, userID int64) (*engine.UserReconciliationResult, error) {
	result, err := s.reconciliation.ReconcileUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !result.IsReconciled {
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"actual":     result.ActualBalance.String(),
			"calculated": result.CalculatedBalance.String(),
			"difference": result.Difference.String(),
		}).Warn("Balance does not reconcile with ledger")
	}
	return result, nil
}

// invalidate drops cached reads made stale by a fund movement.
func (s *fundsService) invalidate(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateBalance(ctx, userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate balance cache")
	}
	if err := s.cache.InvalidatePoolStatus(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate pool status cache")
	}
}
