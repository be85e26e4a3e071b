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
)

// AdminService is the operator surface: pool-level fund movements, manual
// balance corrections, the deposit review queue and reconciliation runs.
type AdminService interface {
	AddFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error)
	RemoveFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error)
	ReservePoolFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error)
	ReleasePoolFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error)
	AllocateToUser(ctx context.Context, req *engine.AllocateRequest) (*engine.AllocateResult, error)
	DeallocateFromUser(ctx context.Context, req *engine.DeallocateRequest) (*engine.DeallocateResult, error)
	AdjustBalance(ctx context.Context, req *engine.AdjustRequest) (*engine.AdjustResult, error)

	ApproveDeposit(ctx context.Context, req *engine.DepositDecisionRequest) (*engine.DepositResult, error)
	RejectDeposit(ctx context.Context, req *engine.DepositDecisionRequest) (*engine.DepositResult, error)

	ReconcileWithGateway(ctx context.Context) (*engine.GatewayReconcileResult, error)
	ReconcileAllUsers(ctx context.Context, batchSize int) (*engine.BatchReconciliationResult, error)
	VerifyPoolIntegrity(ctx context.Context) (*engine.PoolIntegrityResult, error)
}

type adminService struct {
	poolEngine       engine.PoolEngine
	balanceEngine    engine.BalanceEngine
	txEngine         engine.TransactionEngine
	reconciliation   engine.ReconciliationEngine
	gateway          external.GatewayClient
	gatewayAccountID string
	cache            cache.CacheService
	publisher        external.EventPublisher
	metrics          monitoring.MetricsService
}

func NewAdminService(
	poolEngine engine.PoolEngine,
	balanceEngine engine.BalanceEngine,
	txEngine engine.TransactionEngine,
	reconciliation engine.ReconciliationEngine,
	gateway external.GatewayClient,
	gatewayAccountID string,
	cacheService cache.CacheService,
	publisher external.EventPublisher,
	metrics monitoring.MetricsService,
) AdminService {
	return &adminService{
		poolEngine:       poolEngine,
		balanceEngine:    balanceEngine,
		txEngine:         txEngine,
		reconciliation:   reconciliation,
		gateway:          gateway,
		gatewayAccountID: gatewayAccountID,
		cache:            cacheService,
		publisher:        publisher,
		metrics:          metrics,
	}
}

func (s *adminService) AddFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error) {
	result, err := s.poolEngine.AddFunds(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterPoolMutation(ctx, result.Pool, result.Events)
	logrus.WithFields(logrus.Fields{
		"amount":       req.Amount.String(),
		"requested_by": req.RequestedBy,
	}).Info("Funds added to pool")
	return result, nil
}

func (s *adminService) RemoveFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error) {
	result, err := s.poolEngine.RemoveFunds(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterPoolMutation(ctx, result.Pool, result.Events)
	logrus.WithFields(logrus.Fields{
		"amount":       req.Amount.String(),
		"requested_by": req.RequestedBy,
	}).Info("Funds removed from pool")
	return result, nil
}

func (s *adminService) ReservePoolFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error) {
	result, err := s.poolEngine.ReserveFunds(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterPoolMutation(ctx, result.Pool, result.Events)
	return result, nil
}

func (s *adminService) ReleasePoolFunds(ctx context.Context, req *engine.PoolFundsRequest) (*engine.PoolFundsResult, error) {
	result, err := s.poolEngine.ReleaseFunds(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterPoolMutation(ctx, result.Pool, result.Events)
	return result, nil
}

func (s *adminService) AllocateToUser(ctx context.Context, req *engine.AllocateRequest) (*engine.AllocateResult, error) {
	result, err := s.poolEngine.AllocateToUser(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterPoolMutation(ctx, result.Pool, result.Events)
	s.invalidateUser(ctx, req.UserID)
	return result, nil
}

func (s *adminService) DeallocateFromUser(ctx context.Context, req *engine.DeallocateRequest) (*engine.DeallocateResult, error) {
	result, err := s.poolEngine.DeallocateFromUser(ctx, req)
	if err != nil {
		return nil, err
	}
	s.afterPoolMutation(ctx, result.Pool, result.Events)
	s.invalidateUser(ctx, req.UserID)
	return result, nil
}

func (s *adminService) AdjustBalance(ctx context.Context, req *engine.AdjustRequest) (*engine.AdjustResult, error) {
	result, err := s.balanceEngine.Adjust(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, req.UserID)
	if err := s.cache.InvalidatePoolStatus(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate pool status cache")
	}
	logrus.WithFields(logrus.Fields{
		"user_id":     req.UserID,
		"amount":      req.Amount.String(),
		"direction":   req.Direction,
		"adjusted_by": req.AdjustedBy,
	}).Info("Balance adjusted")
	return result, nil
}

func (s *adminService) ApproveDeposit(ctx context.Context, req *engine.DepositDecisionRequest) (*engine.DepositResult, error) {
	result, err := s.txEngine.ApproveDeposit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, result.Transaction.UserID)
	if err := s.cache.InvalidatePoolStatus(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate pool status cache")
	}
	s.metrics.RecordTransaction(string(models.TypeDeposit), "completed")
	s.publisher.Publish(ctx, result.Events...)
	return result, nil
}

func (s *adminService) RejectDeposit(ctx context.Context, req *engine.DepositDecisionRequest) (*engine.DepositResult, error) {
	result, err := s.txEngine.RejectDeposit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, result.Transaction.UserID)
	s.metrics.RecordTransaction(string(models.TypeDeposit), "failed")
	s.publisher.Publish(ctx, result.Events...)
	return result, nil
}

// ReconcileWithGateway fetches the gateway's reported custodial balance and
// compares it against the recorded pool total.
func (s *adminService) ReconcileWithGateway(ctx context.Context) (*engine.GatewayReconcileResult, error) {
	start := time.Now()
	reported, err := s.gateway.ReportedBalance(ctx, s.gatewayAccountID)
	s.metrics.RecordExternalCall("gateway", "reported_balance", err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	result, err := s.poolEngine.ReconcileWithGateway(ctx, reported)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordGatewaySync(result.InSync, result.Difference.InexactFloat64())
	s.publisher.Publish(ctx, result.Events...)

	if !result.InSync {
		logrus.WithFields(logrus.Fields{
			"recorded":   result.RecordedBalance.String(),
			"reported":   result.ReportedBalance.String(),
			"difference": result.Difference.String(),
			"critical":   result.Critical,
		}).Error("Pool balance did not match gateway, adopted reported balance")
	}
	return result, nil
}

func (s *adminService) ReconcileAllUsers(ctx context.Context, batchSize int) (*engine.BatchReconciliationResult, error) {
	result, err := s.reconciliation.ReconcileAll(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordReconciliation("users", result.DiscrepanciesFound)
	s.publisher.Publish(ctx, result.Events...)
	return result, nil
}

func (s *adminService) VerifyPoolIntegrity(ctx context.Context) (*engine.PoolIntegrityResult, error) {
	result, err := s.reconciliation.VerifyPoolIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	if !result.IsConsistent {
		s.metrics.RecordReconciliation("pool", 1)
		logrus.WithFields(logrus.Fields{
			"allocated":  result.AllocatedBalance.String(),
			"attributed": result.AttributedSum.String(),
			"difference": result.Difference.String(),
		}).Error("Pool allocation does not match attributed balances")
	} else {
		s.metrics.RecordReconciliation("pool", 0)
	}
	return result, nil
}

func (s *adminService) afterPoolMutation(ctx context.Context, pool *models.PoolAccount, events []models.Event) {
	s.metrics.RecordPoolBalances(pool)
	if err := s.cache.InvalidatePoolStatus(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate pool status cache")
	}
	s.publisher.Publish(ctx, events...)
}

func (s *adminService) invalidateUser(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateBalance(ctx, userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate balance cache")
	}
}
