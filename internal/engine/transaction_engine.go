package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pool-api/internal/models"
	"pool-api/internal/repository"
)

// TransactionEngine drives the transaction lifecycle: sales against a user's
// available funds, refunds of completed sales, and the deposit approval
// workflow. Fund movements and their transaction records commit atomically;
// a failed movement still commits the transaction record in FAILED so the
// audit trail shows the attempt.
type TransactionEngine interface {
	ProcessSale(ctx context.Context, req *SaleRequest) (*SaleResult, error)
	ProcessRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
	InitiateDeposit(ctx context.Context, req *DepositRequest) (*DepositResult, error)
	ApproveDeposit(ctx context.Context, req *DepositDecisionRequest) (*DepositResult, error)
	RejectDeposit(ctx context.Context, req *DepositDecisionRequest) (*DepositResult, error)
	CancelTransaction(ctx context.Context, req *CancelRequest) (*CancelResult, error)
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, query repository.TransactionQuery) ([]*models.Transaction, error)
}

// TransactionEngineConfig bounds amounts and lock lifetimes.
type TransactionEngineConfig struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	LockTTL   time.Duration
}

type transactionEngine struct {
	poolRepo    repository.PoolRepository
	balanceRepo repository.BalanceRepository
	ledgerRepo  repository.LedgerRepository
	txRepo      repository.TransactionRepository
	txRunner    repository.TxRunner
	lockManager *repository.PoolLockManager
	idempotency *IdempotencyManager
	cfg         TransactionEngineConfig
}

func NewTransactionEngine(
	poolRepo repository.PoolRepository,
	balanceRepo repository.BalanceRepository,
	ledgerRepo repository.LedgerRepository,
	txRepo repository.TransactionRepository,
	txRunner repository.TxRunner,
	lockManager *repository.PoolLockManager,
	idempotency *IdempotencyManager,
	cfg TransactionEngineConfig,
) TransactionEngine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &transactionEngine{
		poolRepo:    poolRepo,
		balanceRepo: balanceRepo,
		ledgerRepo:  ledgerRepo,
		txRepo:      txRepo,
		txRunner:    txRunner,
		lockManager: lockManager,
		idempotency: idempotency,
		cfg:         cfg,
	}
}

type SaleRequest struct {
	UserID         int64           `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type SaleResult struct {
	Transaction   *models.Transaction `json:"transaction"`
	Balance       *models.UserBalance `json:"balance,omitempty"`
	Success       bool                `json:"success"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	WasIdempotent bool                `json:"was_idempotent"`
	Events        []models.Event      `json:"-"`
}

type RefundRequest struct {
	TransactionID string `json:"transaction_id"`
	// Amount below the original sale makes a partial refund; zero refunds
	// the full remaining amount.
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type RefundResult struct {
	Refund        *models.Transaction `json:"refund"`
	Original      *models.Transaction `json:"original"`
	Success       bool                `json:"success"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	WasIdempotent bool                `json:"was_idempotent"`
	Events        []models.Event      `json:"-"`
}

type DepositRequest struct {
	UserID         int64           `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type DepositDecisionRequest struct {
	TransactionID string `json:"transaction_id"`
	DecidedBy     string `json:"decided_by"`
	Reason        string `json:"reason,omitempty"`
}

type DepositResult struct {
	Transaction   *models.Transaction `json:"transaction"`
	Balance       *models.UserBalance `json:"balance,omitempty"`
	WasIdempotent bool                `json:"was_idempotent"`
	Events        []models.Event      `json:"-"`
}

type CancelRequest struct {
	TransactionID string `json:"transaction_id"`
	UserID        int64  `json:"user_id"`
	Reason        string `json:"reason"`
}

type CancelResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Events      []models.Event      `json:"-"`
}

// ProcessSale debits a sale from the user's available funds. The amount is
// earmarked and settled in one atomic commit: available drops exactly once,
// the reservation clears, and the pool's allocated share shrinks by the
// same amount. Insufficient funds commit the transaction as FAILED without
// touching any balance.
func (e *transactionEngine) ProcessSale(ctx context.Context, req *SaleRequest) (*SaleResult, error) {
	if err := e.validateBounds(req.Amount); err != nil {
		return nil, err
	}

	var cached SaleResult
	if found, err := e.idempotency.Lookup(ctx, req.IdempotencyKey, &cached); err == nil && found {
		cached.WasIdempotent = true
		return &cached, nil
	}

	userLock, err := e.lockManager.LockUser(ctx, req.UserID, "sale", e.cfg.LockTTL)
	if err != nil {
		return nil, &models.StorageError{Op: "sale.lock", Err: err}
	}
	defer e.lockManager.ReleaseLock(ctx, userLock)

	result := &SaleResult{}
	err = e.txRunner.WithTransaction(ctx, "transaction.sale", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}

		tx := models.NewTransaction(req.UserID, models.TypeSale, req.Amount, pool.Currency, req.Description)
		if err := e.txRepo.Create(ctx, tx); err != nil {
			return err
		}

		balance, err := e.balanceRepo.GetOrCreate(ctx, req.UserID, pool.Currency)
		if err != nil {
			return err
		}

		balanceBefore := balance.Available
		if err := balance.ReserveFromAvailable(req.Amount); err != nil {
			return e.failSale(ctx, tx, result, err)
		}
		if err := tx.TransitionTo(models.StatusProcessing); err != nil {
			return err
		}

		entry, err := models.NewLedgerEntry(req.UserID, models.EntrySale, models.OperationDebit, 0,
			req.Amount, balanceBefore, req.Description)
		if err != nil {
			return err
		}
		entry.Metadata = map[string]string{"transaction_id": tx.TransactionID}

		// Settle: the earmarked amount leaves the user's attribution and
		// returns to the pool's unallocated share.
		if err := balance.CompleteReserved(req.Amount); err != nil {
			return err
		}
		if err := pool.Deallocate(req.Amount); err != nil {
			return e.failSale(ctx, tx, result, err)
		}
		if err := tx.TransitionTo(models.StatusCompleted); err != nil {
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
		if err := e.txRepo.Update(ctx, tx); err != nil {
			return err
		}

		result.Transaction = tx
		result.Balance = balance
		result.Success = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventTransactionCreated, transactionPayload(result.Transaction)))
	if result.Success {
		result.Events = append(result.Events, models.NewEvent(models.EventTransactionCompleted, transactionPayload(result.Transaction)))
		e.idempotency.Store(ctx, req.IdempotencyKey, result)
	} else {
		result.Events = append(result.Events, models.NewEvent(models.EventTransactionFailed, transactionPayload(result.Transaction)))
	}
	return result, nil
}

// failSale commits the transaction record as FAILED while leaving every
// balance untouched. The fund-movement error is reported on the result, not
// returned, so the surrounding storage transaction still commits.
func (e *transactionEngine) failSale(ctx context.Context, tx *models.Transaction, result *SaleResult, cause error) error {
	if err := tx.MarkFailed(cause.Error()); err != nil {
		return err
	}
	if err := e.txRepo.Update(ctx, tx); err != nil {
		return err
	}
	result.Transaction = tx
	result.Success = false
	result.ErrorMessage = cause.Error()
	return nil
}

// ProcessRefund returns part or all of a completed sale to the user. The
// refund is a new transaction linked to the original; a fully refunded sale
// moves to REFUNDED.
func (e *transactionEngine) ProcessRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	var cached RefundResult
	if found, err := e.idempotency.Lookup(ctx, req.IdempotencyKey, &cached); err == nil && found {
		cached.WasIdempotent = true
		return &cached, nil
	}

	original, err := e.txRepo.GetByTransactionID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !original.Refundable() {
		return nil, &models.InvalidStateTransitionError{From: original.Status, To: models.StatusRefunded}
	}

	userLock, err := e.lockManager.LockUser(ctx, original.UserID, "refund", e.cfg.LockTTL)
	if err != nil {
		return nil, &models.StorageError{Op: "refund.lock", Err: err}
	}
	defer e.lockManager.ReleaseLock(ctx, userLock)

	result := &RefundResult{}
	err = e.txRunner.WithTransaction(ctx, "transaction.refund", func(ctx context.Context) error {
		// Re-read under the storage transaction so a concurrent refund of
		// the same sale is observed.
		original, err := e.txRepo.GetByTransactionID(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if !original.Refundable() {
			return &models.InvalidStateTransitionError{From: original.Status, To: models.StatusRefunded}
		}

		refunded, err := e.completedRefundTotal(ctx, original.TransactionID)
		if err != nil {
			return err
		}
		remaining := original.Amount.Sub(refunded)

		amount := req.Amount
		if amount.IsZero() {
			amount = remaining
		}
		if !amount.IsPositive() {
			return &models.ValidationError{Field: "amount", Reason: "must be positive"}
		}
		if amount.GreaterThan(remaining) {
			return &models.ValidationError{Field: "amount", Reason: fmt.Sprintf("exceeds refundable remainder of %s", remaining)}
		}

		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		balance, err := e.balanceRepo.GetByUserID(ctx, original.UserID)
		if err != nil {
			return err
		}

		refund := models.NewTransaction(original.UserID, models.TypeRefund, amount, original.Currency, req.Reason)
		refund.ParentTransactionID = original.TransactionID
		if err := e.txRepo.Create(ctx, refund); err != nil {
			return err
		}

		balanceBefore := balance.Available
		if err := pool.Allocate(amount); err != nil {
			return err
		}
		balance.Credit(amount)

		entry, err := models.NewLedgerEntry(original.UserID, models.EntryRefund, models.OperationCredit, 0,
			amount, balanceBefore, req.Reason)
		if err != nil {
			return err
		}
		entry.Metadata = map[string]string{
			"transaction_id":        refund.TransactionID,
			"parent_transaction_id": original.TransactionID,
		}

		if err := refund.TransitionTo(models.StatusCompleted); err != nil {
			return err
		}
		if refunded.Add(amount).Equal(original.Amount) {
			if err := original.TransitionTo(models.StatusRefunded); err != nil {
				return err
			}
			if err := e.txRepo.Update(ctx, original); err != nil {
				return err
			}
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
		if err := e.txRepo.Update(ctx, refund); err != nil {
			return err
		}

		result.Refund = refund
		result.Original = original
		result.Success = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventTransactionRefunded, map[string]interface{}{
		"transaction_id":        result.Refund.TransactionID,
		"parent_transaction_id": result.Original.TransactionID,
		"user_id":               result.Refund.UserID,
		"amount":                result.Refund.Amount.String(),
	}))
	e.idempotency.Store(ctx, req.IdempotencyKey, result)
	return result, nil
}

// completedRefundTotal sums refunds already settled against a sale.
func (e *transactionEngine) completedRefundTotal(ctx context.Context, parentTransactionID string) (decimal.Decimal, error) {
	refunds, err := e.txRepo.GetRefundsOf(ctx, parentTransactionID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, refund := range refunds {
		if refund.Status == models.StatusCompleted {
			total = total.Add(refund.Amount)
		}
	}
	return total, nil
}

// InitiateDeposit records an inbound payment awaiting admin approval. The
// amount sits in the user's pending balance and is not attributed to the
// pool until approved.
func (e *transactionEngine) InitiateDeposit(ctx context.Context, req *DepositRequest) (*DepositResult, error) {
	if err := e.validateBounds(req.Amount); err != nil {
		return nil, err
	}

	var cached DepositResult
	if found, err := e.idempotency.Lookup(ctx, req.IdempotencyKey, &cached); err == nil && found {
		cached.WasIdempotent = true
		return &cached, nil
	}

	userLock, err := e.lockManager.LockUser(ctx, req.UserID, "deposit", e.cfg.LockTTL)
	if err != nil {
		return nil, &models.StorageError{Op: "deposit.lock", Err: err}
	}
	defer e.lockManager.ReleaseLock(ctx, userLock)

	result := &DepositResult{}
	err = e.txRunner.WithTransaction(ctx, "transaction.deposit", func(ctx context.Context) error {
		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}

		tx := models.NewTransaction(req.UserID, models.TypeDeposit, req.Amount, pool.Currency, req.Description)
		if err := e.txRepo.Create(ctx, tx); err != nil {
			return err
		}

		balance, err := e.balanceRepo.GetOrCreate(ctx, req.UserID, pool.Currency)
		if err != nil {
			return err
		}
		balance.MoveToPending(req.Amount)
		if err := e.balanceRepo.Update(ctx, balance); err != nil {
			return err
		}

		result.Transaction = tx
		result.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventDepositInitiated, transactionPayload(result.Transaction)))
	e.idempotency.Store(ctx, req.IdempotencyKey, result)
	return result, nil
}

// ApproveDeposit settles a pending deposit: the custodial total grows by
// the deposited amount, the amount is attributed to the user, and the
// matching ledger credit is written. Only PENDING deposits can be approved.
func (e *transactionEngine) ApproveDeposit(ctx context.Context, req *DepositDecisionRequest) (*DepositResult, error) {
	result := &DepositResult{}
	err := e.txRunner.WithTransaction(ctx, "transaction.approve_deposit", func(ctx context.Context) error {
		tx, err := e.depositForDecision(ctx, req.TransactionID)
		if err != nil {
			return err
		}

		pool, err := e.poolRepo.Get(ctx)
		if err != nil {
			return err
		}
		balance, err := e.balanceRepo.GetByUserID(ctx, tx.UserID)
		if err != nil {
			return err
		}

		balanceBefore := balance.Available
		if err := balance.ApprovePending(tx.Amount); err != nil {
			return err
		}
		pool.AddFunds(tx.Amount)
		if err := pool.Allocate(tx.Amount); err != nil {
			return err
		}

		entry, err := models.NewLedgerEntry(tx.UserID, models.EntryDeposit, models.OperationCredit, 0,
			tx.Amount, balanceBefore, tx.Description)
		if err != nil {
			return err
		}
		entry.Metadata = map[string]string{
			"transaction_id": tx.TransactionID,
			"approved_by":    req.DecidedBy,
		}

		if err := tx.TransitionTo(models.StatusCompleted); err != nil {
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
		if err := e.txRepo.Update(ctx, tx); err != nil {
			return err
		}

		result.Transaction = tx
		result.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventDepositApproved, transactionPayload(result.Transaction)))
	return result, nil
}

// RejectDeposit drops a pending deposit. The pending amount disappears and
// the transaction fails with the reviewer's reason.
func (e *transactionEngine) RejectDeposit(ctx context.Context, req *DepositDecisionRequest) (*DepositResult, error) {
	result := &DepositResult{}
	err := e.txRunner.WithTransaction(ctx, "transaction.reject_deposit", func(ctx context.Context) error {
		tx, err := e.depositForDecision(ctx, req.TransactionID)
		if err != nil {
			return err
		}

		balance, err := e.balanceRepo.GetByUserID(ctx, tx.UserID)
		if err != nil {
			return err
		}
		if err := balance.RejectPending(tx.Amount); err != nil {
			return err
		}

		reason := req.Reason
		if reason == "" {
			reason = fmt.Sprintf("rejected by %s", req.DecidedBy)
		}
		if err := tx.MarkFailed(reason); err != nil {
			return err
		}

		if err := e.balanceRepo.Update(ctx, balance); err != nil {
			return err
		}
		if err := e.txRepo.Update(ctx, tx); err != nil {
			return err
		}

		result.Transaction = tx
		result.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Events = append(result.Events, models.NewEvent(models.EventDepositRejected, transactionPayload(result.Transaction)))
	return result, nil
}

func (e *transactionEngine) depositForDecision(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := e.txRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Type != models.TypeDeposit {
		return nil, &models.ValidationError{Field: "transaction_id", Reason: "is not a deposit"}
	}
	if tx.Status != models.StatusPending {
		return nil, &models.InvalidStateTransitionError{From: tx.Status, To: models.StatusCompleted}
	}
	return tx, nil
}

// CancelTransaction lets a user withdraw their own pending deposit before
// review. Anything else in flight is owned by the engines and cannot be
// cancelled from outside.
func (e *transactionEngine) CancelTransaction(ctx context.Context, req *CancelRequest) (*CancelResult, error) {
	result := &CancelResult{}
	err := e.txRunner.WithTransaction(ctx, "transaction.cancel", func(ctx context.Context) error {
		tx, err := e.txRepo.GetByTransactionID(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if tx.UserID != req.UserID {
			return models.ErrTransactionNotFound
		}
		if tx.Type != models.TypeDeposit {
			return &models.ValidationError{Field: "transaction_id", Reason: "only pending deposits can be cancelled"}
		}
		if err := tx.TransitionTo(models.StatusCancelled); err != nil {
			return err
		}
		tx.FailureReason = req.Reason

		balance, err := e.balanceRepo.GetByUserID(ctx, tx.UserID)
		if err != nil {
			return err
		}
		if err := balance.RejectPending(tx.Amount); err != nil {
			return err
		}

		if err := e.balanceRepo.Update(ctx, balance); err != nil {
			return err
		}
		if err := e.txRepo.Update(ctx, tx); err != nil {
			return err
		}

		result.Transaction = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *transactionEngine) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return e.txRepo.GetByTransactionID(ctx, transactionID)
}

func (e *transactionEngine) ListTransactions(ctx context.Context, query repository.TransactionQuery) ([]*models.Transaction, error) {
	return e.txRepo.ListByUser(ctx, query)
}

func (e *transactionEngine) validateBounds(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amount.LessThan(e.cfg.MinAmount) {
		return &models.ValidationError{Field: "amount", Reason: fmt.Sprintf("below minimum of %s", e.cfg.MinAmount)}
	}
	if e.cfg.MaxAmount.IsPositive() && amount.GreaterThan(e.cfg.MaxAmount) {
		return &models.ValidationError{Field: "amount", Reason: fmt.Sprintf("above maximum of %s", e.cfg.MaxAmount)}
	}
	return nil
}

func transactionPayload(tx *models.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": tx.TransactionID,
		"user_id":        tx.UserID,
		"type":           tx.Type,
		"status":         tx.Status,
		"amount":         tx.Amount.String(),
		"currency":       tx.Currency,
	}
}
