package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pool-api/internal/engine"
	"pool-api/internal/models"
	"pool-api/internal/repository"
	"pool-api/internal/service"
)

// FundsController exposes the merchant-facing endpoints: pool visibility,
// balances, the ledger, and the transaction operations.
type FundsController struct {
	fundsService service.FundsService
}

func NewFundsController(fundsService service.FundsService) *FundsController {
	return &FundsController{
		fundsService: fundsService,
	}
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
}

type SaleRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type RefundRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type DepositRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type ReserveFundsRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// @Summary Get pool status
// @Description Current custodial pool balances and allocation share
// @Tags pool
// @Produce json
// @Success 200 {object} engine.PoolStatusResult
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/pool/status [get]
func (c *FundsController) GetPoolStatus(ctx *gin.Context) {
	status, err := c.fundsService.GetPoolStatus(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

// @Summary Get pool health
// @Description Pool health grade against the configured thresholds
// @Tags pool
// @Produce json
// @Success 200 {object} engine.PoolHealthResult
// @Security BearerAuth
// @Router /api/pool/health [get]
func (c *FundsController) GetPoolHealth(ctx *gin.Context) {
	health, err := c.fundsService.GetPoolHealth(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, health)
}

// @Summary Get user balance
// @Description Available, pending and reserved balance for a user
// @Tags balance
// @Produce json
// @Param userId path int true "User ID"
// @Success 200 {object} models.UserBalance
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/balance/{userId} [get]
func (c *FundsController) GetBalance(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	balance, err := c.fundsService.GetBalance(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balance)
}

// @Summary Get user ledger
// @Description Audit trail of balance mutations, oldest first
// @Tags balance
// @Produce json
// @Param userId path int true "User ID"
// @Param start query string false "Window start (RFC3339)"
// @Param end query string false "Window end (RFC3339)"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.LedgerEntry
// @Security BearerAuth
// @Router /api/balance/{userId}/ledger [get]
func (c *FundsController) GetLedger(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	query := repository.LedgerQuery{
		UserID: userID,
		Limit:  intQuery(ctx, "limit", 50),
		Offset: intQuery(ctx, "offset", 0),
	}
	if start, ok := timeQuery(ctx, "start"); ok {
		query.Start = start
	}
	if end, ok := timeQuery(ctx, "end"); ok {
		query.End = end
	}

	entries, err := c.fundsService.GetLedger(ctx.Request.Context(), query)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// @Summary Get ledger summary
// @Description Aggregated credits, debits and adjustments over a window
// @Tags balance
// @Produce json
// @Param userId path int true "User ID"
// @Param start query string false "Window start (RFC3339)"
// @Param end query string false "Window end (RFC3339)"
// @Success 200 {object} models.LedgerSummary
// @Security BearerAuth
// @Router /api/balance/{userId}/summary [get]
func (c *FundsController) GetLedgerSummary(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	var start, end time.Time
	if t, ok := timeQuery(ctx, "start"); ok {
		start = t
	}
	if t, ok := timeQuery(ctx, "end"); ok {
		end = t
	}

	summary, err := c.fundsService.GetLedgerSummary(ctx.Request.Context(), userID, start, end)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summary)
}

// @Summary Reserve user funds
// @Description Earmark part of the available balance for an in-flight operation
// @Tags balance
// @Accept json
// @Produce json
// @Param userId path int true "User ID"
// @Param request body ReserveFundsRequest true "Reserve request"
// @Success 200 {object} engine.ReserveResult
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/balance/{userId}/reserve [post]
func (c *FundsController) ReserveFunds(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	var req ReserveFundsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.fundsService.ReserveFunds(ctx.Request.Context(), &engine.ReserveRequest{
		UserID: userID,
		Amount: req.Amount,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Release reserved user funds
// @Description Return an earmark to the available balance
// @Tags balance
// @Accept json
// @Produce json
// @Param userId path int true "User ID"
// @Param request body ReserveFundsRequest true "Release request"
// @Success 200 {object} engine.ReserveResult
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/balance/{userId}/release [post]
func (c *FundsController) ReleaseReserved(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	var req ReserveFundsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.fundsService.ReleaseReserved(ctx.Request.Context(), &engine.ReserveRequest{
		UserID: userID,
		Amount: req.Amount,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Reconcile a user balance
// @Description Replay the ledger and compare against the stored balance
// @Tags balance
// @Produce json
// @Param userId path int true "User ID"
// @Success 200 {object} engine.UserReconciliationResult
// @Security BearerAuth
// @Router /api/balance/{userId}/reconcile [get]
func (c *FundsController) ReconcileUser(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	result, err := c.fundsService.ReconcileUser(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Process a sale
// @Description Debit a sale from the user's available funds
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body SaleRequest true "Sale request"
// @Success 200 {object} engine.SaleResult
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/sale [post]
func (c *FundsController) ProcessSale(ctx *gin.Context) {
	var req SaleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.fundsService.ProcessSale(ctx.Request.Context(), &engine.SaleRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	if !result.Success {
		ctx.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Refund a sale
// @Description Return part or all of a completed sale to the user
// @Tags transactions
// @Accept json
// @Produce json
// @Param transactionId path string true "Original transaction ID"
// @Param request body RefundRequest true "Refund request"
// @Success 200 {object} engine.RefundResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/{transactionId}/refund [post]
func (c *FundsController) ProcessRefund(ctx *gin.Context) {
	var req RefundRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.fundsService.ProcessRefund(ctx.Request.Context(), &engine.RefundRequest{
		TransactionID:  ctx.Param("transactionId"),
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Initiate a deposit
// @Description Record an inbound payment awaiting admin approval
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Deposit request"
// @Success 202 {object} engine.DepositResult
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/deposit [post]
func (c *FundsController) InitiateDeposit(ctx *gin.Context) {
	var req DepositRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.fundsService.InitiateDeposit(ctx.Request.Context(), &engine.DepositRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, result)
}

// @Summary Cancel a pending deposit
// @Description Withdraw an own deposit before review
// @Tags transactions
// @Accept json
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} engine.CancelResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/{transactionId}/cancel [post]
func (c *FundsController) CancelTransaction(ctx *gin.Context) {
	var req CancelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	userID, ok := ctx.Get("user_id")
	if !ok {
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User identity missing"})
		return
	}

	result, err := c.fundsService.CancelTransaction(ctx.Request.Context(), &engine.CancelRequest{
		TransactionID: ctx.Param("transactionId"),
		UserID:        userID.(int64),
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Get a transaction
// @Tags transactions
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/{transactionId} [get]
func (c *FundsController) GetTransaction(ctx *gin.Context) {
	tx, err := c.fundsService.GetTransaction(ctx.Request.Context(), ctx.Param("transactionId"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, tx)
}

// @Summary List a user's transactions
// @Tags transactions
// @Produce json
// @Param userId path int true "User ID"
// @Param type query string false "Transaction type filter"
// @Param status query string false "Status filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.Transaction
// @Security BearerAuth
// @Router /api/transactions/user/{userId} [get]
func (c *FundsController) ListTransactions(ctx *gin.Context) {
	userID, err := userIDFromPath(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user ID", Message: err.Error()})
		return
	}

	txs, err := c.fundsService.ListTransactions(ctx.Request.Context(), repository.TransactionQuery{
		UserID: userID,
		Type:   models.TransactionType(ctx.Query("type")),
		Status: models.TransactionStatus(ctx.Query("status")),
		Limit:  intQuery(ctx, "limit", 50),
		Offset: intQuery(ctx, "offset", 0),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

// respondError maps domain errors onto HTTP statuses.
func respondError(ctx *gin.Context, err error) {
	var insufficientErr *models.InsufficientFundsError
	var validationErr *models.ValidationError
	var transitionErr *models.InvalidStateTransitionError
	var storageErr *models.StorageError

	switch {
	case errors.As(err, &insufficientErr):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "Insufficient funds",
			Message:   insufficientErr.Error(),
			Required:  insufficientErr.Required.String(),
			Available: insufficientErr.Available.String(),
		})
	case errors.As(err, &validationErr):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Message: validationErr.Error()})
	case errors.As(err, &transitionErr):
		ctx.JSON(http.StatusConflict, ErrorResponse{Error: "Invalid state transition", Message: transitionErr.Error()})
	case errors.Is(err, models.ErrPoolNotInitialized),
		errors.Is(err, models.ErrBalanceNotFound),
		errors.Is(err, models.ErrTransactionNotFound):
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found", Message: err.Error()})
	case errors.As(err, &storageErr):
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Storage failure", Message: "operation could not be completed"})
	default:
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Message: err.Error()})
	}
}

func userIDFromPath(ctx *gin.Context) (int64, error) {
	return strconv.ParseInt(ctx.Param("userId"), 10, 64)
}

func intQuery(ctx *gin.Context, name string, fallback int) int {
	value, err := strconv.Atoi(ctx.Query(name))
	if err != nil {
		return fallback
	}
	return value
}

func timeQuery(ctx *gin.Context, name string) (time.Time, bool) {
	raw := ctx.Query(name)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
