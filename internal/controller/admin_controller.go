package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pool-api/internal/engine"
	"pool-api/internal/service"
)

// AdminController exposes the operator endpoints: pool fund movements,
// manual corrections, the deposit review queue and reconciliation.
type AdminController struct {
	adminService service.AdminService
}

func NewAdminController(adminService service.AdminService) *AdminController {
	return &AdminController{
		adminService: adminService,
	}
}

type PoolFundsRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Description string          `json:"description"`
}

type AllocationRequest struct {
	UserID      int64           `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Description string          `json:"description"`
}

type AdjustBalanceRequest struct {
	UserID      int64           `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Direction   int             `json:"direction" binding:"required,oneof=1 -1"`
	Reason      string          `json:"reason" binding:"required"`
	ReferenceID string          `json:"reference_id"`
}

type DepositDecisionRequest struct {
	Reason string `json:"reason"`
}

type ReconcileAllRequest struct {
	BatchSize int `json:"batch_size"`
}

// @Summary Add funds to the pool
// @Description Record a custodial top-up on the pool account
// @Tags admin
// @Accept json
// @Produce json
// @Param request body PoolFundsRequest true "Fund request"
// @Success 200 {object} engine.PoolFundsResult
// @Failure 400 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/pool/funds/add [post]
func (c *AdminController) AddFunds(ctx *gin.Context) {
	var req PoolFundsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.AddFunds(ctx.Request.Context(), &engine.PoolFundsRequest{
		Amount:      req.Amount,
		Description: req.Description,
		RequestedBy: adminID(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Remove funds from the pool
// @Description Withdraw unallocated custodial funds from the pool account
// @Tags admin
// @Accept json
// @Produce json
// @Param request body PoolFundsRequest true "Fund request"
// @Success 200 {object} engine.PoolFundsResult
// @Failure 400 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/pool/funds/remove [post]
func (c *AdminController) RemoveFunds(ctx *gin.Context) {
	var req PoolFundsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.RemoveFunds(ctx.Request.Context(), &engine.PoolFundsRequest{
		Amount:      req.Amount,
		Description: req.Description,
		RequestedBy: adminID(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Reserve pool headroom
// @Description Earmark unallocated pool funds ahead of a multi-step operation
// @Tags admin
// @Accept json
// @Produce json
// @Param request body PoolFundsRequest true "Reserve request"
// @Success 200 {object} engine.PoolFundsResult
// @Failure 400 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/pool/reserve [post]
func (c *AdminController) ReservePoolFunds(ctx *gin.Context) {
	var req PoolFundsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.ReservePoolFunds(ctx.Request.Context(), &engine.PoolFundsRequest{
		Amount:      req.Amount,
		Description: req.Description,
		RequestedBy: adminID(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Release reserved pool headroom
// @Description Return an earmark to the unallocated pool funds
// @Tags admin
// @Accept json
// @Produce json
// @Param request body PoolFundsRequest true "Release request"
// @Success 200 {object} engine.PoolFundsResult
// @Failure 400 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/pool/release [post]
func (c *AdminController) ReleasePoolFunds(ctx *gin.Context) {
	var req PoolFundsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.ReleasePoolFunds(ctx.Request.Context(), &engine.PoolFundsRequest{
		Amount:      req.Amount,
		Description: req.Description,
		RequestedBy: adminID(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Allocate pool funds to a user
// @Description Attribute unallocated pool funds to a user's available balance
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AllocationRequest true "Allocation request"
// @Success 200 {object} engine.AllocateResult
// @Failure 400 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/pool/allocate [post]
func (c *AdminController) AllocateToUser(ctx *gin.Context) {
	var req AllocationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.AllocateToUser(ctx.Request.Context(), &engine.AllocateRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Deallocate user funds back to the pool
// @Description Return part of a user's available balance to the unallocated pool
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AllocationRequest true "Deallocation request"
// @Success 200 {object} engine.DeallocateResult
// @Failure 400 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/pool/deallocate [post]
func (c *AdminController) DeallocateFromUser(ctx *gin.Context) {
	var req AllocationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.DeallocateFromUser(ctx.Request.Context(), &engine.DeallocateRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Adjust a user balance
// @Description Manual correction, always recorded in the ledger with the operator's identity
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AdjustBalanceRequest true "Adjustment request"
// @Success 200 {object} engine.AdjustResult
// @Failure 400 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/balance/adjust [post]
func (c *AdminController) AdjustBalance(ctx *gin.Context) {
	var req AdjustBalanceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.AdjustBalance(ctx.Request.Context(), &engine.AdjustRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Direction:   req.Direction,
		Reason:      req.Reason,
		AdjustedBy:  adminID(ctx),
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Approve a pending deposit
// @Description Move the deposit from pending into the user's available balance
// @Tags admin
// @Accept json
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} engine.DepositResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/deposits/{transactionId}/approve [post]
func (c *AdminController) ApproveDeposit(ctx *gin.Context) {
	result, err := c.adminService.ApproveDeposit(ctx.Request.Context(), &engine.DepositDecisionRequest{
		TransactionID: ctx.Param("transactionId"),
		DecidedBy:     adminID(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Reject a pending deposit
// @Description Fail the deposit and release the pending amount
// @Tags admin
// @Accept json
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Param request body DepositDecisionRequest true "Rejection reason"
// @Success 200 {object} engine.DepositResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/deposits/{transactionId}/reject [post]
func (c *AdminController) RejectDeposit(ctx *gin.Context) {
	var req DepositDecisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}

	result, err := c.adminService.RejectDeposit(ctx.Request.Context(), &engine.DepositDecisionRequest{
		TransactionID: ctx.Param("transactionId"),
		DecidedBy:     adminID(ctx),
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Reconcile the pool against the gateway
// @Description Compare the recorded pool total with the gateway's reported balance
// @Tags admin
// @Produce json
// @Success 200 {object} engine.GatewayReconcileResult
// @Failure 502 {object} ErrorResponse
// @Security AdminAuth
// @Router /admin/reconcile/gateway [post]
func (c *AdminController) ReconcileWithGateway(ctx *gin.Context) {
	result, err := c.adminService.ReconcileWithGateway(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Reconcile all user balances
// @Description Replay every user's ledger and report discrepancies
// @Tags admin
// @Accept json
// @Produce json
// @Param request body ReconcileAllRequest false "Batch size"
// @Success 200 {object} engine.BatchReconciliationResult
// @Security AdminAuth
// @Router /admin/reconcile/users [post]
func (c *AdminController) ReconcileAllUsers(ctx *gin.Context) {
	var req ReconcileAllRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request format", Message: err.Error()})
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 200
	}

	result, err := c.adminService.ReconcileAllUsers(ctx.Request.Context(), req.BatchSize)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Verify pool integrity
// @Description Check that the allocated balance equals the sum of attributed user balances
// @Tags admin
// @Produce json
// @Success 200 {object} engine.PoolIntegrityResult
// @Security AdminAuth
// @Router /admin/pool/integrity [get]
func (c *AdminController) VerifyPoolIntegrity(ctx *gin.Context) {
	result, err := c.adminService.VerifyPoolIntegrity(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func adminID(ctx *gin.Context) string {
	if id, ok := ctx.Get("admin_id"); ok {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	return "admin"
}
