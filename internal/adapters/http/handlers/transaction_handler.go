// Package handlers - Transaction HTTP handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/payflowhq/payflow/internal/adapters/http/common"
	"github.com/payflowhq/payflow/internal/application/dtos"
)

// ============================================
// Use Case Interfaces
// ============================================

// BeginTransactionUseCase starts a new transaction or replays an existing
// one when the idempotency key was seen before.
type BeginTransactionUseCase interface {
	Execute(ctx context.Context, cmd dtos.BeginTransactionCommand) (*dtos.BeginTransactionResult, error)
}

// GetTransactionUseCase fetches a transaction by ID.
type GetTransactionUseCase interface {
	Execute(ctx context.Context, query dtos.GetTransactionQuery) (*dtos.TransactionDTO, error)
}

// ListCustomerTransactionsUseCase pages through a customer's transactions.
type ListCustomerTransactionsUseCase interface {
	Execute(ctx context.Context, query dtos.ListCustomerTransactionsQuery) (*dtos.TransactionListDTO, error)
}

// GetTransactionByIdempotencyKeyUseCase fetches a transaction by its key.
type GetTransactionByIdempotencyKeyUseCase interface {
	Execute(ctx context.Context, query dtos.GetTransactionByIdempotencyKeyQuery) (*dtos.TransactionDTO, error)
}

// UpdateTransactionStatusUseCase applies an operator-driven state change.
type UpdateTransactionStatusUseCase interface {
	Execute(ctx context.Context, cmd dtos.UpdateTransactionStatusCommand) (*dtos.TransactionDTO, error)
}

// ScheduleRetryUseCase schedules a manual retry of a failed transaction.
type ScheduleRetryUseCase interface {
	Execute(ctx context.Context, cmd dtos.ScheduleRetryCommand) (*dtos.TransactionDTO, error)
}

// CancelRetryUseCase withdraws a scheduled retry.
type CancelRetryUseCase interface {
	Execute(ctx context.Context, cmd dtos.CancelRetryCommand) (bool, error)
}

// ReprocessTransactionUseCase pulls a transaction out of the dead-letter
// queue and runs recovery again.
type ReprocessTransactionUseCase interface {
	Execute(ctx context.Context, cmd dtos.ReprocessTransactionCommand) (*dtos.TransactionDTO, error)
}

// RetryStatsProvider reports the state of the retry subsystem.
type RetryStatsProvider interface {
	GetRetryStats(ctx context.Context) (*dtos.RetryStatsDTO, error)
}

// DeadLetterStatsProvider summarizes the dead-letter queue.
type DeadLetterStatsProvider interface {
	GetDeadLetterQueueStats(ctx context.Context) (*dtos.DeadLetterStatsDTO, error)
}

// ============================================
// Transaction Handler
// ============================================

// TransactionHandler serves the transaction endpoints.
type TransactionHandler struct {
	beginTransaction    BeginTransactionUseCase
	getTransaction      GetTransactionUseCase
	listTransactions    ListCustomerTransactionsUseCase
	getByIdempotencyKey GetTransactionByIdempotencyKeyUseCase
	updateStatus        UpdateTransactionStatusUseCase
	scheduleRetry       ScheduleRetryUseCase
	cancelRetry         CancelRetryUseCase
	reprocess           ReprocessTransactionUseCase
	retryStats          RetryStatsProvider
	deadLetterStats     DeadLetterStatsProvider
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(
	beginTransaction BeginTransactionUseCase,
	getTransaction GetTransactionUseCase,
	listTransactions ListCustomerTransactionsUseCase,
	getByIdempotencyKey GetTransactionByIdempotencyKeyUseCase,
	updateStatus UpdateTransactionStatusUseCase,
	scheduleRetry ScheduleRetryUseCase,
	cancelRetry CancelRetryUseCase,
	reprocess ReprocessTransactionUseCase,
	retryStats RetryStatsProvider,
	deadLetterStats DeadLetterStatsProvider,
) *TransactionHandler {
	return &TransactionHandler{
		beginTransaction:    beginTransaction,
		getTransaction:      getTransaction,
		listTransactions:    listTransactions,
		getByIdempotencyKey: getByIdempotencyKey,
		updateStatus:        updateStatus,
		scheduleRetry:       scheduleRetry,
		cancelRetry:         cancelRetry,
		reprocess:           reprocess,
		retryStats:          retryStats,
		deadLetterStats:     deadLetterStats,
	}
}

// ============================================
// Request DTOs
// ============================================

// TransactionIDParam is the transaction ID from the URL.
type TransactionIDParam struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// CustomerIDParam is the customer ID from the URL.
type CustomerIDParam struct {
	CustomerID string `uri:"customerId" binding:"required"`
}

// BeginTransactionRequest is the POST /transactions body.
//
// @Description Begin transaction request body
type BeginTransactionRequest struct {
	Type            string                 `json:"type" binding:"required,transaction_type"`
	Amount          string                 `json:"amount" binding:"required,money_amount"`
	Currency        string                 `json:"currency" binding:"required,currency_code"`
	CustomerID      string                 `json:"customerId" binding:"required,max=255"`
	PaymentMethodID string                 `json:"paymentMethodId" binding:"required,max=255"`
	IdempotencyKey  string                 `json:"idempotencyKey" binding:"required,min=8,max=255"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// UpdateStatusRequest is the PATCH /transactions/:id/status body.
//
// @Description Update transaction status request body
type UpdateStatusRequest struct {
	Status   string                 `json:"status" binding:"required,transaction_status"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ListTransactionsParams are the optional filters for the customer listing.
type ListTransactionsParams struct {
	Status    string `form:"status" binding:"omitempty,transaction_status"`
	Type      string `form:"type" binding:"omitempty,transaction_type"`
	StartDate string `form:"startDate" binding:"omitempty"`
	EndDate   string `form:"endDate" binding:"omitempty"`
}

// CancelRetryResponse reports whether a scheduled retry existed.
type CancelRetryResponse struct {
	TransactionID string `json:"transactionId"`
	Cancelled     bool   `json:"cancelled"`
}

// ============================================
// HTTP Handlers
// ============================================

// BeginTransaction starts processing of a new transaction.
//
// @Summary Begin a transaction
// @Description Start a new payment, refund or chargeback. Safe to repeat: the same idempotency key with the same body replays the stored result.
// @Tags Transactions
// @Accept json
// @Produce json
// @Param request body BeginTransactionRequest true "Transaction to begin"
// @Success 201 {object} common.APIResponse{data=dtos.TransactionDTO} "Created"
// @Success 200 {object} common.APIResponse{data=dtos.TransactionDTO} "Idempotent replay"
// @Failure 400 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse "Idempotency key reused with a different body"
// @Failure 422 {object} common.APIResponse "Provider declined"
// @Failure 502 {object} common.APIResponse "Provider unreachable"
// @Router /api/v1/transactions [post]
func (h *TransactionHandler) BeginTransaction(c *gin.Context) {
	var req BeginTransactionRequest
	if !BindJSON(c, &req) {
		return
	}

	cmd := dtos.BeginTransactionCommand{
		Type:            req.Type,
		Amount:          req.Amount,
		Currency:        req.Currency,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata:        req.Metadata,
	}

	if h.beginTransaction == nil {
		common.InternalErrorResponse(c, "BeginTransaction use case not implemented")
		return
	}

	result, err := h.beginTransaction.Execute(c.Request.Context(), cmd)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	common.Success(c, status, result.Transaction)
}

// GetTransaction returns a transaction by ID.
//
// @Summary Get transaction by ID
// @Description Get transaction details by UUID
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID" format(uuid)
// @Success 200 {object} common.APIResponse{data=dtos.TransactionDTO}
// @Failure 400 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/{id} [get]
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	var params TransactionIDParam
	if !BindURI(c, &params) {
		return
	}

	query := dtos.GetTransactionQuery{TransactionID: params.ID}

	if h.getTransaction == nil {
		common.InternalErrorResponse(c, "GetTransaction use case not implemented")
		return
	}

	result, err := h.getTransaction.Execute(c.Request.Context(), query)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, result)
}

// GetCustomerTransactions returns a customer's transactions with filters.
//
// @Summary List customer transactions
// @Description Get a paginated list of one customer's transactions with optional filters
// @Tags Transactions
// @Accept json
// @Produce json
// @Param customerId path string true "Customer ID"
// @Param limit query int false "Page size" default(50) maximum(100)
// @Param offset query int false "Page offset" default(0)
// @Param status query string false "Filter by status" Enums(PENDING, PROCESSING, COMPLETED, FAILED, ROLLED_BACK, RECOVERY_PENDING, RECOVERY_IN_PROGRESS)
// @Param type query string false "Filter by type" Enums(PAYMENT, REFUND, CHARGEBACK)
// @Param startDate query string false "Created at or after (RFC3339)"
// @Param endDate query string false "Created before (RFC3339)"
// @Success 200 {object} common.APIResponse{data=dtos.TransactionListDTO}
// @Failure 400 {object} common.APIResponse
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/customer/{customerId} [get]
func (h *TransactionHandler) GetCustomerTransactions(c *gin.Context) {
	var params CustomerIDParam
	if !BindURI(c, &params) {
		return
	}

	pagination := ParsePagination(c)

	var filters ListTransactionsParams
	if !BindQuery(c, &filters) {
		return
	}

	query := dtos.ListCustomerTransactionsQuery{
		CustomerID: params.CustomerID,
		Limit:      pagination.Limit,
		Offset:     pagination.Offset,
	}

	if filters.Status != "" {
		query.Status = &filters.Status
	}
	if filters.Type != "" {
		query.Type = &filters.Type
	}
	if filters.StartDate != "" {
		from, err := time.Parse(time.RFC3339, filters.StartDate)
		if err != nil {
			common.ValidationErrorResponse(c, []common.FieldError{
				{Field: "startDate", Message: "Must be an RFC3339 timestamp", Code: "datetime"},
			})
			return
		}
		query.StartDate = &from
	}
	if filters.EndDate != "" {
		to, err := time.Parse(time.RFC3339, filters.EndDate)
		if err != nil {
			common.ValidationErrorResponse(c, []common.FieldError{
				{Field: "endDate", Message: "Must be an RFC3339 timestamp", Code: "datetime"},
			})
			return
		}
		query.EndDate = &to
	}

	if h.listTransactions == nil {
		common.InternalErrorResponse(c, "ListCustomerTransactions use case not implemented")
		return
	}

	result, err := h.listTransactions.Execute(c.Request.Context(), query)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	meta := BuildMeta(pagination, result.Count)
	common.SuccessWithMeta(c, http.StatusOK, result, meta)
}

// GetTransactionByIdempotencyKey returns a transaction by its key.
//
// @Summary Get transaction by idempotency key
// @Description Look up the transaction created under a client key, useful for resolving interrupted submissions
// @Tags Transactions
// @Accept json
// @Produce json
// @Param key path string true "Idempotency Key"
// @Success 200 {object} common.APIResponse{data=dtos.TransactionDTO}
// @Failure 400 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/idempotency/{key} [get]
func (h *TransactionHandler) GetTransactionByIdempotencyKey(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		common.ValidationErrorResponse(c, []common.FieldError{
			{Field: "key", Message: "Idempotency key is required", Code: "required"},
		})
		return
	}

	if h.getByIdempotencyKey == nil {
		common.InternalErrorResponse(c, "GetTransactionByIdempotencyKey use case not implemented")
		return
	}

	query := dtos.GetTransactionByIdempotencyKeyQuery{
		IdempotencyKey: key,
	}

	result, err := h.getByIdempotencyKey.Execute(c.Request.Context(), query)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, result)
}

// UpdateStatus applies an operator-driven state change.
//
// @Summary Update transaction status
// @Description Force a state transition. Illegal transitions are rejected with 409.
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID" format(uuid)
// @Param request body UpdateStatusRequest true "Target status"
// @Success 200 {object} common.APIResponse{data=dtos.TransactionDTO}
// @Failure 400 {object} common.APIResponse
// @Failure 401 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse "Transition not allowed"
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/{id}/status [patch]
func (h *TransactionHandler) UpdateStatus(c *gin.Context) {
	var params TransactionIDParam
	if !BindURI(c, &params) {
		return
	}

	var req UpdateStatusRequest
	if !BindJSON(c, &req) {
		return
	}

	cmd := dtos.UpdateTransactionStatusCommand{
		TransactionID: params.ID,
		Status:        req.Status,
		Metadata:      req.Metadata,
	}

	if h.updateStatus == nil {
		common.InternalErrorResponse(c, "UpdateTransactionStatus use case not implemented")
		return
	}

	result, err := h.updateStatus.Execute(c.Request.Context(), cmd)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, result)
}

// RetryTransaction schedules a manual retry of a failed transaction.
//
// @Summary Retry a failed transaction
// @Description Schedule a retry for a transaction in FAILED state
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID" format(uuid)
// @Success 200 {object} common.APIResponse{data=dtos.TransactionDTO}
// @Failure 400 {object} common.APIResponse "Transaction is not in FAILED state"
// @Failure 404 {object} common.APIResponse
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/{id}/retry [post]
func (h *TransactionHandler) RetryTransaction(c *gin.Context) {
	var params TransactionIDParam
	if !BindURI(c, &params) {
		return
	}

	cmd := dtos.ScheduleRetryCommand{TransactionID: params.ID}

	if h.scheduleRetry == nil {
		common.InternalErrorResponse(c, "ScheduleRetry use case not implemented")
		return
	}

	result, err := h.scheduleRetry.Execute(c.Request.Context(), cmd)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, result)
}

// CancelRetry withdraws a scheduled retry.
//
// @Summary Cancel a scheduled retry
// @Description Remove the pending retry timer for a transaction. Reports whether one existed.
// @Tags Transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID" format(uuid)
// @Success 200 {object} common.APIResponse{data=CancelRetryResponse}
// @Failure 400 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/{id}/retry [delete]
func (h *TransactionHandler) CancelRetry(c *gin.Context) {
	var params TransactionIDParam
	if !BindURI(c, &params) {
		return
	}

	cmd := dtos.CancelRetryCommand{TransactionID: params.ID}

	if h.cancelRetry == nil {
		common.InternalErrorResponse(c, "CancelRetry use case not implemented")
		return
	}

	cancelled, err := h.cancelRetry.Execute(c.Request.Context(), cmd)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, CancelRetryResponse{
		TransactionID: params.ID,
		Cancelled:     cancelled,
	})
}

// GetRetryStats reports the retry subsystem state.
//
// @Summary Retry statistics
// @Description Queue depth, per-status transaction counts and the active policy
// @Tags Statistics
// @Produce json
// @Success 200 {object} common.APIResponse{data=dtos.RetryStatsDTO}
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/stats/retry [get]
func (h *TransactionHandler) GetRetryStats(c *gin.Context) {
	if h.retryStats == nil {
		common.InternalErrorResponse(c, "Retry statistics not available")
		return
	}

	stats, err := h.retryStats.GetRetryStats(c.Request.Context())
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, stats)
}

// GetDeadLetterStats summarizes the dead-letter queue.
//
// @Summary Dead-letter queue statistics
// @Description Total queued transactions grouped by error code
// @Tags Statistics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} common.APIResponse{data=dtos.DeadLetterStatsDTO}
// @Failure 401 {object} common.APIResponse
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/stats/dead-letter [get]
func (h *TransactionHandler) GetDeadLetterStats(c *gin.Context) {
	if h.deadLetterStats == nil {
		common.InternalErrorResponse(c, "Dead-letter statistics not available")
		return
	}

	stats, err := h.deadLetterStats.GetDeadLetterQueueStats(c.Request.Context())
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, stats)
}

// ReprocessTransaction pulls a transaction out of the dead-letter queue.
//
// @Summary Reprocess a dead-lettered transaction
// @Description Remove the transaction from the dead-letter queue, reset its attempt counter and run recovery again
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transaction ID" format(uuid)
// @Success 200 {object} common.APIResponse{data=dtos.TransactionDTO}
// @Failure 400 {object} common.APIResponse
// @Failure 401 {object} common.APIResponse
// @Failure 404 {object} common.APIResponse "Transaction is not in the dead-letter queue"
// @Failure 500 {object} common.APIResponse
// @Router /api/v1/transactions/{id}/reprocess [post]
func (h *TransactionHandler) ReprocessTransaction(c *gin.Context) {
	var params TransactionIDParam
	if !BindURI(c, &params) {
		return
	}

	cmd := dtos.ReprocessTransactionCommand{TransactionID: params.ID}

	if h.reprocess == nil {
		common.InternalErrorResponse(c, "ReprocessTransaction use case not implemented")
		return
	}

	result, err := h.reprocess.Execute(c.Request.Context(), cmd)
	if err != nil {
		common.HandleDomainError(c, err)
		return
	}

	common.Success(c, http.StatusOK, result)
}
