// Package dtos carries the data shapes crossing the application boundary.
package dtos

import "time"

// ============================================
// Commands (write operations)
// ============================================

// BeginTransactionCommand starts processing of a new transaction.
type BeginTransactionCommand struct {
	Type            string                 `json:"type" validate:"required,oneof=PAYMENT REFUND CHARGEBACK"`
	Amount          string                 `json:"amount" validate:"required"`
	Currency        string                 `json:"currency" validate:"required,len=3"`
	CustomerID      string                 `json:"customerId" validate:"required"`
	PaymentMethodID string                 `json:"paymentMethodId" validate:"required"`
	IdempotencyKey  string                 `json:"idempotencyKey" validate:"required,min=8"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateTransactionStatusCommand forces a state transition from the operator
// surface. The state graph still decides whether the move is legal.
type UpdateTransactionStatusCommand struct {
	TransactionID string                 `json:"transactionId" validate:"required,uuid"`
	Status        string                 `json:"status" validate:"required"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ScheduleRetryCommand requests a manual retry of a failed transaction.
type ScheduleRetryCommand struct {
	TransactionID string `json:"transactionId" validate:"required,uuid"`
}

// CancelRetryCommand withdraws a scheduled retry.
type CancelRetryCommand struct {
	TransactionID string `json:"transactionId" validate:"required,uuid"`
}

// ReprocessTransactionCommand pulls a transaction out of the dead-letter
// queue and runs recovery again from a clean attempt counter.
type ReprocessTransactionCommand struct {
	TransactionID string `json:"transactionId" validate:"required,uuid"`
}

// ProviderNotificationCommand is a provider webhook translated into a status
// instruction. Built by the webhook handler after signature verification.
type ProviderNotificationCommand struct {
	Provider      string                 `json:"provider" validate:"required"`
	TransactionID string                 `json:"transactionId" validate:"required,uuid"`
	Status        string                 `json:"status" validate:"required"`
	Reference     string                 `json:"reference,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ============================================
// Queries (read operations)
// ============================================

// GetTransactionQuery fetches a single transaction by ID.
type GetTransactionQuery struct {
	TransactionID string `json:"transactionId" validate:"required,uuid"`
}

// GetTransactionByIdempotencyKeyQuery fetches a transaction by the
// client-supplied key.
type GetTransactionByIdempotencyKeyQuery struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required,min=8"`
}

// ListCustomerTransactionsQuery pages through a customer's transactions.
type ListCustomerTransactionsQuery struct {
	CustomerID string     `json:"customerId" validate:"required"`
	Status     *string    `json:"status,omitempty"`
	Type       *string    `json:"type,omitempty" validate:"omitempty,oneof=PAYMENT REFUND CHARGEBACK"`
	StartDate  *time.Time `json:"startDate,omitempty"`
	EndDate    *time.Time `json:"endDate,omitempty"`
	Limit      int        `json:"limit" validate:"min=0,max=100"`
	Offset     int        `json:"offset" validate:"min=0"`
}

// ============================================
// Response DTOs
// ============================================

// TransactionErrorDTO is the failure record of the last attempt.
type TransactionErrorDTO struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Recoverable bool                   `json:"recoverable"`
	Retryable   bool                   `json:"retryable"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// TransactionDTO is the API representation of a transaction.
type TransactionDTO struct {
	ID              string                 `json:"id"`
	IdempotencyKey  string                 `json:"idempotencyKey"`
	Type            string                 `json:"type"`
	Status          string                 `json:"status"`
	Amount          string                 `json:"amount"`
	Currency        string                 `json:"currency"`
	CustomerID      string                 `json:"customerId"`
	PaymentMethodID string                 `json:"paymentMethodId"`
	RetryCount      int                    `json:"retryCount"`
	Error           *TransactionErrorDTO   `json:"error,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	CompletedAt     *time.Time             `json:"completedAt,omitempty"`
	FailedAt        *time.Time             `json:"failedAt,omitempty"`
}

// BeginTransactionResult pairs the transaction with the replay flag so the
// HTTP layer can answer 201 for a fresh begin and 200 for an idempotent one.
type BeginTransactionResult struct {
	Transaction TransactionDTO `json:"transaction"`
	Replayed    bool           `json:"replayed"`
}

// TransactionListDTO is a page of transactions.
type TransactionListDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	Count        int              `json:"count"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}
