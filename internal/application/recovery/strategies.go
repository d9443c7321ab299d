package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// CommunicationFaultStrategy handles provider communication failures where
// the attempt outcome is unknown (timeouts, dropped connections). It
// resubmits the transaction; providers deduplicate on the transaction id, so
// a resubmission of an attempt that actually settled is answered with the
// original outcome.
type CommunicationFaultStrategy struct {
	provider ports.PaymentProvider
	logger   *slog.Logger
}

// NewCommunicationFaultStrategy creates the strategy.
func NewCommunicationFaultStrategy(provider ports.PaymentProvider, logger *slog.Logger) *CommunicationFaultStrategy {
	return &CommunicationFaultStrategy{provider: provider, logger: logger}
}

// Name implements Strategy.
func (s *CommunicationFaultStrategy) Name() string { return "provider_reconciliation" }

// CanHandle accepts communication-class failures.
func (s *CommunicationFaultStrategy) CanHandle(txErr *errors.TransactionError) bool {
	return txErr != nil && txErr.Kind == errors.KindProviderCommunication
}

// Execute resubmits the attempt.
func (s *CommunicationFaultStrategy) Execute(ctx context.Context, tx *entities.Transaction) (*Result, error) {
	s.logger.Info("reconciling transaction with provider",
		slog.String("transaction_id", tx.ID().String()),
		slog.String("provider", s.provider.Name()),
	)
	return resubmit(ctx, s.provider, tx)
}

// SoftDeclineStrategy handles declines the provider flagged as recoverable
// (issuer hiccups, velocity checks). A single representment often clears.
type SoftDeclineStrategy struct {
	provider ports.PaymentProvider
	logger   *slog.Logger
}

// NewSoftDeclineStrategy creates the strategy.
func NewSoftDeclineStrategy(provider ports.PaymentProvider, logger *slog.Logger) *SoftDeclineStrategy {
	return &SoftDeclineStrategy{provider: provider, logger: logger}
}

// Name implements Strategy.
func (s *SoftDeclineStrategy) Name() string { return "soft_decline_representment" }

// CanHandle accepts recoverable declines.
func (s *SoftDeclineStrategy) CanHandle(txErr *errors.TransactionError) bool {
	return txErr != nil && txErr.Kind == errors.KindProviderDeclined && txErr.Recoverable
}

// Execute represents the transaction to the provider.
func (s *SoftDeclineStrategy) Execute(ctx context.Context, tx *entities.Transaction) (*Result, error) {
	s.logger.Info("representing declined transaction",
		slog.String("transaction_id", tx.ID().String()),
		slog.String("provider", s.provider.Name()),
	)
	return resubmit(ctx, s.provider, tx)
}

// resubmit runs one provider attempt for tx and shapes the outcome into a
// strategy result.
func resubmit(ctx context.Context, provider ports.PaymentProvider, tx *entities.Transaction) (*Result, error) {
	result, err := provider.Process(ctx, ports.ProviderRequest{
		TransactionID:   tx.ID(),
		Type:            tx.Type(),
		Amount:          tx.Amount(),
		CustomerID:      tx.CustomerID(),
		PaymentMethodID: tx.PaymentMethodID(),
		Metadata:        tx.Metadata(),
	})
	if err != nil {
		return nil, fmt.Errorf("provider resubmission: %w", err)
	}

	data := map[string]interface{}{
		"providerReference": result.ProviderReference,
	}
	for k, v := range result.Details {
		data[k] = v
	}
	return &Result{Data: data}, nil
}
