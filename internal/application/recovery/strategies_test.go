package recovery

import (
	"context"
	"strings"
	"testing"

	"github.com/payflowhq/payflow/internal/application/ports"
	domainErrors "github.com/payflowhq/payflow/internal/domain/errors"
)

// mockProvider is a scriptable payment provider.
type mockProvider struct {
	name        string
	processFunc func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error)
	requests    []ports.ProviderRequest
}

func (m *mockProvider) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mockpay"
}

func (m *mockProvider) Process(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
	m.requests = append(m.requests, req)
	if m.processFunc != nil {
		return m.processFunc(ctx, req)
	}
	return &ports.ProviderResult{ProviderReference: "mockpay-ref"}, nil
}

func (m *mockProvider) HealthCheck(ctx context.Context) error { return nil }

func TestCommunicationFaultStrategy_CanHandle(t *testing.T) {
	strategy := NewCommunicationFaultStrategy(&mockProvider{}, testLogger())

	tests := []struct {
		name     string
		txErr    *domainErrors.TransactionError
		expected bool
	}{
		{
			name:     "communication fault",
			txErr:    domainErrors.NewProviderCommunicationError("PROVIDER_TIMEOUT", "timeout"),
			expected: true,
		},
		{
			name:     "hard decline",
			txErr:    domainErrors.NewProviderDeclinedError("DO_NOT_HONOR", "do not honor", false),
			expected: false,
		},
		{
			name:     "soft decline",
			txErr:    domainErrors.NewProviderDeclinedError("ISSUER_UNAVAILABLE", "issuer unavailable", true),
			expected: false,
		},
		{
			name:     "nil error",
			txErr:    nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strategy.CanHandle(tt.txErr); got != tt.expected {
				t.Errorf("CanHandle() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCommunicationFaultStrategy_ResubmitsTransaction(t *testing.T) {
	// Arrange
	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			return &ports.ProviderResult{
				ProviderReference: "mockpay-554",
				Details:           map[string]interface{}{"rail": "card"},
			}, nil
		},
	}
	strategy := NewCommunicationFaultStrategy(provider, testLogger())
	tx := failedTx(t, domainErrors.NewProviderCommunicationError("PROVIDER_TIMEOUT", "timeout"))

	// Act
	result, err := strategy.Execute(context.Background(), tx)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(provider.requests) != 1 {
		t.Fatalf("Expected 1 provider call, got %d", len(provider.requests))
	}
	req := provider.requests[0]
	if req.TransactionID != tx.ID() {
		t.Errorf("Expected transaction id %s, got %s", tx.ID(), req.TransactionID)
	}
	if req.Amount.Decimal() != "150.00" {
		t.Errorf("Expected amount 150.00, got %s", req.Amount.Decimal())
	}
	if req.CustomerID != "cust-200" || req.PaymentMethodID != "pm-200" {
		t.Errorf("Unexpected request identity: %s / %s", req.CustomerID, req.PaymentMethodID)
	}
	if result.Data["providerReference"] != "mockpay-554" {
		t.Errorf("Expected providerReference in result, got %v", result.Data["providerReference"])
	}
	if result.Data["rail"] != "card" {
		t.Errorf("Expected provider details merged, got %v", result.Data)
	}
}

func TestCommunicationFaultStrategy_ProviderFailurePropagates(t *testing.T) {
	// Arrange
	decline := domainErrors.NewProviderDeclinedError("DO_NOT_HONOR", "do not honor", false)
	provider := &mockProvider{
		processFunc: func(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
			return nil, decline
		},
	}
	strategy := NewCommunicationFaultStrategy(provider, testLogger())
	tx := failedTx(t, domainErrors.NewProviderCommunicationError("PROVIDER_TIMEOUT", "timeout"))

	// Act
	result, err := strategy.Execute(context.Background(), tx)

	// Assert
	if result != nil {
		t.Errorf("Expected nil result, got %+v", result)
	}
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "provider resubmission") {
		t.Errorf("Expected wrapped resubmission error, got: %v", err)
	}
	if got := domainErrors.AsTransactionError(err); got == nil || got.Code != "DO_NOT_HONOR" {
		t.Errorf("Expected the decline preserved in the chain, got %v", got)
	}
}

func TestSoftDeclineStrategy_CanHandle(t *testing.T) {
	strategy := NewSoftDeclineStrategy(&mockProvider{}, testLogger())

	tests := []struct {
		name     string
		txErr    *domainErrors.TransactionError
		expected bool
	}{
		{
			name:     "soft decline",
			txErr:    domainErrors.NewProviderDeclinedError("ISSUER_UNAVAILABLE", "issuer unavailable", true),
			expected: true,
		},
		{
			name:     "hard decline",
			txErr:    domainErrors.NewProviderDeclinedError("DO_NOT_HONOR", "do not honor", false),
			expected: false,
		},
		{
			name:     "communication fault",
			txErr:    domainErrors.NewProviderCommunicationError("PROVIDER_TIMEOUT", "timeout"),
			expected: false,
		},
		{
			name:     "nil error",
			txErr:    nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strategy.CanHandle(tt.txErr); got != tt.expected {
				t.Errorf("CanHandle() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSoftDeclineStrategy_RepresentsTransaction(t *testing.T) {
	// Arrange
	provider := &mockProvider{}
	strategy := NewSoftDeclineStrategy(provider, testLogger())
	tx := failedTx(t, domainErrors.NewProviderDeclinedError("ISSUER_UNAVAILABLE", "issuer unavailable", true))

	// Act
	result, err := strategy.Execute(context.Background(), tx)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(provider.requests) != 1 {
		t.Fatalf("Expected 1 provider call, got %d", len(provider.requests))
	}
	if result.Data["providerReference"] != "mockpay-ref" {
		t.Errorf("Expected providerReference in result, got %v", result.Data["providerReference"])
	}
}

func TestStrategyNames(t *testing.T) {
	if name := NewCommunicationFaultStrategy(&mockProvider{}, testLogger()).Name(); name != "provider_reconciliation" {
		t.Errorf("Unexpected name: %s", name)
	}
	if name := NewSoftDeclineStrategy(&mockProvider{}, testLogger()).Name(); name != "soft_decline_representment" {
		t.Errorf("Unexpected name: %s", name)
	}
}
