// Package providers contains payment provider adapters.
//
// The simulated provider serves development and tests: outcomes are scripted
// through request metadata and amount cues, so every branch of the failure
// routing can be exercised without an external gateway. The gRPC probe backs
// the readiness endpoint when a real provider gateway address is configured.
package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// Provider-side error codes recorded on failed transactions.
const (
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeDoNotHonor          = "DO_NOT_HONOR"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
)

// Metadata cues understood by the simulated provider.
//
//	simulate: "timeout"      communication fault, retryable
//	simulate: "unavailable"  communication fault, retryable
//	simulate: "decline"      hard decline, goes to the dead-letter queue
//	simulate: "soft_decline" recoverable decline, goes to recovery
//	simulateFailuresBeforeSuccess: N
//	                         first N attempts time out, then the attempt
//	                         settles; drives retry-then-succeed scenarios
//
// Amount cues apply when no metadata cue is present: an amount whose minor
// units end in 99 is hard-declined, 98 is soft-declined, 97 times out.
const (
	cueKey          = "simulate"
	cueFailuresKey  = "simulateFailuresBeforeSuccess"
	cueTimeout      = "timeout"
	cueUnavailable  = "unavailable"
	cueDecline      = "decline"
	cueSoftDecline  = "soft_decline"
	amountCueDenied = 99
	amountCueSoft   = 98
	amountCueFault  = 97
)

// SimulatedProvider is a scripted in-process payment provider.
type SimulatedProvider struct {
	name    string
	latency time.Duration

	mu       sync.Mutex
	attempts map[uuid.UUID]int
	healthy  bool
}

// NewSimulatedProvider creates a simulated provider. A non-zero latency is
// applied to every Process call to make timeout handling observable.
func NewSimulatedProvider(latency time.Duration) *SimulatedProvider {
	return &SimulatedProvider{
		name:     "simulated",
		latency:  latency,
		attempts: make(map[uuid.UUID]int),
		healthy:  true,
	}
}

// Name implements ports.PaymentProvider.
func (p *SimulatedProvider) Name() string {
	return p.name
}

// Process implements ports.PaymentProvider. The outcome is decided by the
// request cues; attempts are counted per transaction so resubmissions of the
// same transaction can change outcome.
func (p *SimulatedProvider) Process(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResult, error) {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, errors.NewProviderCommunicationError(CodeProviderTimeout,
				"simulated provider call cancelled: "+ctx.Err().Error())
		case <-timer.C:
		}
	}

	attempt := p.recordAttempt(req.TransactionID)

	if n, ok := intCue(req.Metadata, cueFailuresKey); ok && attempt <= n {
		return nil, errors.NewProviderCommunicationError(CodeProviderTimeout,
			fmt.Sprintf("simulated timeout on attempt %d of %d", attempt, n))
	}

	switch stringCue(req.Metadata, cueKey) {
	case cueTimeout:
		return nil, errors.NewProviderCommunicationError(CodeProviderTimeout,
			"simulated provider timeout")
	case cueUnavailable:
		return nil, errors.NewProviderCommunicationError(CodeProviderUnavailable,
			"simulated provider unavailable")
	case cueDecline:
		return nil, errors.NewProviderDeclinedError(CodeDoNotHonor,
			"simulated hard decline", false)
	case cueSoftDecline:
		return nil, errors.NewProviderDeclinedError(CodeInsufficientFunds,
			"simulated soft decline", true)
	}

	switch req.Amount.Cents() % 100 {
	case amountCueDenied:
		return nil, errors.NewProviderDeclinedError(CodeDoNotHonor,
			"simulated hard decline (amount cue)", false)
	case amountCueSoft:
		return nil, errors.NewProviderDeclinedError(CodeInsufficientFunds,
			"simulated soft decline (amount cue)", true)
	case amountCueFault:
		return nil, errors.NewProviderCommunicationError(CodeProviderTimeout,
			"simulated timeout (amount cue)")
	}

	return &ports.ProviderResult{
		ProviderReference: "sim_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Details: map[string]interface{}{
			"provider":    p.name,
			"attempt":     attempt,
			"processedAt": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// HealthCheck implements ports.PaymentProvider.
func (p *SimulatedProvider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.healthy {
		return fmt.Errorf("simulated provider marked unhealthy")
	}
	return nil
}

// SetHealthy toggles the health check outcome. Used by tests and the
// development sandbox.
func (p *SimulatedProvider) SetHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// recordAttempt bumps and returns the attempt counter for a transaction.
func (p *SimulatedProvider) recordAttempt(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[id]++
	return p.attempts[id]
}

// stringCue reads a string cue from request metadata.
func stringCue(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

// intCue reads a numeric cue from request metadata. JSON decoding yields
// float64, so both forms are accepted.
func intCue(metadata map[string]interface{}, key string) (int, bool) {
	if metadata == nil {
		return 0, false
	}
	switch v := metadata[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
