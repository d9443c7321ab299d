// Package retry schedules and executes delayed reprocessing of failed
// transactions: a timer queue, a backoff policy and the manager tying them
// to the state machine.
package retry

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how attempt delays grow.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// Policy bounds retries for a transaction: how many attempts, how the delay
// between attempts grows, and its ceiling.
type Policy struct {
	MaxAttempts  int
	Backoff      BackoffStrategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy returns three exponential attempts between 1s and 60s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}
}

// Validate rejects unusable policies at startup.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Backoff != BackoffFixed && p.Backoff != BackoffExponential {
		return fmt.Errorf("retry policy: unknown backoff strategy %q", p.Backoff)
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("retry policy: initial delay must be positive, got %s", p.InitialDelay)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("retry policy: max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	}
	return nil
}

// Delay computes the wait before the given attempt (1-based), jittered by a
// uniform ±10% so simultaneous failures do not retry in lockstep.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.InitialDelay
	if p.Backoff == BackoffExponential {
		shift := uint(attempt - 1)
		if shift > 30 {
			shift = 30
		}
		base = p.InitialDelay << shift
	}
	if base > p.MaxDelay {
		base = p.MaxDelay
	}

	// Uniform factor in [0.9, 1.1).
	factor := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(base) * factor)
}
