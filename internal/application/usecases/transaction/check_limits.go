package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/errors"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// dailyWindow is the rolling window the daily limit applies to.
const dailyWindow = 24 * time.Hour

// LimitsChecker enforces the configured customer spend caps: a per-transaction
// maximum and a rolling 24h maximum. Caps are configured as plain decimals and
// apply to the transaction's own currency; an empty limit disables that check.
type LimitsChecker struct {
	transactionRepo ports.TransactionRepository
	singleMax       string
	dailyMax        string
	logger          *slog.Logger
}

// NewLimitsChecker creates the checker. singleMax and dailyMax are decimal
// strings such as "10000.00"; empty strings disable the respective limit.
func NewLimitsChecker(
	transactionRepo ports.TransactionRepository,
	singleMax string,
	dailyMax string,
	logger *slog.Logger,
) *LimitsChecker {
	return &LimitsChecker{
		transactionRepo: transactionRepo,
		singleMax:       singleMax,
		dailyMax:        dailyMax,
		logger:          logger,
	}
}

// CheckTransactionLimits verifies that amount fits under both caps for the
// customer. It returns nil when the transaction may proceed and a
// non-retryable, non-recoverable LIMIT_EXCEEDED error when a limit is breached.
func (c *LimitsChecker) CheckTransactionLimits(ctx context.Context, customerID string, amount valueobjects.Money) error {
	if c.singleMax != "" {
		limit, err := valueobjects.NewMoney(c.singleMax, amount.Currency())
		if err != nil {
			return fmt.Errorf("parse single transaction limit: %w", err)
		}
		exceeds, err := amount.GreaterThan(limit)
		if err != nil {
			return fmt.Errorf("compare against single transaction limit: %w", err)
		}
		if exceeds {
			return errors.NewTransactionError(
				errors.KindValidation,
				errors.CodeLimitExceeded,
				fmt.Sprintf("amount %s exceeds the single transaction limit of %s", amount, limit),
				false, false,
			).WithDetails(map[string]interface{}{
				"limit":  limit.Decimal(),
				"amount": amount.Decimal(),
				"scope":  "single",
			})
		}
	}

	if c.dailyMax != "" {
		limit, err := valueobjects.NewMoney(c.dailyMax, amount.Currency())
		if err != nil {
			return fmt.Errorf("parse daily transaction limit: %w", err)
		}

		since := time.Now().UTC().Add(-dailyWindow)
		spent, err := c.transactionRepo.SumAmountsSince(ctx, customerID, amount.Currency(), since)
		if err != nil {
			return fmt.Errorf("sum customer volume: %w", err)
		}
		projected, err := spent.Add(amount)
		if err != nil {
			return fmt.Errorf("project daily volume: %w", err)
		}
		exceeds, err := projected.GreaterThan(limit)
		if err != nil {
			return fmt.Errorf("compare against daily limit: %w", err)
		}
		if exceeds {
			c.logger.Info("daily limit breached",
				slog.String("customer_id", customerID),
				slog.String("spent", spent.Decimal()),
				slog.String("amount", amount.Decimal()),
				slog.String("limit", limit.Decimal()),
			)
			return errors.NewTransactionError(
				errors.KindValidation,
				errors.CodeLimitExceeded,
				fmt.Sprintf("amount %s would exceed the rolling daily limit of %s", amount, limit),
				false, false,
			).WithDetails(map[string]interface{}{
				"limit":  limit.Decimal(),
				"spent":  spent.Decimal(),
				"amount": amount.Decimal(),
				"scope":  "daily",
			})
		}
	}

	return nil
}
