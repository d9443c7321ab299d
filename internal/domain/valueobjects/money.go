// Package valueobjects - Money combines an amount and a currency so that the
// two can never drift apart inside the domain.
package valueobjects

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
)

// Money is a monetary amount in a single currency.
//
// Amounts are held as big.Rat to avoid floating-point drift; the constructor
// enforces at most two fractional digits, which is the resolution of every
// supported settlement currency. All operations return new instances.
type Money struct {
	amount   *big.Rat
	currency Currency
}

var (
	ErrNegativeAmount   = errors.New("amount cannot be negative")
	ErrCurrencyMismatch = errors.New("cannot operate on different currencies")
	ErrInvalidAmount    = errors.New("invalid amount format")
	ErrTooManyDecimals  = errors.New("amount has more than two fractional digits")
)

// decimalAmountPattern accepts plain decimals only: no exponents, no
// rationals, no signs other than a leading minus (rejected later anyway).
var decimalAmountPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// hundred is the scale factor for the 2-fractional-digit check.
var hundred = big.NewRat(100, 1)

// NewMoney parses a decimal string such as "100.50" into Money.
//
// Returns an error when the string is not a plain decimal, is negative, or
// carries more than two fractional digits.
func NewMoney(amountStr string, currency Currency) (Money, error) {
	if !decimalAmountPattern.MatchString(amountStr) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amountStr)
	}

	amount := new(big.Rat)
	if _, ok := amount.SetString(amountStr); !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amountStr)
	}

	if amount.Sign() < 0 {
		return Money{}, ErrNegativeAmount
	}

	// amount*100 must be an integer: at most two fractional digits.
	scaled := new(big.Rat).Mul(amount, hundred)
	if !scaled.IsInt() {
		return Money{}, fmt.Errorf("%w: %q", ErrTooManyDecimals, amountStr)
	}

	return Money{amount: amount, currency: currency}, nil
}

// NewMoneyFromCents creates Money from the smallest currency unit. This is
// the storage format used by the persistence layer.
func NewMoneyFromCents(cents int64, currency Currency) (Money, error) {
	if cents < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: big.NewRat(cents, 100), currency: currency}, nil
}

// Zero creates a zero amount in the given currency. Useful as an accumulator
// seed when summing transaction volumes.
func Zero(currency Currency) Money {
	return Money{amount: big.NewRat(0, 1), currency: currency}
}

// Currency returns the currency of this money.
func (m Money) Currency() Currency {
	return m.currency
}

// Amount returns a copy of the underlying rational amount.
func (m Money) Amount() *big.Rat {
	return new(big.Rat).Set(m.amount)
}

// String renders the amount with two fractional digits, e.g. "100.50 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.FloatString(2), m.currency.Code())
}

// Decimal renders the bare amount with two fractional digits, e.g. "100.50".
func (m Money) Decimal() string {
	return m.amount.FloatString(2)
}

// Cents returns the amount in the smallest currency unit.
func (m Money) Cents() int64 {
	scaled := new(big.Rat).Mul(m.amount, hundred)
	return scaled.Num().Int64() / scaled.Denom().Int64()
}

// Add returns the sum of two amounts in the same currency.
func (m Money) Add(other Money) (Money, error) {
	if !m.currency.Equals(other.currency) {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{amount: new(big.Rat).Add(m.amount, other.amount), currency: m.currency}, nil
}

// Subtract returns the difference; the result may not be negative.
func (m Money) Subtract(other Money) (Money, error) {
	if !m.currency.Equals(other.currency) {
		return Money{}, ErrCurrencyMismatch
	}
	diff := new(big.Rat).Sub(m.amount, other.amount)
	if diff.Sign() < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: diff, currency: m.currency}, nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.amount == nil || m.amount.Sign() == 0
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.amount != nil && m.amount.Sign() > 0
}

// GreaterThan compares two amounts in the same currency.
func (m Money) GreaterThan(other Money) (bool, error) {
	if !m.currency.Equals(other.currency) {
		return false, ErrCurrencyMismatch
	}
	return m.amount.Cmp(other.amount) > 0, nil
}

// LessThanOrEqual compares two amounts in the same currency.
func (m Money) LessThanOrEqual(other Money) (bool, error) {
	if !m.currency.Equals(other.currency) {
		return false, ErrCurrencyMismatch
	}
	return m.amount.Cmp(other.amount) <= 0, nil
}

// Equals reports whether amount and currency both match.
func (m Money) Equals(other Money) bool {
	return m.currency.Equals(other.currency) && m.amount.Cmp(other.amount) == 0
}
