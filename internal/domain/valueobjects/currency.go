// Package valueobjects contains immutable value objects that represent domain
// concepts without identity. They are compared by their values.
package valueobjects

import (
	"errors"
	"regexp"
	"strings"
)

// Currency represents an ISO 4217 currency code. It is immutable and
// validated on creation, so an invalid code never enters the domain.
type Currency struct {
	code string
}

// Predefined currencies for the common payment corridors.
var (
	USD = Currency{code: "USD"}
	EUR = Currency{code: "EUR"}
	GBP = Currency{code: "GBP"}
)

// supportedCurrencies is the whitelist of settlement currencies the engine
// accepts. Extending support is a data change, not a logic change.
var supportedCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"CAD": true,
	"AUD": true,
	"JPY": true,
	"CHF": true,
	"SEK": true,
	"NOK": true,
	"DKK": true,
	"PLN": true,
	"BRL": true,
	"MXN": true,
	"INR": true,
	"SGD": true,
	"HKD": true,
	"NZD": true,
}

var (
	// ErrInvalidCurrency is returned when the code is not three uppercase letters.
	ErrInvalidCurrency = errors.New("currency must be a 3-letter uppercase ISO 4217 code")
	// ErrUnsupportedCurrency is returned for well-formed but unsupported codes.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// NewCurrency creates a Currency from a raw code.
//
// The code must already be exactly three uppercase letters; lowercase input
// is rejected rather than normalized, so what the caller sent is what gets
// persisted and what signatures were computed over.
func NewCurrency(code string) (Currency, error) {
	code = strings.TrimSpace(code)

	if !currencyCodePattern.MatchString(code) {
		return Currency{}, ErrInvalidCurrency
	}
	if !supportedCurrencies[code] {
		return Currency{}, ErrUnsupportedCurrency
	}

	return Currency{code: code}, nil
}

// MustNewCurrency panics on invalid input. Use only in initialization code
// where an invalid code indicates a programming error.
func MustNewCurrency(code string) Currency {
	curr, err := NewCurrency(code)
	if err != nil {
		panic(err)
	}
	return curr
}

// IsSupportedCurrency reports whether code would be accepted by NewCurrency.
func IsSupportedCurrency(code string) bool {
	return currencyCodePattern.MatchString(code) && supportedCurrencies[code]
}

// Code returns the ISO 4217 code.
func (c Currency) Code() string {
	return c.code
}

// Equals compares two currencies by value.
func (c Currency) Equals(other Currency) bool {
	return c.code == other.code
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return c.code
}

// IsZero reports whether this is an uninitialized currency.
func (c Currency) IsZero() bool {
	return c.code == ""
}
