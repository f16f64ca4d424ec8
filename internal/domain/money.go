package domain

import (
	"strings"

	"github.com/shopspring/decimal"

	"atomic-ledger/internal/errors"
)

// AmountScale is the number of fractional digits stored for money.
const AmountScale = 2

// MaxBalance bounds every amount and every resulting account balance. It
// stays inside the NUMERIC(20,2) money columns.
var MaxBalance = decimal.New(1, 15)

// ParseAmount parses a decimal string at the API boundary. Amounts with more
// than AmountScale fractional digits are rejected instead of rounded.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.ErrInvalidAmount.WithDetails("amount is required")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.ErrInvalidAmount.WithDetails(err.Error())
	}
	if !HasValidScale(amount) {
		return decimal.Zero, errors.ErrInvalidAmount.WithDetails("at most 2 decimal places allowed")
	}
	if ExceedsMaxBalance(amount) {
		return decimal.Zero, errors.ErrInvalidAmount.WithDetails("amount exceeds maximum of " + MaxBalance.StringFixed(AmountScale))
	}
	return amount, nil
}

// ExceedsMaxBalance reports whether d is above MaxBalance.
func ExceedsMaxBalance(d decimal.Decimal) bool {
	return d.GreaterThan(MaxBalance)
}

// HasValidScale reports whether d fits into AmountScale fractional digits.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}
