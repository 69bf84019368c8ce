// Package money provides exact monetary amounts stored as integer minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when a textual amount cannot be represented exactly.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrUnknownCurrency is returned for currency codes outside the ISO 4217 table.
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Amount is a count of currency minor units (cents for USD).
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }
func (a Amount) Neg() Amount      { return -a }

// Add returns a+b, failing instead of wrapping on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: overflow adding %d to %d", ErrInvalidAmount, b, a)
	}
	return a + b, nil
}

// Decimal returns the amount in major units for the given currency.
func (a Amount) Decimal(currency string) decimal.Decimal {
	return decimal.New(int64(a), -int32(fraction(currency)))
}

// Currency normalises and validates an ISO 4217 code.
func Currency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || gomoney.GetCurrency(code) == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return code, nil
}

// Parse converts a decimal string in major units ("1500.00") into minor units.
// Values carrying more fractional digits than the currency allows are rejected
// rather than rounded.
func Parse(text, currency string) (Amount, error) {
	code, err := Currency(currency)
	if err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	return FromDecimal(d, code)
}

// FromDecimal converts a major-unit decimal into minor units without rounding.
func FromDecimal(d decimal.Decimal, currency string) (Amount, error) {
	scaled := d.Shift(int32(fraction(currency)))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, d, fraction(currency))
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d)
	}
	return Amount(scaled.IntPart()), nil
}

// Format renders the amount for display, e.g. "$1,500.00".
func Format(a Amount, currency string) string {
	return gomoney.New(int64(a), strings.ToUpper(currency)).Display()
}

// String renders the raw minor-unit count.
func (a Amount) String() string {
	return fmt.Sprintf("%d", int64(a))
}

func fraction(currency string) int {
	if c := gomoney.GetCurrency(strings.ToUpper(currency)); c != nil {
		return c.Fraction
	}
	return 2
}

// Text renders the amount in major units with the currency's fixed number of
// decimals, e.g. "1500.00". It is the wire format of amounts.
func Text(a Amount, currency string) string {
	return a.Decimal(currency).StringFixed(int32(fraction(currency)))
}
