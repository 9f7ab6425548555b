// Package num provides decimal parsing and symbol-aware price/quantity
// formatting. All money, prices, quantities and ratios in the engine flow
// through shopspring decimals; float64 is never used for the money path.
package num

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultScale is the scale used for divisions that have no symbol context.
const DefaultScale = 16

// ErrInvalidDecimal is returned when a string cannot be parsed as a decimal.
var ErrInvalidDecimal = errors.New("num: invalid decimal")

// Parse converts a decimal string into a decimal.Decimal.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return d, nil
}

// ParsePositive parses s and requires the result to be strictly positive.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q is not positive", ErrInvalidDecimal, s)
	}
	return d, nil
}

// MustParse parses s and panics on failure. Reserved for constants.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Div divides a by b at the default scale. Returns an error on division by zero
// instead of panicking like the underlying library does.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	return DivScale(a, b, DefaultScale)
}

// DivScale divides a by b rounded to the given scale.
func DivScale(a, b decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: division by zero", ErrInvalidDecimal)
	}
	return a.DivRound(b, scale), nil
}

// Percent converts a percentage value (e.g. "2" for 2%) into its ratio (0.02).
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.DivRound(decimal.NewFromInt(100), DefaultScale)
}
