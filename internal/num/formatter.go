package num

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolFormatter rounds raw decimals to a contract's tick and lot rules.
//
// Prices are snapped to the tick grid with half-away-from-zero rounding and
// then truncated to the price precision. Quantities are truncated toward zero
// so a position can never be over-sized by rounding.
type SymbolFormatter struct {
	TickSize          decimal.Decimal
	PricePrecision    int32
	QuantityPrecision int32
}

// NewSymbolFormatter builds a formatter from wire-format strings.
func NewSymbolFormatter(tickSize string, pricePrecision, quantityPrecision int32) (*SymbolFormatter, error) {
	if pricePrecision < 0 || quantityPrecision < 0 {
		return nil, fmt.Errorf("%w: negative precision", ErrInvalidDecimal)
	}
	tick, err := Parse(tickSize)
	if err != nil {
		return nil, err
	}
	return &SymbolFormatter{
		TickSize:          tick,
		PricePrecision:    pricePrecision,
		QuantityPrecision: quantityPrecision,
	}, nil
}

// FormatPrice snaps price to the tick grid, rounding half away from zero.
func (f *SymbolFormatter) FormatPrice(price decimal.Decimal) decimal.Decimal {
	p := price
	if f.TickSize.IsPositive() {
		steps := p.DivRound(f.TickSize, 0) // DivRound is half away from zero
		p = steps.Mul(f.TickSize)
	}
	return p.Truncate(f.PricePrecision)
}

// FormatQuantity truncates quantity toward zero to the quantity precision.
func (f *SymbolFormatter) FormatQuantity(qty decimal.Decimal) decimal.Decimal {
	return qty.Truncate(f.QuantityPrecision)
}

// FormatPriceString parses and formats a price given as a decimal string.
func (f *SymbolFormatter) FormatPriceString(price string) (string, error) {
	p, err := Parse(price)
	if err != nil {
		return "", err
	}
	return f.FormatPrice(p).String(), nil
}

// FormatQuantityString parses and formats a quantity given as a decimal string.
func (f *SymbolFormatter) FormatQuantityString(qty string) (string, error) {
	q, err := Parse(qty)
	if err != nil {
		return "", err
	}
	return f.FormatQuantity(q).String(), nil
}
