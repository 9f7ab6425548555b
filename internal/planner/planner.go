// Package planner holds the martingale numeric core: limit-order ladder
// construction, feasible-leverage selection, take-profit and stop-loss price
// calculation, and weighted-average-price math.
//
// The planner is pure: it never touches the database or the exchange. Inputs
// arrive as decimals and a SymbolSpec snapshot; outputs are deterministic for
// identical inputs, including formatting.
package planner

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"martingalian/internal/num"
)

// Direction of a position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Errors surfaced by the planner.
var (
	// ErrInvalidInput covers non-positive prices, quantities or multipliers.
	ErrInvalidInput = errors.New("planner: invalid input")
	// ErrNoBasisPrice is returned when no reference, mark or last price exists.
	ErrNoBasisPrice = errors.New("planner: no basis price available")
)

// Warning kinds emitted during ladder construction.
const (
	WarnPriceClamped       = "price_clamped"
	WarnRungDroppedZeroQty = "rung_dropped_zero_qty"
)

// Warning records a non-fatal adjustment made while building a ladder.
type Warning struct {
	Kind string
	Rung int
}

// SymbolSpec is the slice of an exchange symbol the planner needs.
type SymbolSpec struct {
	Formatter    *num.SymbolFormatter
	MinPrice     decimal.Decimal // zero means unbounded
	MaxPrice     decimal.Decimal // zero means unbounded
	MinNotional  decimal.Decimal
	GapLongPct   decimal.Decimal // e.g. 2 means a 2% gap per rung
	GapShortPct  decimal.Decimal
	Multipliers  []decimal.Decimal // step quantity multipliers, last repeats
}

// DefaultMultipliers is the step ratio ladder used when a symbol carries none.
func DefaultMultipliers() []decimal.Decimal {
	two := decimal.NewFromInt(2)
	return []decimal.Decimal{two, two, two, two}
}

// Rung is one LIMIT order of the ladder, indexed from 1.
type Rung struct {
	Index    int
	Price    decimal.Decimal // symbol-formatted
	RawPrice decimal.Decimal // clamped, pre-formatting
	Quantity decimal.Decimal // symbol-formatted
	Notional decimal.Decimal // raw price x formatted quantity
}

// Ladder is the full set of LIMIT rungs plus construction warnings.
type Ladder struct {
	Rungs    []Rung
	Warnings []Warning
}

// TotalNotional sums the rung notionals.
func (l *Ladder) TotalNotional() decimal.Decimal {
	total := decimal.Zero
	for _, r := range l.Rungs {
		total = total.Add(r.Notional)
	}
	return total
}

// LadderInput parameterizes CalculateLimitOrdersData.
type LadderInput struct {
	TotalLimitOrders int
	Direction        Direction
	ReferencePrice   decimal.Decimal
	MarketOrderQty   decimal.Decimal
	Symbol           SymbolSpec

	// MultiplierOverride replaces the symbol multipliers when non-empty.
	MultiplierOverride []decimal.Decimal
	// GapPercentOverride replaces the directional gap when non-nil.
	GapPercentOverride *decimal.Decimal
}

// CalculateLimitOrdersData builds the limit-order ladder.
//
// Rung i price: LONG ref*(1-i*gap), SHORT ref*(1+i*gap), clamped to the symbol
// price bounds. Quantities chain from the market order quantity through the
// step multipliers, each link formatted before the next so rung sizes match
// what actually lands on the exchange. A rung whose formatted quantity is zero
// is dropped with a warning; the chain then carries the raw product forward so
// a later rung with a larger multiplier can still clear the lot step.
func CalculateLimitOrdersData(in LadderInput) (*Ladder, error) {
	if in.TotalLimitOrders < 1 {
		return nil, fmt.Errorf("%w: total limit orders must be >= 1, got %d", ErrInvalidInput, in.TotalLimitOrders)
	}
	if in.Direction != Long && in.Direction != Short {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidInput, in.Direction)
	}
	if !in.ReferencePrice.IsPositive() {
		return nil, fmt.Errorf("%w: reference price %s", ErrInvalidInput, in.ReferencePrice)
	}
	if !in.MarketOrderQty.IsPositive() {
		return nil, fmt.Errorf("%w: market order quantity %s", ErrInvalidInput, in.MarketOrderQty)
	}
	if in.Symbol.Formatter == nil {
		return nil, fmt.Errorf("%w: missing symbol formatter", ErrInvalidInput)
	}

	multipliers := in.MultiplierOverride
	if len(multipliers) == 0 {
		multipliers = in.Symbol.Multipliers
	}
	if len(multipliers) == 0 {
		multipliers = DefaultMultipliers()
	}
	for i, m := range multipliers {
		if !m.IsPositive() {
			return nil, fmt.Errorf("%w: multiplier %d is %s", ErrInvalidInput, i+1, m)
		}
	}

	gap, err := rungGap(in)
	if err != nil {
		return nil, err
	}

	ladder := &Ladder{}
	qty := in.MarketOrderQty
	for i := 1; i <= in.TotalLimitOrders; i++ {
		rawPrice := rungPrice(in.Direction, in.ReferencePrice, gap, i)
		if !rawPrice.IsPositive() {
			return nil, fmt.Errorf("%w: rung %d price %s", ErrInvalidInput, i, rawPrice)
		}

		clamped, wasClamped := clampPrice(rawPrice, in.Symbol.MinPrice, in.Symbol.MaxPrice)
		if wasClamped {
			ladder.Warnings = append(ladder.Warnings, Warning{Kind: WarnPriceClamped, Rung: i})
		}

		raw := qty.Mul(multiplierAt(multipliers, i))
		formatted := in.Symbol.Formatter.FormatQuantity(raw)
		if !formatted.IsPositive() {
			ladder.Warnings = append(ladder.Warnings, Warning{Kind: WarnRungDroppedZeroQty, Rung: i})
			qty = raw
			continue
		}
		qty = formatted

		ladder.Rungs = append(ladder.Rungs, Rung{
			Index:    i,
			Price:    in.Symbol.Formatter.FormatPrice(clamped),
			RawPrice: clamped,
			Quantity: formatted,
			// Raw price, not formatted, so rounding is not compounded.
			Notional: clamped.Mul(formatted),
		})
	}

	return ladder, nil
}

// rungGap resolves the per-rung gap ratio for the given direction.
func rungGap(in LadderInput) (decimal.Decimal, error) {
	var pct decimal.Decimal
	switch {
	case in.GapPercentOverride != nil:
		pct = *in.GapPercentOverride
	case in.Direction == Long:
		pct = in.Symbol.GapLongPct
	default:
		pct = in.Symbol.GapShortPct
	}
	if !pct.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: gap percentage %s", ErrInvalidInput, pct)
	}
	return num.Percent(pct), nil
}

func rungPrice(direction Direction, ref, gap decimal.Decimal, index int) decimal.Decimal {
	offset := gap.Mul(decimal.NewFromInt(int64(index)))
	if direction == Long {
		return ref.Mul(decimal.NewFromInt(1).Sub(offset))
	}
	return ref.Mul(decimal.NewFromInt(1).Add(offset))
}

// multiplierAt returns the multiplier for rung index (1-based); the last
// multiplier repeats beyond the end of the slice.
func multiplierAt(multipliers []decimal.Decimal, index int) decimal.Decimal {
	if index > len(multipliers) {
		return multipliers[len(multipliers)-1]
	}
	return multipliers[index-1]
}

func clampPrice(p, min, max decimal.Decimal) (decimal.Decimal, bool) {
	if min.IsPositive() && p.LessThan(min) {
		return min, true
	}
	if max.IsPositive() && p.GreaterThan(max) {
		return max, true
	}
	return p, false
}
