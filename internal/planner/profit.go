package planner

import (
	"fmt"

	"github.com/shopspring/decimal"

	"martingalian/internal/num"
)

// ProfitInput parameterizes CalculateProfitPrice.
type ProfitInput struct {
	Direction  Direction
	Wap        decimal.Decimal // basis price, usually the current WAP
	ProfitPct  decimal.Decimal // e.g. 0.36 means 0.36%
	Symbol     SymbolSpec
	// MarkPrice enables re-anchoring: when the computed target already sits on
	// the wrong side of the mark it is recomputed from the mark instead, so
	// the profit order is never instantly marketable. Zero disables it.
	MarkPrice decimal.Decimal
}

// CalculateProfitPrice computes the take-profit price from the WAP.
// LONG: wap*(1+p); SHORT: wap*(1-p). Clamped to symbol bounds and formatted.
func CalculateProfitPrice(in ProfitInput) (decimal.Decimal, error) {
	if !in.Wap.IsPositive() {
		return decimal.Zero, ErrNoBasisPrice
	}
	if !in.ProfitPct.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: profit percentage %s", ErrInvalidInput, in.ProfitPct)
	}
	if in.Direction != Long && in.Direction != Short {
		return decimal.Zero, fmt.Errorf("%w: direction %q", ErrInvalidInput, in.Direction)
	}

	p := num.Percent(in.ProfitPct)
	target := applyProfit(in.Direction, in.Wap, p)

	if in.MarkPrice.IsPositive() && onWrongSide(in.Direction, target, in.MarkPrice) {
		target = applyProfit(in.Direction, in.MarkPrice, p)
	}

	target, _ = clampPrice(target, in.Symbol.MinPrice, in.Symbol.MaxPrice)
	return in.Symbol.Formatter.FormatPrice(target), nil
}

func applyProfit(direction Direction, basis, p decimal.Decimal) decimal.Decimal {
	if direction == Long {
		return basis.Mul(decimal.NewFromInt(1).Add(p))
	}
	return basis.Mul(decimal.NewFromInt(1).Sub(p))
}

func onWrongSide(direction Direction, target, mark decimal.Decimal) bool {
	if direction == Long {
		return target.LessThanOrEqual(mark)
	}
	return target.GreaterThanOrEqual(mark)
}

// StopInput parameterizes CalculateStopPrice.
type StopInput struct {
	Direction Direction
	// Anchor is the last-rung LIMIT price the stop hangs below (LONG) or
	// above (SHORT).
	Anchor  decimal.Decimal
	StopPct decimal.Decimal // e.g. 8 means 8%
	Symbol  SymbolSpec
}

// CalculateStopPrice computes the stop-loss trigger price from the ladder
// anchor. LONG: anchor*(1-s); SHORT: anchor*(1+s).
func CalculateStopPrice(in StopInput) (decimal.Decimal, error) {
	if !in.Anchor.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: stop anchor %s", ErrInvalidInput, in.Anchor)
	}
	if !in.StopPct.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: stop percentage %s", ErrInvalidInput, in.StopPct)
	}

	s := num.Percent(in.StopPct)
	var price decimal.Decimal
	if in.Direction == Long {
		price = in.Anchor.Mul(decimal.NewFromInt(1).Sub(s))
	} else {
		price = in.Anchor.Mul(decimal.NewFromInt(1).Add(s))
	}

	price, _ = clampPrice(price, in.Symbol.MinPrice, in.Symbol.MaxPrice)
	return in.Symbol.Formatter.FormatPrice(price), nil
}
