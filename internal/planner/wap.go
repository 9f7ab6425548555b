package planner

import (
	"fmt"

	"github.com/shopspring/decimal"

	"martingalian/internal/num"
)

// Leg is one filled order contributing to the weighted average price.
type Leg struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// CalculateWap returns the cumulative weighted average price over the filled
// legs and the total filled quantity.
func CalculateWap(legs []Leg) (wap, totalQty decimal.Decimal, err error) {
	if len(legs) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: no filled legs", ErrInvalidInput)
	}

	weighted := decimal.Zero
	totalQty = decimal.Zero
	for i, leg := range legs {
		if !leg.Price.IsPositive() || !leg.Quantity.IsPositive() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: leg %d price=%s qty=%s", ErrInvalidInput, i, leg.Price, leg.Quantity)
		}
		weighted = weighted.Add(leg.Price.Mul(leg.Quantity))
		totalQty = totalQty.Add(leg.Quantity)
	}

	wap, err = num.Div(weighted, totalQty)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return wap, totalQty, nil
}

// ProjectPnl computes the unrealized profit at the given mark price.
// LONG: (mark-wap)*qty; SHORT: (wap-mark)*qty.
func ProjectPnl(direction Direction, wap, totalQty, mark decimal.Decimal) (decimal.Decimal, error) {
	if !mark.IsPositive() {
		return decimal.Zero, ErrNoBasisPrice
	}
	if !wap.IsPositive() || !totalQty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: wap=%s qty=%s", ErrInvalidInput, wap, totalQty)
	}
	if direction == Long {
		return mark.Sub(wap).Mul(totalQty), nil
	}
	return wap.Sub(mark).Mul(totalQty), nil
}

// PriceSpikePct returns |current-dailyClose|/dailyClose*100, the figure the
// pump-cooldown check compares against the symbol's spike threshold.
func PriceSpikePct(current, dailyClose decimal.Decimal) (decimal.Decimal, error) {
	if !dailyClose.IsPositive() || !current.IsPositive() {
		return decimal.Zero, ErrNoBasisPrice
	}
	diff := current.Sub(dailyClose).Abs()
	ratio, err := num.Div(diff, dailyClose)
	if err != nil {
		return decimal.Zero, err
	}
	return ratio.Mul(decimal.NewFromInt(100)), nil
}
