package planner

import (
	"fmt"

	"github.com/shopspring/decimal"

	"martingalian/internal/num"
)

// DefaultHeadroomPct is the safety margin applied to the worst-case notional
// before testing it against the leverage brackets (0.3%).
var DefaultHeadroomPct = num.MustParse("0.3")

// ReasonNoFeasible marks a plan that fell back to 1x leverage because no
// bracket could hold the worst-case ladder notional.
const ReasonNoFeasible = "no_feasible"

// LeverageBracket mirrors the exchange's notional bracket table, ordered by
// ascending notional floor.
type LeverageBracket struct {
	Bracket          int
	InitialLeverage  int
	NotionalFloor    decimal.Decimal
	NotionalCap      decimal.Decimal
	MaintMarginRatio decimal.Decimal
}

// PlanInput parameterizes PlanUnboundedPosition.
type PlanInput struct {
	Direction        Direction
	ReferencePrice   decimal.Decimal
	Margin           decimal.Decimal // collateral committed to the position
	RequestedCap     int             // account leverage cap for this direction
	TotalLimitOrders int
	Symbol           SymbolSpec
	Brackets         []LeverageBracket

	// HeadroomPct overrides DefaultHeadroomPct when non-nil.
	HeadroomPct *decimal.Decimal
	// MultiplierOverride and GapPercentOverride pass through to the ladder.
	MultiplierOverride []decimal.Decimal
	GapPercentOverride *decimal.Decimal
}

// Plan is the fully computed position: selected leverage, the market leg and
// the limit ladder, all symbol-formatted.
type Plan struct {
	Leverage       int
	LeverageReason string // empty, or ReasonNoFeasible

	Divider        decimal.Decimal
	MarketQuantity decimal.Decimal
	MarketNotional decimal.Decimal
	Ladder         *Ladder
}

// PositionMargin sizes one position as a percentage of the available account
// balance. A 1000 USDT balance at 5% yields 50 USDT of margin.
func PositionMargin(available, pct decimal.Decimal) (decimal.Decimal, error) {
	if available.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: available balance %s", ErrInvalidInput, available)
	}
	if !pct.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: position percentage %s", ErrInvalidInput, pct)
	}
	return available.Mul(num.Percent(pct)), nil
}

// TotalQuantityDivider returns the weight sum the total notional is divided by
// to size the market leg: the market order weighs 1, each rung weighs the
// cumulative multiplier product, and one extra market unit is reserved as
// headroom. For four rungs at 2x this is 1+2+4+8+16+1 = 32.
func TotalQuantityDivider(totalLimitOrders int, multipliers []decimal.Decimal) (decimal.Decimal, error) {
	if totalLimitOrders < 1 {
		return decimal.Zero, fmt.Errorf("%w: total limit orders must be >= 1", ErrInvalidInput)
	}
	if len(multipliers) == 0 {
		multipliers = DefaultMultipliers()
	}
	divider := decimal.NewFromInt(2) // market unit + reserved unit
	weight := decimal.NewFromInt(1)
	for i := 1; i <= totalLimitOrders; i++ {
		m := multiplierAt(multipliers, i)
		if !m.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: multiplier %d is %s", ErrInvalidInput, i, m)
		}
		weight = weight.Mul(m)
		divider = divider.Add(weight)
	}
	return divider, nil
}

// PlanUnboundedPosition selects the highest feasible leverage for the ladder
// and computes the market leg plus the limit rungs at that leverage.
//
// Feasibility is evaluated against the unit-leverage worst-case notional K:
// the sum of the market notional and every rung notional with the whole
// ladder filled at 1x, inflated by the headroom percentage. For each bracket
// Lmin = ceil(floor/K) and Lmax = min(floor(cap/K), bracket leverage,
// requested cap); the highest L with Lmin <= Lmax wins. A notional exactly on
// a bracket edge belongs to the lower-leverage bracket. When no bracket is
// feasible the plan falls back to 1x with ReasonNoFeasible.
func PlanUnboundedPosition(in PlanInput) (*Plan, error) {
	if !in.Margin.IsPositive() {
		return nil, fmt.Errorf("%w: margin %s", ErrInvalidInput, in.Margin)
	}
	if !in.ReferencePrice.IsPositive() {
		return nil, ErrNoBasisPrice
	}
	if in.RequestedCap < 1 {
		return nil, fmt.Errorf("%w: requested leverage cap %d", ErrInvalidInput, in.RequestedCap)
	}

	multipliers := in.MultiplierOverride
	if len(multipliers) == 0 {
		multipliers = in.Symbol.Multipliers
	}
	divider, err := TotalQuantityDivider(in.TotalLimitOrders, multipliers)
	if err != nil {
		return nil, err
	}

	k, err := worstCaseUnitNotional(in, divider, multipliers)
	if err != nil {
		return nil, err
	}

	headroom := DefaultHeadroomPct
	if in.HeadroomPct != nil {
		headroom = *in.HeadroomPct
	}
	k = k.Mul(decimal.NewFromInt(1).Add(num.Percent(headroom)))

	leverage, reason := selectLeverage(k, in.Brackets, in.RequestedCap)

	notional := in.Margin.Mul(decimal.NewFromInt(int64(leverage)))
	marketNotional, err := num.Div(notional, divider)
	if err != nil {
		return nil, err
	}
	marketRawQty, err := num.Div(marketNotional, in.ReferencePrice)
	if err != nil {
		return nil, err
	}
	marketQty := in.Symbol.Formatter.FormatQuantity(marketRawQty)
	if !marketQty.IsPositive() {
		return nil, fmt.Errorf("%w: market quantity rounds to zero at notional %s", ErrInvalidInput, marketNotional)
	}

	ladder, err := CalculateLimitOrdersData(LadderInput{
		TotalLimitOrders:   in.TotalLimitOrders,
		Direction:          in.Direction,
		ReferencePrice:     in.ReferencePrice,
		MarketOrderQty:     marketQty,
		Symbol:             in.Symbol,
		MultiplierOverride: in.MultiplierOverride,
		GapPercentOverride: in.GapPercentOverride,
	})
	if err != nil {
		return nil, err
	}

	return &Plan{
		Leverage:       leverage,
		LeverageReason: reason,
		Divider:        divider,
		MarketQuantity: marketQty,
		MarketNotional: marketNotional,
		Ladder:         ladder,
	}, nil
}

// worstCaseUnitNotional computes K: margin-at-1x spread over the ladder, with
// raw (unformatted) chained quantities so feasibility does not depend on lot
// rounding.
func worstCaseUnitNotional(in PlanInput, divider decimal.Decimal, multipliers []decimal.Decimal) (decimal.Decimal, error) {
	if len(multipliers) == 0 {
		multipliers = DefaultMultipliers()
	}
	marketNotional, err := num.Div(in.Margin, divider)
	if err != nil {
		return decimal.Zero, err
	}
	qty, err := num.Div(marketNotional, in.ReferencePrice)
	if err != nil {
		return decimal.Zero, err
	}

	gap, err := rungGap(LadderInput{
		Direction:          in.Direction,
		Symbol:             in.Symbol,
		GapPercentOverride: in.GapPercentOverride,
	})
	if err != nil {
		return decimal.Zero, err
	}

	k := marketNotional
	for i := 1; i <= in.TotalLimitOrders; i++ {
		price := rungPrice(in.Direction, in.ReferencePrice, gap, i)
		price, _ = clampPrice(price, in.Symbol.MinPrice, in.Symbol.MaxPrice)
		qty = qty.Mul(multiplierAt(multipliers, i))
		k = k.Add(price.Mul(qty))
	}
	return k, nil
}

func selectLeverage(k decimal.Decimal, brackets []LeverageBracket, requestedCap int) (int, string) {
	best := 0
	for _, b := range brackets {
		lmin := int64(1)
		if b.NotionalFloor.IsPositive() {
			lmin = b.NotionalFloor.DivRound(k, num.DefaultScale).Ceil().IntPart()
			if lmin < 1 {
				lmin = 1
			}
		}
		lmax := b.NotionalCap.DivRound(k, num.DefaultScale).Floor().IntPart()
		// A notional exactly on the cap belongs to the next (lower-leverage)
		// bracket, whose floor test is inclusive.
		if lmax > 0 && k.Mul(decimal.NewFromInt(lmax)).Equal(b.NotionalCap) {
			lmax--
		}
		if int64(b.InitialLeverage) < lmax {
			lmax = int64(b.InitialLeverage)
		}
		if int64(requestedCap) < lmax {
			lmax = int64(requestedCap)
		}
		if lmax >= lmin && int(lmax) > best {
			best = int(lmax)
		}
	}
	if best < 1 {
		return 1, ReasonNoFeasible
	}
	return best, ""
}
