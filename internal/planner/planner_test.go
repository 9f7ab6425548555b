package planner

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martingalian/internal/num"
)

func testSymbol(t *testing.T) SymbolSpec {
	t.Helper()
	f, err := num.NewSymbolFormatter("0.01", 2, 3)
	require.NoError(t, err)
	return SymbolSpec{
		Formatter:   f,
		MinNotional: num.MustParse("5"),
		GapLongPct:  num.MustParse("2"),
		GapShortPct: num.MustParse("2"),
		Multipliers: DefaultMultipliers(),
	}
}

func eq(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, got.Equal(num.MustParse(want)), append([]interface{}{"got %s want %s", got.String(), want}, msgAndArgs...)...)
}

func TestTotalQuantityDivider(t *testing.T) {
	d, err := TotalQuantityDivider(4, DefaultMultipliers())
	require.NoError(t, err)
	eq(t, "32", d)

	// N=1 at 2x: market 1 + rung 2 + reserved 1.
	d, err = TotalQuantityDivider(1, DefaultMultipliers())
	require.NoError(t, err)
	eq(t, "4", d)

	_, err = TotalQuantityDivider(0, nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

// Scenario: open LONG on a fresh symbol. 1000 USDT balance, 5% position size,
// leverage cap 10, mark 100, 2% gap, 4 rungs at 2x.
func TestPlanUnboundedPositionOpenLong(t *testing.T) {
	sym := testSymbol(t)
	plan, err := PlanUnboundedPosition(PlanInput{
		Direction:        Long,
		ReferencePrice:   num.MustParse("100"),
		Margin:           num.MustParse("50"),
		RequestedCap:     10,
		TotalLimitOrders: 4,
		Symbol:           sym,
		Brackets: []LeverageBracket{
			{Bracket: 1, InitialLeverage: 75, NotionalFloor: decimal.Zero, NotionalCap: num.MustParse("10000"), MaintMarginRatio: num.MustParse("0.005")},
			{Bracket: 2, InitialLeverage: 50, NotionalFloor: num.MustParse("10000"), NotionalCap: num.MustParse("50000"), MaintMarginRatio: num.MustParse("0.01")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, plan.Leverage)
	assert.Empty(t, plan.LeverageReason)
	eq(t, "32", plan.Divider)
	eq(t, "15.625", plan.MarketNotional)
	eq(t, "0.156", plan.MarketQuantity)

	require.Len(t, plan.Ladder.Rungs, 4)
	wantRungs := []struct{ price, qty string }{
		{"98", "0.312"},
		{"96", "0.624"},
		{"94", "1.248"},
		{"92", "2.496"},
	}
	for i, want := range wantRungs {
		eq(t, want.price, plan.Ladder.Rungs[i].Price, "rung %d price", i+1)
		eq(t, want.qty, plan.Ladder.Rungs[i].Quantity, "rung %d qty", i+1)
	}
	assert.Empty(t, plan.Ladder.Warnings)

	tp, err := CalculateProfitPrice(ProfitInput{
		Direction: Long,
		Wap:       num.MustParse("100"),
		ProfitPct: num.MustParse("0.36"),
		Symbol:    sym,
	})
	require.NoError(t, err)
	eq(t, "100.36", tp)

	sl, err := CalculateStopPrice(StopInput{
		Direction: Long,
		Anchor:    plan.Ladder.Rungs[3].Price,
		StopPct:   num.MustParse("8"),
		Symbol:    sym,
	})
	require.NoError(t, err)
	eq(t, "84.64", sl)
}

// Scenario: the first rung fills at 98 and the take-profit re-anchors on the
// new weighted average.
func TestWapAfterFirstRungFill(t *testing.T) {
	sym := testSymbol(t)

	wap, totalQty, err := CalculateWap([]Leg{
		{Price: num.MustParse("100"), Quantity: num.MustParse("0.156")},
		{Price: num.MustParse("98"), Quantity: num.MustParse("0.312")},
	})
	require.NoError(t, err)
	eq(t, "0.468", totalQty)
	assert.True(t, wap.Sub(num.MustParse("98.6666666666666667")).Abs().LessThan(num.MustParse("0.0000000001")),
		"wap was %s", wap)

	tp, err := CalculateProfitPrice(ProfitInput{
		Direction: Long,
		Wap:       wap,
		ProfitPct: num.MustParse("0.36"),
		Symbol:    sym,
	})
	require.NoError(t, err)
	eq(t, "99.02", tp)
}

func TestLadderDeterminism(t *testing.T) {
	sym := testSymbol(t)
	in := LadderInput{
		TotalLimitOrders: 4,
		Direction:        Short,
		ReferencePrice:   num.MustParse("250.37"),
		MarketOrderQty:   num.MustParse("0.413"),
		Symbol:           sym,
	}

	first, err := CalculateLimitOrdersData(in)
	require.NoError(t, err)
	second, err := CalculateLimitOrdersData(in)
	require.NoError(t, err)

	require.Len(t, second.Rungs, len(first.Rungs))
	for i := range first.Rungs {
		assert.Equal(t, first.Rungs[i].Price.String(), second.Rungs[i].Price.String())
		assert.Equal(t, first.Rungs[i].Quantity.String(), second.Rungs[i].Quantity.String())
	}
}

func TestLadderMultiplierShorterThanN(t *testing.T) {
	sym := testSymbol(t)
	ladder, err := CalculateLimitOrdersData(LadderInput{
		TotalLimitOrders:   3,
		Direction:          Long,
		ReferencePrice:     num.MustParse("100"),
		MarketOrderQty:     num.MustParse("1"),
		Symbol:             sym,
		MultiplierOverride: []decimal.Decimal{num.MustParse("2")},
	})
	require.NoError(t, err)

	// The single multiplier repeats: 2, 4, 8.
	require.Len(t, ladder.Rungs, 3)
	eq(t, "2", ladder.Rungs[0].Quantity)
	eq(t, "4", ladder.Rungs[1].Quantity)
	eq(t, "8", ladder.Rungs[2].Quantity)
}

func TestLadderClampSoundness(t *testing.T) {
	sym := testSymbol(t)
	sym.MinPrice = num.MustParse("95")
	sym.MaxPrice = num.MustParse("120")

	ladder, err := CalculateLimitOrdersData(LadderInput{
		TotalLimitOrders: 4,
		Direction:        Long,
		ReferencePrice:   num.MustParse("100"),
		MarketOrderQty:   num.MustParse("0.156"),
		Symbol:           sym,
	})
	require.NoError(t, err)

	clamped := 0
	for _, w := range ladder.Warnings {
		if w.Kind == WarnPriceClamped {
			clamped++
		}
	}
	// 94 and 92 both clamp to the 95 floor.
	assert.Equal(t, 2, clamped)
	for _, r := range ladder.Rungs {
		assert.True(t, r.Price.GreaterThanOrEqual(sym.MinPrice), "rung %d below min", r.Index)
		assert.True(t, r.Price.LessThanOrEqual(sym.MaxPrice), "rung %d above max", r.Index)
		assert.True(t, r.Quantity.IsPositive(), "rung %d zero qty", r.Index)
	}
}

func TestLadderDropsZeroQuantityRungs(t *testing.T) {
	f, err := num.NewSymbolFormatter("0.01", 2, 0)
	require.NoError(t, err)
	sym := testSymbol(t)
	sym.Formatter = f

	ladder, err := CalculateLimitOrdersData(LadderInput{
		TotalLimitOrders:   2,
		Direction:          Long,
		ReferencePrice:     num.MustParse("100"),
		MarketOrderQty:     num.MustParse("0.3"),
		Symbol:             sym,
		MultiplierOverride: []decimal.Decimal{num.MustParse("1.5"), num.MustParse("4")},
	})
	require.NoError(t, err)

	// 0.3*1.5 = 0.45 truncates to zero contracts and that rung is dropped, but
	// the chain keeps the raw 0.45, so rung 2 at 4x lands at 1 contract.
	require.Len(t, ladder.Rungs, 1)
	assert.Equal(t, 2, ladder.Rungs[0].Index)
	assert.True(t, ladder.Rungs[0].Quantity.Equal(num.MustParse("1")))
	require.Len(t, ladder.Warnings, 1)
	assert.Equal(t, WarnRungDroppedZeroQty, ladder.Warnings[0].Kind)
	assert.Equal(t, 1, ladder.Warnings[0].Rung)
}

func TestLadderRejectsBadInput(t *testing.T) {
	sym := testSymbol(t)

	_, err := CalculateLimitOrdersData(LadderInput{
		TotalLimitOrders: 4,
		Direction:        Long,
		ReferencePrice:   decimal.Zero,
		MarketOrderQty:   num.MustParse("1"),
		Symbol:           sym,
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = CalculateLimitOrdersData(LadderInput{
		TotalLimitOrders:   4,
		Direction:          Long,
		ReferencePrice:     num.MustParse("100"),
		MarketOrderQty:     num.MustParse("1"),
		Symbol:             sym,
		MultiplierOverride: []decimal.Decimal{num.MustParse("-2")},
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = CalculateLimitOrdersData(LadderInput{
		TotalLimitOrders: 4,
		Direction:        "SIDEWAYS",
		ReferencePrice:   num.MustParse("100"),
		MarketOrderQty:   num.MustParse("1"),
		Symbol:           sym,
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPlanFallsBackWhenNoBracketFeasible(t *testing.T) {
	sym := testSymbol(t)
	plan, err := PlanUnboundedPosition(PlanInput{
		Direction:        Long,
		ReferencePrice:   num.MustParse("100"),
		Margin:           num.MustParse("50"),
		RequestedCap:     10,
		TotalLimitOrders: 4,
		Symbol:           sym,
		Brackets: []LeverageBracket{
			// Floor far above anything 50 USDT of margin can reach.
			{Bracket: 1, InitialLeverage: 5, NotionalFloor: num.MustParse("1000000"), NotionalCap: num.MustParse("5000000")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Leverage)
	assert.Equal(t, ReasonNoFeasible, plan.LeverageReason)
}

func TestProfitPriceReAnchorsToMark(t *testing.T) {
	sym := testSymbol(t)

	// LONG target 100.36 already sits under the 101 mark, so it re-anchors.
	tp, err := CalculateProfitPrice(ProfitInput{
		Direction: Long,
		Wap:       num.MustParse("100"),
		ProfitPct: num.MustParse("0.36"),
		Symbol:    sym,
		MarkPrice: num.MustParse("101"),
	})
	require.NoError(t, err)
	eq(t, "101.36", tp)

	// SHORT mirror.
	tp, err = CalculateProfitPrice(ProfitInput{
		Direction: Short,
		Wap:       num.MustParse("100"),
		ProfitPct: num.MustParse("0.36"),
		Symbol:    sym,
		MarkPrice: num.MustParse("99"),
	})
	require.NoError(t, err)
	eq(t, "98.64", tp)
}

func TestProjectPnl(t *testing.T) {
	pnl, err := ProjectPnl(Long, num.MustParse("98.6666666666666667"), num.MustParse("0.468"), num.MustParse("100"))
	require.NoError(t, err)
	assert.True(t, pnl.IsPositive())

	pnl, err = ProjectPnl(Short, num.MustParse("100"), num.MustParse("1"), num.MustParse("110"))
	require.NoError(t, err)
	eq(t, "-10", pnl)
}

func TestPriceSpikePct(t *testing.T) {
	pct, err := PriceSpikePct(num.MustParse("115"), num.MustParse("100"))
	require.NoError(t, err)
	eq(t, "15", pct)

	_, err = PriceSpikePct(num.MustParse("115"), decimal.Zero)
	require.ErrorIs(t, err, ErrNoBasisPrice)
}

func TestCalculateWapRejectsEmptyLegs(t *testing.T) {
	_, _, err := CalculateWap(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPositionMargin(t *testing.T) {
	// A 1000 USDT balance at 5% funds the position with 50 USDT.
	margin, err := PositionMargin(num.MustParse("1000"), num.MustParse("5"))
	require.NoError(t, err)
	eq(t, "50", margin)

	margin, err = PositionMargin(num.MustParse("123.45"), num.MustParse("10"))
	require.NoError(t, err)
	eq(t, "12.345", margin)

	_, err = PositionMargin(num.MustParse("1000"), decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = PositionMargin(num.MustParse("-1"), num.MustParse("5"))
	require.ErrorIs(t, err, ErrInvalidInput)
}
