package observer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"martingalian/internal/database"
	"martingalian/internal/exchange"
)

func ref(s string) *string { return &s }

func refDec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func workingOrder(purpose string) *database.Order {
	return &database.Order{
		Purpose:           purpose,
		Status:            "NEW",
		Price:             refDec("100"),
		Quantity:          decimal.RequireFromString("2"),
		ReferencePrice:    refDec("100"),
		ReferenceQuantity: refDec("2"),
		ReferenceStatus:   ref("NEW"),
	}
}

func live(status exchange.OrderStatus, price, qty string) *exchange.OrderInfo {
	return &exchange.OrderInfo{
		Status:   status,
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
	}
}

func TestEvaluateRungFillTriggersWap(t *testing.T) {
	order := workingOrder(database.PurposeLimit)
	assert.Equal(t, DecisionWap, Evaluate(order, live(exchange.StatusFilled, "100", "2")))
}

func TestEvaluateProfitFillTriggersClose(t *testing.T) {
	order := workingOrder(database.PurposeProfit)
	assert.Equal(t, DecisionCloseProfit, Evaluate(order, live(exchange.StatusFilled, "100", "2")))
}

func TestEvaluateStopFillTriggersClose(t *testing.T) {
	order := workingOrder(database.PurposeStop)
	assert.Equal(t, DecisionCloseStop, Evaluate(order, live(exchange.StatusFilled, "100", "2")))
}

func TestEvaluateMarketFillIsIgnored(t *testing.T) {
	order := workingOrder(database.PurposeMarket)
	assert.Equal(t, DecisionNone, Evaluate(order, live(exchange.StatusFilled, "100", "2")))
}

func TestEvaluateUntimelyCancellationTriggersRecreate(t *testing.T) {
	order := workingOrder(database.PurposeLimit)
	assert.Equal(t, DecisionRecreate, Evaluate(order, live(exchange.StatusCancelled, "100", "2")))
	assert.Equal(t, DecisionRecreate, Evaluate(order, live(exchange.StatusExpired, "100", "2")))
	assert.Equal(t, DecisionRecreate, Evaluate(order, nil))
}

func TestEvaluateEngineCancellationIsSilent(t *testing.T) {
	// The engine cancelled this itself: the reference moved in the same
	// commit, so the observer must not react.
	order := workingOrder(database.PurposeLimit)
	order.ReferenceStatus = ref("CANCELLED")
	assert.Equal(t, DecisionNone, Evaluate(order, live(exchange.StatusCancelled, "100", "2")))
	assert.Equal(t, DecisionNone, Evaluate(order, nil))
}

func TestEvaluatePriceDriftTriggersCorrect(t *testing.T) {
	order := workingOrder(database.PurposeLimit)
	assert.Equal(t, DecisionCorrect, Evaluate(order, live(exchange.StatusNew, "101", "2")))
}

func TestEvaluateQuantityDriftTriggersCorrect(t *testing.T) {
	order := workingOrder(database.PurposeLimit)
	assert.Equal(t, DecisionCorrect, Evaluate(order, live(exchange.StatusNew, "100", "3")))
}

func TestEvaluateMatchingOrderIsSilent(t *testing.T) {
	order := workingOrder(database.PurposeLimit)
	assert.Equal(t, DecisionNone, Evaluate(order, live(exchange.StatusNew, "100", "2")))
}

func TestEvaluatePartialFillWaits(t *testing.T) {
	order := workingOrder(database.PurposeLimit)
	assert.Equal(t, DecisionNone, Evaluate(order, live(exchange.StatusPartiallyFilled, "100", "2")))
}

func TestEvaluateZeroLivePriceIsNotDrift(t *testing.T) {
	// Some venues omit the price on conditional orders; absence is not drift.
	order := workingOrder(database.PurposeStop)
	assert.Equal(t, DecisionNone, Evaluate(order, live(exchange.StatusNew, "0", "2")))
}

func TestPriorityOrdering(t *testing.T) {
	assert.Greater(t, priority(DecisionCloseStop), priority(DecisionCloseProfit))
	assert.Greater(t, priority(DecisionCloseProfit), priority(DecisionWap))
	assert.Greater(t, priority(DecisionWap), priority(DecisionRecreate))
	assert.Greater(t, priority(DecisionRecreate), priority(DecisionCorrect))
	assert.Greater(t, priority(DecisionCorrect), priority(DecisionNone))
}
