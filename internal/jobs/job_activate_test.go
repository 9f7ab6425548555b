package jobs

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"martingalian/internal/database"
	"martingalian/internal/exchange"
)

func ladderOrder(purpose, status string, price, qty string) *database.Order {
	var p *decimal.Decimal
	if price != "" {
		v := decimal.RequireFromString(price)
		p = &v
	}
	q := decimal.RequireFromString(qty)
	ref := status
	refQty := q
	return &database.Order{
		Purpose:           purpose,
		ExchangeOrderID:   purpose + "-1",
		Status:            status,
		Price:             p,
		Quantity:          q,
		ReferencePrice:    p,
		ReferenceQuantity: &refQty,
		ReferenceStatus:   &ref,
	}
}

func wellFormedLadder() []*database.Order {
	return []*database.Order{
		ladderOrder(database.PurposeMarket, string(exchange.StatusFilled), "", "0.1"),
		ladderOrder(database.PurposeLimit, string(exchange.StatusNew), "95", "0.2"),
		ladderOrder(database.PurposeLimit, string(exchange.StatusNew), "90", "0.4"),
		ladderOrder(database.PurposeProfit, string(exchange.StatusNew), "105", "0.1"),
		ladderOrder(database.PurposeStop, string(exchange.StatusNew), "", "0"),
	}
}

func activateWith(orders []*database.Order) *activateJob {
	return &activateJob{
		scope:  &positionScope{position: &database.Position{ID: 7}},
		orders: orders,
	}
}

func TestValidateCompositionAcceptsWellFormedLadder(t *testing.T) {
	assert.NoError(t, activateWith(wellFormedLadder()).validateComposition())
}

func TestValidateCompositionZeroQuantityStopAllowed(t *testing.T) {
	// Close-position stops carry zero quantity; their reference is zero too.
	orders := wellFormedLadder()
	assert.True(t, orders[4].Quantity.IsZero())
	assert.NoError(t, activateWith(orders).validateComposition())
}

func TestValidateCompositionRejectsMissingMarket(t *testing.T) {
	orders := wellFormedLadder()[1:]
	err := activateWith(orders).validateComposition()
	assert.ErrorContains(t, err, "market")
}

func TestValidateCompositionRejectsDuplicateProfit(t *testing.T) {
	orders := append(wellFormedLadder(),
		ladderOrder(database.PurposeProfit, string(exchange.StatusNew), "106", "0.1"))
	err := activateWith(orders).validateComposition()
	assert.ErrorContains(t, err, "profit")
}

func TestValidateCompositionRejectsNoRungs(t *testing.T) {
	orders := []*database.Order{
		ladderOrder(database.PurposeMarket, string(exchange.StatusFilled), "", "0.1"),
		ladderOrder(database.PurposeProfit, string(exchange.StatusNew), "105", "0.1"),
		ladderOrder(database.PurposeStop, string(exchange.StatusNew), "", "0"),
	}
	err := activateWith(orders).validateComposition()
	assert.ErrorContains(t, err, "limit rungs")
}

func TestValidateCompositionRejectsUnfilledMarket(t *testing.T) {
	orders := wellFormedLadder()
	orders[0] = ladderOrder(database.PurposeMarket, string(exchange.StatusNew), "", "0.1")
	err := activateWith(orders).validateComposition()
	assert.ErrorContains(t, err, "want FILLED")
}

func TestValidateCompositionRejectsReferenceStatusDrift(t *testing.T) {
	orders := wellFormedLadder()
	stale := string(exchange.StatusCancelled)
	orders[1].ReferenceStatus = &stale
	err := activateWith(orders).validateComposition()
	assert.ErrorContains(t, err, "reference status")
}

func TestValidateCompositionRejectsPriceDrift(t *testing.T) {
	orders := wellFormedLadder()
	moved := decimal.RequireFromString("94")
	orders[1].Price = &moved
	err := activateWith(orders).validateComposition()
	assert.ErrorContains(t, err, "price differs")
}

func TestValidateCompositionRejectsQuantityDrift(t *testing.T) {
	orders := wellFormedLadder()
	orders[2].Quantity = decimal.RequireFromString("0.5")
	err := activateWith(orders).validateComposition()
	assert.ErrorContains(t, err, "quantity differs")
}

func TestDecimalPtrEqual(t *testing.T) {
	a := decimal.RequireFromString("1.50")
	b := decimal.RequireFromString("1.5")
	c := decimal.RequireFromString("2")

	assert.True(t, decimalPtrEqual(nil, nil))
	assert.True(t, decimalPtrEqual(&a, &b))
	assert.False(t, decimalPtrEqual(&a, &c))
	assert.False(t, decimalPtrEqual(&a, nil))
	assert.False(t, decimalPtrEqual(nil, &a))
}
