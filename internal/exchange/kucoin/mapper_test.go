package kucoin

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"martingalian/internal/exchange"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAdapter() *Adapter {
	return New(Config{Credentials: exchange.Credentials{APIKey: "k", APISecret: "s", Passphrase: "p"}})
}

func TestFormatPair(t *testing.T) {
	a := testAdapter()
	assert.Equal(t, "XBTUSDTM", a.FormatPair(exchange.Symbol{Token: "BTC", Quote: "USDT"}))
	assert.Equal(t, "ETHUSDTM", a.FormatPair(exchange.Symbol{Token: "ETH", Quote: "USDT"}))
}

func TestResolveSymbol(t *testing.T) {
	assert.Equal(t, exchange.Symbol{Token: "BTC", Quote: "USDT"}, resolveSymbol("XBTUSDTM"))
	assert.Equal(t, exchange.Symbol{Token: "ETH", Quote: "USDT"}, resolveSymbol("ETHUSDTM"))
}

func TestPrepareOrderBody(t *testing.T) {
	a := testAdapter()
	sym := exchange.Symbol{Token: "ETH", Quote: "USDT"}
	_ = a.SetLeverage(nil, sym, 10)

	t.Run("limit carries the recorded leverage", func(t *testing.T) {
		body := a.prepareOrderBody(exchange.PlaceOrderRequest{
			Symbol:   sym,
			Side:     exchange.Buy,
			Type:     exchange.Limit,
			Quantity: dec("3"),
			Price:    dec("98"),
		})
		assert.Equal(t, "limit", body["type"])
		assert.Equal(t, "10", body["leverage"])
		assert.Equal(t, int64(3), body["size"])
		assert.NotEmpty(t, body["clientOid"])
	})

	t.Run("stop closing a long arms downward", func(t *testing.T) {
		body := a.prepareOrderBody(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Sell,
			PositionSide: exchange.PositionLong,
			Type:         exchange.StopMarket,
			StopPrice:    dec("84.64"),
		})
		assert.Equal(t, "down", body["stop"])
		assert.Equal(t, "MP", body["stopPriceType"])
		assert.Equal(t, true, body["closeOrder"])
		assert.NotContains(t, body, "size")
	})
}

func TestResolveStatus(t *testing.T) {
	assert.Equal(t, exchange.StatusCancelled, resolveStatus(orderEntry{Status: "done", CancelExist: true}))
	assert.Equal(t, exchange.StatusFilled, resolveStatus(orderEntry{Status: "done"}))
	assert.Equal(t, exchange.StatusPartiallyFilled, resolveStatus(orderEntry{Status: "open", DealSize: "2"}))
	assert.Equal(t, exchange.StatusNew, resolveStatus(orderEntry{Status: "open", DealSize: "0"}))
}

func TestResolvePositionSide(t *testing.T) {
	assert.Equal(t, exchange.PositionLong, resolvePositionSide(orderEntry{Side: "buy"}))
	assert.Equal(t, exchange.PositionLong, resolvePositionSide(orderEntry{Side: "sell", ReduceOnly: true}))
	assert.Equal(t, exchange.PositionShort, resolvePositionSide(orderEntry{Side: "buy", Stop: "up"}))
}

func TestModifyOrderUnsupported(t *testing.T) {
	a := testAdapter()
	_, err := a.ModifyOrder(nil, exchange.ModifyOrderRequest{ExchangeOrderID: "x"})
	assert.Error(t, err)
	assert.True(t, exchange.IsInvalidRequest(err))
}
