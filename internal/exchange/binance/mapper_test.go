package binance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martingalian/internal/exchange"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAdapter() *Adapter {
	return New(Config{Credentials: exchange.Credentials{APIKey: "k", APISecret: "s"}})
}

func TestFormatPair(t *testing.T) {
	a := testAdapter()
	assert.Equal(t, "BTCUSDT", a.FormatPair(exchange.Symbol{Token: "BTC", Quote: "USDT"}))
}

func TestPrepareOrderParams(t *testing.T) {
	a := testAdapter()
	sym := exchange.Symbol{Token: "BTC", Quote: "USDT"}

	t.Run("market", func(t *testing.T) {
		params := a.prepareOrderParams(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Buy,
			PositionSide: exchange.PositionLong,
			Type:         exchange.Market,
			Quantity:     dec("0.156"),
		})
		assert.Equal(t, "MARKET", params["type"])
		assert.Equal(t, "0.156", params["quantity"])
		assert.NotContains(t, params, "price")
	})

	t.Run("limit", func(t *testing.T) {
		params := a.prepareOrderParams(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Buy,
			PositionSide: exchange.PositionLong,
			Type:         exchange.Limit,
			Quantity:     dec("0.312"),
			Price:        dec("98"),
		})
		assert.Equal(t, "LIMIT", params["type"])
		assert.Equal(t, "GTC", params["timeInForce"])
		assert.Equal(t, "98", params["price"])
	})

	t.Run("profit limit is a reduce-only limit", func(t *testing.T) {
		params := a.prepareOrderParams(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Sell,
			PositionSide: exchange.PositionLong,
			Type:         exchange.ProfitLimit,
			Quantity:     dec("0.156"),
			Price:        dec("100.36"),
			ReduceOnly:   true,
		})
		assert.Equal(t, "LIMIT", params["type"])
		assert.Equal(t, "true", params["reduceOnly"])
	})
}

func TestPrepareAlgoOrderParams(t *testing.T) {
	a := testAdapter()
	params := a.prepareAlgoOrderParams(exchange.PlaceOrderRequest{
		Symbol:       exchange.Symbol{Token: "BTC", Quote: "USDT"},
		Side:         exchange.Sell,
		PositionSide: exchange.PositionLong,
		Type:         exchange.StopMarket,
		StopPrice:    dec("84.64"),
	})
	assert.Equal(t, "CONDITIONAL", params["algoType"])
	assert.Equal(t, "STOP_MARKET", params["type"])
	assert.Equal(t, "84.64", params["triggerPrice"])
	assert.Equal(t, "true", params["closePosition"])
	assert.NotContains(t, params, "quantity")
}

func TestResolveOrderAck(t *testing.T) {
	ack, err := resolveOrderAck([]byte(`{"orderId":123456,"clientOrderId":"abc","status":"NEW"}`))
	require.NoError(t, err)
	assert.Equal(t, "123456", ack.ExchangeOrderID)
	assert.Equal(t, exchange.StatusNew, ack.Status)
	assert.False(t, ack.IsAlgo)
}

func TestResolveAlgoAck(t *testing.T) {
	ack, err := resolveAlgoAck([]byte(`{"algoId":777,"clientAlgoId":"sl-1","algoStatus":"UNTRIGGERED"}`))
	require.NoError(t, err)
	assert.Equal(t, "777", ack.ExchangeOrderID)
	assert.Equal(t, exchange.StatusNew, ack.Status)
	assert.True(t, ack.IsAlgo)
}

func TestResolveExchangeInfoFilters(t *testing.T) {
	infos := resolveExchangeInfo(exchangeInfoResponse{Symbols: []symbolInfo{
		{
			Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT",
			PricePrecision: 2, QuantityPrecision: 3,
			Filters: []symbolFilter{
				{FilterType: "PRICE_FILTER", TickSize: "0.10", MinPrice: "556.80", MaxPrice: "4529764"},
				{FilterType: "MIN_NOTIONAL", Notional: "100"},
			},
		},
		{Symbol: "DELISTED", Status: "BREAK", BaseAsset: "X", QuoteAsset: "USDT"},
	}})

	require.Len(t, infos, 1)
	assert.Equal(t, "BTCUSDT", infos[0].ParsedPair)
	assert.True(t, infos[0].TickSize.Equal(dec("0.1")))
	assert.True(t, infos[0].MinNotional.Equal(dec("100")))
}

func TestResolveOrderType(t *testing.T) {
	assert.Equal(t, exchange.Market, resolveOrderType("MARKET"))
	assert.Equal(t, exchange.StopMarket, resolveOrderType("STOP_MARKET"))
	assert.Equal(t, exchange.Limit, resolveOrderType("LIMIT"))
}

func TestMarginModeMapping(t *testing.T) {
	assert.Equal(t, "CROSSED", prepareMarginMode(exchange.Crossed))
	assert.Equal(t, "ISOLATED", prepareMarginMode(exchange.Isolated))
	assert.Equal(t, exchange.Crossed, resolveMarginMode("cross"))
	assert.Equal(t, exchange.Isolated, resolveMarginMode("isolated"))
}
