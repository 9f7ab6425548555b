package bitget

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

func TestCapabilities(t *testing.T) {
	caps := testAdapter().Capabilities()
	assert.False(t, caps.SupportsCancelAllBySymbol)
	assert.True(t, caps.PositionAttachedTpsl)
	assert.True(t, caps.UsesAlgoEndpoints)
}

func TestPrepareSides(t *testing.T) {
	side, tradeSide := prepareSides(exchange.Buy, exchange.PositionLong)
	assert.Equal(t, "buy", side)
	assert.Equal(t, "open", tradeSide)

	side, tradeSide = prepareSides(exchange.Sell, exchange.PositionLong)
	assert.Equal(t, "buy", side)
	assert.Equal(t, "close", tradeSide)

	side, tradeSide = prepareSides(exchange.Sell, exchange.PositionShort)
	assert.Equal(t, "sell", side)
	assert.Equal(t, "open", tradeSide)
}

func TestPrepareTpslBody(t *testing.T) {
	a := testAdapter()
	sym := exchange.Symbol{Token: "BTC", Quote: "USDT"}

	t.Run("stop loss attaches to the position", func(t *testing.T) {
		body := a.prepareTpslBody(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Sell,
			PositionSide: exchange.PositionLong,
			Type:         exchange.StopMarket,
			StopPrice:    dec("84.64"),
		})
		assert.Equal(t, "pos_loss", body["planType"])
		assert.Equal(t, "84.64", body["triggerPrice"])
		assert.Equal(t, "0", body["executePrice"])
		assert.Equal(t, "long", body["holdSide"])
		assert.NotContains(t, body, "size")
	})

	t.Run("take profit triggers into a limit", func(t *testing.T) {
		body := a.prepareTpslBody(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Sell,
			PositionSide: exchange.PositionLong,
			Type:         exchange.ProfitLimit,
			Price:        dec("100.36"),
		})
		assert.Equal(t, "pos_profit", body["planType"])
		assert.Equal(t, "100.36", body["executePrice"])
	})
}

func TestResolveTickSize(t *testing.T) {
	assert.True(t, resolveTickSize("5", 3).Equal(dec("0.005")))
	assert.True(t, resolveTickSize("1", 2).Equal(dec("0.01")))
	assert.True(t, resolveTickSize("", 2).Equal(dec("0.01")))
}

func TestResolveContracts(t *testing.T) {
	infos := resolveContracts([]contractEntry{
		{Symbol: "BTCUSDT", BaseCoin: "BTC", QuoteCoin: "USDT", SymbolStatus: "normal",
			PricePlace: "1", VolumePlace: "3", PriceEndStep: "1", MinTradeUSDT: "5"},
		{Symbol: "DEADUSDT", SymbolStatus: "maintain"},
	})
	assert.Len(t, infos, 1)
	assert.Equal(t, int32(1), infos[0].PricePrecision)
	assert.True(t, infos[0].TickSize.Equal(dec("0.1")))
}

func TestResolveOrderType(t *testing.T) {
	assert.Equal(t, exchange.Market, resolveOrderType(orderEntry{OrderType: "market"}))
	assert.Equal(t, exchange.ProfitLimit, resolveOrderType(orderEntry{OrderType: "limit", TradeSide: "close"}))
	assert.Equal(t, exchange.Limit, resolveOrderType(orderEntry{OrderType: "limit", TradeSide: "open"}))
}
