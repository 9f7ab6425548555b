package bybit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"martingalian/internal/exchange"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAdapter() *Adapter {
	return New(Config{Credentials: exchange.Credentials{APIKey: "k", APISecret: "s"}})
}

func TestPrepareOrderBody(t *testing.T) {
	a := testAdapter()
	sym := exchange.Symbol{Token: "BTC", Quote: "USDT"}

	t.Run("limit", func(t *testing.T) {
		body := a.prepareOrderBody(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Buy,
			PositionSide: exchange.PositionLong,
			Type:         exchange.Limit,
			Quantity:     dec("0.312"),
			Price:        dec("98"),
		})
		assert.Equal(t, "Limit", body["orderType"])
		assert.Equal(t, "Buy", body["side"])
		assert.Equal(t, 1, body["positionIdx"])
		assert.Equal(t, "GTC", body["timeInForce"])
	})

	t.Run("stop market routes to the stop book", func(t *testing.T) {
		body := a.prepareOrderBody(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Sell,
			PositionSide: exchange.PositionLong,
			Type:         exchange.StopMarket,
			Quantity:     dec("0.156"),
			StopPrice:    dec("84.64"),
		})
		assert.Equal(t, "Market", body["orderType"])
		assert.Equal(t, "StopOrder", body["orderFilter"])
		assert.Equal(t, "84.64", body["triggerPrice"])
		assert.Equal(t, "MarkPrice", body["triggerBy"])
		assert.Equal(t, true, body["reduceOnly"])
	})

	t.Run("short opens with positionIdx 2", func(t *testing.T) {
		body := a.prepareOrderBody(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Sell,
			PositionSide: exchange.PositionShort,
			Type:         exchange.Market,
			Quantity:     dec("0.156"),
		})
		assert.Equal(t, 2, body["positionIdx"])
	})
}

func TestResolveOrderType(t *testing.T) {
	assert.Equal(t, exchange.StopMarket, resolveOrderType(orderEntry{OrderFilter: "StopOrder", OrderType: "Market"}))
	assert.Equal(t, exchange.Market, resolveOrderType(orderEntry{OrderType: "Market"}))
	assert.Equal(t, exchange.ProfitLimit, resolveOrderType(orderEntry{OrderType: "Limit", ReduceOnly: true}))
	assert.Equal(t, exchange.Limit, resolveOrderType(orderEntry{OrderType: "Limit"}))
}

func TestResolveInstrumentsPrecision(t *testing.T) {
	resp := instrumentsResult{List: []instrumentInfo{{
		Symbol: "BTCUSDT", Status: "Trading", BaseCoin: "BTC", QuoteCoin: "USDT",
	}}}
	resp.List[0].PriceFilter.TickSize = "0.10"
	resp.List[0].LotSizeFilter.QtyStep = "0.001"
	resp.List[0].LotSizeFilter.MinNotionalValue = "5"

	infos := resolveInstruments(resp)
	assert.Len(t, infos, 1)
	assert.Equal(t, int32(1), infos[0].PricePrecision)
	assert.Equal(t, int32(3), infos[0].QuantityPrecision)
}

func TestPrepareInterval(t *testing.T) {
	assert.Equal(t, "1", prepareInterval("1m"))
	assert.Equal(t, "60", prepareInterval("1h"))
	assert.Equal(t, "D", prepareInterval("1d"))
}

func TestTrimFraction(t *testing.T) {
	assert.Equal(t, "10", trimFraction("10.00"))
	assert.Equal(t, "50", trimFraction("50"))
}

func TestResolvePositionSide(t *testing.T) {
	assert.Equal(t, exchange.PositionLong, resolvePositionSide("Buy", 1))
	assert.Equal(t, exchange.PositionShort, resolvePositionSide("Buy", 2))
	assert.Equal(t, exchange.PositionShort, resolvePositionSide("Sell", 0))
}
