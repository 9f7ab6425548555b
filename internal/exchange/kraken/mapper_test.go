package kraken

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"martingalian/internal/exchange"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAdapter() *Adapter {
	return New(Config{Credentials: exchange.Credentials{APIKey: "k", APISecret: "c2VjcmV0"}})
}

func TestFormatPair(t *testing.T) {
	a := testAdapter()
	assert.Equal(t, "PF_XBTUSD", a.FormatPair(exchange.Symbol{Token: "BTC", Quote: "USD"}))
	assert.Equal(t, "PF_ETHUSD", a.FormatPair(exchange.Symbol{Token: "ETH", Quote: "USDT"}))
}

func TestResolveSymbol(t *testing.T) {
	sym, ok := resolveSymbol("PF_XBTUSD")
	assert.True(t, ok)
	assert.Equal(t, exchange.Symbol{Token: "BTC", Quote: "USD"}, sym)

	_, ok = resolveSymbol("FI_XBTUSD_250926")
	assert.False(t, ok)
}

func TestPrepareOrderParams(t *testing.T) {
	a := testAdapter()
	sym := exchange.Symbol{Token: "BTC", Quote: "USD"}

	t.Run("stop market triggers on mark", func(t *testing.T) {
		params := a.prepareOrderParams(exchange.PlaceOrderRequest{
			Symbol:       sym,
			Side:         exchange.Sell,
			PositionSide: exchange.PositionLong,
			Type:         exchange.StopMarket,
			Quantity:     dec("0.156"),
			StopPrice:    dec("84.64"),
		})
		assert.Equal(t, "stp", params["orderType"])
		assert.Equal(t, "84.64", params["stopPrice"])
		assert.Equal(t, "mark", params["triggerSignal"])
		assert.Equal(t, "true", params["reduceOnly"])
	})

	t.Run("profit limit is a reduce-only lmt", func(t *testing.T) {
		params := a.prepareOrderParams(exchange.PlaceOrderRequest{
			Symbol:     sym,
			Side:       exchange.Sell,
			Type:       exchange.ProfitLimit,
			Quantity:   dec("0.156"),
			Price:      dec("100.36"),
			ReduceOnly: true,
		})
		assert.Equal(t, "lmt", params["orderType"])
		assert.Equal(t, "100.36", params["limitPrice"])
		assert.Equal(t, "true", params["reduceOnly"])
	})
}

func TestResolveMarginLevels(t *testing.T) {
	brackets := resolveMarginLevels([]marginLevel{
		{NumNonContractUnits: 0, InitialMargin: 0.02, MaintenanceMargin: 0.01},
		{NumNonContractUnits: 500000, InitialMargin: 0.04, MaintenanceMargin: 0.02},
	})
	assert.Len(t, brackets, 2)
	assert.Equal(t, 50, brackets[0].InitialLeverage)
	assert.True(t, brackets[0].NotionalCap.Equal(dec("500000")))
	assert.Equal(t, 25, brackets[1].InitialLeverage)
	assert.True(t, brackets[1].NotionalFloor.Equal(dec("500000")))
}

func TestResolveBookStatus(t *testing.T) {
	assert.Equal(t, exchange.StatusNew, resolveBookStatus("ENTERED_BOOK"))
	assert.Equal(t, exchange.StatusFilled, resolveBookStatus("FULLY_EXECUTED"))
	assert.Equal(t, exchange.StatusCancelled, resolveBookStatus("CANCELED"))
}

func TestSignDeterministic(t *testing.T) {
	a := testAdapter()
	first, err := a.sign("symbol=PF_XBTUSD", "1000", "/api/v3/sendorder")
	assert.NoError(t, err)
	second, err := a.sign("symbol=PF_XBTUSD", "1000", "/api/v3/sendorder")
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestNonceMonotonic(t *testing.T) {
	a := testAdapter()
	assert.Less(t, a.nextNonce(), a.nextNonce())
}
