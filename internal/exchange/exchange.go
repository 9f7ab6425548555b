// Package exchange defines the canonical contract the engine speaks to every
// derivatives exchange, plus the shared plumbing (rate limiting, error
// classification) the per-exchange adapters build on.
//
// Each adapter lives in its own subpackage (binance, bybit, bitget, kucoin,
// kraken) and provides two halves per operation: a prepare step that builds
// the signed wire request and a resolve step that parses the response into
// the canonical shapes below. Nothing outside the adapters knows a wire
// format.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PositionSide keys hedge-mode positions.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// OrderType is the canonical order vocabulary. PROFIT-LIMIT and STOP-MARKET
// map onto exchange-specific conditional/algo endpoints where needed.
type OrderType string

const (
	Market      OrderType = "MARKET"
	Limit       OrderType = "LIMIT"
	ProfitLimit OrderType = "PROFIT-LIMIT"
	StopMarket  OrderType = "STOP-MARKET"
)

// MarginMode is the internal vocabulary; adapters map it to wire values.
type MarginMode string

const (
	Isolated MarginMode = "isolated"
	Crossed  MarginMode = "crossed"
)

// Credentials authenticate one account on one exchange.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string // KuCoin and BitGet
}

// Capabilities flag the per-exchange divergences workflows need to know
// about, so generic code never branches on an exchange name.
type Capabilities struct {
	// SupportsCancelAllBySymbol is false on BitGet, whose cancel-all endpoint
	// is broken; the engine iterates individual cancels instead.
	SupportsCancelAllBySymbol bool
	// SupportsOrderModify is false where working orders can only be
	// cancelled and recreated.
	SupportsOrderModify bool
	// UsesAlgoEndpoints is true where STOP-MARKET (and sometimes
	// PROFIT-LIMIT) route through a separate conditional-order API and carry
	// is_algo on the local order row.
	UsesAlgoEndpoints bool
	// PositionAttachedTpsl is true on BitGet, where TP/SL attach to the
	// position and carry no size of their own.
	PositionAttachedTpsl bool
	// HedgeMode is true where LONG and SHORT positions coexist per symbol
	// and position keys carry the direction suffix.
	HedgeMode bool
}

// PlaceOrderRequest is the canonical order submission.
type PlaceOrderRequest struct {
	Symbol        Symbol
	Side          Side
	PositionSide  PositionSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // LIMIT and PROFIT-LIMIT
	StopPrice     decimal.Decimal // STOP-MARKET trigger
	ClientOrderID string
	ReduceOnly    bool
}

// ModifyOrderRequest amends price/quantity of a working non-algo order.
type ModifyOrderRequest struct {
	Symbol          Symbol
	ExchangeOrderID string
	Side            Side
	Quantity        decimal.Decimal
	Price           decimal.Decimal
}

// OrderAck is the canonical acknowledgement of a mutating order call.
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          OrderStatus
	IsAlgo          bool
}

// OrderInfo is the canonical order snapshot returned by queries.
type OrderInfo struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          Symbol
	Side            Side
	PositionSide    PositionSide
	Type            OrderType
	Status          OrderStatus
	Price           decimal.Decimal
	StopPrice       decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	IsAlgo          bool
	UpdatedAt       time.Time
}

// PositionInfo is one open position; Amount is signed (negative for SHORT on
// exchanges that report it that way, the adapter normalizes the sign).
type PositionInfo struct {
	Symbol       Symbol
	PositionSide PositionSide
	Amount       decimal.Decimal
	EntryPrice   decimal.Decimal
	MarkPrice    decimal.Decimal
	Leverage     int
	MarginMode   MarginMode
}

// Balance is the canonical account balance in the trading quote currency.
type Balance struct {
	Wallet              decimal.Decimal
	Available           decimal.Decimal
	CrossWallet         decimal.Decimal
	CrossUnrealizedPnl  decimal.Decimal
}

// LeverageBracket mirrors the exchange notional bracket table.
type LeverageBracket struct {
	Bracket          int
	InitialLeverage  int
	NotionalFloor    decimal.Decimal
	NotionalCap      decimal.Decimal
	MaintMarginRatio decimal.Decimal
}

// SymbolInfo is one tradable contract from exchangeInfo.
type SymbolInfo struct {
	Symbol            Symbol
	ParsedPair        string
	PricePrecision    int32
	QuantityPrecision int32
	TickSize          decimal.Decimal
	MinNotional       decimal.Decimal
	MinPrice          decimal.Decimal
	MaxPrice          decimal.Decimal
}

// Kline is one candle; only the fields the engine consumes.
type Kline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// Trade is one fill from the account trade history.
type Trade struct {
	ExchangeOrderID string
	Symbol          Symbol
	Side            Side
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	RealizedPnl     decimal.Decimal
	Time            time.Time
}

// Adapter is the uniform surface the engine depends on. All calls are
// suspension points: they honor ctx deadlines and go through the per-account
// rate limiter.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	// FormatPair encodes the canonical symbol into the exchange wire format.
	FormatPair(Symbol) string

	ServerTime(ctx context.Context) (time.Time, error)
	ExchangeInfo(ctx context.Context) ([]SymbolInfo, error)
	MarkPrice(ctx context.Context, symbol Symbol) (decimal.Decimal, error)
	Klines(ctx context.Context, symbol Symbol, interval string, limit int) ([]Kline, error)
	LeverageBrackets(ctx context.Context, symbol Symbol) ([]LeverageBracket, error)

	Balance(ctx context.Context) (*Balance, error)
	// Positions returns open positions keyed "<PARSED_PAIR>:<DIRECTION>";
	// exchanges without hedge mode fall back to the pair alone.
	Positions(ctx context.Context) (map[string]PositionInfo, error)
	OpenOrders(ctx context.Context, symbol Symbol) ([]OrderInfo, error)
	TradeHistory(ctx context.Context, symbol Symbol, limit int) ([]Trade, error)

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol Symbol, exchangeOrderID string, isAlgo bool) (*OrderAck, error)
	ModifyOrder(ctx context.Context, req ModifyOrderRequest) (*OrderAck, error)
	QueryOrder(ctx context.Context, symbol Symbol, exchangeOrderID string, isAlgo bool) (*OrderInfo, error)
	CancelAllOrders(ctx context.Context, symbol Symbol) error

	SetLeverage(ctx context.Context, symbol Symbol, leverage int) error
	// SetMarginMode also carries the leverage because Kraken combines both in
	// a single preference call; other adapters ignore the argument.
	SetMarginMode(ctx context.Context, symbol Symbol, mode MarginMode, leverage int) error
}

// PositionKey builds the canonical position map key.
func PositionKey(parsedPair string, side PositionSide, hedgeMode bool) string {
	if !hedgeMode {
		return parsedPair
	}
	return parsedPair + ":" + string(side)
}
