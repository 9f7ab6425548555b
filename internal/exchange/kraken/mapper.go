package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"martingalian/internal/exchange"
)

// ==================== MARKET DATA ====================

// ServerTime implements exchange.Adapter, from the serverTime field every v3
// response carries.
func (a *Adapter) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := a.publicGet(ctx, "/api/v3/tickers", nil)
	if err != nil {
		return time.Time{}, err
	}
	var resp struct {
		ServerTime string `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("kraken: parsing server time: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, resp.ServerTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("kraken: parsing server time: %w", err)
	}
	return ts, nil
}

// ExchangeInfo implements exchange.Adapter. Only tradeable PF_ perpetuals
// survive the filter.
func (a *Adapter) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	body, err := a.publicGet(ctx, "/api/v3/instruments", nil)
	if err != nil {
		return nil, err
	}
	var resp instrumentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing instruments: %w", err)
	}
	return resolveInstruments(resp), nil
}

func resolveInstruments(resp instrumentsResponse) []exchange.SymbolInfo {
	out := make([]exchange.SymbolInfo, 0, len(resp.Instruments))
	for _, inst := range resp.Instruments {
		if !inst.Tradeable {
			continue
		}
		sym, ok := resolveSymbol(inst.Symbol)
		if !ok {
			continue
		}
		tick := decimal.NewFromFloat(inst.TickSize)
		out = append(out, exchange.SymbolInfo{
			Symbol:            sym,
			ParsedPair:        inst.Symbol,
			PricePrecision:    precisionFromStep(tick),
			QuantityPrecision: inst.ContractValueTradePrecision,
			TickSize:          tick,
		})
	}
	return out
}

// MarkPrice implements exchange.Adapter.
func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	body, err := a.publicGet(ctx, "/api/v3/tickers", nil)
	if err != nil {
		return decimal.Zero, err
	}
	var resp tickersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("kraken: parsing tickers: %w", err)
	}
	pair := a.FormatPair(symbol)
	for _, t := range resp.Tickers {
		if t.Symbol == pair {
			return decimal.NewFromFloat(t.MarkPrice), nil
		}
	}
	return decimal.Zero, fmt.Errorf("kraken: no ticker for %s", symbol)
}

// Klines implements exchange.Adapter via the charts service, which lives
// outside the /derivatives tree.
func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	if err := a.limiter.Wait(ctx, "/api/charts/v1"); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/trade/%s/%s", a.chartsURL, a.FormatPair(symbol), interval)
	body, err := a.rawGet(ctx, url)
	if err != nil {
		return nil, err
	}
	var resp candlesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing candles: %w", err)
	}

	candles := resp.Candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	klines := make([]exchange.Kline, 0, len(candles))
	for _, c := range candles {
		klines = append(klines, exchange.Kline{
			OpenTime: time.UnixMilli(c.Time),
			Open:     parseDecimal(c.Open),
			High:     parseDecimal(c.High),
			Low:      parseDecimal(c.Low),
			Close:    parseDecimal(c.Close),
			Volume:   parseDecimal(c.Volume),
		})
	}
	return klines, nil
}

// LeverageBrackets implements exchange.Adapter, derived from the instrument
// margin levels: max leverage is the reciprocal of the initial margin rate.
func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	body, err := a.publicGet(ctx, "/api/v3/instruments", nil)
	if err != nil {
		return nil, err
	}
	var resp instrumentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing instruments: %w", err)
	}

	pair := a.FormatPair(symbol)
	for _, inst := range resp.Instruments {
		if inst.Symbol != pair {
			continue
		}
		return resolveMarginLevels(inst.MarginLevels), nil
	}
	return nil, fmt.Errorf("kraken: no instrument for %s", symbol)
}

func resolveMarginLevels(levels []marginLevel) []exchange.LeverageBracket {
	brackets := make([]exchange.LeverageBracket, 0, len(levels))
	for i, lvl := range levels {
		if lvl.InitialMargin <= 0 {
			continue
		}
		cap := decimal.NewFromInt(math.MaxInt32)
		if i+1 < len(levels) {
			cap = decimal.NewFromFloat(levels[i+1].NumNonContractUnits)
		}
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:          i + 1,
			InitialLeverage:  int(math.Round(1 / lvl.InitialMargin)),
			NotionalFloor:    decimal.NewFromFloat(lvl.NumNonContractUnits),
			NotionalCap:      cap,
			MaintMarginRatio: decimal.NewFromFloat(lvl.MaintenanceMargin),
		})
	}
	return brackets
}

// ==================== ACCOUNT ====================

// Balance implements exchange.Adapter, from the multi-collateral flex
// account.
func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	body, err := a.signedGet(ctx, "/api/v3/accounts", nil)
	if err != nil {
		return nil, err
	}
	var resp accountsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing accounts: %w", err)
	}
	flex := resp.Accounts.Flex
	return &exchange.Balance{
		Wallet:             decimal.NewFromFloat(flex.BalanceValue),
		Available:          decimal.NewFromFloat(flex.AvailableMargin),
		CrossWallet:        decimal.NewFromFloat(flex.PortfolioValue),
		CrossUnrealizedPnl: decimal.NewFromFloat(flex.TotalUnrealized),
	}, nil
}

// Positions implements exchange.Adapter. No hedge mode, so keys are the bare
// pair.
func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionInfo, error) {
	body, err := a.signedGet(ctx, "/api/v3/openpositions", nil)
	if err != nil {
		return nil, err
	}
	var resp openPositionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing positions: %w", err)
	}

	out := make(map[string]exchange.PositionInfo)
	for _, p := range resp.OpenPositions {
		if p.Size == 0 {
			continue
		}
		sym, ok := resolveSymbol(p.Symbol)
		if !ok {
			continue
		}
		side := exchange.PositionLong
		if p.Side == "short" {
			side = exchange.PositionShort
		}
		mode := exchange.Crossed
		if p.MaxFixedLeverage > 0 {
			mode = exchange.Isolated
		}
		out[exchange.PositionKey(p.Symbol, side, false)] = exchange.PositionInfo{
			Symbol:       sym,
			PositionSide: side,
			Amount:       decimal.NewFromFloat(p.Size),
			EntryPrice:   decimal.NewFromFloat(p.Price),
			Leverage:     int(p.MaxFixedLeverage),
			MarginMode:   mode,
		}
	}
	return out, nil
}

// TradeHistory implements exchange.Adapter.
func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, limit int) ([]exchange.Trade, error) {
	body, err := a.signedGet(ctx, "/api/v3/fills", nil)
	if err != nil {
		return nil, err
	}
	var resp fillsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing fills: %w", err)
	}

	pair := a.FormatPair(symbol)
	out := make([]exchange.Trade, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		if f.Symbol != pair {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		fillTime, _ := time.Parse(time.RFC3339, f.FillTime)
		out = append(out, exchange.Trade{
			ExchangeOrderID: f.OrderID,
			Symbol:          symbol,
			Side:            resolveSide(f.Side),
			Price:           decimal.NewFromFloat(f.Price),
			Quantity:        decimal.NewFromFloat(f.Size),
			Time:            fillTime,
		})
	}
	return out, nil
}

// ==================== ORDERS ====================

// prepareOrderParams builds /api/v3/sendorder. STOP-MARKET becomes a stp
// order triggered on the mark price; PROFIT-LIMIT a reduce-only lmt.
func (a *Adapter) prepareOrderParams(req exchange.PlaceOrderRequest) map[string]string {
	params := map[string]string{
		"symbol": a.FormatPair(req.Symbol),
		"side":   prepareSide(req.Side),
		"size":   req.Quantity.String(),
	}
	if req.ClientOrderID != "" {
		params["cliOrdId"] = req.ClientOrderID
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	switch req.Type {
	case exchange.Market:
		params["orderType"] = "mkt"
	case exchange.Limit, exchange.ProfitLimit:
		params["orderType"] = "lmt"
		params["limitPrice"] = req.Price.String()
	case exchange.StopMarket:
		params["orderType"] = "stp"
		params["stopPrice"] = req.StopPrice.String()
		params["triggerSignal"] = "mark"
		params["reduceOnly"] = "true"
	}
	return params
}

// PlaceOrder implements exchange.Adapter.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderAck, error) {
	body, err := a.signedPost(ctx, "/api/v3/sendorder", a.prepareOrderParams(req))
	if err != nil {
		return nil, err
	}
	var resp sendOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing send status: %w", err)
	}
	if resp.SendStatus.Status != "placed" {
		return nil, a.resolveError("/api/v3/sendorder", resp.SendStatus.Status)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.SendStatus.OrderID,
		ClientOrderID:   resp.SendStatus.CliOrdID,
		Status:          exchange.StatusNew,
	}, nil
}

// CancelOrder implements exchange.Adapter.
func (a *Adapter) CancelOrder(ctx context.Context, _ exchange.Symbol, exchangeOrderID string, _ bool) (*exchange.OrderAck, error) {
	body, err := a.signedPost(ctx, "/api/v3/cancelorder", map[string]string{
		"order_id": exchangeOrderID,
	})
	if err != nil {
		return nil, err
	}
	var resp cancelOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing cancel status: %w", err)
	}
	if resp.CancelStatus.Status == "notFound" {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: "/api/v3/cancelorder",
			Code: "orderNotFound", Message: "order not found",
			Kind: exchange.KindOrderNotFound,
		}
	}
	return &exchange.OrderAck{
		ExchangeOrderID: exchangeOrderID,
		Status:          exchange.StatusCancelled,
	}, nil
}

// ModifyOrder implements exchange.Adapter via /api/v3/editorder.
func (a *Adapter) ModifyOrder(ctx context.Context, req exchange.ModifyOrderRequest) (*exchange.OrderAck, error) {
	body, err := a.signedPost(ctx, "/api/v3/editorder", map[string]string{
		"orderId":    req.ExchangeOrderID,
		"size":       req.Quantity.String(),
		"limitPrice": req.Price.String(),
	})
	if err != nil {
		return nil, err
	}
	var resp editOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing edit status: %w", err)
	}
	if resp.EditStatus.Status == "notFound" {
		return nil, &exchange.APIError{
			Exchange: a.Name(), Endpoint: "/api/v3/editorder",
			Code: "orderNotFound", Message: "order not found",
			Kind: exchange.KindOrderNotFound,
		}
	}
	return &exchange.OrderAck{
		ExchangeOrderID: req.ExchangeOrderID,
		Status:          exchange.StatusNew,
	}, nil
}

// QueryOrder implements exchange.Adapter.
func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderInfo, error) {
	body, err := a.signedPost(ctx, "/api/v3/orders/status", map[string]string{
		"orderIds": `["` + exchangeOrderID + `"]`,
	})
	if err != nil {
		return nil, err
	}
	var resp ordersStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing order status: %w", err)
	}
	if len(resp.Orders) == 0 {
		return &exchange.OrderInfo{
			ExchangeOrderID: exchangeOrderID,
			Symbol:          symbol,
			Status:          exchange.StatusNotFound,
			IsAlgo:          isAlgo,
		}, nil
	}

	o := resp.Orders[0]
	return &exchange.OrderInfo{
		ExchangeOrderID: o.Order.OrderID,
		ClientOrderID:   o.Order.CliOrdID,
		Symbol:          symbol,
		Side:            resolveSide(o.Order.Side),
		PositionSide:    resolvePositionSide(o.Order.Side, o.Order.Type == "stp"),
		Type:            resolveOrderType(o.Order.Type, false),
		Status:          resolveBookStatus(o.Status),
		Price:           decimal.NewFromFloat(o.Order.LimitPrice),
		StopPrice:       decimal.NewFromFloat(o.Order.StopPrice),
		Quantity:        decimal.NewFromFloat(o.Order.Quantity),
		FilledQuantity:  decimal.NewFromFloat(o.Order.Filled),
	}, nil
}

// OpenOrders implements exchange.Adapter.
func (a *Adapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderInfo, error) {
	body, err := a.signedGet(ctx, "/api/v3/openorders", nil)
	if err != nil {
		return nil, err
	}
	var resp openOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken: parsing open orders: %w", err)
	}

	pair := ""
	if !symbol.IsZero() {
		pair = a.FormatPair(symbol)
	}
	out := make([]exchange.OrderInfo, 0, len(resp.OpenOrders))
	for _, o := range resp.OpenOrders {
		if pair != "" && o.Symbol != pair {
			continue
		}
		sym := symbol
		if sym.IsZero() {
			if parsed, ok := resolveSymbol(o.Symbol); ok {
				sym = parsed
			}
		}
		out = append(out, *resolveOpenOrder(sym, o))
	}
	return out, nil
}

// CancelAllOrders implements exchange.Adapter.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	_, err := a.signedPost(ctx, "/api/v3/cancelallorders", map[string]string{
		"symbol": a.FormatPair(symbol),
	})
	return err
}

// ==================== LEVERAGE & MARGIN ====================

// SetLeverage implements exchange.Adapter: pins an isolated-style max
// leverage preference on the symbol.
func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int) error {
	_, err := a.signedPut(ctx, "/api/v3/leveragepreferences", map[string]string{
		"symbol":      a.FormatPair(symbol),
		"maxLeverage": strconv.Itoa(leverage),
	})
	return err
}

// SetMarginMode implements exchange.Adapter. Cross margin is the absence of
// a leverage preference, so crossed clears it and isolated re-asserts the
// given leverage.
func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, mode exchange.MarginMode, leverage int) error {
	params := map[string]string{"symbol": a.FormatPair(symbol)}
	if mode == exchange.Isolated && leverage > 0 {
		params["maxLeverage"] = strconv.Itoa(leverage)
	}
	_, err := a.signedPut(ctx, "/api/v3/leveragepreferences", params)
	return err
}

// ==================== RESOLVERS ====================

func resolveOpenOrder(symbol exchange.Symbol, o openOrderEntry) *exchange.OrderInfo {
	updated, _ := time.Parse(time.RFC3339, o.LastUpdateTime)
	status := exchange.StatusNew
	if o.Status == "partiallyFilled" || o.FilledSize > 0 {
		status = exchange.StatusPartiallyFilled
	}
	return &exchange.OrderInfo{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.CliOrdID,
		Symbol:          symbol,
		Side:            resolveSide(o.Side),
		PositionSide:    resolvePositionSide(o.Side, o.ReduceOnly || o.OrderType == "stp"),
		Type:            resolveOrderType(o.OrderType, o.ReduceOnly),
		Status:          status,
		Price:           decimal.NewFromFloat(o.LimitPrice),
		StopPrice:       decimal.NewFromFloat(o.StopPrice),
		Quantity:        decimal.NewFromFloat(o.UnfilledSize + o.FilledSize),
		FilledQuantity:  decimal.NewFromFloat(o.FilledSize),
		UpdatedAt:       updated,
	}
}

// resolveBookStatus maps the order-status vocabulary.
func resolveBookStatus(wire string) exchange.OrderStatus {
	switch wire {
	case "ENTERED_BOOK", "TRIGGER_PLACED", "UNTOUCHED":
		return exchange.StatusNew
	case "PARTIALLY_FILLED":
		return exchange.StatusPartiallyFilled
	case "FULLY_EXECUTED", "FILLED":
		return exchange.StatusFilled
	case "CANCELED", "CANCELLED":
		return exchange.StatusCancelled
	case "REJECTED":
		return exchange.StatusRejected
	case "EXPIRED":
		return exchange.StatusExpired
	default:
		return exchange.NormalizeStatus(wire)
	}
}

func resolveOrderType(wire string, reduceOnly bool) exchange.OrderType {
	switch wire {
	case "mkt", "market":
		return exchange.Market
	case "stp", "stop", "take_profit":
		return exchange.StopMarket
	default:
		if reduceOnly {
			return exchange.ProfitLimit
		}
		return exchange.Limit
	}
}

// resolvePositionSide derives direction without hedge mode: a closing order
// sits on the opposite side of its position.
func resolvePositionSide(side string, closing bool) exchange.PositionSide {
	long := side == "buy"
	if closing {
		long = !long
	}
	if long {
		return exchange.PositionLong
	}
	return exchange.PositionShort
}

func prepareSide(s exchange.Side) string {
	if s == exchange.Buy {
		return "buy"
	}
	return "sell"
}

func resolveSide(wire string) exchange.Side {
	if wire == "buy" {
		return exchange.Buy
	}
	return exchange.Sell
}

// resolveSymbol decodes PF_XBTUSD style pairs; non-perpetual families are
// skipped.
func resolveSymbol(pair string) (exchange.Symbol, bool) {
	if len(pair) < 4 || pair[:3] != "PF_" {
		return exchange.Symbol{}, false
	}
	sym, err := exchange.ParseConcatenatedPair(pair[3:])
	if err != nil {
		return exchange.Symbol{}, false
	}
	if sym.Token == "XBT" {
		sym.Token = "BTC"
	}
	return sym, true
}

func precisionFromStep(step decimal.Decimal) int32 {
	if step.IsZero() {
		return 0
	}
	if exp := step.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
