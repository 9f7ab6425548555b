package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"martingalian/internal/exchange"
)

// ==================== MARKET DATA ====================

// ServerTime implements exchange.Adapter.
func (a *Adapter) ServerTime(ctx context.Context) (time.Time, error) {
	result, err := a.publicGet(ctx, "/v5/market/time", nil)
	if err != nil {
		return time.Time{}, err
	}
	var resp serverTimeResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return time.Time{}, fmt.Errorf("bybit: parsing server time: %w", err)
	}
	secs, err := strconv.ParseInt(resp.TimeSecond, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bybit: parsing server time: %w", err)
	}
	return time.Unix(secs, 0), nil
}

// ExchangeInfo implements exchange.Adapter.
func (a *Adapter) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	result, err := a.publicGet(ctx, "/v5/market/instruments-info", map[string]string{
		"category": category,
		"limit":    "1000",
	})
	if err != nil {
		return nil, err
	}
	var resp instrumentsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing instruments: %w", err)
	}
	return resolveInstruments(resp), nil
}

func resolveInstruments(resp instrumentsResult) []exchange.SymbolInfo {
	out := make([]exchange.SymbolInfo, 0, len(resp.List))
	for _, s := range resp.List {
		if s.Status != "Trading" {
			continue
		}
		tick := parseDecimal(s.PriceFilter.TickSize)
		step := parseDecimal(s.LotSizeFilter.QtyStep)
		out = append(out, exchange.SymbolInfo{
			Symbol:            exchange.Symbol{Token: s.BaseCoin, Quote: s.QuoteCoin},
			ParsedPair:        s.Symbol,
			PricePrecision:    precisionFromStep(tick),
			QuantityPrecision: precisionFromStep(step),
			TickSize:          tick,
			MinNotional:       parseDecimal(s.LotSizeFilter.MinNotionalValue),
			MinPrice:          parseDecimal(s.PriceFilter.MinPrice),
			MaxPrice:          parseDecimal(s.PriceFilter.MaxPrice),
		})
	}
	return out
}

// MarkPrice implements exchange.Adapter.
func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	result, err := a.publicGet(ctx, "/v5/market/tickers", map[string]string{
		"category": category,
		"symbol":   a.FormatPair(symbol),
	})
	if err != nil {
		return decimal.Zero, err
	}
	var resp tickersResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit: parsing tickers: %w", err)
	}
	if len(resp.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: no ticker for %s", symbol)
	}
	return parseDecimal(resp.List[0].MarkPrice), nil
}

// Klines implements exchange.Adapter. Rows arrive newest first; the engine
// expects oldest first, so the slice is reversed.
func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	result, err := a.publicGet(ctx, "/v5/market/kline", map[string]string{
		"category": category,
		"symbol":   a.FormatPair(symbol),
		"interval": prepareInterval(interval),
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var resp klineResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing klines: %w", err)
	}

	klines := make([]exchange.Kline, 0, len(resp.List))
	for i := len(resp.List) - 1; i >= 0; i-- {
		row := resp.List[i]
		if len(row) < 6 {
			continue
		}
		startMs, _ := strconv.ParseInt(row[0], 10, 64)
		klines = append(klines, exchange.Kline{
			OpenTime: time.UnixMilli(startMs),
			Open:     parseDecimal(row[1]),
			High:     parseDecimal(row[2]),
			Low:      parseDecimal(row[3]),
			Close:    parseDecimal(row[4]),
			Volume:   parseDecimal(row[5]),
		})
	}
	return klines, nil
}

// LeverageBrackets implements exchange.Adapter, mapped from the risk-limit
// table. Each tier's floor is the previous tier's cap.
func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	result, err := a.publicGet(ctx, "/v5/market/risk-limit", map[string]string{
		"category": category,
		"symbol":   a.FormatPair(symbol),
	})
	if err != nil {
		return nil, err
	}
	var resp riskLimitResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing risk limits: %w", err)
	}
	if len(resp.List) == 0 {
		return nil, fmt.Errorf("bybit: no risk limits for %s", symbol)
	}

	brackets := make([]exchange.LeverageBracket, 0, len(resp.List))
	floor := decimal.Zero
	for i, tier := range resp.List {
		cap := parseDecimal(tier.RiskLimitValue)
		maxLev, _ := strconv.Atoi(trimFraction(tier.MaxLeverage))
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:         i + 1,
			InitialLeverage: maxLev,
			NotionalFloor:   floor,
			NotionalCap:     cap,
		})
		floor = cap
	}
	return brackets, nil
}

// ==================== ACCOUNT ====================

// Balance implements exchange.Adapter.
func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	result, err := a.signedGet(ctx, "/v5/account/wallet-balance", map[string]string{
		"accountType": "UNIFIED",
	})
	if err != nil {
		return nil, err
	}
	var resp walletBalanceResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing balance: %w", err)
	}
	for _, account := range resp.List {
		for _, coin := range account.Coin {
			if coin.Coin == a.quote {
				wallet := parseDecimal(coin.WalletBalance)
				return &exchange.Balance{
					Wallet:             wallet,
					Available:          parseDecimal(coin.AvailableToTrade),
					CrossWallet:        wallet,
					CrossUnrealizedPnl: parseDecimal(coin.UnrealisedPnl),
				}, nil
			}
		}
	}
	return &exchange.Balance{}, nil
}

// Positions implements exchange.Adapter.
func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionInfo, error) {
	result, err := a.signedGet(ctx, "/v5/position/list", map[string]string{
		"category":   category,
		"settleCoin": a.quote,
		"limit":      "200",
	})
	if err != nil {
		return nil, err
	}
	var resp positionListResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing positions: %w", err)
	}

	out := make(map[string]exchange.PositionInfo)
	for _, p := range resp.List {
		size := parseDecimal(p.Size)
		if size.IsZero() {
			continue
		}
		side := resolvePositionSide(p.Side, p.PositionIdx)
		symbol, err := exchange.ParseConcatenatedPair(p.Symbol)
		if err != nil {
			continue
		}
		leverage, _ := strconv.Atoi(trimFraction(p.Leverage))
		mode := exchange.Crossed
		if p.TradeMode == 1 {
			mode = exchange.Isolated
		}
		out[exchange.PositionKey(p.Symbol, side, true)] = exchange.PositionInfo{
			Symbol:       symbol,
			PositionSide: side,
			Amount:       size,
			EntryPrice:   parseDecimal(p.AvgPrice),
			MarkPrice:    parseDecimal(p.MarkPrice),
			Leverage:     leverage,
			MarginMode:   mode,
		}
	}
	return out, nil
}

// TradeHistory implements exchange.Adapter. Bybit executions carry no
// per-fill realized pnl; the field stays zero.
func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, limit int) ([]exchange.Trade, error) {
	result, err := a.signedGet(ctx, "/v5/execution/list", map[string]string{
		"category": category,
		"symbol":   a.FormatPair(symbol),
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var resp executionListResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing executions: %w", err)
	}

	out := make([]exchange.Trade, 0, len(resp.List))
	for _, e := range resp.List {
		execMs, _ := strconv.ParseInt(e.ExecTime, 10, 64)
		out = append(out, exchange.Trade{
			ExchangeOrderID: e.OrderID,
			Symbol:          symbol,
			Side:            resolveSide(e.Side),
			Price:           parseDecimal(e.ExecPrice),
			Quantity:        parseDecimal(e.ExecQty),
			Time:            time.UnixMilli(execMs),
		})
	}
	return out, nil
}

// ==================== ORDERS ====================

// prepareOrderBody builds /v5/order/create. STOP-MARKET becomes a Market
// order armed with triggerPrice, filed under the StopOrder book.
func (a *Adapter) prepareOrderBody(req exchange.PlaceOrderRequest) map[string]any {
	body := map[string]any{
		"category":    category,
		"symbol":      a.FormatPair(req.Symbol),
		"side":        prepareSide(req.Side),
		"positionIdx": preparePositionIdx(req.PositionSide),
	}
	if req.ClientOrderID != "" {
		body["orderLinkId"] = req.ClientOrderID
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	switch req.Type {
	case exchange.Market:
		body["orderType"] = "Market"
		body["qty"] = req.Quantity.String()
	case exchange.Limit, exchange.ProfitLimit:
		body["orderType"] = "Limit"
		body["timeInForce"] = "GTC"
		body["qty"] = req.Quantity.String()
		body["price"] = req.Price.String()
	case exchange.StopMarket:
		body["orderType"] = "Market"
		body["qty"] = req.Quantity.String()
		body["triggerPrice"] = req.StopPrice.String()
		body["triggerBy"] = "MarkPrice"
		body["orderFilter"] = "StopOrder"
		body["reduceOnly"] = true
		body["closeOnTrigger"] = true
	}
	return body
}

// PlaceOrder implements exchange.Adapter.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderAck, error) {
	result, err := a.signedPost(ctx, "/v5/order/create", a.prepareOrderBody(req))
	if err != nil {
		return nil, err
	}
	var resp orderAckResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing order ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.OrderLinkID,
		Status:          exchange.StatusNew,
	}, nil
}

// CancelOrder implements exchange.Adapter.
func (a *Adapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderAck, error) {
	body := map[string]any{
		"category": category,
		"symbol":   a.FormatPair(symbol),
		"orderId":  exchangeOrderID,
	}
	if isAlgo {
		body["orderFilter"] = "StopOrder"
	}
	result, err := a.signedPost(ctx, "/v5/order/cancel", body)
	if err != nil {
		return nil, err
	}
	var resp orderAckResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing cancel ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.OrderLinkID,
		Status:          exchange.StatusCancelled,
	}, nil
}

// ModifyOrder implements exchange.Adapter via /v5/order/amend.
func (a *Adapter) ModifyOrder(ctx context.Context, req exchange.ModifyOrderRequest) (*exchange.OrderAck, error) {
	result, err := a.signedPost(ctx, "/v5/order/amend", map[string]any{
		"category": category,
		"symbol":   a.FormatPair(req.Symbol),
		"orderId":  req.ExchangeOrderID,
		"qty":      req.Quantity.String(),
		"price":    req.Price.String(),
	})
	if err != nil {
		return nil, err
	}
	var resp orderAckResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("bybit: parsing amend ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.OrderLinkID,
		Status:          exchange.StatusNew,
	}, nil
}

// QueryOrder implements exchange.Adapter: the realtime book first, falling
// back to order history once the order leaves the working set.
func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderInfo, error) {
	params := map[string]string{
		"category": category,
		"symbol":   a.FormatPair(symbol),
		"orderId":  exchangeOrderID,
	}
	if isAlgo {
		params["orderFilter"] = "StopOrder"
	}

	for _, endpoint := range []string{"/v5/order/realtime", "/v5/order/history"} {
		result, err := a.signedGet(ctx, endpoint, params)
		if err != nil {
			if exchange.IsOrderNotFound(err) {
				continue
			}
			return nil, err
		}
		var resp orderListResult
		if err := json.Unmarshal(result, &resp); err != nil {
			return nil, fmt.Errorf("bybit: parsing orders: %w", err)
		}
		if len(resp.List) > 0 {
			return resolveOrderInfo(symbol, resp.List[0]), nil
		}
	}
	return &exchange.OrderInfo{
		ExchangeOrderID: exchangeOrderID,
		Symbol:          symbol,
		Status:          exchange.StatusNotFound,
		IsAlgo:          isAlgo,
	}, nil
}

// OpenOrders implements exchange.Adapter: merges the regular and stop books.
func (a *Adapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderInfo, error) {
	var out []exchange.OrderInfo
	for _, filter := range []string{"Order", "StopOrder"} {
		params := map[string]string{
			"category":    category,
			"orderFilter": filter,
			"openOnly":    "0",
			"limit":       "50",
		}
		if symbol.IsZero() {
			params["settleCoin"] = a.quote
		} else {
			params["symbol"] = a.FormatPair(symbol)
		}
		result, err := a.signedGet(ctx, "/v5/order/realtime", params)
		if err != nil {
			return nil, err
		}
		var resp orderListResult
		if err := json.Unmarshal(result, &resp); err != nil {
			return nil, fmt.Errorf("bybit: parsing open orders: %w", err)
		}
		for _, o := range resp.List {
			sym := symbol
			if sym.IsZero() {
				if parsed, err := exchange.ParseConcatenatedPair(o.Symbol); err == nil {
					sym = parsed
				}
			}
			out = append(out, *resolveOrderInfo(sym, o))
		}
	}
	return out, nil
}

// CancelAllOrders implements exchange.Adapter: both books.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	for _, filter := range []string{"Order", "StopOrder"} {
		_, err := a.signedPost(ctx, "/v5/order/cancel-all", map[string]any{
			"category":    category,
			"symbol":      a.FormatPair(symbol),
			"orderFilter": filter,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ==================== LEVERAGE & MARGIN ====================

// SetLeverage implements exchange.Adapter. "Leverage not modified" is not an
// error.
func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int) error {
	lev := strconv.Itoa(leverage)
	_, err := a.signedPost(ctx, "/v5/position/set-leverage", map[string]any{
		"category":     category,
		"symbol":       a.FormatPair(symbol),
		"buyLeverage":  lev,
		"sellLeverage": lev,
	})
	if isRetCode(err, "110043") {
		return nil
	}
	return err
}

// SetMarginMode implements exchange.Adapter. Bybit requires leverage on the
// switch call, so the argument is forwarded.
func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, mode exchange.MarginMode, leverage int) error {
	tradeMode := 0
	if mode == exchange.Isolated {
		tradeMode = 1
	}
	lev := strconv.Itoa(leverage)
	_, err := a.signedPost(ctx, "/v5/position/switch-isolated", map[string]any{
		"category":     category,
		"symbol":       a.FormatPair(symbol),
		"tradeMode":    tradeMode,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	})
	if isRetCode(err, "110026") || isRetCode(err, "110027") {
		return nil
	}
	return err
}

// ==================== RESOLVERS ====================

func resolveOrderInfo(symbol exchange.Symbol, o orderEntry) *exchange.OrderInfo {
	updatedMs, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
	return &exchange.OrderInfo{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.OrderLinkID,
		Symbol:          symbol,
		Side:            resolveSide(o.Side),
		PositionSide:    resolvePositionSide(o.Side, o.PositionIdx),
		Type:            resolveOrderType(o),
		Status:          exchange.NormalizeStatus(o.OrderStatus),
		Price:           parseDecimal(o.Price),
		StopPrice:       parseDecimal(o.TriggerPrice),
		Quantity:        parseDecimal(o.Qty),
		FilledQuantity:  parseDecimal(o.CumExecQty),
		AvgFillPrice:    parseDecimal(o.AvgPrice),
		IsAlgo:          o.OrderFilter == "StopOrder",
		UpdatedAt:       time.UnixMilli(updatedMs),
	}
}

func resolveOrderType(o orderEntry) exchange.OrderType {
	if o.OrderFilter == "StopOrder" {
		return exchange.StopMarket
	}
	if o.OrderType == "Market" {
		return exchange.Market
	}
	if o.ReduceOnly {
		return exchange.ProfitLimit
	}
	return exchange.Limit
}

func prepareSide(s exchange.Side) string {
	if s == exchange.Buy {
		return "Buy"
	}
	return "Sell"
}

func resolveSide(wire string) exchange.Side {
	if wire == "Buy" {
		return exchange.Buy
	}
	return exchange.Sell
}

// preparePositionIdx maps the hedge-mode direction: 1 long, 2 short.
func preparePositionIdx(side exchange.PositionSide) int {
	if side == exchange.PositionShort {
		return 2
	}
	return 1
}

func resolvePositionSide(side string, positionIdx int) exchange.PositionSide {
	switch positionIdx {
	case 1:
		return exchange.PositionLong
	case 2:
		return exchange.PositionShort
	}
	// One-way mode: derive from the order/position side.
	if side == "Sell" {
		return exchange.PositionShort
	}
	return exchange.PositionLong
}

// prepareInterval maps canonical intervals onto v5 codes.
func prepareInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "3m":
		return "3"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "2h":
		return "120"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return interval
	}
}

// precisionFromStep derives decimal places from a tick/step size like 0.001.
func precisionFromStep(step decimal.Decimal) int32 {
	if step.IsZero() {
		return 0
	}
	if exp := step.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

// trimFraction drops a trailing ".00" style fraction from integer-valued
// wire strings such as leverage.
func trimFraction(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.Truncate(0).String()
}

func isRetCode(err error, code string) bool {
	var apiErr *exchange.APIError
	return err != nil && errors.As(err, &apiErr) && apiErr.Code == code
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
