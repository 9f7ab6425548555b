package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"martingalian/internal/exchange"
)

// ==================== MARKET DATA ====================

// ServerTime implements exchange.Adapter.
func (a *Adapter) ServerTime(ctx context.Context) (time.Time, error) {
	data, err := a.publicGet(ctx, "/api/v1/timestamp", nil)
	if err != nil {
		return time.Time{}, err
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return time.Time{}, fmt.Errorf("kucoin: parsing server time: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// ExchangeInfo implements exchange.Adapter. Sizes are integer lots, so the
// quantity precision is always zero.
func (a *Adapter) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	data, err := a.publicGet(ctx, "/api/v1/contracts/active", nil)
	if err != nil {
		return nil, err
	}
	var contracts []contractEntry
	if err := json.Unmarshal(data, &contracts); err != nil {
		return nil, fmt.Errorf("kucoin: parsing contracts: %w", err)
	}
	return resolveContracts(contracts), nil
}

func resolveContracts(contracts []contractEntry) []exchange.SymbolInfo {
	out := make([]exchange.SymbolInfo, 0, len(contracts))
	for _, c := range contracts {
		if c.Status != "Open" {
			continue
		}
		token := c.BaseCurrency
		if token == "XBT" {
			token = "BTC"
		}
		tick := decimal.NewFromFloat(c.TickSize)
		out = append(out, exchange.SymbolInfo{
			Symbol:            exchange.Symbol{Token: token, Quote: c.QuoteCurrency},
			ParsedPair:        c.Symbol,
			PricePrecision:    precisionFromStep(tick),
			QuantityPrecision: 0,
			TickSize:          tick,
		})
	}
	return out
}

// MarkPrice implements exchange.Adapter.
func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	data, err := a.publicGet(ctx, "/api/v1/mark-price/"+a.FormatPair(symbol)+"/current", nil)
	if err != nil {
		return decimal.Zero, err
	}
	var resp markPriceData
	if err := json.Unmarshal(data, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("kucoin: parsing mark price: %w", err)
	}
	return decimal.NewFromFloat(resp.Value), nil
}

// Klines implements exchange.Adapter. Granularity is expressed in minutes.
func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	data, err := a.publicGet(ctx, "/api/v1/kline/query", map[string]string{
		"symbol":      a.FormatPair(symbol),
		"granularity": strconv.Itoa(intervalMinutes(interval)),
	})
	if err != nil {
		return nil, err
	}
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("kucoin: parsing klines: %w", err)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	klines := make([]exchange.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		klines = append(klines, exchange.Kline{
			OpenTime: time.UnixMilli(int64(row[0])),
			Open:     decimal.NewFromFloat(row[1]),
			High:     decimal.NewFromFloat(row[2]),
			Low:      decimal.NewFromFloat(row[3]),
			Close:    decimal.NewFromFloat(row[4]),
			Volume:   decimal.NewFromFloat(row[5]),
		})
	}
	return klines, nil
}

// LeverageBrackets implements exchange.Adapter, from the risk-limit levels.
func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	data, err := a.publicGet(ctx, "/api/v1/contracts/risk-limit/"+a.FormatPair(symbol), nil)
	if err != nil {
		return nil, err
	}
	var levels []riskLimitEntry
	if err := json.Unmarshal(data, &levels); err != nil {
		return nil, fmt.Errorf("kucoin: parsing risk limits: %w", err)
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("kucoin: no risk limits for %s", symbol)
	}

	brackets := make([]exchange.LeverageBracket, 0, len(levels))
	for _, lvl := range levels {
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:         lvl.Level,
			InitialLeverage: int(lvl.MaxLeverage),
			NotionalFloor:   decimal.NewFromFloat(lvl.MinRiskLimit),
			NotionalCap:     decimal.NewFromFloat(lvl.MaxRiskLimit),
		})
	}
	return brackets, nil
}

// ==================== ACCOUNT ====================

// Balance implements exchange.Adapter.
func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	data, err := a.signedGet(ctx, "/api/v1/account-overview", map[string]string{
		"currency": a.quote,
	})
	if err != nil {
		return nil, err
	}
	var resp accountOverviewData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kucoin: parsing account overview: %w", err)
	}
	equity := decimal.NewFromFloat(resp.AccountEquity)
	return &exchange.Balance{
		Wallet:             equity,
		Available:          decimal.NewFromFloat(resp.AvailableBalance),
		CrossWallet:        equity,
		CrossUnrealizedPnl: decimal.NewFromFloat(resp.UnrealisedPNL),
	}, nil
}

// Positions implements exchange.Adapter. Quantities are signed; there is no
// hedge mode, so keys are the bare pair.
func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionInfo, error) {
	data, err := a.signedGet(ctx, "/api/v1/positions", nil)
	if err != nil {
		return nil, err
	}
	var positions []positionEntry
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("kucoin: parsing positions: %w", err)
	}

	out := make(map[string]exchange.PositionInfo)
	for _, p := range positions {
		qty := decimal.NewFromFloat(p.CurrentQty)
		if qty.IsZero() {
			continue
		}
		side := exchange.PositionLong
		if qty.IsNegative() {
			side = exchange.PositionShort
		}
		mode := exchange.Isolated
		if p.CrossMode {
			mode = exchange.Crossed
		}
		out[exchange.PositionKey(p.Symbol, side, false)] = exchange.PositionInfo{
			Symbol:       resolveSymbol(p.Symbol),
			PositionSide: side,
			Amount:       qty,
			EntryPrice:   decimal.NewFromFloat(p.AvgEntryPrice),
			MarkPrice:    decimal.NewFromFloat(p.MarkPrice),
			Leverage:     int(p.RealLeverage),
			MarginMode:   mode,
		}
	}
	return out, nil
}

// TradeHistory implements exchange.Adapter.
func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, limit int) ([]exchange.Trade, error) {
	data, err := a.signedGet(ctx, "/api/v1/fills", map[string]string{
		"symbol":   a.FormatPair(symbol),
		"pageSize": strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var resp fillsData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kucoin: parsing fills: %w", err)
	}

	out := make([]exchange.Trade, 0, len(resp.Items))
	for _, f := range resp.Items {
		out = append(out, exchange.Trade{
			ExchangeOrderID: f.OrderID,
			Symbol:          symbol,
			Side:            resolveSide(f.Side),
			Price:           parseDecimal(f.Price),
			Quantity:        parseDecimal(f.Size.String()),
			Time:            time.Unix(0, f.TradeTime),
		})
	}
	return out, nil
}

// ==================== ORDERS ====================

// prepareOrderBody builds POST /api/v1/orders. A clientOid is mandatory, so
// one is generated when the caller did not supply one. Stop orders arm on
// the mark price: "down" closes a long, "up" closes a short.
func (a *Adapter) prepareOrderBody(req exchange.PlaceOrderRequest) map[string]any {
	clientOid := req.ClientOrderID
	if clientOid == "" {
		clientOid = uuid.NewString()
	}
	body := map[string]any{
		"clientOid": clientOid,
		"symbol":    a.FormatPair(req.Symbol),
		"side":      prepareSide(req.Side),
		"size":      req.Quantity.IntPart(),
		"leverage":  strconv.Itoa(a.leverageFor(req.Symbol)),
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	switch req.Type {
	case exchange.Market:
		body["type"] = "market"
	case exchange.Limit, exchange.ProfitLimit:
		body["type"] = "limit"
		body["timeInForce"] = "GTC"
		body["price"] = req.Price.String()
	case exchange.StopMarket:
		body["type"] = "market"
		body["stop"] = prepareStopDirection(req.PositionSide)
		body["stopPrice"] = req.StopPrice.String()
		body["stopPriceType"] = "MP"
		body["reduceOnly"] = true
		body["closeOrder"] = true
		delete(body, "size")
	}
	return body
}

func (a *Adapter) leverageFor(symbol exchange.Symbol) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if lev, ok := a.leverage[a.FormatPair(symbol)]; ok && lev > 0 {
		return lev
	}
	return 1
}

// PlaceOrder implements exchange.Adapter.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderAck, error) {
	endpoint := "/api/v1/orders"
	isAlgo := req.Type == exchange.StopMarket
	if isAlgo {
		endpoint = "/api/v1/st-orders"
	}
	data, err := a.signedPost(ctx, endpoint, a.prepareOrderBody(req))
	if err != nil {
		return nil, err
	}
	var resp orderAckData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kucoin: parsing order ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClientOid,
		Status:          exchange.StatusNew,
		IsAlgo:          isAlgo,
	}, nil
}

// CancelOrder implements exchange.Adapter.
func (a *Adapter) CancelOrder(ctx context.Context, _ exchange.Symbol, exchangeOrderID string, _ bool) (*exchange.OrderAck, error) {
	if _, err := a.signedDelete(ctx, "/api/v1/orders/"+exchangeOrderID, nil); err != nil {
		return nil, err
	}
	return &exchange.OrderAck{
		ExchangeOrderID: exchangeOrderID,
		Status:          exchange.StatusCancelled,
	}, nil
}

// ModifyOrder implements exchange.Adapter. KuCoin cannot amend working
// orders; callers must cancel and recreate.
func (a *Adapter) ModifyOrder(_ context.Context, req exchange.ModifyOrderRequest) (*exchange.OrderAck, error) {
	return nil, &exchange.APIError{
		Exchange: a.Name(),
		Endpoint: "/api/v1/orders",
		Message:  fmt.Sprintf("order %s: amendment not supported", req.ExchangeOrderID),
		Kind:     exchange.KindInvalidRequest,
	}
}

// QueryOrder implements exchange.Adapter.
func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderInfo, error) {
	data, err := a.signedGet(ctx, "/api/v1/orders/"+exchangeOrderID, nil)
	if err != nil {
		if exchange.IsOrderNotFound(err) {
			return &exchange.OrderInfo{
				ExchangeOrderID: exchangeOrderID,
				Symbol:          symbol,
				Status:          exchange.StatusNotFound,
				IsAlgo:          isAlgo,
			}, nil
		}
		return nil, err
	}
	var o orderEntry
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("kucoin: parsing order: %w", err)
	}
	return resolveOrderInfo(symbol, o), nil
}

// OpenOrders implements exchange.Adapter: merges the active and stop books.
func (a *Adapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderInfo, error) {
	var out []exchange.OrderInfo
	for _, endpoint := range []string{"/api/v1/orders", "/api/v1/stopOrders"} {
		params := map[string]string{"status": "active"}
		if endpoint == "/api/v1/stopOrders" {
			params = map[string]string{}
		}
		if !symbol.IsZero() {
			params["symbol"] = a.FormatPair(symbol)
		}
		data, err := a.signedGet(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		var resp orderListData
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("kucoin: parsing open orders: %w", err)
		}
		for _, o := range resp.Items {
			sym := symbol
			if sym.IsZero() {
				sym = resolveSymbol(o.Symbol)
			}
			out = append(out, *resolveOrderInfo(sym, o))
		}
	}
	return out, nil
}

// CancelAllOrders implements exchange.Adapter: both books.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	params := map[string]string{"symbol": a.FormatPair(symbol)}
	if _, err := a.signedDelete(ctx, "/api/v1/orders", params); err != nil {
		return err
	}
	_, err := a.signedDelete(ctx, "/api/v1/stopOrders", params)
	return err
}

// ==================== LEVERAGE & MARGIN ====================

// SetLeverage implements exchange.Adapter. Leverage is a per-order attribute
// here, so the value is recorded and forwarded on each submission.
func (a *Adapter) SetLeverage(_ context.Context, symbol exchange.Symbol, leverage int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leverage[a.FormatPair(symbol)] = leverage
	return nil
}

// SetMarginMode implements exchange.Adapter.
func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, mode exchange.MarginMode, _ int) error {
	wireMode := "CROSS"
	if mode == exchange.Isolated {
		wireMode = "ISOLATED"
	}
	_, err := a.signedPost(ctx, "/api/v2/position/changeMarginMode", map[string]any{
		"symbol":     a.FormatPair(symbol),
		"marginMode": wireMode,
	})
	return err
}

// ==================== RESOLVERS ====================

func resolveOrderInfo(symbol exchange.Symbol, o orderEntry) *exchange.OrderInfo {
	return &exchange.OrderInfo{
		ExchangeOrderID: o.ID,
		ClientOrderID:   o.ClientOid,
		Symbol:          symbol,
		Side:            resolveSide(o.Side),
		PositionSide:    resolvePositionSide(o),
		Type:            resolveOrderType(o),
		Status:          resolveStatus(o),
		Price:           parseDecimal(o.Price),
		StopPrice:       parseDecimal(o.StopPrice),
		Quantity:        parseDecimal(o.Size.String()),
		FilledQuantity:  parseDecimal(o.DealSize.String()),
		IsAlgo:          o.Stop != "",
		UpdatedAt:       time.UnixMilli(o.UpdatedAt),
	}
}

// resolveStatus folds the open/done + cancelExist triple into the canonical
// vocabulary.
func resolveStatus(o orderEntry) exchange.OrderStatus {
	if o.CancelExist {
		return exchange.StatusCancelled
	}
	if o.Status == "done" {
		return exchange.StatusFilled
	}
	if dealt := parseDecimal(o.DealSize.String()); dealt.IsPositive() {
		return exchange.StatusPartiallyFilled
	}
	return exchange.StatusNew
}

func resolveOrderType(o orderEntry) exchange.OrderType {
	if o.Stop != "" {
		return exchange.StopMarket
	}
	if o.Type == "market" {
		return exchange.Market
	}
	if o.ReduceOnly {
		return exchange.ProfitLimit
	}
	return exchange.Limit
}

// resolvePositionSide derives direction without hedge mode: a reduce-only
// order is on the opposite side of its position.
func resolvePositionSide(o orderEntry) exchange.PositionSide {
	long := o.Side == "buy"
	if o.ReduceOnly || o.Stop != "" {
		long = !long
	}
	if long {
		return exchange.PositionLong
	}
	return exchange.PositionShort
}

// prepareStopDirection arms the trigger: closing a long fires when the mark
// falls, closing a short when it rises.
func prepareStopDirection(side exchange.PositionSide) string {
	if side == exchange.PositionShort {
		return "up"
	}
	return "down"
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

func resolveSymbol(pair string) exchange.Symbol {
	trimmed := pair
	if len(trimmed) > 0 && trimmed[len(trimmed)-1] == 'M' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	sym, err := exchange.ParseConcatenatedPair(trimmed)
	if err != nil {
		return exchange.Symbol{}
	}
	if sym.Token == "XBT" {
		sym.Token = "BTC"
	}
	return sym
}

func intervalMinutes(interval string) int {
	switch interval {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "30m":
		return 30
	case "1h":
		return 60
	case "2h":
		return 120
	case "4h":
		return 240
	case "1d":
		return 1440
	default:
		return 1
	}
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
