package binance

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
	body, err := a.publicGet(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return time.Time{}, err
	}
	var resp serverTimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("binance: parsing server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// ExchangeInfo implements exchange.Adapter.
func (a *Adapter) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	body, err := a.publicGet(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: parsing exchange info: %w", err)
	}
	return resolveExchangeInfo(resp), nil
}

func resolveExchangeInfo(resp exchangeInfoResponse) []exchange.SymbolInfo {
	out := make([]exchange.SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		info := exchange.SymbolInfo{
			Symbol:            exchange.Symbol{Token: s.BaseAsset, Quote: s.QuoteAsset},
			ParsedPair:        s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				info.TickSize = parseDecimal(f.TickSize)
				info.MinPrice = parseDecimal(f.MinPrice)
				info.MaxPrice = parseDecimal(f.MaxPrice)
			case "MIN_NOTIONAL":
				info.MinNotional = parseDecimal(f.Notional)
			}
		}
		out = append(out, info)
	}
	return out
}

// MarkPrice implements exchange.Adapter.
func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	body, err := a.publicGet(ctx, "/fapi/v1/premiumIndex", map[string]string{
		"symbol": a.FormatPair(symbol),
	})
	if err != nil {
		return decimal.Zero, err
	}
	var resp premiumIndex
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance: parsing mark price: %w", err)
	}
	return parseDecimal(resp.MarkPrice), nil
}

// Klines implements exchange.Adapter.
func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	body, err := a.publicGet(ctx, "/fapi/v1/klines", map[string]string{
		"symbol":   a.FormatPair(symbol),
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: parsing klines: %w", err)
	}

	klines := make([]exchange.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		var openTime, closeTime int64
		var open, high, low, closing, volume string
		json.Unmarshal(row[0], &openTime)
		json.Unmarshal(row[1], &open)
		json.Unmarshal(row[2], &high)
		json.Unmarshal(row[3], &low)
		json.Unmarshal(row[4], &closing)
		json.Unmarshal(row[5], &volume)
		json.Unmarshal(row[6], &closeTime)
		klines = append(klines, exchange.Kline{
			OpenTime:  time.UnixMilli(openTime),
			Open:      parseDecimal(open),
			High:      parseDecimal(high),
			Low:       parseDecimal(low),
			Close:     parseDecimal(closing),
			Volume:    parseDecimal(volume),
			CloseTime: time.UnixMilli(closeTime),
		})
	}
	return klines, nil
}

// LeverageBrackets implements exchange.Adapter.
func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	body, err := a.signedGet(ctx, "/fapi/v1/leverageBracket", map[string]string{
		"symbol": a.FormatPair(symbol),
	})
	if err != nil {
		return nil, err
	}

	var resp []leverageBracketResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: parsing leverage brackets: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("binance: no brackets for %s", symbol)
	}

	brackets := make([]exchange.LeverageBracket, 0, len(resp[0].Brackets))
	for _, b := range resp[0].Brackets {
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:          b.Bracket,
			InitialLeverage:  b.InitialLeverage,
			NotionalFloor:    decimal.NewFromFloat(b.NotionalFloor),
			NotionalCap:      decimal.NewFromFloat(b.NotionalCap),
			MaintMarginRatio: decimal.NewFromFloat(b.MaintMarginRatio),
		})
	}
	return brackets, nil
}

// ==================== ACCOUNT ====================

// Balance implements exchange.Adapter.
func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	body, err := a.signedGet(ctx, "/fapi/v2/balance", nil)
	if err != nil {
		return nil, err
	}
	var entries []balanceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("binance: parsing balance: %w", err)
	}
	for _, e := range entries {
		if e.Asset == a.quote {
			return &exchange.Balance{
				Wallet:             parseDecimal(e.Balance),
				Available:          parseDecimal(e.AvailableBalance),
				CrossWallet:        parseDecimal(e.CrossWalletBalance),
				CrossUnrealizedPnl: parseDecimal(e.CrossUnPnl),
			}, nil
		}
	}
	return &exchange.Balance{}, nil
}

// Positions implements exchange.Adapter.
func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionInfo, error) {
	body, err := a.signedGet(ctx, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}
	var positions []positionRisk
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("binance: parsing positions: %w", err)
	}

	out := make(map[string]exchange.PositionInfo)
	for _, p := range positions {
		amt := parseDecimal(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := exchange.PositionSide(p.PositionSide)
		if side != exchange.PositionLong && side != exchange.PositionShort {
			// One-way mode reports BOTH; derive direction from the sign.
			if amt.IsNegative() {
				side = exchange.PositionShort
			} else {
				side = exchange.PositionLong
			}
		}
		leverage, _ := strconv.Atoi(p.Leverage)
		symbol, err := exchange.ParseConcatenatedPair(p.Symbol)
		if err != nil {
			continue
		}
		out[exchange.PositionKey(p.Symbol, side, true)] = exchange.PositionInfo{
			Symbol:       symbol,
			PositionSide: side,
			Amount:       amt,
			EntryPrice:   parseDecimal(p.EntryPrice),
			MarkPrice:    parseDecimal(p.MarkPrice),
			Leverage:     leverage,
			MarginMode:   resolveMarginMode(p.MarginType),
		}
	}
	return out, nil
}

// TradeHistory implements exchange.Adapter.
func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, limit int) ([]exchange.Trade, error) {
	body, err := a.signedGet(ctx, "/fapi/v1/userTrades", map[string]string{
		"symbol": a.FormatPair(symbol),
		"limit":  strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var trades []userTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("binance: parsing trade history: %w", err)
	}

	out := make([]exchange.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, exchange.Trade{
			ExchangeOrderID: strconv.FormatInt(t.OrderID, 10),
			Symbol:          symbol,
			Side:            exchange.Side(t.Side),
			Price:           parseDecimal(t.Price),
			Quantity:        parseDecimal(t.Qty),
			RealizedPnl:     parseDecimal(t.RealizedPnl),
			Time:            time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

// ==================== ORDERS ====================

// prepareOrderParams builds the request for the regular order endpoint.
// PROFIT-LIMIT maps onto a reduce-only LIMIT so the engine can modify it in
// place after each WAP recalculation.
func (a *Adapter) prepareOrderParams(req exchange.PlaceOrderRequest) map[string]string {
	params := map[string]string{
		"symbol":       a.FormatPair(req.Symbol),
		"side":         string(req.Side),
		"positionSide": string(req.PositionSide),
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}

	switch req.Type {
	case exchange.Market:
		params["type"] = "MARKET"
		params["quantity"] = req.Quantity.String()
	case exchange.Limit:
		params["type"] = "LIMIT"
		params["timeInForce"] = "GTC"
		params["quantity"] = req.Quantity.String()
		params["price"] = req.Price.String()
	case exchange.ProfitLimit:
		params["type"] = "LIMIT"
		params["timeInForce"] = "GTC"
		params["quantity"] = req.Quantity.String()
		params["price"] = req.Price.String()
		if req.ReduceOnly {
			params["reduceOnly"] = "true"
		}
	}
	return params
}

// prepareAlgoOrderParams builds the request for the conditional order
// endpoint used by STOP-MARKET since the 2025-12-09 API split.
func (a *Adapter) prepareAlgoOrderParams(req exchange.PlaceOrderRequest) map[string]string {
	params := map[string]string{
		"algoType":     "CONDITIONAL",
		"symbol":       a.FormatPair(req.Symbol),
		"side":         string(req.Side),
		"positionSide": string(req.PositionSide),
		"type":         "STOP_MARKET",
		"triggerPrice": req.StopPrice.String(),
		"workingType":  "MARK_PRICE",
	}
	if req.Quantity.IsPositive() {
		params["quantity"] = req.Quantity.String()
	} else {
		params["closePosition"] = "true"
	}
	if req.ClientOrderID != "" {
		params["clientAlgoId"] = req.ClientOrderID
	}
	return params
}

// PlaceOrder implements exchange.Adapter.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderAck, error) {
	if req.Type == exchange.StopMarket {
		body, err := a.signedPost(ctx, "/fapi/v1/algoOrder", a.prepareAlgoOrderParams(req))
		if err != nil {
			return nil, err
		}
		return resolveAlgoAck(body)
	}

	body, err := a.signedPost(ctx, "/fapi/v1/order", a.prepareOrderParams(req))
	if err != nil {
		return nil, err
	}
	return resolveOrderAck(body)
}

// CancelOrder implements exchange.Adapter.
func (a *Adapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderAck, error) {
	if isAlgo {
		body, err := a.signedDelete(ctx, "/fapi/v1/algoOrder", map[string]string{
			"symbol": a.FormatPair(symbol),
			"algoId": exchangeOrderID,
		})
		if err != nil {
			return nil, err
		}
		return resolveAlgoAck(body)
	}

	body, err := a.signedDelete(ctx, "/fapi/v1/order", map[string]string{
		"symbol":  a.FormatPair(symbol),
		"orderId": exchangeOrderID,
	})
	if err != nil {
		return nil, err
	}
	return resolveOrderAck(body)
}

// ModifyOrder implements exchange.Adapter.
func (a *Adapter) ModifyOrder(ctx context.Context, req exchange.ModifyOrderRequest) (*exchange.OrderAck, error) {
	body, err := a.signedPut(ctx, "/fapi/v1/order", map[string]string{
		"symbol":   a.FormatPair(req.Symbol),
		"orderId":  req.ExchangeOrderID,
		"side":     string(req.Side),
		"quantity": req.Quantity.String(),
		"price":    req.Price.String(),
	})
	if err != nil {
		return nil, err
	}
	return resolveOrderAck(body)
}

// QueryOrder implements exchange.Adapter.
func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderInfo, error) {
	if isAlgo {
		return a.queryAlgoOrder(ctx, symbol, exchangeOrderID)
	}

	body, err := a.signedGet(ctx, "/fapi/v1/order", map[string]string{
		"symbol":  a.FormatPair(symbol),
		"orderId": exchangeOrderID,
	})
	if err != nil {
		if exchange.IsOrderNotFound(err) {
			return &exchange.OrderInfo{
				ExchangeOrderID: exchangeOrderID,
				Symbol:          symbol,
				Status:          exchange.StatusNotFound,
			}, nil
		}
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: parsing order: %w", err)
	}
	return resolveOrderInfo(symbol, resp), nil
}

// queryAlgoOrder looks the conditional order up in the algo order history;
// the split API has no single-order query endpoint.
func (a *Adapter) queryAlgoOrder(ctx context.Context, symbol exchange.Symbol, algoID string) (*exchange.OrderInfo, error) {
	body, err := a.signedGet(ctx, "/fapi/v1/allAlgoOrders", map[string]string{
		"symbol": a.FormatPair(symbol),
	})
	if err != nil {
		return nil, err
	}
	var orders []algoOrderResponse
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("binance: parsing algo orders: %w", err)
	}
	for _, o := range orders {
		if strconv.FormatInt(o.AlgoID, 10) == algoID {
			return resolveAlgoOrderInfo(symbol, o), nil
		}
	}
	return &exchange.OrderInfo{
		ExchangeOrderID: algoID,
		Symbol:          symbol,
		Status:          exchange.StatusNotFound,
		IsAlgo:          true,
	}, nil
}

// OpenOrders implements exchange.Adapter: merges the regular and algo books.
func (a *Adapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderInfo, error) {
	params := map[string]string{}
	if !symbol.IsZero() {
		params["symbol"] = a.FormatPair(symbol)
	}

	body, err := a.signedGet(ctx, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var regular []orderResponse
	if err := json.Unmarshal(body, &regular); err != nil {
		return nil, fmt.Errorf("binance: parsing open orders: %w", err)
	}

	body, err = a.signedGet(ctx, "/fapi/v1/openAlgoOrders", params)
	if err != nil {
		return nil, err
	}
	var algos []algoOrderResponse
	if err := json.Unmarshal(body, &algos); err != nil {
		return nil, fmt.Errorf("binance: parsing open algo orders: %w", err)
	}

	out := make([]exchange.OrderInfo, 0, len(regular)+len(algos))
	for _, o := range regular {
		sym := symbol
		if sym.IsZero() {
			if parsed, err := exchange.ParseConcatenatedPair(o.Symbol); err == nil {
				sym = parsed
			}
		}
		out = append(out, *resolveOrderInfo(sym, o))
	}
	for _, o := range algos {
		sym := symbol
		if sym.IsZero() {
			if parsed, err := exchange.ParseConcatenatedPair(o.Symbol); err == nil {
				sym = parsed
			}
		}
		out = append(out, *resolveAlgoOrderInfo(sym, o))
	}
	return out, nil
}

// CancelAllOrders implements exchange.Adapter: both books.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	params := map[string]string{"symbol": a.FormatPair(symbol)}
	if _, err := a.signedDelete(ctx, "/fapi/v1/allOpenOrders", params); err != nil {
		return err
	}
	_, err := a.signedDelete(ctx, "/fapi/v1/algoOpenOrders", params)
	return err
}

// ==================== LEVERAGE & MARGIN ====================

// SetLeverage implements exchange.Adapter.
func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int) error {
	_, err := a.signedPost(ctx, "/fapi/v1/leverage", map[string]string{
		"symbol":   a.FormatPair(symbol),
		"leverage": strconv.Itoa(leverage),
	})
	return err
}

// SetMarginMode implements exchange.Adapter. The leverage argument is unused;
// Binance sets it separately. "No need to change" is not an error.
func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, mode exchange.MarginMode, _ int) error {
	_, err := a.signedPost(ctx, "/fapi/v1/marginType", map[string]string{
		"symbol":     a.FormatPair(symbol),
		"marginType": prepareMarginMode(mode),
	})
	var apiErr *exchange.APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.Code == "-4046" {
		return nil
	}
	return err
}

// ==================== RESOLVERS ====================

func resolveOrderAck(body []byte) (*exchange.OrderAck, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: parsing order ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Status:          exchange.NormalizeStatus(resp.Status),
	}, nil
}

func resolveAlgoAck(body []byte) (*exchange.OrderAck, error) {
	var resp algoOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: parsing algo ack: %w", err)
	}
	status := resp.AlgoStatus
	if status == "" {
		status = "NEW"
	}
	return &exchange.OrderAck{
		ExchangeOrderID: strconv.FormatInt(resp.AlgoID, 10),
		ClientOrderID:   resp.ClientAlgoID,
		Status:          exchange.NormalizeStatus(status),
		IsAlgo:          true,
	}, nil
}

func resolveOrderInfo(symbol exchange.Symbol, resp orderResponse) *exchange.OrderInfo {
	return &exchange.OrderInfo{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Symbol:          symbol,
		Side:            exchange.Side(resp.Side),
		PositionSide:    exchange.PositionSide(resp.PositionSide),
		Type:            resolveOrderType(resp.Type),
		Status:          exchange.NormalizeStatus(resp.Status),
		Price:           parseDecimal(resp.Price),
		StopPrice:       parseDecimal(resp.StopPrice),
		Quantity:        parseDecimal(resp.OrigQty),
		FilledQuantity:  parseDecimal(resp.ExecutedQty),
		AvgFillPrice:    parseDecimal(resp.AvgPrice),
		UpdatedAt:       time.UnixMilli(resp.UpdateTime),
	}
}

func resolveAlgoOrderInfo(symbol exchange.Symbol, resp algoOrderResponse) *exchange.OrderInfo {
	return &exchange.OrderInfo{
		ExchangeOrderID: strconv.FormatInt(resp.AlgoID, 10),
		ClientOrderID:   resp.ClientAlgoID,
		Symbol:          symbol,
		Side:            exchange.Side(resp.Side),
		PositionSide:    exchange.PositionSide(resp.PositionSide),
		Type:            exchange.StopMarket,
		Status:          exchange.NormalizeStatus(resp.AlgoStatus),
		StopPrice:       parseDecimal(resp.TriggerPrice),
		Quantity:        parseDecimal(resp.Quantity),
		FilledQuantity:  parseDecimal(resp.ExecutedQty),
		AvgFillPrice:    parseDecimal(resp.AvgPrice),
		IsAlgo:          true,
		UpdatedAt:       time.UnixMilli(resp.UpdateTime),
	}
}

func resolveOrderType(wire string) exchange.OrderType {
	switch wire {
	case "MARKET":
		return exchange.Market
	case "STOP_MARKET", "TAKE_PROFIT_MARKET":
		return exchange.StopMarket
	default:
		return exchange.Limit
	}
}

func prepareMarginMode(mode exchange.MarginMode) string {
	if mode == exchange.Crossed {
		return "CROSSED"
	}
	return "ISOLATED"
}

func resolveMarginMode(wire string) exchange.MarginMode {
	if wire == "cross" || wire == "CROSSED" || wire == "crossed" {
		return exchange.Crossed
	}
	return exchange.Isolated
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
