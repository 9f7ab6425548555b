package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"martingalian/internal/exchange"
)

// ==================== MARKET DATA ====================

// ServerTime implements exchange.Adapter.
func (a *Adapter) ServerTime(ctx context.Context) (time.Time, error) {
	data, err := a.publicGet(ctx, "/api/v2/public/time", nil)
	if err != nil {
		return time.Time{}, err
	}
	var resp serverTimeData
	if err := json.Unmarshal(data, &resp); err != nil {
		return time.Time{}, fmt.Errorf("bitget: parsing server time: %w", err)
	}
	ms, err := strconv.ParseInt(resp.ServerTime, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bitget: parsing server time: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// ExchangeInfo implements exchange.Adapter.
func (a *Adapter) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	data, err := a.publicGet(ctx, "/api/v2/mix/market/contracts", map[string]string{
		"productType": productType,
	})
	if err != nil {
		return nil, err
	}
	var contracts []contractEntry
	if err := json.Unmarshal(data, &contracts); err != nil {
		return nil, fmt.Errorf("bitget: parsing contracts: %w", err)
	}
	return resolveContracts(contracts), nil
}

func resolveContracts(contracts []contractEntry) []exchange.SymbolInfo {
	out := make([]exchange.SymbolInfo, 0, len(contracts))
	for _, c := range contracts {
		if c.SymbolStatus != "normal" {
			continue
		}
		pricePlace, _ := strconv.ParseInt(c.PricePlace, 10, 32)
		volumePlace, _ := strconv.ParseInt(c.VolumePlace, 10, 32)
		out = append(out, exchange.SymbolInfo{
			Symbol:            exchange.Symbol{Token: c.BaseCoin, Quote: c.QuoteCoin},
			ParsedPair:        c.Symbol,
			PricePrecision:    int32(pricePlace),
			QuantityPrecision: int32(volumePlace),
			TickSize:          resolveTickSize(c.PriceEndStep, int32(pricePlace)),
			MinNotional:       parseDecimal(c.MinTradeUSDT),
		})
	}
	return out
}

// resolveTickSize scales the end step into the price's decimal places:
// step 5 at 3 places means a tick of 0.005.
func resolveTickSize(endStep string, pricePlace int32) decimal.Decimal {
	step := parseDecimal(endStep)
	if step.IsZero() {
		step = decimal.New(1, 0)
	}
	return step.Shift(-pricePlace)
}

// MarkPrice implements exchange.Adapter.
func (a *Adapter) MarkPrice(ctx context.Context, symbol exchange.Symbol) (decimal.Decimal, error) {
	data, err := a.publicGet(ctx, "/api/v2/mix/market/symbol-price", map[string]string{
		"productType": productType,
		"symbol":      a.FormatPair(symbol),
	})
	if err != nil {
		return decimal.Zero, err
	}
	var entries []symbolPriceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return decimal.Zero, fmt.Errorf("bitget: parsing symbol price: %w", err)
	}
	if len(entries) == 0 {
		return decimal.Zero, fmt.Errorf("bitget: no price for %s", symbol)
	}
	return parseDecimal(entries[0].MarkPrice), nil
}

// Klines implements exchange.Adapter.
func (a *Adapter) Klines(ctx context.Context, symbol exchange.Symbol, interval string, limit int) ([]exchange.Kline, error) {
	data, err := a.publicGet(ctx, "/api/v2/mix/market/candles", map[string]string{
		"productType": productType,
		"symbol":      a.FormatPair(symbol),
		"granularity": prepareGranularity(interval),
		"limit":       strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("bitget: parsing candles: %w", err)
	}

	klines := make([]exchange.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		klines = append(klines, exchange.Kline{
			OpenTime: time.UnixMilli(ms),
			Open:     parseDecimal(row[1]),
			High:     parseDecimal(row[2]),
			Low:      parseDecimal(row[3]),
			Close:    parseDecimal(row[4]),
			Volume:   parseDecimal(row[5]),
		})
	}
	return klines, nil
}

// LeverageBrackets implements exchange.Adapter, from the position tier table.
func (a *Adapter) LeverageBrackets(ctx context.Context, symbol exchange.Symbol) ([]exchange.LeverageBracket, error) {
	data, err := a.publicGet(ctx, "/api/v2/mix/market/query-position-lever", map[string]string{
		"productType": productType,
		"symbol":      a.FormatPair(symbol),
	})
	if err != nil {
		return nil, err
	}
	var tiers []leverTierEntry
	if err := json.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("bitget: parsing lever tiers: %w", err)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("bitget: no lever tiers for %s", symbol)
	}

	brackets := make([]exchange.LeverageBracket, 0, len(tiers))
	for _, tier := range tiers {
		level, _ := strconv.Atoi(tier.Level)
		leverage, _ := strconv.Atoi(tier.Leverage)
		brackets = append(brackets, exchange.LeverageBracket{
			Bracket:         level,
			InitialLeverage: leverage,
			NotionalFloor:   parseDecimal(tier.StartUnit),
			NotionalCap:     parseDecimal(tier.EndUnit),
		})
	}
	return brackets, nil
}

// ==================== ACCOUNT ====================

// Balance implements exchange.Adapter.
func (a *Adapter) Balance(ctx context.Context) (*exchange.Balance, error) {
	data, err := a.signedGet(ctx, "/api/v2/mix/account/accounts", map[string]string{
		"productType": productType,
	})
	if err != nil {
		return nil, err
	}
	var accounts []accountEntry
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("bitget: parsing accounts: %w", err)
	}
	for _, acc := range accounts {
		if acc.MarginCoin == a.quote {
			equity := parseDecimal(acc.AccountEquity)
			return &exchange.Balance{
				Wallet:             equity,
				Available:          parseDecimal(acc.Available),
				CrossWallet:        equity,
				CrossUnrealizedPnl: parseDecimal(acc.UnrealizedPL),
			}, nil
		}
	}
	return &exchange.Balance{}, nil
}

// Positions implements exchange.Adapter.
func (a *Adapter) Positions(ctx context.Context) (map[string]exchange.PositionInfo, error) {
	data, err := a.signedGet(ctx, "/api/v2/mix/position/all-position", map[string]string{
		"productType": productType,
		"marginCoin":  a.quote,
	})
	if err != nil {
		return nil, err
	}
	var positions []positionEntry
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("bitget: parsing positions: %w", err)
	}

	out := make(map[string]exchange.PositionInfo)
	for _, p := range positions {
		total := parseDecimal(p.Total)
		if total.IsZero() {
			continue
		}
		symbol, err := exchange.ParseConcatenatedPair(p.Symbol)
		if err != nil {
			continue
		}
		side := resolveHoldSide(p.HoldSide)
		leverage, _ := strconv.Atoi(p.Leverage)
		out[exchange.PositionKey(p.Symbol, side, true)] = exchange.PositionInfo{
			Symbol:       symbol,
			PositionSide: side,
			Amount:       total,
			EntryPrice:   parseDecimal(p.OpenPriceAvg),
			MarkPrice:    parseDecimal(p.MarkPrice),
			Leverage:     leverage,
			MarginMode:   resolveMarginMode(p.MarginMode),
		}
	}
	return out, nil
}

// TradeHistory implements exchange.Adapter.
func (a *Adapter) TradeHistory(ctx context.Context, symbol exchange.Symbol, limit int) ([]exchange.Trade, error) {
	data, err := a.signedGet(ctx, "/api/v2/mix/order/fills", map[string]string{
		"productType": productType,
		"symbol":      a.FormatPair(symbol),
		"limit":       strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}
	var resp fillsData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bitget: parsing fills: %w", err)
	}

	out := make([]exchange.Trade, 0, len(resp.FillList))
	for _, f := range resp.FillList {
		ms, _ := strconv.ParseInt(f.CTime, 10, 64)
		out = append(out, exchange.Trade{
			ExchangeOrderID: f.OrderID,
			Symbol:          symbol,
			Side:            resolveSide(f.Side),
			Price:           parseDecimal(f.Price),
			Quantity:        parseDecimal(f.BaseVolume),
			RealizedPnl:     parseDecimal(f.Profit),
			Time:            time.UnixMilli(ms),
		})
	}
	return out, nil
}

// ==================== ORDERS ====================

// prepareOrderBody builds /api/v2/mix/order/place-order. In hedge mode the
// side names the position direction and tradeSide says open or close.
func (a *Adapter) prepareOrderBody(req exchange.PlaceOrderRequest) map[string]any {
	side, tradeSide := prepareSides(req.Side, req.PositionSide)
	body := map[string]any{
		"symbol":      a.FormatPair(req.Symbol),
		"productType": productType,
		"marginCoin":  a.quote,
		"marginMode":  "crossed",
		"side":        side,
		"tradeSide":   tradeSide,
		"size":        req.Quantity.String(),
	}
	if req.ClientOrderID != "" {
		body["clientOid"] = req.ClientOrderID
	}
	switch req.Type {
	case exchange.Market:
		body["orderType"] = "market"
	default:
		body["orderType"] = "limit"
		body["force"] = "gtc"
		body["price"] = req.Price.String()
	}
	return body
}

// prepareTpslBody builds /api/v2/mix/order/place-tpsl-order. Position-attached
// plans carry no size; executePrice 0 means trigger into a market fill.
func (a *Adapter) prepareTpslBody(req exchange.PlaceOrderRequest) map[string]any {
	body := map[string]any{
		"symbol":      a.FormatPair(req.Symbol),
		"productType": productType,
		"marginCoin":  a.quote,
		"holdSide":    prepareHoldSide(req.PositionSide),
		"triggerType": "mark_price",
	}
	if req.ClientOrderID != "" {
		body["clientOid"] = req.ClientOrderID
	}
	if req.Type == exchange.StopMarket {
		body["planType"] = "pos_loss"
		body["triggerPrice"] = req.StopPrice.String()
		body["executePrice"] = "0"
	} else {
		body["planType"] = "pos_profit"
		body["triggerPrice"] = req.Price.String()
		body["executePrice"] = req.Price.String()
	}
	return body
}

// PlaceOrder implements exchange.Adapter. TP and SL route through the plan
// API and come back flagged as algo orders.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderAck, error) {
	isAlgo := req.Type == exchange.StopMarket || req.Type == exchange.ProfitLimit
	endpoint := "/api/v2/mix/order/place-order"
	body := a.prepareOrderBody(req)
	if isAlgo {
		endpoint = "/api/v2/mix/order/place-tpsl-order"
		body = a.prepareTpslBody(req)
	}

	data, err := a.signedPost(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	var resp orderAckData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bitget: parsing order ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClientOid,
		Status:          exchange.StatusNew,
		IsAlgo:          isAlgo,
	}, nil
}

// CancelOrder implements exchange.Adapter.
func (a *Adapter) CancelOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderAck, error) {
	if isAlgo {
		_, err := a.signedPost(ctx, "/api/v2/mix/order/cancel-plan-order", map[string]any{
			"symbol":      a.FormatPair(symbol),
			"productType": productType,
			"marginCoin":  a.quote,
			"orderIdList": []map[string]string{{"orderId": exchangeOrderID}},
			"planType":    "profit_loss",
		})
		if err != nil {
			return nil, err
		}
		return &exchange.OrderAck{
			ExchangeOrderID: exchangeOrderID,
			Status:          exchange.StatusCancelled,
			IsAlgo:          true,
		}, nil
	}

	data, err := a.signedPost(ctx, "/api/v2/mix/order/cancel-order", map[string]any{
		"symbol":      a.FormatPair(symbol),
		"productType": productType,
		"orderId":     exchangeOrderID,
	})
	if err != nil {
		return nil, err
	}
	var resp orderAckData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bitget: parsing cancel ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClientOid,
		Status:          exchange.StatusCancelled,
	}, nil
}

// ModifyOrder implements exchange.Adapter. A new clientOid is mandatory on
// modify, derived from the order id and a fresh timestamp.
func (a *Adapter) ModifyOrder(ctx context.Context, req exchange.ModifyOrderRequest) (*exchange.OrderAck, error) {
	data, err := a.signedPost(ctx, "/api/v2/mix/order/modify-order", map[string]any{
		"symbol":       a.FormatPair(req.Symbol),
		"productType":  productType,
		"orderId":      req.ExchangeOrderID,
		"newSize":      req.Quantity.String(),
		"newPrice":     req.Price.String(),
		"newClientOid": fmt.Sprintf("m-%s-%d", req.ExchangeOrderID, time.Now().UnixMilli()),
	})
	if err != nil {
		return nil, err
	}
	var resp orderAckData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bitget: parsing modify ack: %w", err)
	}
	return &exchange.OrderAck{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClientOid,
		Status:          exchange.StatusNew,
	}, nil
}

// QueryOrder implements exchange.Adapter. Plan orders have no detail
// endpoint, so the pending plan book is scanned; a missing plan order is
// reported as executed history is unavailable per-id.
func (a *Adapter) QueryOrder(ctx context.Context, symbol exchange.Symbol, exchangeOrderID string, isAlgo bool) (*exchange.OrderInfo, error) {
	if isAlgo {
		return a.queryPlanOrder(ctx, symbol, exchangeOrderID)
	}

	data, err := a.signedGet(ctx, "/api/v2/mix/order/detail", map[string]string{
		"symbol":      a.FormatPair(symbol),
		"productType": productType,
		"orderId":     exchangeOrderID,
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
	var o orderEntry
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("bitget: parsing order detail: %w", err)
	}
	return resolveOrderInfo(symbol, o), nil
}

func (a *Adapter) queryPlanOrder(ctx context.Context, symbol exchange.Symbol, orderID string) (*exchange.OrderInfo, error) {
	data, err := a.signedGet(ctx, "/api/v2/mix/order/orders-plan-pending", map[string]string{
		"productType": productType,
		"symbol":      a.FormatPair(symbol),
		"planType":    "profit_loss",
	})
	if err != nil {
		return nil, err
	}
	var resp planOrdersData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("bitget: parsing plan orders: %w", err)
	}
	for _, o := range resp.EntrustedList {
		if o.OrderID == orderID {
			return resolvePlanOrderInfo(symbol, o), nil
		}
	}
	return &exchange.OrderInfo{
		ExchangeOrderID: orderID,
		Symbol:          symbol,
		Status:          exchange.StatusNotFound,
		IsAlgo:          true,
	}, nil
}

// OpenOrders implements exchange.Adapter: merges the entrusted and plan books.
func (a *Adapter) OpenOrders(ctx context.Context, symbol exchange.Symbol) ([]exchange.OrderInfo, error) {
	params := map[string]string{"productType": productType}
	if !symbol.IsZero() {
		params["symbol"] = a.FormatPair(symbol)
	}

	data, err := a.signedGet(ctx, "/api/v2/mix/order/orders-pending", params)
	if err != nil {
		return nil, err
	}
	var pending pendingOrdersData
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("bitget: parsing pending orders: %w", err)
	}

	planParams := map[string]string{"productType": productType, "planType": "profit_loss"}
	if !symbol.IsZero() {
		planParams["symbol"] = a.FormatPair(symbol)
	}
	data, err = a.signedGet(ctx, "/api/v2/mix/order/orders-plan-pending", planParams)
	if err != nil {
		return nil, err
	}
	var plans planOrdersData
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("bitget: parsing plan orders: %w", err)
	}

	out := make([]exchange.OrderInfo, 0, len(pending.EntrustedList)+len(plans.EntrustedList))
	for _, o := range pending.EntrustedList {
		out = append(out, *resolveOrderInfo(resolveSymbol(symbol, o.Symbol), o))
	}
	for _, o := range plans.EntrustedList {
		out = append(out, *resolvePlanOrderInfo(resolveSymbol(symbol, o.Symbol), o))
	}
	return out, nil
}

// CancelAllOrders implements exchange.Adapter by iterating individual
// cancels; the symbol-level endpoint is not trusted here.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol exchange.Symbol) error {
	orders, err := a.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if !o.Status.IsWorking() {
			continue
		}
		if _, err := a.CancelOrder(ctx, symbol, o.ExchangeOrderID, o.IsAlgo); err != nil {
			if exchange.IsOrderNotFound(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// ==================== LEVERAGE & MARGIN ====================

// SetLeverage implements exchange.Adapter.
func (a *Adapter) SetLeverage(ctx context.Context, symbol exchange.Symbol, leverage int) error {
	_, err := a.signedPost(ctx, "/api/v2/mix/account/set-leverage", map[string]any{
		"symbol":      a.FormatPair(symbol),
		"productType": productType,
		"marginCoin":  a.quote,
		"leverage":    strconv.Itoa(leverage),
	})
	return err
}

// SetMarginMode implements exchange.Adapter.
func (a *Adapter) SetMarginMode(ctx context.Context, symbol exchange.Symbol, mode exchange.MarginMode, _ int) error {
	wireMode := "crossed"
	if mode == exchange.Isolated {
		wireMode = "isolated"
	}
	_, err := a.signedPost(ctx, "/api/v2/mix/account/set-margin-mode", map[string]any{
		"symbol":      a.FormatPair(symbol),
		"productType": productType,
		"marginCoin":  a.quote,
		"marginMode":  wireMode,
	})
	return err
}

// ==================== RESOLVERS ====================

func resolveOrderInfo(symbol exchange.Symbol, o orderEntry) *exchange.OrderInfo {
	ms, _ := strconv.ParseInt(o.UTime, 10, 64)
	return &exchange.OrderInfo{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.ClientOid,
		Symbol:          symbol,
		Side:            resolveSide(o.Side),
		PositionSide:    resolveHoldSide(o.PosSide),
		Type:            resolveOrderType(o),
		Status:          exchange.NormalizeStatus(o.State),
		Price:           parseDecimal(o.Price),
		Quantity:        parseDecimal(o.Size),
		FilledQuantity:  parseDecimal(o.BaseVolume),
		AvgFillPrice:    parseDecimal(o.PriceAvg),
		UpdatedAt:       time.UnixMilli(ms),
	}
}

func resolvePlanOrderInfo(symbol exchange.Symbol, o planOrderEntry) *exchange.OrderInfo {
	ms, _ := strconv.ParseInt(o.UTime, 10, 64)
	orderType := exchange.StopMarket
	if o.PlanType == "pos_profit" || o.PlanType == "profit_plan" {
		orderType = exchange.ProfitLimit
	}
	return &exchange.OrderInfo{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.ClientOid,
		Symbol:          symbol,
		Side:            resolveSide(o.Side),
		PositionSide:    resolveHoldSide(o.PosSide),
		Type:            orderType,
		Status:          exchange.NormalizeStatus(o.PlanStatus),
		Price:           parseDecimal(o.ExecutePrice),
		StopPrice:       parseDecimal(o.TriggerPrice),
		Quantity:        parseDecimal(o.Size),
		IsAlgo:          true,
		UpdatedAt:       time.UnixMilli(ms),
	}
}

func resolveOrderType(o orderEntry) exchange.OrderType {
	if o.OrderType == "market" {
		return exchange.Market
	}
	if o.TradeSide == "close" || o.ReduceOnly == "YES" {
		return exchange.ProfitLimit
	}
	return exchange.Limit
}

// prepareSides maps the canonical order onto the hedge-mode vocabulary:
// side names the position direction, tradeSide whether it grows or shrinks.
func prepareSides(side exchange.Side, posSide exchange.PositionSide) (string, string) {
	wireSide := "buy"
	if posSide == exchange.PositionShort {
		wireSide = "sell"
	}
	opening := (posSide == exchange.PositionLong && side == exchange.Buy) ||
		(posSide == exchange.PositionShort && side == exchange.Sell)
	if opening {
		return wireSide, "open"
	}
	return wireSide, "close"
}

func prepareHoldSide(side exchange.PositionSide) string {
	if side == exchange.PositionShort {
		return "short"
	}
	return "long"
}

func resolveHoldSide(wire string) exchange.PositionSide {
	if wire == "short" {
		return exchange.PositionShort
	}
	return exchange.PositionLong
}

func resolveSide(wire string) exchange.Side {
	if wire == "sell" {
		return exchange.Sell
	}
	return exchange.Buy
}

func resolveMarginMode(wire string) exchange.MarginMode {
	if wire == "isolated" {
		return exchange.Isolated
	}
	return exchange.Crossed
}

func resolveSymbol(known exchange.Symbol, pair string) exchange.Symbol {
	if !known.IsZero() {
		return known
	}
	if parsed, err := exchange.ParseConcatenatedPair(pair); err == nil {
		return parsed
	}
	return known
}

// prepareGranularity maps canonical intervals onto candle granularities.
func prepareGranularity(interval string) string {
	switch interval {
	case "1h":
		return "1H"
	case "2h":
		return "2H"
	case "4h":
		return "4H"
	case "1d":
		return "1D"
	default:
		return interval
	}
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
