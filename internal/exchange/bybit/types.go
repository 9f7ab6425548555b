package bybit

// Wire-format payloads for the subset of the v5 API the engine uses.

type serverTimeResult struct {
	TimeSecond string `json:"timeSecond"`
	TimeNano   string `json:"timeNano"`
}

type instrumentsResult struct {
	List []instrumentInfo `json:"list"`
}

type instrumentInfo struct {
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	BaseCoin    string `json:"baseCoin"`
	QuoteCoin   string `json:"quoteCoin"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
		MinPrice string `json:"minPrice"`
		MaxPrice string `json:"maxPrice"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		QtyStep          string `json:"qtyStep"`
		MinNotionalValue string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	} `json:"list"`
}

type klineResult struct {
	List [][]string `json:"list"`
}

type riskLimitResult struct {
	List []struct {
		ID             int    `json:"id"`
		RiskLimitValue string `json:"riskLimitValue"`
		MaxLeverage    string `json:"maxLeverage"`
	} `json:"list"`
}

type walletBalanceResult struct {
	List []struct {
		Coin []struct {
			Coin            string `json:"coin"`
			WalletBalance   string `json:"walletBalance"`
			AvailableToTrade string `json:"availableToWithdraw"`
			UnrealisedPnl   string `json:"unrealisedPnl"`
		} `json:"coin"`
	} `json:"list"`
}

type positionListResult struct {
	List []positionEntry `json:"list"`
}

type positionEntry struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"` // Buy / Sell
	Size        string `json:"size"`
	AvgPrice    string `json:"avgPrice"`
	MarkPrice   string `json:"markPrice"`
	Leverage    string `json:"leverage"`
	TradeMode   int    `json:"tradeMode"` // 0 cross, 1 isolated
	PositionIdx int    `json:"positionIdx"`
}

type orderListResult struct {
	List []orderEntry `json:"list"`
}

type orderEntry struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	OrderStatus  string `json:"orderStatus"`
	Price        string `json:"price"`
	TriggerPrice string `json:"triggerPrice"`
	Qty          string `json:"qty"`
	CumExecQty   string `json:"cumExecQty"`
	AvgPrice     string `json:"avgPrice"`
	ReduceOnly   bool   `json:"reduceOnly"`
	PositionIdx  int    `json:"positionIdx"`
	UpdatedTime  string `json:"updatedTime"`
	OrderFilter  string `json:"orderFilter"` // Order / StopOrder
}

type orderAckResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type executionListResult struct {
	List []struct {
		OrderID  string `json:"orderId"`
		Side     string `json:"side"`
		ExecPrice string `json:"execPrice"`
		ExecQty  string `json:"execQty"`
		ExecTime string `json:"execTime"`
	} `json:"list"`
}
