package kraken

// Wire-format payloads for the subset of the futures API the engine uses.

type instrumentsResponse struct {
	Instruments []instrumentEntry `json:"instruments"`
}

type instrumentEntry struct {
	Symbol                      string        `json:"symbol"`
	Type                        string        `json:"type"`
	Tradeable                   bool          `json:"tradeable"`
	TickSize                    float64       `json:"tickSize"`
	ContractValueTradePrecision int32         `json:"contractValueTradePrecision"`
	MarginLevels                []marginLevel `json:"marginLevels"`
}

type marginLevel struct {
	NumNonContractUnits float64 `json:"numNonContractUnits"`
	InitialMargin       float64 `json:"initialMargin"`
	MaintenanceMargin   float64 `json:"maintenanceMargin"`
}

type tickersResponse struct {
	Tickers []struct {
		Symbol    string  `json:"symbol"`
		MarkPrice float64 `json:"markPrice"`
	} `json:"tickers"`
}

type candlesResponse struct {
	Candles []struct {
		Time   int64  `json:"time"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"close"`
		Volume string `json:"volume"`
	} `json:"candles"`
}

type accountsResponse struct {
	Accounts struct {
		Flex struct {
			BalanceValue     float64 `json:"balanceValue"`
			AvailableMargin  float64 `json:"availableMargin"`
			TotalUnrealized  float64 `json:"totalUnrealized"`
			PortfolioValue   float64 `json:"portfolioValue"`
		} `json:"flex"`
	} `json:"accounts"`
}

type openPositionsResponse struct {
	OpenPositions []struct {
		Symbol   string  `json:"symbol"`
		Side     string  `json:"side"` // long / short
		Size     float64 `json:"size"`
		Price    float64 `json:"price"`
		MaxFixedLeverage float64 `json:"maxFixedLeverage"`
	} `json:"openPositions"`
}

type openOrdersResponse struct {
	OpenOrders []openOrderEntry `json:"openOrders"`
}

type openOrderEntry struct {
	OrderID        string  `json:"order_id"`
	CliOrdID       string  `json:"cliOrdId"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	OrderType      string  `json:"orderType"` // lmt / stp / take_profit
	LimitPrice     float64 `json:"limitPrice"`
	StopPrice      float64 `json:"stopPrice"`
	UnfilledSize   float64 `json:"unfilledSize"`
	FilledSize     float64 `json:"filledSize"`
	ReduceOnly     bool    `json:"reduceOnly"`
	Status         string  `json:"status"` // untouched / partiallyFilled
	ReceivedTime   string  `json:"receivedTime"`
	LastUpdateTime string  `json:"lastUpdateTime"`
}

type sendOrderResponse struct {
	SendStatus orderStatusEvent `json:"sendStatus"`
}

type editOrderResponse struct {
	EditStatus orderStatusEvent `json:"editStatus"`
}

type cancelOrderResponse struct {
	CancelStatus orderStatusEvent `json:"cancelStatus"`
}

type orderStatusEvent struct {
	OrderID  string `json:"order_id"`
	CliOrdID string `json:"cliOrdId"`
	Status   string `json:"status"` // placed / edited / cancelled / notFound
}

type ordersStatusResponse struct {
	Orders []struct {
		Status string `json:"status"` // ENTERED_BOOK / FULLY_EXECUTED / CANCELED ...
		Order  struct {
			OrderID    string  `json:"orderId"`
			CliOrdID   string  `json:"cliOrdId"`
			Symbol     string  `json:"symbol"`
			Side       string  `json:"side"`
			Type       string  `json:"type"`
			LimitPrice float64 `json:"limitPrice"`
			StopPrice  float64 `json:"stopPrice"`
			Quantity   float64 `json:"quantity"`
			Filled     float64 `json:"filled"`
		} `json:"order"`
	} `json:"orders"`
}

type fillsResponse struct {
	Fills []struct {
		FillID   string  `json:"fill_id"`
		OrderID  string  `json:"order_id"`
		Symbol   string  `json:"symbol"`
		Side     string  `json:"side"`
		Size     float64 `json:"size"`
		Price    float64 `json:"price"`
		FillTime string  `json:"fillTime"`
	} `json:"fills"`
}
