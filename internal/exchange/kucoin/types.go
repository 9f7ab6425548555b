package kucoin

import "encoding/json"

// Wire-format payloads for the subset of the futures API the engine uses.

type contractEntry struct {
	Symbol        string  `json:"symbol"`
	BaseCurrency  string  `json:"baseCurrency"`
	QuoteCurrency string  `json:"quoteCurrency"`
	Status        string  `json:"status"`
	TickSize      float64 `json:"tickSize"`
	LotSize       float64 `json:"lotSize"`
	Multiplier    float64 `json:"multiplier"`
	MaxLeverage   float64 `json:"maxLeverage"`
}

type markPriceData struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}

type riskLimitEntry struct {
	Level        int     `json:"level"`
	MaxRiskLimit float64 `json:"maxRiskLimit"`
	MinRiskLimit float64 `json:"minRiskLimit"`
	MaxLeverage  float64 `json:"maxLeverage"`
}

type accountOverviewData struct {
	AccountEquity    float64 `json:"accountEquity"`
	AvailableBalance float64 `json:"availableBalance"`
	UnrealisedPNL    float64 `json:"unrealisedPNL"`
}

type positionEntry struct {
	Symbol        string  `json:"symbol"`
	CurrentQty    float64 `json:"currentQty"`
	AvgEntryPrice float64 `json:"avgEntryPrice"`
	MarkPrice     float64 `json:"markPrice"`
	RealLeverage  float64 `json:"realLeverage"`
	CrossMode     bool    `json:"crossMode"`
}

type orderListData struct {
	Items []orderEntry `json:"items"`
}

type orderEntry struct {
	ID            string          `json:"id"`
	ClientOid     string          `json:"clientOid"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Price         string          `json:"price"`
	Size          json.Number     `json:"size"`
	DealSize      json.Number     `json:"dealSize"`
	DealValue     string          `json:"dealValue"`
	Stop          string          `json:"stop"`
	StopPrice     string          `json:"stopPrice"`
	StopTriggered bool            `json:"stopTriggered"`
	ReduceOnly    bool            `json:"reduceOnly"`
	Status        string          `json:"status"`
	IsActive      bool            `json:"isActive"`
	CancelExist   bool            `json:"cancelExist"`
	UpdatedAt     int64           `json:"updatedAt"`
}

type orderAckData struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type fillsData struct {
	Items []fillEntry `json:"items"`
}

type fillEntry struct {
	OrderID   string      `json:"orderId"`
	Side      string      `json:"side"`
	Price     string      `json:"price"`
	Size      json.Number `json:"size"`
	TradeTime int64       `json:"tradeTime"` // nanoseconds
}
