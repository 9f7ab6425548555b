package bitget

// Wire-format payloads for the subset of the v2 mix API the engine uses.

type serverTimeData struct {
	ServerTime string `json:"serverTime"`
}

type contractEntry struct {
	Symbol       string `json:"symbol"`
	BaseCoin     string `json:"baseCoin"`
	QuoteCoin    string `json:"quoteCoin"`
	SymbolStatus string `json:"symbolStatus"`
	PricePlace   string `json:"pricePlace"`
	VolumePlace  string `json:"volumePlace"`
	PriceEndStep string `json:"priceEndStep"`
	MinTradeUSDT string `json:"minTradeUSDT"`
}

type symbolPriceEntry struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	MarkPrice string `json:"markPrice"`
}

type leverTierEntry struct {
	Level     string `json:"level"`
	StartUnit string `json:"startUnit"`
	EndUnit   string `json:"endUnit"`
	Leverage  string `json:"leverage"`
}

type accountEntry struct {
	MarginCoin   string `json:"marginCoin"`
	Available    string `json:"available"`
	AccountEquity string `json:"accountEquity"`
	UnrealizedPL string `json:"unrealizedPL"`
}

type positionEntry struct {
	Symbol       string `json:"symbol"`
	HoldSide     string `json:"holdSide"` // long / short
	Total        string `json:"total"`
	OpenPriceAvg string `json:"openPriceAvg"`
	MarkPrice    string `json:"markPrice"`
	Leverage     string `json:"leverage"`
	MarginMode   string `json:"marginMode"` // crossed / isolated
}

type pendingOrdersData struct {
	EntrustedList []orderEntry `json:"entrustedList"`
}

type orderEntry struct {
	OrderID    string `json:"orderId"`
	ClientOid  string `json:"clientOid"`
	Symbol     string `json:"symbol"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	State      string `json:"state"`
	Side       string `json:"side"`      // buy / sell
	TradeSide  string `json:"tradeSide"` // open / close
	PosSide    string `json:"posSide"`   // long / short
	OrderType  string `json:"orderType"` // limit / market
	BaseVolume string `json:"baseVolume"`
	PriceAvg   string `json:"priceAvg"`
	ReduceOnly string `json:"reduceOnly"`
	UTime      string `json:"uTime"`
}

type planOrdersData struct {
	EntrustedList []planOrderEntry `json:"entrustedList"`
}

type planOrderEntry struct {
	OrderID      string `json:"orderId"`
	ClientOid    string `json:"clientOid"`
	Symbol       string `json:"symbol"`
	PlanType     string `json:"planType"`
	TriggerPrice string `json:"triggerPrice"`
	ExecutePrice string `json:"executePrice"`
	Size         string `json:"size"`
	PlanStatus   string `json:"planStatus"`
	Side         string `json:"side"`
	PosSide      string `json:"posSide"`
	UTime        string `json:"uTime"`
}

type orderAckData struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type fillsData struct {
	FillList []fillEntry `json:"fillList"`
}

type fillEntry struct {
	OrderID    string `json:"orderId"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	BaseVolume string `json:"baseVolume"`
	Profit     string `json:"profit"`
	CTime      string `json:"cTime"`
}
