package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is one exchange account the engine trades for. API credentials are
// not stored here; VaultPath names the secret that holds them.
type Account struct {
	ID                     int64           `json:"id"`
	Name                   string          `json:"name"`
	Exchange               string          `json:"exchange"`
	Quote                  string          `json:"quote"`
	VaultPath              string          `json:"vault_path"`
	MarginMode             string          `json:"margin_mode"`
	LeverageCap            int             `json:"leverage_cap"`
	// MaxPositionPct sizes each position as a percentage of the account
	// balance; when zero, NotionalPerPosition is the fixed fallback.
	MaxPositionPct         decimal.Decimal `json:"max_position_pct"`
	NotionalPerPosition    decimal.Decimal `json:"notional_per_position"`
	MaxConcurrentPositions int             `json:"max_concurrent_positions"`
	IsActive               bool            `json:"is_active"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// ExchangeSymbol is one tradable contract plus its ladder configuration.
type ExchangeSymbol struct {
	ID                 int64            `json:"id"`
	Exchange           string           `json:"exchange"`
	Token              string           `json:"token"`
	Quote              string           `json:"quote"`
	ParsedPair         string           `json:"parsed_pair"`
	PricePrecision     int32            `json:"price_precision"`
	QuantityPrecision  int32            `json:"quantity_precision"`
	TickSize           decimal.Decimal  `json:"tick_size"`
	MinNotional        decimal.Decimal  `json:"min_notional"`
	MinPrice           decimal.Decimal  `json:"min_price"`
	MaxPrice           decimal.Decimal  `json:"max_price"`
	GapLongPct         decimal.Decimal  `json:"gap_long_pct"`
	GapShortPct        decimal.Decimal  `json:"gap_short_pct"`
	Multipliers        string           `json:"multipliers"` // comma-separated
	ProfitPct          decimal.Decimal  `json:"profit_pct"`
	StopPct            decimal.Decimal  `json:"stop_pct"`
	IsEligible         bool             `json:"is_eligible"`
	CooldownUntil      *time.Time       `json:"cooldown_until,omitempty"`
	LastMarkPrice      *decimal.Decimal `json:"last_mark_price,omitempty"`
	MarkPriceUpdatedAt *time.Time       `json:"mark_price_updated_at,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Position is one martingale ladder lifecycle on one symbol and direction.
type Position struct {
	ID             int64            `json:"id"`
	AccountID      int64            `json:"account_id"`
	SymbolID       int64            `json:"symbol_id"`
	Direction      string           `json:"direction"` // LONG / SHORT
	Status         PositionStatus   `json:"status"`
	Leverage       int              `json:"leverage"`
	LeverageReason *string          `json:"leverage_reason,omitempty"`
	MarginMode     string           `json:"margin_mode"`
	QuantityDivider *decimal.Decimal `json:"quantity_divider,omitempty"`
	TotalNotional  *decimal.Decimal `json:"total_notional,omitempty"`
	EntryMarkPrice *decimal.Decimal `json:"entry_mark_price,omitempty"`
	Wap            *decimal.Decimal `json:"wap,omitempty"`
	ProfitPrice    *decimal.Decimal `json:"profit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	RealizedPnl    *decimal.Decimal `json:"realized_pnl,omitempty"`
	CloseReason    *string          `json:"close_reason,omitempty"`
	LastError      *string          `json:"last_error,omitempty"`
	OpenedAt       *time.Time       `json:"opened_at,omitempty"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Order purposes distinguish the roles inside one ladder.
const (
	PurposeMarket = "market"
	PurposeLimit  = "limit"
	PurposeProfit = "profit"
	PurposeStop   = "stop"
)

// Order is the local mirror of one exchange order. The Reference* columns
// hold the last values this engine itself wrote; the observer compares live
// exchange state against them to detect drift without re-firing on its own
// updates.
type Order struct {
	ID                int64            `json:"id"`
	PositionID        int64            `json:"position_id"`
	Purpose           string           `json:"purpose"`
	RungIndex         *int             `json:"rung_index,omitempty"`
	ClientOrderID     string           `json:"client_order_id"`
	ExchangeOrderID   string           `json:"exchange_order_id"`
	IsAlgo            bool             `json:"is_algo"`
	Side              string           `json:"side"`
	OrderType         string           `json:"order_type"`
	Status            string           `json:"status"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	StopPrice         *decimal.Decimal `json:"stop_price,omitempty"`
	Quantity          decimal.Decimal  `json:"quantity"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	AvgFillPrice      *decimal.Decimal `json:"avg_fill_price,omitempty"`
	ReferencePrice    *decimal.Decimal `json:"reference_price,omitempty"`
	ReferenceQuantity *decimal.Decimal `json:"reference_quantity,omitempty"`
	ReferenceStatus   *string          `json:"reference_status,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Step states.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Step is one durable unit of a workflow. Steps sharing a block_uuid and
// index run in parallel; blocks run in ascending index order; a
// child_block_uuid fans the step out into a nested block that must finish
// before the parent block advances.
type Step struct {
	ID             int64      `json:"id"`
	Workflow       string     `json:"workflow"`
	Job            string     `json:"job"`
	BlockUUID      uuid.UUID  `json:"block_uuid"`
	ChildBlockUUID *uuid.UUID `json:"child_block_uuid,omitempty"`
	Index          int        `json:"index"`
	AccountID      *int64     `json:"account_id,omitempty"`
	PositionID     *int64     `json:"position_id,omitempty"`
	OrderID        *int64     `json:"order_id,omitempty"`
	State          string     `json:"state"`
	Params         []byte     `json:"params"` // JSONB payload
	LastError      *string    `json:"last_error,omitempty"`
	RetryCount     int        `json:"retry_count"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NotificationLog is one delivered (or pending) operator notification.
type NotificationLog struct {
	ID        int64     `json:"id"`
	AccountID *int64    `json:"account_id,omitempty"`
	GroupName string    `json:"group_name"`
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	DedupKey  *string   `json:"dedup_key,omitempty"`
	Sent      bool      `json:"sent"`
	CreatedAt time.Time `json:"created_at"`
}

// EngineSettings is the singleton control row.
type EngineSettings struct {
	KillSwitch       bool      `json:"kill_switch"`
	KillSwitchReason *string   `json:"kill_switch_reason,omitempty"`
	SchedulerEnabled bool      `json:"scheduler_enabled"`
	UpdatedAt        time.Time `json:"updated_at"`
}
