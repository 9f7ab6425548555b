package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"martingalian/internal/circuit"
	"martingalian/internal/database"
	"martingalian/internal/exchange"
	"martingalian/internal/num"
	"martingalian/internal/planner"
	"martingalian/internal/snapshots"
)

// Job names as stored in the steps table.
const (
	JobComputePlan     = "compute_plan"
	JobSetMarginMode   = "set_margin_mode"
	JobSetLeverage     = "set_leverage"
	JobPlaceMarket     = "place_market"
	JobPlaceLimit      = "place_limit"
	JobPlaceProfit     = "place_profit"
	JobPlaceStop       = "place_stop"
	JobRecalcWap       = "recalc_wap"
	JobModifyProfit    = "modify_profit"
	JobCancelOrder     = "cancel_order"
	JobRecreateOrder   = "recreate_order"
	JobCorrectOrder    = "correct_order"
	JobCancelAll       = "cancel_all_orders"
	JobCloseResidual   = "close_residual"
	JobVerifyFlat      = "verify_flat"
	JobFinalize        = "finalize_position"
	JobActivate        = "activate_position"
	JobSyncPosition    = "sync_position"
	JobTransition      = "transition_position"
	JobNotify          = "notify"
)

// AdapterProvider hands out a ready adapter for an account, with credentials
// already loaded.
type AdapterProvider interface {
	ForAccount(ctx context.Context, account *database.Account) (exchange.Adapter, error)
}

// Notifier delivers operator notifications. accountID is nil for engine-wide
// events.
type Notifier interface {
	Send(ctx context.Context, level, title, message string, accountID *int64) error
}

// Deps is the shared dependency set every job runs against.
type Deps struct {
	DB       *database.DB
	Adapters AdapterProvider
	Notifier Notifier
	Breaker  *circuit.Breaker
	// Snapshots is the shared API-result cache. Optional; jobs fall back to
	// live adapter calls when it is absent or stale.
	Snapshots *snapshots.Store
	Logger    zerolog.Logger
}

// accountBalance reads the balance through the snapshot cache, hitting the
// exchange on a miss and refreshing the cache for downstream jobs.
func (d *Deps) accountBalance(ctx context.Context, account *database.Account, adapter exchange.Adapter) (*exchange.Balance, error) {
	if d.Snapshots != nil {
		if balance, _, err := d.Snapshots.Balance(ctx, account.ID); err == nil {
			return balance, nil
		}
	}
	balance, err := adapter.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if d.Snapshots != nil {
		if err := d.Snapshots.SetBalance(ctx, account.ID, balance); err != nil {
			d.Logger.Debug().Err(err).Int64("account_id", account.ID).Msg("balance snapshot write failed")
		}
	}
	return balance, nil
}

// markPrice reads the mark through the snapshot cache the scheduler keeps
// warm, spending request weight only on a miss.
func (d *Deps) markPrice(ctx context.Context, scope *positionScope) (decimal.Decimal, error) {
	if d.Snapshots != nil {
		if mark, _, err := d.Snapshots.MarkPrice(ctx, scope.account.Exchange, scope.symbol.ParsedPair); err == nil {
			return mark, nil
		}
	}
	mark, err := scope.adapter.MarkPrice(ctx, scope.sym)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Snapshots != nil {
		if err := d.Snapshots.SetMarkPrice(ctx, scope.account.Exchange, scope.symbol.ParsedPair, mark); err != nil {
			d.Logger.Debug().Err(err).Str("pair", scope.symbol.ParsedPair).Msg("mark price snapshot write failed")
		}
	}
	return mark, nil
}

// AtomicJob is the four-phase contract every exchange-touching operation
// follows. StartOrFail gates idempotency and preconditions, Compute performs
// the single mutating call, DoubleCheck polls until the effect is observable
// on the exchange, Complete commits the local mirror.
type AtomicJob interface {
	Name() string
	StartOrFail(ctx context.Context) error
	Compute(ctx context.Context) error
	DoubleCheck(ctx context.Context) (bool, error)
	Complete(ctx context.Context) error
}

// BlockSpawner is implemented by jobs that fan a step out into a child block.
// The runner reads the spawned block id after Complete succeeds.
type BlockSpawner interface {
	SpawnedBlock() *uuid.UUID
}

// ==================== SCOPE LOADING ====================

// positionScope bundles everything an order-level job needs about its
// position: the owning account, the symbol row, a live adapter and the
// planner's view of the symbol.
type positionScope struct {
	account  *database.Account
	symbol   *database.ExchangeSymbol
	position *database.Position
	adapter  exchange.Adapter
	sym      exchange.Symbol
	spec     planner.SymbolSpec
}

func (d *Deps) loadScope(ctx context.Context, positionID int64) (*positionScope, error) {
	position, err := d.DB.GetPositionByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("load position %d: %w", positionID, err)
	}
	account, err := d.DB.GetAccountByID(ctx, position.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", position.AccountID, err)
	}
	symbol, err := d.DB.GetSymbolByID(ctx, position.SymbolID)
	if err != nil {
		return nil, fmt.Errorf("load symbol %d: %w", position.SymbolID, err)
	}
	adapter, err := d.Adapters.ForAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("adapter for account %d: %w", account.ID, err)
	}
	spec, err := symbolSpec(symbol)
	if err != nil {
		return nil, err
	}
	return &positionScope{
		account:  account,
		symbol:   symbol,
		position: position,
		adapter:  adapter,
		sym:      exchange.Symbol{Token: symbol.Token, Quote: symbol.Quote},
		spec:     spec,
	}, nil
}

// symbolSpec translates the symbol row into the planner's input shape.
func symbolSpec(s *database.ExchangeSymbol) (planner.SymbolSpec, error) {
	formatter, err := num.NewSymbolFormatter(s.TickSize.String(), s.PricePrecision, s.QuantityPrecision)
	if err != nil {
		return planner.SymbolSpec{}, fmt.Errorf("formatter for %s: %w", s.ParsedPair, err)
	}
	multipliers, err := parseMultipliers(s.Multipliers)
	if err != nil {
		return planner.SymbolSpec{}, fmt.Errorf("multipliers for %s: %w", s.ParsedPair, err)
	}
	return planner.SymbolSpec{
		Formatter:   formatter,
		MinPrice:    s.MinPrice,
		MaxPrice:    s.MaxPrice,
		MinNotional: s.MinNotional,
		GapLongPct:  s.GapLongPct,
		GapShortPct: s.GapShortPct,
		Multipliers: multipliers,
	}, nil
}

// parseMultipliers decodes the comma-separated column ("2,2,2,2").
func parseMultipliers(raw string) ([]decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		m, err := num.ParsePositive(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ==================== DIRECTION HELPERS ====================

func entrySide(direction string) exchange.Side {
	if direction == string(planner.Short) {
		return exchange.Sell
	}
	return exchange.Buy
}

func exitSide(direction string) exchange.Side {
	if direction == string(planner.Short) {
		return exchange.Buy
	}
	return exchange.Sell
}

func positionSideOf(direction string) exchange.PositionSide {
	if direction == string(planner.Short) {
		return exchange.PositionShort
	}
	return exchange.PositionLong
}

func directionOf(p *database.Position) planner.Direction {
	if p.Direction == string(planner.Short) {
		return planner.Short
	}
	return planner.Long
}

// newClientOrderID mints the engine's client order id: a stable position and
// purpose prefix plus a millisecond suffix to survive recreates.
func newClientOrderID(positionID int64, tag string) string {
	return fmt.Sprintf("mg%d-%s-%d", positionID, tag, time.Now().UnixMilli())
}

// filledLegs extracts the WAP inputs from the position's order rows: every
// entry-side order with a nonzero filled quantity, priced at its average fill
// when the exchange reported one.
func filledLegs(orders []*database.Order) []planner.Leg {
	var legs []planner.Leg
	for _, o := range orders {
		if o.Purpose != database.PurposeMarket && o.Purpose != database.PurposeLimit {
			continue
		}
		if !o.FilledQuantity.IsPositive() {
			continue
		}
		price := decimal.Zero
		if o.AvgFillPrice != nil && o.AvgFillPrice.IsPositive() {
			price = *o.AvgFillPrice
		} else if o.Price != nil {
			price = *o.Price
		}
		if !price.IsPositive() {
			continue
		}
		legs = append(legs, planner.Leg{Price: price, Quantity: o.FilledQuantity})
	}
	return legs
}

// totalFilled sums the entry-side filled quantity of the ladder.
func totalFilled(orders []*database.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		if o.Purpose != database.PurposeMarket && o.Purpose != database.PurposeLimit {
			continue
		}
		total = total.Add(o.FilledQuantity)
	}
	return total
}

// findOrder returns the first order with the given purpose, or nil.
func findOrder(orders []*database.Order, purpose string) *database.Order {
	for _, o := range orders {
		if o.Purpose == purpose {
			return o
		}
	}
	return nil
}

// findRung returns the limit order at the given rung index, or nil.
func findRung(orders []*database.Order, rung int) *database.Order {
	for _, o := range orders {
		if o.Purpose == database.PurposeLimit && o.RungIndex != nil && *o.RungIndex == rung {
			return o
		}
	}
	return nil
}
