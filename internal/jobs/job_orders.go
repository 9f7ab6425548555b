package jobs

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"martingalian/internal/database"
	"martingalian/internal/exchange"
	"martingalian/internal/planner"
)

// ==================== MARGIN MODE / LEVERAGE ====================

type setMarginModeJob struct {
	deps  *Deps
	step  *database.Step
	scope *positionScope
}

func newSetMarginModeJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &setMarginModeJob{deps: d, step: step}, nil
}

func (j *setMarginModeJob) Name() string { return JobSetMarginMode }

func (j *setMarginModeJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status != database.StatusOpening {
		return StatePrecondition(fmt.Errorf("position %d is %s", positionID, scope.position.Status))
	}
	j.scope = scope
	return nil
}

func (j *setMarginModeJob) Compute(ctx context.Context) error {
	mode := exchange.Crossed
	if j.scope.position.MarginMode == string(exchange.Isolated) {
		mode = exchange.Isolated
	}
	return j.scope.adapter.SetMarginMode(ctx, j.scope.sym, mode, j.scope.position.Leverage)
}

func (j *setMarginModeJob) DoubleCheck(ctx context.Context) (bool, error) {
	// Adapters swallow the already-in-this-mode rejection; a nil Compute is
	// the confirmation.
	return true, nil
}

func (j *setMarginModeJob) Complete(ctx context.Context) error { return nil }

type setLeverageJob struct {
	deps  *Deps
	step  *database.Step
	scope *positionScope
}

func newSetLeverageJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &setLeverageJob{deps: d, step: step}, nil
}

func (j *setLeverageJob) Name() string { return JobSetLeverage }

func (j *setLeverageJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Leverage < 1 {
		return InvalidInput(fmt.Errorf("position %d has no planned leverage", positionID))
	}
	j.scope = scope
	return nil
}

func (j *setLeverageJob) Compute(ctx context.Context) error {
	return j.scope.adapter.SetLeverage(ctx, j.scope.sym, j.scope.position.Leverage)
}

func (j *setLeverageJob) DoubleCheck(ctx context.Context) (bool, error) { return true, nil }

func (j *setLeverageJob) Complete(ctx context.Context) error { return nil }

// ==================== MARKET LEG ====================

type placeMarketParams struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type placeMarketJob struct {
	deps   *Deps
	step   *database.Step
	params placeMarketParams

	scope *positionScope
	order *database.Order
	live  *exchange.OrderInfo
}

func newPlaceMarketJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &placeMarketJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *placeMarketJob) Name() string { return JobPlaceMarket }

func (j *placeMarketJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status != database.StatusOpening {
		return StatePrecondition(fmt.Errorf("position %d is %s", positionID, scope.position.Status))
	}
	orders, err := j.deps.DB.ListOrdersForPosition(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if existing := findOrder(orders, database.PurposeMarket); existing != nil {
		return JustResolve(fmt.Errorf("market order already placed as %s", existing.ExchangeOrderID))
	}
	if !j.params.Quantity.IsPositive() {
		return InvalidInput(fmt.Errorf("market quantity %s", j.params.Quantity))
	}
	j.scope = scope
	return nil
}

func (j *placeMarketJob) Compute(ctx context.Context) error {
	scope := j.scope
	clientID := newClientOrderID(scope.position.ID, "mkt")

	ack, err := scope.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          entrySide(scope.position.Direction),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.Market,
		Quantity:      j.params.Quantity,
		ClientOrderID: clientID,
	})
	if err != nil {
		return err
	}

	j.order = &database.Order{
		PositionID:      scope.position.ID,
		Purpose:         database.PurposeMarket,
		ClientOrderID:   clientID,
		ExchangeOrderID: ack.ExchangeOrderID,
		IsAlgo:          ack.IsAlgo,
		Side:            string(entrySide(scope.position.Direction)),
		OrderType:       string(exchange.Market),
		Status:          ackStatus(ack),
		Quantity:        j.params.Quantity,
	}
	return j.deps.DB.CreateOrder(ctx, j.order)
}

func (j *placeMarketJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.order.ExchangeOrderID, j.order.IsAlgo)
	if err != nil {
		return false, err
	}
	j.live = info
	return info.Status == exchange.StatusFilled, nil
}

func (j *placeMarketJob) Complete(ctx context.Context) error {
	avg := j.live.AvgFillPrice
	if err := j.deps.DB.UpdateOrderFromExchange(ctx, j.order.ID,
		string(j.live.Status), j.live.FilledQuantity, &avg); err != nil {
		return err
	}
	// The entry fill belongs to the open sequence, so it moves into the
	// references here; activation expects the market row filled on both
	// sides.
	return j.deps.DB.CommitOrderChange(ctx, j.order.ID,
		j.order.Price, j.order.Quantity, string(j.live.Status))
}

// ==================== LIMIT RUNGS ====================

type placeLimitParams struct {
	Rung     int             `json:"rung"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type placeLimitJob struct {
	deps   *Deps
	step   *database.Step
	params placeLimitParams

	scope *positionScope
	order *database.Order
}

func newPlaceLimitJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &placeLimitJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *placeLimitJob) Name() string { return JobPlaceLimit }

func (j *placeLimitJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	if j.params.Rung < 1 || !j.params.Price.IsPositive() || !j.params.Quantity.IsPositive() {
		return InvalidInput(fmt.Errorf("rung %d price %s qty %s", j.params.Rung, j.params.Price, j.params.Quantity))
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status != database.StatusOpening {
		return StatePrecondition(fmt.Errorf("position %d is %s", positionID, scope.position.Status))
	}
	orders, err := j.deps.DB.ListOrdersForPosition(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if existing := findRung(orders, j.params.Rung); existing != nil {
		return JustResolve(fmt.Errorf("rung %d already placed as %s", j.params.Rung, existing.ExchangeOrderID))
	}
	j.scope = scope
	return nil
}

func (j *placeLimitJob) Compute(ctx context.Context) error {
	scope := j.scope
	clientID := newClientOrderID(scope.position.ID, fmt.Sprintf("r%d", j.params.Rung))

	ack, err := scope.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          entrySide(scope.position.Direction),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.Limit,
		Quantity:      j.params.Quantity,
		Price:         j.params.Price,
		ClientOrderID: clientID,
	})
	if err != nil {
		return err
	}

	rung := j.params.Rung
	price := j.params.Price
	j.order = &database.Order{
		PositionID:      scope.position.ID,
		Purpose:         database.PurposeLimit,
		RungIndex:       &rung,
		ClientOrderID:   clientID,
		ExchangeOrderID: ack.ExchangeOrderID,
		IsAlgo:          ack.IsAlgo,
		Side:            string(entrySide(scope.position.Direction)),
		OrderType:       string(exchange.Limit),
		Status:          ackStatus(ack),
		Price:           &price,
		Quantity:        j.params.Quantity,
	}
	return j.deps.DB.CreateOrder(ctx, j.order)
}

func (j *placeLimitJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.order.ExchangeOrderID, j.order.IsAlgo)
	if err != nil {
		return false, err
	}
	// A deep rung can fill while we confirm; both working and filled count.
	return info.Status.IsWorking() || info.Status == exchange.StatusFilled, nil
}

func (j *placeLimitJob) Complete(ctx context.Context) error { return nil }

// ==================== TAKE PROFIT ====================

type placeProfitJob struct {
	deps *Deps
	step *database.Step

	scope  *positionScope
	orders []*database.Order
	order  *database.Order
}

func newPlaceProfitJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &placeProfitJob{deps: d, step: step}, nil
}

func (j *placeProfitJob) Name() string { return JobPlaceProfit }

func (j *placeProfitJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	orders, err := j.deps.DB.ListOrdersForPosition(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if existing := findOrder(orders, database.PurposeProfit); existing != nil {
		return JustResolve(fmt.Errorf("profit order already placed as %s", existing.ExchangeOrderID))
	}
	if scope.position.ProfitPrice == nil || !scope.position.ProfitPrice.IsPositive() {
		return StatePrecondition(fmt.Errorf("position %d has no profit price yet", positionID))
	}
	j.scope = scope
	j.orders = orders
	return nil
}

func (j *placeProfitJob) Compute(ctx context.Context) error {
	scope := j.scope
	qty := totalFilled(j.orders)
	if scope.adapter.Capabilities().PositionAttachedTpsl {
		// The TP attaches to the position and carries no size of its own.
		qty = decimal.Zero
	} else if !qty.IsPositive() {
		return StatePrecondition(fmt.Errorf("position %d has no filled quantity for the profit order", scope.position.ID))
	}

	clientID := newClientOrderID(scope.position.ID, "tp")
	ack, err := scope.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          exitSide(scope.position.Direction),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.ProfitLimit,
		Quantity:      qty,
		Price:         *scope.position.ProfitPrice,
		ClientOrderID: clientID,
		ReduceOnly:    true,
	})
	if err != nil {
		return err
	}

	price := *scope.position.ProfitPrice
	j.order = &database.Order{
		PositionID:      scope.position.ID,
		Purpose:         database.PurposeProfit,
		ClientOrderID:   clientID,
		ExchangeOrderID: ack.ExchangeOrderID,
		IsAlgo:          ack.IsAlgo,
		Side:            string(exitSide(scope.position.Direction)),
		OrderType:       string(exchange.ProfitLimit),
		Status:          ackStatus(ack),
		Price:           &price,
		Quantity:        qty,
	}
	return j.deps.DB.CreateOrder(ctx, j.order)
}

func (j *placeProfitJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.order.ExchangeOrderID, j.order.IsAlgo)
	if err != nil {
		return false, err
	}
	return info.Status.IsWorking() || info.Status == exchange.StatusFilled, nil
}

func (j *placeProfitJob) Complete(ctx context.Context) error { return nil }

// ==================== STOP LOSS ====================

type placeStopParams struct {
	// Anchor is the deepest rung price the stop hangs off.
	Anchor decimal.Decimal `json:"anchor"`
}

type placeStopJob struct {
	deps   *Deps
	step   *database.Step
	params placeStopParams

	scope  *positionScope
	orders []*database.Order
	order  *database.Order
}

func newPlaceStopJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &placeStopJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *placeStopJob) Name() string { return JobPlaceStop }

func (j *placeStopJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	if !j.params.Anchor.IsPositive() {
		return InvalidInput(fmt.Errorf("stop anchor %s", j.params.Anchor))
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	orders, err := j.deps.DB.ListOrdersForPosition(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if existing := findOrder(orders, database.PurposeStop); existing != nil {
		return JustResolve(fmt.Errorf("stop order already placed as %s", existing.ExchangeOrderID))
	}
	j.scope = scope
	j.orders = orders
	return nil
}

func (j *placeStopJob) Compute(ctx context.Context) error {
	scope := j.scope

	trigger, err := planner.CalculateStopPrice(planner.StopInput{
		Direction: directionOf(scope.position),
		Anchor:    j.params.Anchor,
		StopPct:   scope.symbol.StopPct,
		Symbol:    scope.spec,
	})
	if err != nil {
		return InvalidInput(err)
	}

	// Exchanges with a close-position trigger take no quantity; the stop then
	// covers rungs that fill later without any amendment.
	caps := scope.adapter.Capabilities()
	qty := decimal.Zero
	if !caps.UsesAlgoEndpoints && !caps.PositionAttachedTpsl {
		qty = totalFilled(j.orders)
		if !qty.IsPositive() {
			return StatePrecondition(fmt.Errorf("position %d has no filled quantity for the stop order", scope.position.ID))
		}
	}

	clientID := newClientOrderID(scope.position.ID, "sl")
	ack, err := scope.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          exitSide(scope.position.Direction),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.StopMarket,
		Quantity:      qty,
		StopPrice:     trigger,
		ClientOrderID: clientID,
		ReduceOnly:    true,
	})
	if err != nil {
		return err
	}

	j.order = &database.Order{
		PositionID:      scope.position.ID,
		Purpose:         database.PurposeStop,
		ClientOrderID:   clientID,
		ExchangeOrderID: ack.ExchangeOrderID,
		IsAlgo:          ack.IsAlgo,
		Side:            string(exitSide(scope.position.Direction)),
		OrderType:       string(exchange.StopMarket),
		Status:          ackStatus(ack),
		StopPrice:       &trigger,
		Quantity:        qty,
	}
	return j.deps.DB.CreateOrder(ctx, j.order)
}

func (j *placeStopJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.order.ExchangeOrderID, j.order.IsAlgo)
	if err != nil {
		return false, err
	}
	return info.Status.IsWorking(), nil
}

func (j *placeStopJob) Complete(ctx context.Context) error { return nil }

// ackStatus normalizes an acknowledgement status, defaulting to NEW when the
// exchange returned none.
func ackStatus(ack *exchange.OrderAck) string {
	if ack.Status == "" {
		return string(exchange.StatusNew)
	}
	return string(ack.Status)
}
