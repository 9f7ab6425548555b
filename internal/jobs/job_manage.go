package jobs

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"martingalian/internal/database"
	"martingalian/internal/exchange"
)

// ==================== MODIFY PROFIT ====================

// modifyProfitJob moves the take-profit order to the position's current
// profit price and the current filled quantity. Exchanges without order
// amendment get a cancel-and-recreate instead.
type modifyProfitJob struct {
	deps *Deps
	step *database.Step

	scope     *positionScope
	order     *database.Order
	targetQty decimal.Decimal
	price     decimal.Decimal

	newClientID   string
	newExchangeID string
	recreated     bool
}

func newModifyProfitJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &modifyProfitJob{deps: d, step: step}, nil
}

func (j *modifyProfitJob) Name() string { return JobModifyProfit }

func (j *modifyProfitJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.ProfitPrice == nil || !scope.position.ProfitPrice.IsPositive() {
		return StatePrecondition(fmt.Errorf("position %d has no profit price", positionID))
	}

	orders, err := j.deps.DB.ListOrdersForPosition(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	order := findOrder(orders, database.PurposeProfit)
	if order == nil {
		return StatePrecondition(fmt.Errorf("position %d has no profit order row", positionID))
	}

	j.scope = scope
	j.order = order
	j.price = *scope.position.ProfitPrice
	j.targetQty = totalFilled(orders)
	if scope.adapter.Capabilities().PositionAttachedTpsl {
		j.targetQty = decimal.Zero
	}

	if order.Price != nil && order.Price.Equal(j.price) && order.Quantity.Equal(j.targetQty) {
		return JustResolve(fmt.Errorf("profit order %s already at target", order.ExchangeOrderID))
	}
	return nil
}

func (j *modifyProfitJob) Compute(ctx context.Context) error {
	scope, order := j.scope, j.order

	if scope.adapter.Capabilities().SupportsOrderModify && !order.IsAlgo {
		_, err := scope.adapter.ModifyOrder(ctx, exchange.ModifyOrderRequest{
			Symbol:          scope.sym,
			ExchangeOrderID: order.ExchangeOrderID,
			Side:            exchange.Side(order.Side),
			Quantity:        j.targetQty,
			Price:           j.price,
		})
		if err != nil {
			if exchange.IsOrderNotFound(err) {
				// The TP filled or was cancelled under us; the observer will
				// react to whichever it was.
				return StatePrecondition(err)
			}
			return err
		}
		j.newExchangeID = order.ExchangeOrderID
		return nil
	}

	// Cancel-and-recreate path.
	if _, err := scope.adapter.CancelOrder(ctx, scope.sym, order.ExchangeOrderID, order.IsAlgo); err != nil {
		if !exchange.IsOrderNotFound(err) {
			return err
		}
	}
	clientID := newClientOrderID(scope.position.ID, "tp")
	ack, err := scope.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          exchange.Side(order.Side),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.ProfitLimit,
		Quantity:      j.targetQty,
		Price:         j.price,
		ClientOrderID: clientID,
		ReduceOnly:    true,
	})
	if err != nil {
		return err
	}
	j.recreated = true
	j.newClientID = clientID
	j.newExchangeID = ack.ExchangeOrderID
	return nil
}

func (j *modifyProfitJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.newExchangeID, j.order.IsAlgo)
	if err != nil {
		return false, err
	}
	if !info.Status.IsWorking() {
		return false, nil
	}
	return info.Price.Equal(j.price), nil
}

func (j *modifyProfitJob) Complete(ctx context.Context) error {
	if j.recreated {
		return j.deps.DB.ReplaceOrderIdentity(ctx, j.order.ID,
			j.newClientID, j.newExchangeID, &j.price, j.targetQty, string(exchange.StatusNew))
	}
	return j.deps.DB.CommitOrderChange(ctx, j.order.ID, &j.price, j.targetQty, string(exchange.StatusNew))
}

// ==================== CANCEL ONE ====================

type cancelOrderJob struct {
	deps *Deps
	step *database.Step

	scope *positionScope
	order *database.Order
}

func newCancelOrderJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &cancelOrderJob{deps: d, step: step}, nil
}

func (j *cancelOrderJob) Name() string { return JobCancelOrder }

func (j *cancelOrderJob) StartOrFail(ctx context.Context) error {
	orderID, err := requireOrderID(j.step)
	if err != nil {
		return err
	}
	order, err := j.deps.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return Transient(err)
	}
	if exchange.OrderStatus(order.Status).IsTerminal() {
		return JustResolve(fmt.Errorf("order %d already %s", orderID, order.Status))
	}
	scope, err := j.deps.loadScope(ctx, order.PositionID)
	if err != nil {
		return Transient(err)
	}
	j.scope = scope
	j.order = order
	return nil
}

func (j *cancelOrderJob) Compute(ctx context.Context) error {
	_, err := j.scope.adapter.CancelOrder(ctx, j.scope.sym, j.order.ExchangeOrderID, j.order.IsAlgo)
	if err != nil && !exchange.IsOrderNotFound(err) {
		return err
	}
	return nil
}

func (j *cancelOrderJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.order.ExchangeOrderID, j.order.IsAlgo)
	if err != nil {
		if exchange.IsOrderNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return !info.Status.IsWorking(), nil
}

func (j *cancelOrderJob) Complete(ctx context.Context) error {
	return j.deps.DB.CommitOrderChange(ctx, j.order.ID,
		j.order.Price, j.order.Quantity, string(exchange.StatusCancelled))
}

// ==================== RECREATE ====================

// recreateOrderJob re-places an order the exchange dropped, from the
// reference columns, and rebinds the row to the new exchange identity.
type recreateOrderJob struct {
	deps *Deps
	step *database.Step

	scope *positionScope
	order *database.Order

	price decimal.Decimal
	qty   decimal.Decimal

	newClientID   string
	newExchangeID string
	newIsAlgo     bool
}

func newRecreateOrderJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &recreateOrderJob{deps: d, step: step}, nil
}

func (j *recreateOrderJob) Name() string { return JobRecreateOrder }

func (j *recreateOrderJob) StartOrFail(ctx context.Context) error {
	orderID, err := requireOrderID(j.step)
	if err != nil {
		return err
	}
	order, err := j.deps.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return Transient(err)
	}
	if exchange.OrderStatus(order.Status).IsWorking() {
		return JustResolve(fmt.Errorf("order %d is still working", orderID))
	}
	if order.ReferenceQuantity == nil {
		return InvalidInput(fmt.Errorf("order %d has no reference quantity to recreate from", orderID))
	}
	scope, err := j.deps.loadScope(ctx, order.PositionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status.IsTerminal() {
		return NonNotifiable(fmt.Errorf("position %d is %s, not recreating", order.PositionID, scope.position.Status))
	}

	j.scope = scope
	j.order = order
	j.qty = *order.ReferenceQuantity
	if order.ReferencePrice != nil {
		j.price = *order.ReferencePrice
	}
	return nil
}

func (j *recreateOrderJob) Compute(ctx context.Context) error {
	scope, order := j.scope, j.order
	clientID := newClientOrderID(scope.position.ID, "rc")

	req := exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          exchange.Side(order.Side),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.OrderType(order.OrderType),
		Quantity:      j.qty,
		Price:         j.price,
		ClientOrderID: clientID,
		ReduceOnly:    order.Purpose == database.PurposeProfit || order.Purpose == database.PurposeStop,
	}
	if order.StopPrice != nil {
		req.StopPrice = *order.StopPrice
	}

	ack, err := scope.adapter.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	j.newClientID = clientID
	j.newExchangeID = ack.ExchangeOrderID
	j.newIsAlgo = ack.IsAlgo
	return nil
}

func (j *recreateOrderJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.newExchangeID, j.newIsAlgo)
	if err != nil {
		return false, err
	}
	return info.Status.IsWorking() || info.Status == exchange.StatusFilled, nil
}

func (j *recreateOrderJob) Complete(ctx context.Context) error {
	var price *decimal.Decimal
	if j.price.IsPositive() {
		price = &j.price
	}
	return j.deps.DB.ReplaceOrderIdentity(ctx, j.order.ID,
		j.newClientID, j.newExchangeID, price, j.qty, string(exchange.StatusNew))
}

// ==================== CORRECT DRIFT ====================

// correctOrderJob restores an externally modified order back to the reference
// price and quantity. Amendable orders are amended in place; everything else
// is cancelled and recreated.
type correctOrderJob struct {
	deps *Deps
	step *database.Step

	scope *positionScope
	order *database.Order

	price decimal.Decimal
	qty   decimal.Decimal

	newClientID   string
	newExchangeID string
	recreated     bool
}

func newCorrectOrderJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &correctOrderJob{deps: d, step: step}, nil
}

func (j *correctOrderJob) Name() string { return JobCorrectOrder }

func (j *correctOrderJob) StartOrFail(ctx context.Context) error {
	orderID, err := requireOrderID(j.step)
	if err != nil {
		return err
	}
	order, err := j.deps.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return Transient(err)
	}
	if order.ReferenceQuantity == nil || order.ReferencePrice == nil {
		return InvalidInput(fmt.Errorf("order %d has no reference values to restore", orderID))
	}
	scope, err := j.deps.loadScope(ctx, order.PositionID)
	if err != nil {
		return Transient(err)
	}

	live, err := scope.adapter.QueryOrder(ctx, scope.sym, order.ExchangeOrderID, order.IsAlgo)
	if err != nil {
		if exchange.IsOrderNotFound(err) {
			return StatePrecondition(err)
		}
		return err
	}
	if !live.Status.IsWorking() {
		return StatePrecondition(fmt.Errorf("order %d is %s, cannot correct", orderID, live.Status))
	}
	if live.Price.Equal(*order.ReferencePrice) && live.Quantity.Equal(*order.ReferenceQuantity) {
		return JustResolve(fmt.Errorf("order %d already matches its references", orderID))
	}

	j.scope = scope
	j.order = order
	j.price = *order.ReferencePrice
	j.qty = *order.ReferenceQuantity
	return nil
}

func (j *correctOrderJob) Compute(ctx context.Context) error {
	scope, order := j.scope, j.order

	if scope.adapter.Capabilities().SupportsOrderModify && !order.IsAlgo {
		_, err := scope.adapter.ModifyOrder(ctx, exchange.ModifyOrderRequest{
			Symbol:          scope.sym,
			ExchangeOrderID: order.ExchangeOrderID,
			Side:            exchange.Side(order.Side),
			Quantity:        j.qty,
			Price:           j.price,
		})
		if err != nil {
			if exchange.IsOrderNotFound(err) {
				return StatePrecondition(err)
			}
			return err
		}
		j.newExchangeID = order.ExchangeOrderID
		return nil
	}

	if _, err := scope.adapter.CancelOrder(ctx, scope.sym, order.ExchangeOrderID, order.IsAlgo); err != nil {
		if !exchange.IsOrderNotFound(err) {
			return err
		}
	}
	clientID := newClientOrderID(scope.position.ID, "cr")
	req := exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          exchange.Side(order.Side),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.OrderType(order.OrderType),
		Quantity:      j.qty,
		Price:         j.price,
		ClientOrderID: clientID,
		ReduceOnly:    order.Purpose == database.PurposeProfit || order.Purpose == database.PurposeStop,
	}
	if order.StopPrice != nil {
		req.StopPrice = *order.StopPrice
	}
	ack, err := scope.adapter.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	j.recreated = true
	j.newClientID = clientID
	j.newExchangeID = ack.ExchangeOrderID
	return nil
}

func (j *correctOrderJob) DoubleCheck(ctx context.Context) (bool, error) {
	info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, j.newExchangeID, j.order.IsAlgo)
	if err != nil {
		return false, err
	}
	if !info.Status.IsWorking() {
		return false, nil
	}
	return info.Price.Equal(j.price) && info.Quantity.Equal(j.qty), nil
}

func (j *correctOrderJob) Complete(ctx context.Context) error {
	if j.recreated {
		return j.deps.DB.ReplaceOrderIdentity(ctx, j.order.ID,
			j.newClientID, j.newExchangeID, &j.price, j.qty, string(exchange.StatusNew))
	}
	return j.deps.DB.CommitOrderChange(ctx, j.order.ID, &j.price, j.qty, string(exchange.StatusNew))
}

// ==================== CANCEL ALL ====================

// cancelAllJob clears every working order of the position from the book. On
// exchanges without a usable cancel-all it iterates the rows individually.
type cancelAllJob struct {
	deps *Deps
	step *database.Step

	scope   *positionScope
	working []*database.Order
}

func newCancelAllJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &cancelAllJob{deps: d, step: step}, nil
}

func (j *cancelAllJob) Name() string { return JobCancelAll }

func (j *cancelAllJob) StartOrFail(ctx context.Context) error {
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
	for _, o := range orders {
		if exchange.OrderStatus(o.Status).IsWorking() {
			j.working = append(j.working, o)
		}
	}
	if len(j.working) == 0 {
		return JustResolve(fmt.Errorf("position %d has no working orders", positionID))
	}
	j.scope = scope
	return nil
}

func (j *cancelAllJob) Compute(ctx context.Context) error {
	scope := j.scope
	if scope.adapter.Capabilities().SupportsCancelAllBySymbol {
		return scope.adapter.CancelAllOrders(ctx, scope.sym)
	}
	for _, o := range j.working {
		if _, err := scope.adapter.CancelOrder(ctx, scope.sym, o.ExchangeOrderID, o.IsAlgo); err != nil {
			if exchange.IsOrderNotFound(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func (j *cancelAllJob) DoubleCheck(ctx context.Context) (bool, error) {
	open, err := j.scope.adapter.OpenOrders(ctx, j.scope.sym)
	if err != nil {
		return false, err
	}
	onBook := make(map[string]bool, len(open))
	for _, o := range open {
		onBook[o.ExchangeOrderID] = true
	}
	for _, o := range j.working {
		if onBook[o.ExchangeOrderID] {
			return false, nil
		}
	}
	return true, nil
}

func (j *cancelAllJob) Complete(ctx context.Context) error {
	for _, o := range j.working {
		err := j.deps.DB.CommitOrderChange(ctx, o.ID, o.Price, o.Quantity, string(exchange.StatusCancelled))
		if err != nil {
			return err
		}
	}
	return nil
}
