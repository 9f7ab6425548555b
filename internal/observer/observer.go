// Package observer watches active positions: it refreshes the local order
// mirror from the exchange, compares what it sees against the reference
// columns and is the single place that enqueues reaction workflows.
package observer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"martingalian/internal/database"
	"martingalian/internal/exchange"
	"martingalian/internal/jobs"
	"martingalian/internal/snapshots"
	"martingalian/internal/workflows"
)

// Decision is the observer's verdict on one order.
type Decision int

const (
	DecisionNone Decision = iota
	// DecisionWap: an entry rung filled; recompute the WAP and move the TP.
	DecisionWap
	// DecisionCloseProfit: the take profit filled; tear the position down.
	DecisionCloseProfit
	// DecisionCloseStop: the stop triggered and filled; tear down.
	DecisionCloseStop
	// DecisionRecreate: an order the engine still wants vanished from the book.
	DecisionRecreate
	// DecisionCorrect: the order is working but no longer matches its
	// reference price or quantity.
	DecisionCorrect
)

func (d Decision) String() string {
	switch d {
	case DecisionWap:
		return "wap"
	case DecisionCloseProfit:
		return "close_profit"
	case DecisionCloseStop:
		return "close_stop"
	case DecisionRecreate:
		return "recreate"
	case DecisionCorrect:
		return "correct"
	default:
		return "none"
	}
}

// Evaluate compares one order row against its live exchange state. live is
// nil when the exchange no longer knows the order. Only exchange-side changes
// trigger a decision: the engine's own writes moved the references in the
// same commit, so they can never drift here.
func Evaluate(order *database.Order, live *exchange.OrderInfo) Decision {
	refWorking := order.ReferenceStatus != nil &&
		exchange.OrderStatus(*order.ReferenceStatus).IsWorking()

	if live == nil || live.Status == exchange.StatusNotFound {
		if refWorking {
			return DecisionRecreate
		}
		return DecisionNone
	}

	switch live.Status {
	case exchange.StatusFilled:
		switch order.Purpose {
		case database.PurposeProfit:
			return DecisionCloseProfit
		case database.PurposeStop:
			return DecisionCloseStop
		case database.PurposeLimit:
			if refWorking {
				return DecisionWap
			}
		}
		return DecisionNone

	case exchange.StatusCancelled, exchange.StatusExpired:
		if refWorking {
			return DecisionRecreate
		}
		return DecisionNone
	}

	if !live.Status.IsWorking() || !refWorking {
		return DecisionNone
	}

	priceDrifted := order.ReferencePrice != nil &&
		live.Price.IsPositive() && !live.Price.Equal(*order.ReferencePrice)
	qtyDrifted := order.ReferenceQuantity != nil &&
		live.Quantity.IsPositive() && !live.Quantity.Equal(*order.ReferenceQuantity)
	if priceDrifted || qtyDrifted {
		return DecisionCorrect
	}
	return DecisionNone
}

// finding pairs an order with its decision during a sweep.
type finding struct {
	order    *database.Order
	live     *exchange.OrderInfo
	decision Decision
}

// priority orders findings; closes beat fills beat repairs.
func priority(d Decision) int {
	switch d {
	case DecisionCloseStop:
		return 5
	case DecisionCloseProfit:
		return 4
	case DecisionWap:
		return 3
	case DecisionRecreate:
		return 2
	case DecisionCorrect:
		return 1
	default:
		return 0
	}
}

// Observer is the sweep loop.
type Observer struct {
	DB       *database.DB
	Adapters jobs.AdapterProvider
	Enqueuer *workflows.Enqueuer
	// Mutex single-flights reactions across engine replicas. Optional.
	Mutex    *snapshots.PositionMutex
	Logger   zerolog.Logger
	Interval time.Duration
}

// Run sweeps active positions until the context ends.
func (o *Observer) Run(ctx context.Context) error {
	interval := o.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Observer) sweep(ctx context.Context) {
	positions, err := o.DB.ListPositionsByStatus(ctx, database.StatusActive)
	if err != nil {
		o.Logger.Error().Err(err).Msg("observer cannot list active positions")
		return
	}
	for _, position := range positions {
		if ctx.Err() != nil {
			return
		}
		if err := o.observePosition(ctx, position); err != nil {
			o.Logger.Warn().Err(err).Int64("position_id", position.ID).Msg("observer pass failed")
		}
	}
}

func (o *Observer) observePosition(ctx context.Context, position *database.Position) error {
	account, err := o.DB.GetAccountByID(ctx, position.AccountID)
	if err != nil {
		return err
	}
	symbol, err := o.DB.GetSymbolByID(ctx, position.SymbolID)
	if err != nil {
		return err
	}
	adapter, err := o.Adapters.ForAccount(ctx, account)
	if err != nil {
		return err
	}
	sym := exchange.Symbol{Token: symbol.Token, Quote: symbol.Quote}

	orders, err := o.DB.ListOrdersForPosition(ctx, position.ID)
	if err != nil {
		return err
	}

	var best *finding
	for _, order := range orders {
		if order.ReferenceStatus != nil &&
			exchange.OrderStatus(*order.ReferenceStatus).IsTerminal() {
			continue
		}

		live, err := adapter.QueryOrder(ctx, sym, order.ExchangeOrderID, order.IsAlgo)
		if err != nil {
			if exchange.IsOrderNotFound(err) {
				live = nil
			} else {
				return err
			}
		}

		if live != nil {
			avg := live.AvgFillPrice
			if err := o.DB.UpdateOrderFromExchange(ctx, order.ID,
				string(live.Status), live.FilledQuantity, &avg); err != nil {
				return err
			}
		}

		decision := Evaluate(order, live)
		if decision == DecisionNone {
			continue
		}
		o.Logger.Info().
			Int64("position_id", position.ID).
			Int64("order_id", order.ID).
			Str("purpose", order.Purpose).
			Str("decision", decision.String()).
			Msg("order change detected")
		if best == nil || priority(decision) > priority(best.decision) {
			best = &finding{order: order, live: live, decision: decision}
		}
	}

	if best == nil {
		return nil
	}
	return o.react(ctx, position, best)
}

// react enqueues the workflow for the winning finding. Fill reactions commit
// the observed state into the references first, so the next sweep does not
// re-trigger on a change the engine is already handling.
func (o *Observer) react(ctx context.Context, position *database.Position, f *finding) error {
	if o.Mutex != nil {
		release, ok, err := o.Mutex.Acquire(ctx, position.ID)
		if err != nil {
			return err
		}
		if !ok {
			// Another replica is already reacting to this position.
			return nil
		}
		defer release()
	}

	switch f.decision {
	case DecisionWap:
		if err := o.acknowledgeFill(ctx, f); err != nil {
			return err
		}
		_, err := o.Enqueuer.EnqueueWap(ctx, position)
		return err

	case DecisionCloseProfit:
		if err := o.acknowledgeFill(ctx, f); err != nil {
			return err
		}
		_, err := o.Enqueuer.EnqueueClose(ctx, position, workflows.ReasonProfit)
		return err

	case DecisionCloseStop:
		if err := o.acknowledgeFill(ctx, f); err != nil {
			return err
		}
		_, err := o.Enqueuer.EnqueueClose(ctx, position, workflows.ReasonStop)
		return err

	case DecisionRecreate:
		_, err := o.Enqueuer.EnqueueRecreate(ctx, position, f.order.ID)
		return err

	case DecisionCorrect:
		_, err := o.Enqueuer.EnqueueCorrect(ctx, position, f.order.ID)
		return err
	}
	return nil
}

func (o *Observer) acknowledgeFill(ctx context.Context, f *finding) error {
	status := string(exchange.StatusFilled)
	if f.live != nil {
		status = string(f.live.Status)
	}
	return o.DB.CommitOrderChange(ctx, f.order.ID, f.order.Price, f.order.Quantity, status)
}
