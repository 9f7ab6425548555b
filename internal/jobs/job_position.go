package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"martingalian/internal/database"
	"martingalian/internal/exchange"
	"martingalian/internal/planner"
)

// ==================== WAP RECALCULATION ====================

type recalcWapParams struct {
	// StopAnchor recomputes the stop price when the position has none yet.
	StopAnchor *decimal.Decimal `json:"stop_anchor,omitempty"`
}

// recalcWapJob recomputes the weighted average price over the filled legs and
// refreshes the derived TP and SL prices on the position row.
type recalcWapJob struct {
	deps   *Deps
	step   *database.Step
	params recalcWapParams

	scope       *positionScope
	wap         decimal.Decimal
	profitPrice decimal.Decimal
	stopPrice   decimal.Decimal
}

func newRecalcWapJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &recalcWapJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *recalcWapJob) Name() string { return JobRecalcWap }

func (j *recalcWapJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status.IsTerminal() {
		return StatePrecondition(fmt.Errorf("position %d is %s", positionID, scope.position.Status))
	}
	j.scope = scope
	return nil
}

func (j *recalcWapJob) Compute(ctx context.Context) error {
	scope := j.scope

	orders, err := j.deps.DB.ListOrdersForPosition(ctx, scope.position.ID)
	if err != nil {
		return Transient(err)
	}
	legs := filledLegs(orders)
	if len(legs) == 0 {
		return StatePrecondition(fmt.Errorf("position %d has no filled legs", scope.position.ID))
	}

	wap, _, err := planner.CalculateWap(legs)
	if err != nil {
		return InvalidInput(err)
	}
	j.wap = wap

	mark, err := j.deps.markPrice(ctx, scope)
	if err != nil {
		return err
	}

	j.profitPrice, err = planner.CalculateProfitPrice(planner.ProfitInput{
		Direction: directionOf(scope.position),
		Wap:       wap,
		ProfitPct: scope.symbol.ProfitPct,
		Symbol:    scope.spec,
		MarkPrice: mark,
	})
	if err != nil {
		return InvalidInput(err)
	}

	// The stop is anchored once, at the deepest rung; later recalculations
	// keep it where it is.
	switch {
	case scope.position.StopPrice != nil && scope.position.StopPrice.IsPositive():
		j.stopPrice = *scope.position.StopPrice
	case j.params.StopAnchor != nil:
		j.stopPrice, err = planner.CalculateStopPrice(planner.StopInput{
			Direction: directionOf(scope.position),
			Anchor:    *j.params.StopAnchor,
			StopPct:   scope.symbol.StopPct,
			Symbol:    scope.spec,
		})
		if err != nil {
			return InvalidInput(err)
		}
	default:
		return InvalidInput(fmt.Errorf("position %d has neither a stop price nor a stop anchor", scope.position.ID))
	}
	return nil
}

func (j *recalcWapJob) DoubleCheck(ctx context.Context) (bool, error) { return true, nil }

func (j *recalcWapJob) Complete(ctx context.Context) error {
	err := j.deps.DB.UpdatePositionWap(ctx, j.scope.position.ID, j.wap, j.profitPrice, j.stopPrice)
	if err != nil {
		return err
	}
	j.deps.Logger.Info().
		Int64("position_id", j.scope.position.ID).
		Str("wap", j.wap.String()).
		Str("profit_price", j.profitPrice.String()).
		Str("stop_price", j.stopPrice.String()).
		Msg("weighted average price recalculated")
	return nil
}

// ==================== ACTIVATION ====================

// activateJob validates the freshly placed ladder against the exchange and
// moves the position into active. A missing order here means the open
// sequence silently lost one, which is not recoverable by retrying.
type activateJob struct {
	deps *Deps
	step *database.Step

	scope  *positionScope
	orders []*database.Order
}

func newActivateJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &activateJob{deps: d, step: step}, nil
}

func (j *activateJob) Name() string { return JobActivate }

func (j *activateJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status == database.StatusActive {
		return JustResolve(fmt.Errorf("position %d already active", positionID))
	}
	if scope.position.Status != database.StatusOpening {
		return StatePrecondition(fmt.Errorf("position %d is %s", positionID, scope.position.Status))
	}
	orders, err := j.deps.DB.ListOrdersForPosition(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	j.scope = scope
	j.orders = orders

	if err := j.validateComposition(); err != nil {
		// A malformed ladder is not recoverable by retrying; fail the
		// position and resolve the step.
		if dbErr := j.deps.DB.SetPositionError(ctx, positionID, err.Error()); dbErr != nil {
			return Transient(dbErr)
		}
		if database.CanTransition(scope.position.Status, database.StatusFailed) {
			if dbErr := j.deps.DB.TransitionPosition(ctx, positionID, scope.position.Status, database.StatusFailed); dbErr != nil {
				return Transient(dbErr)
			}
		}
		return JustResolve(err)
	}
	return nil
}

// validateComposition checks the freshly placed ladder row by row: exactly
// one market entry (filled, reference filled), one take profit and one stop
// plus the rungs (all resting, reference resting), and every row still equal
// to its reference price and quantity.
func (j *activateJob) validateComposition() error {
	counts := map[string]int{}
	for _, o := range j.orders {
		counts[o.Purpose]++
	}
	if counts[database.PurposeMarket] != 1 {
		return fmt.Errorf("position %d: expected 1 market order, found %d", j.scope.position.ID, counts[database.PurposeMarket])
	}
	if counts[database.PurposeLimit] < 1 {
		return fmt.Errorf("position %d: ladder has no limit rungs", j.scope.position.ID)
	}
	if counts[database.PurposeProfit] != 1 {
		return fmt.Errorf("position %d: expected 1 profit order, found %d", j.scope.position.ID, counts[database.PurposeProfit])
	}
	if counts[database.PurposeStop] != 1 {
		return fmt.Errorf("position %d: expected 1 stop order, found %d", j.scope.position.ID, counts[database.PurposeStop])
	}

	for _, o := range j.orders {
		want := string(exchange.StatusNew)
		if o.Purpose == database.PurposeMarket {
			want = string(exchange.StatusFilled)
		}
		if o.Status != want {
			return fmt.Errorf("position %d: %s order %s is %s, want %s",
				j.scope.position.ID, o.Purpose, o.ExchangeOrderID, o.Status, want)
		}
		if o.ReferenceStatus == nil || *o.ReferenceStatus != want {
			return fmt.Errorf("position %d: %s order %s reference status drifted",
				j.scope.position.ID, o.Purpose, o.ExchangeOrderID)
		}
		if !decimalPtrEqual(o.Price, o.ReferencePrice) {
			return fmt.Errorf("position %d: %s order %s price differs from reference",
				j.scope.position.ID, o.Purpose, o.ExchangeOrderID)
		}
		if o.ReferenceQuantity == nil || !o.Quantity.Equal(*o.ReferenceQuantity) {
			return fmt.Errorf("position %d: %s order %s quantity differs from reference",
				j.scope.position.ID, o.Purpose, o.ExchangeOrderID)
		}
	}
	return nil
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (j *activateJob) Compute(ctx context.Context) error {
	open, err := j.scope.adapter.OpenOrders(ctx, j.scope.sym)
	if err != nil {
		return err
	}
	onBook := make(map[string]bool, len(open))
	for _, o := range open {
		onBook[o.ExchangeOrderID] = true
	}

	for _, o := range j.orders {
		if !exchange.OrderStatus(o.Status).IsWorking() {
			continue
		}
		if !onBook[o.ExchangeOrderID] {
			// Re-query before declaring it lost: it may have just filled.
			info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, o.ExchangeOrderID, o.IsAlgo)
			if err != nil {
				return err
			}
			if info.Status == exchange.StatusFilled || info.Status.IsWorking() {
				continue
			}
			return Fatal(fmt.Errorf("position %d: %s order %s vanished during open (%s)",
				j.scope.position.ID, o.Purpose, o.ExchangeOrderID, info.Status))
		}
	}
	return nil
}

func (j *activateJob) DoubleCheck(ctx context.Context) (bool, error) { return true, nil }

func (j *activateJob) Complete(ctx context.Context) error {
	err := j.deps.DB.TransitionPosition(ctx, j.scope.position.ID, database.StatusOpening, database.StatusActive)
	if err != nil {
		return err
	}
	j.deps.Logger.Info().Int64("position_id", j.scope.position.ID).Msg("position activated")
	return nil
}

// ==================== SYNC ====================

// syncPositionJob refreshes every order row from the exchange, then returns
// the position from syncing to active. Fill reactions stay with the observer;
// sync only restores an accurate mirror.
type syncPositionJob struct {
	deps *Deps
	step *database.Step

	scope  *positionScope
	orders []*database.Order
}

func newSyncPositionJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &syncPositionJob{deps: d, step: step}, nil
}

func (j *syncPositionJob) Name() string { return JobSyncPosition }

func (j *syncPositionJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status != database.StatusSyncing {
		return StatePrecondition(fmt.Errorf("position %d is %s, not syncing", positionID, scope.position.Status))
	}
	orders, err := j.deps.DB.ListOrdersForPosition(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	j.scope = scope
	j.orders = orders
	return nil
}

func (j *syncPositionJob) Compute(ctx context.Context) error {
	for _, o := range j.orders {
		if exchange.OrderStatus(o.Status).IsTerminal() {
			continue
		}
		info, err := j.scope.adapter.QueryOrder(ctx, j.scope.sym, o.ExchangeOrderID, o.IsAlgo)
		if err != nil {
			return err
		}
		avg := info.AvgFillPrice
		if err := j.deps.DB.UpdateOrderFromExchange(ctx, o.ID, string(info.Status), info.FilledQuantity, &avg); err != nil {
			return Transient(err)
		}
	}
	return nil
}

func (j *syncPositionJob) DoubleCheck(ctx context.Context) (bool, error) { return true, nil }

func (j *syncPositionJob) Complete(ctx context.Context) error {
	return j.deps.DB.TransitionPosition(ctx, j.scope.position.ID, database.StatusSyncing, database.StatusActive)
}

// ==================== CLOSE RESIDUAL ====================

// closeResidualJob flattens whatever position amount survived the TP or SL
// fill with a reduce-only market order.
type closeResidualJob struct {
	deps *Deps
	step *database.Step

	scope    *positionScope
	residual decimal.Decimal
}

func newCloseResidualJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &closeResidualJob{deps: d, step: step}, nil
}

func (j *closeResidualJob) Name() string { return JobCloseResidual }

func (j *closeResidualJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	j.scope = scope

	residual, err := j.liveAmount(ctx)
	if err != nil {
		return Transient(err)
	}
	if !residual.IsPositive() {
		return JustResolve(fmt.Errorf("position %d already flat", positionID))
	}
	j.residual = residual
	return nil
}

func (j *closeResidualJob) liveAmount(ctx context.Context) (decimal.Decimal, error) {
	positions, err := j.scope.adapter.Positions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	key := exchange.PositionKey(
		j.scope.symbol.ParsedPair,
		positionSideOf(j.scope.position.Direction),
		j.scope.adapter.Capabilities().HedgeMode,
	)
	info, ok := positions[key]
	if !ok {
		return decimal.Zero, nil
	}
	return info.Amount.Abs(), nil
}

func (j *closeResidualJob) Compute(ctx context.Context) error {
	scope := j.scope
	_, err := scope.adapter.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol:        scope.sym,
		Side:          exitSide(scope.position.Direction),
		PositionSide:  positionSideOf(scope.position.Direction),
		Type:          exchange.Market,
		Quantity:      j.residual,
		ClientOrderID: newClientOrderID(scope.position.ID, "res"),
		ReduceOnly:    true,
	})
	return err
}

func (j *closeResidualJob) DoubleCheck(ctx context.Context) (bool, error) {
	residual, err := j.liveAmount(ctx)
	if err != nil {
		return false, err
	}
	return residual.IsZero(), nil
}

func (j *closeResidualJob) Complete(ctx context.Context) error { return nil }

// ==================== VERIFY FLAT ====================

// verifyFlatJob is pure confirmation: the position is gone from the exchange
// and no working order of the ladder remains.
type verifyFlatJob struct {
	deps *Deps
	step *database.Step

	scope *positionScope
}

func newVerifyFlatJob(d *Deps, step *database.Step) (AtomicJob, error) {
	return &verifyFlatJob{deps: d, step: step}, nil
}

func (j *verifyFlatJob) Name() string { return JobVerifyFlat }

func (j *verifyFlatJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	j.scope = scope
	return nil
}

func (j *verifyFlatJob) Compute(ctx context.Context) error { return nil }

func (j *verifyFlatJob) DoubleCheck(ctx context.Context) (bool, error) {
	positions, err := j.scope.adapter.Positions(ctx)
	if err != nil {
		return false, err
	}
	key := exchange.PositionKey(
		j.scope.symbol.ParsedPair,
		positionSideOf(j.scope.position.Direction),
		j.scope.adapter.Capabilities().HedgeMode,
	)
	if info, ok := positions[key]; ok && !info.Amount.IsZero() {
		return false, nil
	}

	open, err := j.scope.adapter.OpenOrders(ctx, j.scope.sym)
	if err != nil {
		return false, err
	}
	return len(open) == 0, nil
}

func (j *verifyFlatJob) Complete(ctx context.Context) error { return nil }

// ==================== FINALIZE ====================

type finalizeParams struct {
	CloseReason string `json:"close_reason"`
}

// finalizeJob stamps the terminal bookkeeping and moves the position into its
// terminal status. Realized PnL comes from the trade history when the
// exchange provides it; a missing history never blocks closing.
type finalizeJob struct {
	deps   *Deps
	step   *database.Step
	params finalizeParams

	scope *positionScope
	pnl   *decimal.Decimal
}

func newFinalizeJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &finalizeJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *finalizeJob) Name() string { return JobFinalize }

func (j *finalizeJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if scope.position.Status.IsTerminal() {
		return JustResolve(fmt.Errorf("position %d already %s", positionID, scope.position.Status))
	}
	if scope.position.Status != database.StatusClosing && scope.position.Status != database.StatusCancelling {
		return StatePrecondition(fmt.Errorf("position %d is %s, cannot finalize", positionID, scope.position.Status))
	}
	j.scope = scope
	return nil
}

func (j *finalizeJob) Compute(ctx context.Context) error {
	orders, err := j.deps.DB.ListOrdersForPosition(ctx, j.scope.position.ID)
	if err != nil {
		return Transient(err)
	}
	ids := make(map[string]bool, len(orders))
	for _, o := range orders {
		ids[o.ExchangeOrderID] = true
	}

	trades, err := j.scope.adapter.TradeHistory(ctx, j.scope.sym, 200)
	if err != nil {
		j.deps.Logger.Warn().Err(err).
			Int64("position_id", j.scope.position.ID).
			Msg("trade history unavailable, closing without realized pnl")
		return nil
	}

	pnl := decimal.Zero
	matched := false
	for _, t := range trades {
		if ids[t.ExchangeOrderID] {
			pnl = pnl.Add(t.RealizedPnl)
			matched = true
		}
	}
	if matched {
		j.pnl = &pnl
	}
	return nil
}

func (j *finalizeJob) DoubleCheck(ctx context.Context) (bool, error) { return true, nil }

func (j *finalizeJob) Complete(ctx context.Context) error {
	position := j.scope.position
	if err := j.deps.DB.FinalizePosition(ctx, position.ID, j.params.CloseReason, j.pnl, time.Now().UTC()); err != nil {
		return err
	}

	to := database.StatusClosed
	if position.Status == database.StatusCancelling {
		to = database.StatusCancelled
	}
	if err := j.deps.DB.TransitionPosition(ctx, position.ID, position.Status, to); err != nil {
		return err
	}
	if j.deps.Breaker != nil && j.pnl != nil {
		j.deps.Breaker.RecordClose(j.scope.account.ID, *j.pnl)
	}
	j.deps.Logger.Info().
		Int64("position_id", position.ID).
		Str("close_reason", j.params.CloseReason).
		Msg("position finalized")

	if j.deps.Notifier != nil {
		pnl := "unknown"
		if j.pnl != nil {
			pnl = j.pnl.String()
		}
		accountID := j.scope.account.ID
		message := fmt.Sprintf("position %d closed (%s), realized pnl %s",
			position.ID, j.params.CloseReason, pnl)
		if err := j.deps.Notifier.Send(ctx, "info", "position closed", message, &accountID); err != nil {
			j.deps.Logger.Warn().Err(err).Msg("close notification failed")
		}
	}
	return nil
}

// ==================== GENERIC TRANSITION ====================

type transitionParams struct {
	From database.PositionStatus `json:"from"`
	To   database.PositionStatus `json:"to"`
}

type transitionJob struct {
	deps   *Deps
	step   *database.Step
	params transitionParams

	positionID int64
}

func newTransitionJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &transitionJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *transitionJob) Name() string { return JobTransition }

func (j *transitionJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	position, err := j.deps.DB.GetPositionByID(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	if position.Status == j.params.To {
		return JustResolve(fmt.Errorf("position %d already %s", positionID, j.params.To))
	}
	j.positionID = positionID
	return nil
}

func (j *transitionJob) Compute(ctx context.Context) error {
	err := j.deps.DB.TransitionPosition(ctx, j.positionID, j.params.From, j.params.To)
	if err != nil {
		return StatePrecondition(err)
	}
	return nil
}

func (j *transitionJob) DoubleCheck(ctx context.Context) (bool, error) { return true, nil }

func (j *transitionJob) Complete(ctx context.Context) error { return nil }

// ==================== NOTIFY ====================

type notifyParams struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type notifyJob struct {
	deps   *Deps
	step   *database.Step
	params notifyParams
}

func newNotifyJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &notifyJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *notifyJob) Name() string { return JobNotify }

func (j *notifyJob) StartOrFail(ctx context.Context) error {
	if j.params.Title == "" {
		return InvalidInput(fmt.Errorf("notify step %d has no title", j.step.ID))
	}
	return nil
}

func (j *notifyJob) Compute(ctx context.Context) error {
	level := j.params.Level
	if level == "" {
		level = "info"
	}
	return j.deps.Notifier.Send(ctx, level, j.params.Title, j.params.Message, j.step.AccountID)
}

func (j *notifyJob) DoubleCheck(ctx context.Context) (bool, error) { return true, nil }

func (j *notifyJob) Complete(ctx context.Context) error { return nil }
