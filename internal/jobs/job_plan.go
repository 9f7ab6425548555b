package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"martingalian/internal/database"
	"martingalian/internal/planner"
)

// computePlanParams parameterize the sizing step.
type computePlanParams struct {
	TotalLimitOrders int `json:"total_limit_orders"`
}

// computePlanJob sizes the position and fans out the placement block: margin
// mode, leverage, the market leg, the limit ladder, the WAP bookkeeping and
// the TP/SL pair, finishing with activation.
type computePlanJob struct {
	deps   *Deps
	step   *database.Step
	params computePlanParams

	scope      *positionScope
	plan       *planner.Plan
	mark       decimal.Decimal
	childBlock *uuid.UUID
}

func newComputePlanJob(d *Deps, step *database.Step) (AtomicJob, error) {
	j := &computePlanJob{deps: d, step: step}
	if err := decodeParams(step, &j.params); err != nil {
		return nil, err
	}
	if j.params.TotalLimitOrders == 0 {
		j.params.TotalLimitOrders = 4
	}
	return j, nil
}

func (j *computePlanJob) Name() string { return JobComputePlan }

func (j *computePlanJob) StartOrFail(ctx context.Context) error {
	positionID, err := requirePositionID(j.step)
	if err != nil {
		return err
	}
	scope, err := j.deps.loadScope(ctx, positionID)
	if err != nil {
		return Transient(err)
	}
	j.scope = scope

	switch scope.position.Status {
	case database.StatusNew:
		if err := j.deps.DB.TransitionPosition(ctx, positionID, database.StatusNew, database.StatusOpening); err != nil {
			return StatePrecondition(err)
		}
		scope.position.Status = database.StatusOpening
		return nil
	case database.StatusOpening:
		// Retry after a crash mid-plan; recompute is safe, nothing was placed.
		return nil
	default:
		return StatePrecondition(fmt.Errorf("position %d is %s, cannot plan", positionID, scope.position.Status))
	}
}

func (j *computePlanJob) Compute(ctx context.Context) error {
	scope := j.scope

	mark, err := j.deps.markPrice(ctx, scope)
	if err != nil {
		return err
	}
	j.mark = mark

	margin, err := j.positionMargin(ctx)
	if err != nil {
		return err
	}

	wireBrackets, err := scope.adapter.LeverageBrackets(ctx, scope.sym)
	if err != nil {
		return err
	}
	brackets := make([]planner.LeverageBracket, len(wireBrackets))
	for i, b := range wireBrackets {
		brackets[i] = planner.LeverageBracket{
			Bracket:          b.Bracket,
			InitialLeverage:  b.InitialLeverage,
			NotionalFloor:    b.NotionalFloor,
			NotionalCap:      b.NotionalCap,
			MaintMarginRatio: b.MaintMarginRatio,
		}
	}

	plan, err := planner.PlanUnboundedPosition(planner.PlanInput{
		Direction:        directionOf(scope.position),
		ReferencePrice:   mark,
		Margin:           margin,
		RequestedCap:     scope.account.LeverageCap,
		TotalLimitOrders: j.params.TotalLimitOrders,
		Symbol:           scope.spec,
		Brackets:         brackets,
	})
	if err != nil {
		return InvalidInput(err)
	}
	if len(plan.Ladder.Rungs) == 0 {
		return Fatal(fmt.Errorf("position %d: every ladder rung formatted to zero quantity", scope.position.ID))
	}
	j.plan = plan
	return nil
}

// positionMargin sizes the collateral for this ladder: a percentage of the
// available balance when the account carries one, otherwise the fixed
// per-position notional.
func (j *computePlanJob) positionMargin(ctx context.Context) (decimal.Decimal, error) {
	account := j.scope.account
	if !account.MaxPositionPct.IsPositive() {
		if !account.NotionalPerPosition.IsPositive() {
			return decimal.Zero, InvalidInput(fmt.Errorf("account %d has neither a position percentage nor a fixed notional", account.ID))
		}
		return account.NotionalPerPosition, nil
	}

	balance, err := j.deps.accountBalance(ctx, account, j.scope.adapter)
	if err != nil {
		return decimal.Zero, err
	}
	margin, err := planner.PositionMargin(balance.Available, account.MaxPositionPct)
	if err != nil {
		return decimal.Zero, InvalidInput(err)
	}
	if !margin.IsPositive() {
		return decimal.Zero, InvalidInput(fmt.Errorf("account %d: available balance %s sizes to zero margin", account.ID, balance.Available))
	}
	return margin, nil
}

func (j *computePlanJob) DoubleCheck(ctx context.Context) (bool, error) {
	// Pure computation, nothing to confirm on the exchange.
	return true, nil
}

func (j *computePlanJob) Complete(ctx context.Context) error {
	scope, plan := j.scope, j.plan

	err := j.deps.DB.UpdatePositionPlan(ctx, scope.position.ID,
		plan.Leverage, plan.LeverageReason, plan.Divider,
		plan.MarketNotional.Add(plan.Ladder.TotalNotional()), j.mark)
	if err != nil {
		return err
	}

	steps, block := j.placementBlock()
	if err := j.deps.DB.InsertSteps(ctx, steps); err != nil {
		return err
	}
	j.childBlock = &block

	j.deps.Logger.Info().
		Int64("position_id", scope.position.ID).
		Int("leverage", plan.Leverage).
		Str("divider", plan.Divider.String()).
		Str("market_qty", plan.MarketQuantity.String()).
		Int("rungs", len(plan.Ladder.Rungs)).
		Msg("position plan computed")
	return nil
}

func (j *computePlanJob) SpawnedBlock() *uuid.UUID { return j.childBlock }

// placementBlock lays out the child block that turns the plan into live
// orders. Limit rungs share an index so they place in parallel.
func (j *computePlanJob) placementBlock() ([]*database.Step, uuid.UUID) {
	scope, plan := j.scope, j.plan
	block := uuid.New()
	accountID := scope.account.ID
	positionID := scope.position.ID

	mk := func(index int, job string, params any) *database.Step {
		return &database.Step{
			Workflow:   j.step.Workflow,
			Job:        job,
			BlockUUID:  block,
			Index:      index,
			AccountID:  &accountID,
			PositionID: &positionID,
			Params:     mustParams(params),
		}
	}

	steps := []*database.Step{
		mk(0, JobSetMarginMode, nil),
		mk(1, JobSetLeverage, nil),
		mk(2, JobPlaceMarket, placeMarketParams{Quantity: plan.MarketQuantity}),
	}
	for _, rung := range plan.Ladder.Rungs {
		steps = append(steps, mk(3, JobPlaceLimit, placeLimitParams{
			Rung:     rung.Index,
			Price:    rung.Price,
			Quantity: rung.Quantity,
		}))
	}
	lastRung := plan.Ladder.Rungs[len(plan.Ladder.Rungs)-1]
	steps = append(steps,
		mk(4, JobRecalcWap, recalcWapParams{StopAnchor: &lastRung.Price}),
		mk(5, JobPlaceProfit, nil),
		mk(6, JobPlaceStop, placeStopParams{Anchor: lastRung.Price}),
		mk(7, JobActivate, nil),
	)
	return steps, block
}

// mustParams serializes step params; the structs are engine-owned so a
// marshal failure is a programming error.
func mustParams(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("jobs: marshal params: %v", err))
	}
	return raw
}
