package jobs

import (
	"encoding/json"
	"fmt"

	"martingalian/internal/database"
)

// Factory materializes a job from its durable step row.
type Factory func(d *Deps, step *database.Step) (AtomicJob, error)

// Registry maps step job names onto factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry wires every job the engine knows how to run.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}

	r.register(JobComputePlan, newComputePlanJob)
	r.register(JobSetMarginMode, newSetMarginModeJob)
	r.register(JobSetLeverage, newSetLeverageJob)
	r.register(JobPlaceMarket, newPlaceMarketJob)
	r.register(JobPlaceLimit, newPlaceLimitJob)
	r.register(JobPlaceProfit, newPlaceProfitJob)
	r.register(JobPlaceStop, newPlaceStopJob)
	r.register(JobRecalcWap, newRecalcWapJob)
	r.register(JobModifyProfit, newModifyProfitJob)
	r.register(JobCancelOrder, newCancelOrderJob)
	r.register(JobRecreateOrder, newRecreateOrderJob)
	r.register(JobCorrectOrder, newCorrectOrderJob)
	r.register(JobCancelAll, newCancelAllJob)
	r.register(JobCloseResidual, newCloseResidualJob)
	r.register(JobVerifyFlat, newVerifyFlatJob)
	r.register(JobFinalize, newFinalizeJob)
	r.register(JobActivate, newActivateJob)
	r.register(JobSyncPosition, newSyncPositionJob)
	r.register(JobTransition, newTransitionJob)
	r.register(JobNotify, newNotifyJob)

	return r
}

func (r *Registry) register(name string, f Factory) {
	r.factories[name] = f
}

// Known reports whether a job name is registered.
func (r *Registry) Known(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Build materializes the job for a claimed step.
func (r *Registry) Build(d *Deps, step *database.Step) (AtomicJob, error) {
	f, ok := r.factories[step.Job]
	if !ok {
		return nil, fmt.Errorf("jobs: unknown job %q", step.Job)
	}
	return f(d, step)
}

// decodeParams unmarshals the step's JSONB payload into the job's params.
func decodeParams(step *database.Step, out any) error {
	raw := step.Params
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return InvalidInput(fmt.Errorf("step %d params: %w", step.ID, err))
	}
	return nil
}

// requirePositionID fails fast when a step arrives without its position.
func requirePositionID(step *database.Step) (int64, error) {
	if step.PositionID == nil {
		return 0, InvalidInput(fmt.Errorf("step %d (%s) has no position", step.ID, step.Job))
	}
	return *step.PositionID, nil
}

// requireOrderID fails fast when a step arrives without its order.
func requireOrderID(step *database.Step) (int64, error) {
	if step.OrderID == nil {
		return 0, InvalidInput(fmt.Errorf("step %d (%s) has no order", step.ID, step.Job))
	}
	return *step.OrderID, nil
}
