// Package workflows lays out the durable step blocks for every position
// lifecycle move and enqueues them together with the guarding status
// transition, so a position can never carry two competing workflows.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"martingalian/internal/database"
	"martingalian/internal/jobs"
)

// Workflow names as stored on steps.
const (
	Open     = "open"
	Wap      = "wap"
	Sync     = "sync"
	Correct  = "correct"
	Recreate = "recreate"
	Close    = "close"
	Cancel   = "cancel"
)

// Close reasons recorded on the position.
const (
	ReasonProfit    = "profit"
	ReasonStop      = "stop"
	ReasonOperator  = "operator"
	ReasonCancelled = "cancelled"
)

// Enqueuer writes workflow blocks. It owns no goroutines; the step engine
// picks the blocks up.
type Enqueuer struct {
	DB *database.DB
}

// builder accumulates one block.
type builder struct {
	workflow   string
	block      uuid.UUID
	accountID  *int64
	positionID *int64
	steps      []*database.Step
}

func newBuilder(workflow string, position *database.Position) *builder {
	accountID := position.AccountID
	positionID := position.ID
	return &builder{
		workflow:   workflow,
		block:      uuid.New(),
		accountID:  &accountID,
		positionID: &positionID,
	}
}

func (b *builder) add(index int, job string, params any) *builder {
	b.steps = append(b.steps, &database.Step{
		Workflow:   b.workflow,
		Job:        job,
		BlockUUID:  b.block,
		Index:      index,
		AccountID:  b.accountID,
		PositionID: b.positionID,
		Params:     marshalParams(params),
	})
	return b
}

func (b *builder) addOrder(index int, job string, orderID int64, params any) *builder {
	b.add(index, job, params)
	b.steps[len(b.steps)-1].OrderID = &orderID
	return b
}

// EnqueueOpen starts the open workflow for a freshly created position. The
// compute_plan job performs the new->opening transition itself and fans out
// the placement block.
func (e *Enqueuer) EnqueueOpen(ctx context.Context, position *database.Position) (uuid.UUID, error) {
	if position.Status != database.StatusNew {
		return uuid.Nil, fmt.Errorf("workflows: position %d is %s, cannot open", position.ID, position.Status)
	}
	b := newBuilder(Open, position)
	b.add(0, jobs.JobComputePlan, nil)
	return b.block, e.DB.InsertSteps(ctx, b.steps)
}

// EnqueueWap reacts to a rung fill: recompute the WAP, move the take profit,
// return to active.
func (e *Enqueuer) EnqueueWap(ctx context.Context, position *database.Position) (uuid.UUID, error) {
	if err := e.DB.TransitionPosition(ctx, position.ID, position.Status, database.StatusWaping); err != nil {
		return uuid.Nil, err
	}
	b := newBuilder(Wap, position)
	b.add(0, jobs.JobRecalcWap, nil)
	b.add(1, jobs.JobModifyProfit, nil)
	b.add(2, jobs.JobTransition, transition(database.StatusWaping, database.StatusActive))
	return b.block, e.DB.InsertSteps(ctx, b.steps)
}

// EnqueueSync refreshes every order row from the exchange after the observer
// lost confidence in the mirror. The sync job returns the position to active.
func (e *Enqueuer) EnqueueSync(ctx context.Context, position *database.Position) (uuid.UUID, error) {
	if err := e.DB.TransitionPosition(ctx, position.ID, position.Status, database.StatusSyncing); err != nil {
		return uuid.Nil, err
	}
	b := newBuilder(Sync, position)
	b.add(0, jobs.JobSyncPosition, nil)
	return b.block, e.DB.InsertSteps(ctx, b.steps)
}

// EnqueueCorrect restores one externally modified order to its reference
// price and quantity.
func (e *Enqueuer) EnqueueCorrect(ctx context.Context, position *database.Position, orderID int64) (uuid.UUID, error) {
	if err := e.DB.TransitionPosition(ctx, position.ID, position.Status, database.StatusWatching); err != nil {
		return uuid.Nil, err
	}
	b := newBuilder(Correct, position)
	b.addOrder(0, jobs.JobCorrectOrder, orderID, nil)
	b.add(1, jobs.JobTransition, transition(database.StatusWatching, database.StatusActive))
	return b.block, e.DB.InsertSteps(ctx, b.steps)
}

// EnqueueRecreate re-places one order the exchange dropped.
func (e *Enqueuer) EnqueueRecreate(ctx context.Context, position *database.Position, orderID int64) (uuid.UUID, error) {
	if err := e.DB.TransitionPosition(ctx, position.ID, position.Status, database.StatusWatching); err != nil {
		return uuid.Nil, err
	}
	b := newBuilder(Recreate, position)
	b.addOrder(0, jobs.JobRecreateOrder, orderID, nil)
	b.add(1, jobs.JobTransition, transition(database.StatusWatching, database.StatusActive))
	return b.block, e.DB.InsertSteps(ctx, b.steps)
}

// EnqueueClose tears the position down: cancel the remaining ladder, flatten
// any residual amount, verify the book is clean and finalize.
func (e *Enqueuer) EnqueueClose(ctx context.Context, position *database.Position, reason string) (uuid.UUID, error) {
	if err := e.DB.TransitionPosition(ctx, position.ID, position.Status, database.StatusClosing); err != nil {
		return uuid.Nil, err
	}
	b := newBuilder(Close, position)
	b.add(0, jobs.JobCancelAll, nil)
	b.add(1, jobs.JobCloseResidual, nil)
	b.add(2, jobs.JobVerifyFlat, nil)
	b.add(3, jobs.JobFinalize, finalize(reason))
	return b.block, e.DB.InsertSteps(ctx, b.steps)
}

// EnqueueCancel aborts a position that never fully opened: same teardown as
// close, through the cancelling branch of the lifecycle.
func (e *Enqueuer) EnqueueCancel(ctx context.Context, position *database.Position) (uuid.UUID, error) {
	if err := e.DB.TransitionPosition(ctx, position.ID, position.Status, database.StatusCancelling); err != nil {
		return uuid.Nil, err
	}
	b := newBuilder(Cancel, position)
	b.add(0, jobs.JobCancelAll, nil)
	b.add(1, jobs.JobCloseResidual, nil)
	b.add(2, jobs.JobVerifyFlat, nil)
	b.add(3, jobs.JobFinalize, finalize(ReasonCancelled))
	return b.block, e.DB.InsertSteps(ctx, b.steps)
}

func transition(from, to database.PositionStatus) map[string]any {
	return map[string]any{"from": from, "to": to}
}

func finalize(reason string) map[string]any {
	return map[string]any{"close_reason": reason}
}

func marshalParams(v any) []byte {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("workflows: marshal params: %v", err))
	}
	return raw
}
