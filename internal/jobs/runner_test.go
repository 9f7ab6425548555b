package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJob drives the runner through scripted phase results.
type fakeJob struct {
	startErr    error
	computeErr  error
	completeErr error
	checkErr    error
	checks      []bool
	spawn       *uuid.UUID

	startCalls    int
	computeCalls  int
	checkCalls    int
	completeCalls int
}

func (f *fakeJob) Name() string { return "fake" }

func (f *fakeJob) StartOrFail(ctx context.Context) error {
	f.startCalls++
	return f.startErr
}

func (f *fakeJob) Compute(ctx context.Context) error {
	f.computeCalls++
	return f.computeErr
}

func (f *fakeJob) DoubleCheck(ctx context.Context) (bool, error) {
	f.checkCalls++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	if len(f.checks) == 0 {
		return true, nil
	}
	done := f.checks[0]
	f.checks = f.checks[1:]
	return done, nil
}

func (f *fakeJob) Complete(ctx context.Context) error {
	f.completeCalls++
	return f.completeErr
}

func (f *fakeJob) SpawnedBlock() *uuid.UUID { return f.spawn }

func newTestRunner() *Runner {
	return &Runner{Deps: &Deps{Logger: zerolog.Nop()}}
}

func TestRunnerHappyPath(t *testing.T) {
	job := &fakeJob{}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, job.computeCalls)
	assert.Equal(t, 1, job.completeCalls)
}

func TestRunnerSpawnsChildBlock(t *testing.T) {
	block := uuid.New()
	job := &fakeJob{spawn: &block}
	result := newTestRunner().Run(context.Background(), job)

	require.Equal(t, OutcomeCompleted, result.Outcome)
	require.NotNil(t, result.ChildBlock)
	assert.Equal(t, block, *result.ChildBlock)
}

func TestRunnerJustResolveSkips(t *testing.T) {
	job := &fakeJob{startErr: JustResolve(errors.New("already placed"))}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, 0, job.computeCalls)
}

func TestRunnerTransientComputeRetries(t *testing.T) {
	job := &fakeJob{computeErr: Transient(errors.New("connection reset"))}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeRetry, result.Outcome)
	assert.Equal(t, 0, job.completeCalls)
}

func TestRunnerRateLimitedCarriesCooldown(t *testing.T) {
	job := &fakeJob{computeErr: RateLimited(errors.New("429"), 2*time.Second)}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeRetry, result.Outcome)
	assert.Equal(t, 2*time.Second, result.RetryAfter)
}

func TestRunnerFatalFails(t *testing.T) {
	job := &fakeJob{computeErr: Fatal(errors.New("bad signature"))}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 0, job.completeCalls)
}

func TestRunnerStatePreconditionFails(t *testing.T) {
	job := &fakeJob{startErr: StatePrecondition(errors.New("position moved"))}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 0, job.computeCalls)
}

func TestRunnerDoubleCheckPollsUntilConfirmed(t *testing.T) {
	job := &fakeJob{checks: []bool{false, false, true}}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, job.checkCalls)
	assert.Equal(t, 1, job.completeCalls)
}

func TestRunnerUnconfirmedRequeuesWithoutComplete(t *testing.T) {
	job := &fakeJob{checks: []bool{false, false, false, false, false}}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeRetry, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrUnconfirmed)
	assert.Equal(t, 5, job.checkCalls)
	assert.Equal(t, 0, job.completeCalls)
}

func TestRunnerPermanentDoubleCheckErrorFails(t *testing.T) {
	job := &fakeJob{checkErr: StatePrecondition(errors.New("order gone"))}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 1, job.checkCalls)
}

func TestRunnerCompleteFailureIsFatal(t *testing.T) {
	job := &fakeJob{completeErr: errors.New("commit failed")}
	result := newTestRunner().Run(context.Background(), job)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, KindFatal, KindOf(result.Err))
	// Never re-run: the exchange mutation already landed.
	assert.Equal(t, 1, job.computeCalls)
}

func TestRegistryKnowsEveryJob(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		JobComputePlan, JobSetMarginMode, JobSetLeverage, JobPlaceMarket,
		JobPlaceLimit, JobPlaceProfit, JobPlaceStop, JobRecalcWap,
		JobModifyProfit, JobCancelOrder, JobRecreateOrder, JobCorrectOrder,
		JobCancelAll, JobCloseResidual, JobVerifyFlat, JobFinalize,
		JobActivate, JobSyncPosition, JobTransition, JobNotify,
	} {
		assert.True(t, r.Known(name), name)
	}
	assert.False(t, r.Known("made_up"))
}
