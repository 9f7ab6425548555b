// Package steps drives the durable workflow queue: a worker pool that claims
// ready steps, materializes their jobs and applies the runner's verdict back
// to the steps table.
package steps

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"martingalian/internal/database"
	"martingalian/internal/jobs"
)

// Config tunes the worker pool.
type Config struct {
	// Workers is the pool size.
	Workers int
	// PollInterval is the idle sleep between empty claims.
	PollInterval time.Duration
	// MaxRetries caps how often a step returns to pending before it fails.
	MaxRetries int
	// PerAccountSlots bounds concurrent running steps per account, so one
	// account's ladder cannot starve the others' rate budgets.
	PerAccountSlots int
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		PollInterval:    500 * time.Millisecond,
		MaxRetries:      10,
		PerAccountSlots: 4,
	}
}

// Engine is the worker pool.
type Engine struct {
	deps     *jobs.Deps
	registry *jobs.Registry
	runner   *jobs.Runner
	cfg      Config
	logger   zerolog.Logger

	mu    sync.Mutex
	slots map[int64]chan struct{}
}

// New builds the engine around the shared job dependencies.
func New(deps *jobs.Deps, registry *jobs.Registry, cfg Config) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PerAccountSlots < 1 {
		cfg.PerAccountSlots = 1
	}
	return &Engine{
		deps:     deps,
		registry: registry,
		runner:   &jobs.Runner{Deps: deps},
		cfg:      cfg,
		logger:   deps.Logger.With().Str("component", "steps").Logger(),
		slots:    map[int64]chan struct{}{},
	}
}

// Run recovers steps stranded in running by a previous crash, then works the
// queue until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	requeued, err := e.deps.DB.RequeueStaleRunning(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		e.logger.Warn().Int64("steps", requeued).Msg("requeued steps stranded by previous shutdown")
	}

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (e *Engine) workLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		step, err := e.deps.DB.ClaimReadyStep(ctx)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				e.logger.Error().Err(err).Int("worker", worker).Msg("claim failed")
			}
			e.sleep(ctx, e.cfg.PollInterval)
			continue
		}
		e.dispatch(ctx, step)
	}
}

// dispatch runs one claimed step end to end.
func (e *Engine) dispatch(ctx context.Context, step *database.Step) {
	log := e.logger.With().
		Int64("step_id", step.ID).
		Str("workflow", step.Workflow).
		Str("job", step.Job).
		Logger()

	if step.AccountID != nil {
		release := e.acquireSlot(ctx, *step.AccountID)
		if release == nil {
			// Shutdown while waiting; put the step back untouched.
			e.requeue(ctx, step, "shutdown while waiting for account slot")
			return
		}
		defer release()
	}

	job, err := e.registry.Build(e.deps, step)
	if err != nil {
		log.Error().Err(err).Msg("cannot materialize job")
		e.fail(ctx, step, err)
		return
	}

	result := e.runner.Run(ctx, job)
	switch result.Outcome {
	case jobs.OutcomeCompleted:
		if err := e.deps.DB.CompleteStep(ctx, step.ID, result.ChildBlock); err != nil {
			log.Error().Err(err).Msg("failed to complete step")
		}

	case jobs.OutcomeSkipped:
		if err := e.deps.DB.SkipStep(ctx, step.ID, errText(result.Err)); err != nil {
			log.Error().Err(err).Msg("failed to skip step")
		}

	case jobs.OutcomeRetry:
		if step.RetryCount+1 > e.cfg.MaxRetries {
			log.Error().Int("retries", step.RetryCount).Msg("retry budget exhausted")
			e.fail(ctx, step, result.Err)
			return
		}
		if result.RetryAfter > 0 {
			e.sleep(ctx, result.RetryAfter)
		}
		e.requeue(ctx, step, errText(result.Err))

	case jobs.OutcomeFailed:
		e.fail(ctx, step, result.Err)
	}
}

// fail freezes the step's block and pushes the owning position into failed so
// the operator sees it.
func (e *Engine) fail(ctx context.Context, step *database.Step, cause error) {
	if err := e.deps.DB.FailStep(ctx, step.ID, errText(cause)); err != nil {
		e.logger.Error().Err(err).Int64("step_id", step.ID).Msg("failed to mark step failed")
	}
	if step.PositionID == nil {
		return
	}

	position, err := e.deps.DB.GetPositionByID(ctx, *step.PositionID)
	if err != nil {
		e.logger.Error().Err(err).Int64("position_id", *step.PositionID).Msg("cannot load position after step failure")
		return
	}
	if position.Status.IsTerminal() {
		return
	}
	if err := e.deps.DB.SetPositionError(ctx, position.ID, errText(cause)); err != nil {
		e.logger.Error().Err(err).Int64("position_id", position.ID).Msg("cannot record position error")
	}
	if database.CanTransition(position.Status, database.StatusFailed) {
		if err := e.deps.DB.TransitionPosition(ctx, position.ID, position.Status, database.StatusFailed); err != nil {
			e.logger.Error().Err(err).Int64("position_id", position.ID).Msg("cannot fail position")
		}
	}
}

func (e *Engine) requeue(ctx context.Context, step *database.Step, reason string) {
	if err := e.deps.DB.RetryStep(ctx, step.ID, reason); err != nil {
		e.logger.Error().Err(err).Int64("step_id", step.ID).Msg("failed to requeue step")
	}
}

// acquireSlot blocks until the account has a free concurrency slot, returning
// the release func, or nil when the context ended first.
func (e *Engine) acquireSlot(ctx context.Context, accountID int64) func() {
	e.mu.Lock()
	slot, ok := e.slots[accountID]
	if !ok {
		slot = make(chan struct{}, e.cfg.PerAccountSlots)
		e.slots[accountID] = slot
	}
	e.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }
	case <-ctx.Done():
		return nil
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
