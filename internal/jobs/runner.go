package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Outcome is the runner's verdict on one job execution. The step engine maps
// it onto the step state.
type Outcome int

const (
	// OutcomeCompleted: the job finished; mark the step completed.
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped: the desired end state already held; mark skipped.
	OutcomeSkipped
	// OutcomeRetry: transient failure; return the step to pending.
	OutcomeRetry
	// OutcomeFailed: terminal failure; fail the step and freeze its block.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetry:
		return "retry"
	default:
		return "failed"
	}
}

// Result is what one Run produced.
type Result struct {
	Outcome    Outcome
	Err        error
	ChildBlock *uuid.UUID
	// RetryAfter delays the requeue when the exchange asked for a cooldown.
	RetryAfter time.Duration
}

// doubleCheckSchedule builds the confirmation poll: 250ms doubling to a 4s
// cap, five attempts total.
func doubleCheckSchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 4 * time.Second
	b.RandomizationFactor = 0
	return backoff.WithMaxRetries(b, 4)
}

// ErrUnconfirmed is wrapped into the retry result when DoubleCheck exhausted
// its polls without observing the effect.
var ErrUnconfirmed = errors.New("jobs: effect not confirmed on exchange")

// Runner drives one job through its four phases and classifies the failure
// when any phase errors.
type Runner struct {
	Deps *Deps
}

// Run executes the job. The contract relies on StartOrFail detecting
// already-applied effects: a retried job must pass through it again before
// Compute can fire a second time.
func (r *Runner) Run(ctx context.Context, job AtomicJob) Result {
	log := r.Deps.Logger.With().Str("job", job.Name()).Logger()

	if err := job.StartOrFail(ctx); err != nil {
		return r.resolve(ctx, job, "start", err)
	}

	if err := job.Compute(ctx); err != nil {
		return r.resolve(ctx, job, "compute", err)
	}

	if err := r.confirm(ctx, job); err != nil {
		return r.resolve(ctx, job, "double_check", err)
	}

	if err := job.Complete(ctx); err != nil {
		// The exchange mutation landed but the local commit did not. Never
		// retried: a second Compute could double the effect.
		log.Error().Err(err).Msg("job completed on exchange but local commit failed")
		return Result{Outcome: OutcomeFailed, Err: Fatal(err)}
	}

	result := Result{Outcome: OutcomeCompleted}
	if spawner, ok := job.(BlockSpawner); ok {
		result.ChildBlock = spawner.SpawnedBlock()
	}
	log.Debug().Msg("job completed")
	return result
}

// confirm polls DoubleCheck on the backoff schedule until it reports done.
func (r *Runner) confirm(ctx context.Context, job AtomicJob) error {
	schedule := doubleCheckSchedule()
	return backoff.Retry(func() error {
		done, err := job.DoubleCheck(ctx)
		if err != nil {
			var ex *Exception
			if errors.As(err, &ex) && ex.Kind != KindTransient {
				return backoff.Permanent(err)
			}
			return err
		}
		if !done {
			return ErrUnconfirmed
		}
		return nil
	}, backoff.WithContext(schedule, ctx))
}

// resolve turns a phase error into the runner verdict.
func (r *Runner) resolve(ctx context.Context, job AtomicJob, phase string, err error) Result {
	var ex *Exception
	if errors.Is(err, ErrUnconfirmed) {
		ex = Transient(err)
	} else {
		ex = Classify(err)
	}
	log := r.Deps.Logger.With().Str("job", job.Name()).Str("phase", phase).Logger()

	switch ex.Kind {
	case KindJustResolve:
		log.Debug().Err(ex.Err).Msg("job already satisfied")
		return Result{Outcome: OutcomeSkipped, Err: ex}

	case KindNonNotifiable:
		log.Debug().Err(ex.Err).Msg("job resolved without effect")
		return Result{Outcome: OutcomeSkipped, Err: ex}

	case KindTransient:
		if errors.Is(err, ErrUnconfirmed) {
			log.Warn().Msg("effect unconfirmed, requeueing")
		} else {
			log.Warn().Err(ex.Err).Msg("transient failure, requeueing")
		}
		return Result{Outcome: OutcomeRetry, Err: ex}

	case KindRateLimited:
		log.Warn().Dur("retry_after", ex.RetryAfter).Msg("rate limited, requeueing")
		return Result{Outcome: OutcomeRetry, Err: ex, RetryAfter: ex.RetryAfter}

	case KindStatePrecondition:
		log.Warn().Err(ex.Err).Msg("state precondition failed")
		return Result{Outcome: OutcomeFailed, Err: ex}

	default: // KindFatal, KindInvalidInput
		log.Error().Err(ex.Err).Msg("job failed")
		r.notifyFatal(ctx, job, ex)
		return Result{Outcome: OutcomeFailed, Err: ex}
	}
}

func (r *Runner) notifyFatal(ctx context.Context, job AtomicJob, ex *Exception) {
	if r.Deps.Notifier == nil {
		return
	}
	title := fmt.Sprintf("job %s failed", job.Name())
	if err := r.Deps.Notifier.Send(ctx, "error", title, ex.Err.Error(), nil); err != nil {
		r.Deps.Logger.Warn().Err(err).Msg("failed to deliver job failure notification")
	}
}
