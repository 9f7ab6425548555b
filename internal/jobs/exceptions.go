// Package jobs defines the atomic-job contract every exchange-mutating
// operation runs under, the exception taxonomy that drives retry and
// notification decisions, and the concrete jobs the workflows enqueue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"martingalian/internal/exchange"
)

// ExceptionKind classifies a job failure for the runner.
type ExceptionKind int

const (
	// KindTransient: retry the whole job after backoff.
	KindTransient ExceptionKind = iota
	// KindRateLimited: retry after the exchange-provided cooldown.
	KindRateLimited
	// KindNonNotifiable: expected failure, resolve silently without retry.
	KindNonNotifiable
	// KindJustResolve: the desired end state already holds; complete as done.
	KindJustResolve
	// KindFatal: stop the workflow and notify the operator.
	KindFatal
	// KindInvalidInput: caller bug, never retried, notified.
	KindInvalidInput
	// KindStatePrecondition: local state no longer matches; the workflow
	// must re-read and decide, not retry blindly.
	KindStatePrecondition
)

func (k ExceptionKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNonNotifiable:
		return "non_notifiable"
	case KindJustResolve:
		return "just_resolve"
	case KindFatal:
		return "fatal"
	case KindInvalidInput:
		return "invalid_input"
	case KindStatePrecondition:
		return "state_precondition"
	default:
		return "unknown"
	}
}

// Exception wraps a job failure with its handling class.
type Exception struct {
	Kind       ExceptionKind
	Err        error
	RetryAfter time.Duration
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Exception) Unwrap() error { return e.Err }

// Transient wraps err for retry after backoff.
func Transient(err error) *Exception {
	return &Exception{Kind: KindTransient, Err: err}
}

// RateLimited wraps err with the cooldown the exchange asked for.
func RateLimited(err error, retryAfter time.Duration) *Exception {
	return &Exception{Kind: KindRateLimited, Err: err, RetryAfter: retryAfter}
}

// NonNotifiable wraps an expected failure that needs no retry and no alert.
func NonNotifiable(err error) *Exception {
	return &Exception{Kind: KindNonNotifiable, Err: err}
}

// JustResolve signals the desired end state already holds.
func JustResolve(err error) *Exception {
	return &Exception{Kind: KindJustResolve, Err: err}
}

// Fatal wraps an unrecoverable failure.
func Fatal(err error) *Exception {
	return &Exception{Kind: KindFatal, Err: err}
}

// InvalidInput wraps a caller bug.
func InvalidInput(err error) *Exception {
	return &Exception{Kind: KindInvalidInput, Err: err}
}

// StatePrecondition signals local state drifted under the job.
func StatePrecondition(err error) *Exception {
	return &Exception{Kind: KindStatePrecondition, Err: err}
}

// KindOf extracts the exception kind, defaulting unclassified errors to
// fatal so nothing unknown silently retries.
func KindOf(err error) ExceptionKind {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex.Kind
	}
	return KindFatal
}

// Classify maps an adapter error onto the taxonomy. Anything a job does not
// pre-classify flows through here.
func Classify(err error) *Exception {
	if err == nil {
		return nil
	}
	var ex *Exception
	if errors.As(err, &ex) {
		return ex
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Shutdown or deadline, not a verdict on the job itself.
		return Transient(err)
	}

	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case exchange.KindTransient:
			return Transient(err)
		case exchange.KindRateLimited:
			retryAfter := apiErr.RetryAfter
			if retryAfter == 0 {
				retryAfter = time.Second
			}
			return RateLimited(err, retryAfter)
		case exchange.KindOrderNotFound:
			return StatePrecondition(err)
		case exchange.KindAuth, exchange.KindInvalidRequest:
			return Fatal(err)
		}
	}
	return Fatal(err)
}
