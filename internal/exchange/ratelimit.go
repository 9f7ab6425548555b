package exchange

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements proactive, weight-based request budgeting for one
// account, with a circuit that opens when the exchange reports a ban.
//
// Adapters call Wait before every request and Record/RecordRateLimitError
// after, so all calls for an account share one budget regardless of which
// workflow issued them.
type RateLimiter struct {
	mu sync.Mutex

	maxWeight     int
	currentWeight int
	weightResetAt time.Time

	circuitOpen bool
	banUntil    time.Time

	weights       map[string]int
	defaultWeight int
}

// NewRateLimiter builds a limiter with the exchange's per-minute weight cap
// and endpoint weight table.
func NewRateLimiter(maxWeightPerMinute int, weights map[string]int) *RateLimiter {
	if maxWeightPerMinute <= 0 {
		maxWeightPerMinute = 1200
	}
	return &RateLimiter{
		maxWeight:     maxWeightPerMinute,
		weightResetAt: time.Now().Add(time.Minute),
		weights:       weights,
		defaultWeight: 1,
	}
}

// Wait blocks until the endpoint's weight fits the current window or ctx is
// done. It reserves the weight before returning.
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	for {
		wait, ok := r.tryAcquire(endpoint)
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) tryAcquire(endpoint string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.circuitOpen {
		if now.Before(r.banUntil) {
			return time.Until(r.banUntil), false
		}
		r.circuitOpen = false
	}

	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	weight := r.endpointWeight(endpoint)
	if r.currentWeight+weight > r.maxWeight {
		return time.Until(r.weightResetAt), false
	}

	r.currentWeight += weight
	return 0, true
}

func (r *RateLimiter) endpointWeight(endpoint string) int {
	if w, ok := r.weights[endpoint]; ok {
		return w
	}
	return r.defaultWeight
}

// UpdateFromHeaders syncs the window to the used-weight figure the exchange
// reports in response headers, which is authoritative over local counting.
func (r *RateLimiter) UpdateFromHeaders(usedWeight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if usedWeight > r.currentWeight {
		r.currentWeight = usedWeight
	}
}

// RecordRateLimitError opens the circuit until banUntil (or one minute when
// the exchange gave no hint).
func (r *RateLimiter) RecordRateLimitError(banUntil time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if banUntil.IsZero() {
		banUntil = time.Now().Add(time.Minute)
	}
	r.circuitOpen = true
	r.banUntil = banUntil
}

// CircuitOpen reports whether the limiter is currently refusing requests.
func (r *RateLimiter) CircuitOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.circuitOpen && time.Now().Before(r.banUntil)
}
