// Package circuit halts admission of new positions after a losing streak.
// Running ladders are never interrupted; the breaker only starves the
// scheduler until the cooldown passes and a winning close resets it.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// State of the breaker.
type State string

const (
	// StateClosed: admission runs normally.
	StateClosed State = "closed"
	// StateOpen: admission halted until the cooldown passes.
	StateOpen State = "open"
	// StateHalfOpen: cooldown passed, one batch of admissions allowed; the
	// next winning close re-closes the breaker, a losing one re-trips it.
	StateHalfOpen State = "half_open"
)

// Config bounds the losses per account.
type Config struct {
	// MaxConsecutiveLosses trips the breaker after this many losing
	// positions in a row.
	MaxConsecutiveLosses int
	// MaxDailyLoss trips the breaker once the quote-denominated realized
	// loss for the UTC day exceeds it. Zero disables the check.
	MaxDailyLoss decimal.Decimal
	// Cooldown is how long the breaker stays open after a trip.
	Cooldown time.Duration
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveLosses: 5,
		MaxDailyLoss:         decimal.Zero,
		Cooldown:             30 * time.Minute,
	}
}

type accountState struct {
	state             State
	consecutiveLosses int
	dailyLoss         decimal.Decimal
	dailyResetAt      time.Time
	trippedAt         time.Time
	tripReason        string
}

// Breaker tracks per-account loss streaks.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	accounts map[int64]*accountState
}

// New builds a breaker; a zero MaxConsecutiveLosses falls back to defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = DefaultConfig().MaxConsecutiveLosses
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{cfg: cfg, accounts: map[int64]*accountState{}}
}

// Allow reports whether the account may open new positions. The reason is
// empty when admission is allowed.
func (b *Breaker) Allow(accountID int64) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.account(accountID)
	b.rollDay(s)

	if s.state == StateOpen {
		if time.Since(s.trippedAt) < b.cfg.Cooldown {
			remaining := b.cfg.Cooldown - time.Since(s.trippedAt)
			return false, fmt.Sprintf("breaker open, %s remaining (%s)",
				remaining.Round(time.Second), s.tripReason)
		}
		s.state = StateHalfOpen
	}
	return true, ""
}

// RecordClose feeds one finalized position into the streak accounting.
func (b *Breaker) RecordClose(accountID int64, realizedPnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.account(accountID)
	b.rollDay(s)

	if realizedPnl.IsNegative() {
		s.consecutiveLosses++
		s.dailyLoss = s.dailyLoss.Add(realizedPnl.Abs())
		b.maybeTrip(s)
		return
	}

	s.consecutiveLosses = 0
	if s.state == StateHalfOpen {
		s.state = StateClosed
		s.tripReason = ""
	}
}

// Reset clears the breaker for the account, operator override.
func (b *Breaker) Reset(accountID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.account(accountID)
	s.state = StateClosed
	s.consecutiveLosses = 0
	s.tripReason = ""
}

// StateOf returns the current state for the account.
func (b *Breaker) StateOf(accountID int64) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account(accountID).state
}

func (b *Breaker) account(id int64) *accountState {
	s, ok := b.accounts[id]
	if !ok {
		s = &accountState{
			state:        StateClosed,
			dailyLoss:    decimal.Zero,
			dailyResetAt: nextUTCMidnight(time.Now().UTC()),
		}
		b.accounts[id] = s
	}
	return s
}

func (b *Breaker) maybeTrip(s *accountState) {
	var reason string
	switch {
	case s.consecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		reason = fmt.Sprintf("%d consecutive losing positions", s.consecutiveLosses)
	case b.cfg.MaxDailyLoss.IsPositive() && s.dailyLoss.GreaterThanOrEqual(b.cfg.MaxDailyLoss):
		reason = fmt.Sprintf("daily loss %s reached cap %s", s.dailyLoss, b.cfg.MaxDailyLoss)
	default:
		return
	}
	s.state = StateOpen
	s.trippedAt = time.Now()
	s.tripReason = reason
}

func (b *Breaker) rollDay(s *accountState) {
	now := time.Now().UTC()
	if now.After(s.dailyResetAt) {
		s.dailyLoss = decimal.Zero
		s.dailyResetAt = nextUTCMidnight(now)
	}
}

func nextUTCMidnight(now time.Time) time.Time {
	return now.Truncate(24 * time.Hour).Add(24 * time.Hour)
}
