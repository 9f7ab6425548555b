package circuit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func loss(s string) decimal.Decimal { return decimal.RequireFromString(s).Neg() }

func TestAllowsByDefault(t *testing.T) {
	b := New(DefaultConfig())
	ok, reason := b.Allow(1)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestTripsOnConsecutiveLosses(t *testing.T) {
	b := New(Config{MaxConsecutiveLosses: 3, Cooldown: time.Hour})

	b.RecordClose(1, loss("10"))
	b.RecordClose(1, loss("10"))
	ok, _ := b.Allow(1)
	assert.True(t, ok, "two losses stay under the cap")

	b.RecordClose(1, loss("10"))
	ok, reason := b.Allow(1)
	assert.False(t, ok)
	assert.Contains(t, reason, "consecutive")
	assert.Equal(t, StateOpen, b.StateOf(1))
}

func TestWinResetsStreak(t *testing.T) {
	b := New(Config{MaxConsecutiveLosses: 3, Cooldown: time.Hour})

	b.RecordClose(1, loss("10"))
	b.RecordClose(1, loss("10"))
	b.RecordClose(1, decimal.RequireFromString("5"))
	b.RecordClose(1, loss("10"))
	b.RecordClose(1, loss("10"))

	ok, _ := b.Allow(1)
	assert.True(t, ok)
}

func TestTripsOnDailyLoss(t *testing.T) {
	b := New(Config{
		MaxConsecutiveLosses: 100,
		MaxDailyLoss:         decimal.RequireFromString("50"),
		Cooldown:             time.Hour,
	})

	b.RecordClose(1, loss("30"))
	ok, _ := b.Allow(1)
	assert.True(t, ok)

	b.RecordClose(1, decimal.RequireFromString("1"))
	b.RecordClose(1, loss("25"))
	ok, reason := b.Allow(1)
	assert.False(t, ok, "daily loss survives a winning close in between")
	assert.Contains(t, reason, "daily loss")
}

func TestHalfOpenAfterCooldownThenWinCloses(t *testing.T) {
	b := New(Config{MaxConsecutiveLosses: 1, Cooldown: time.Millisecond})

	b.RecordClose(1, loss("10"))
	assert.Equal(t, StateOpen, b.StateOf(1))

	time.Sleep(5 * time.Millisecond)
	ok, _ := b.Allow(1)
	assert.True(t, ok)
	assert.Equal(t, StateHalfOpen, b.StateOf(1))

	b.RecordClose(1, decimal.RequireFromString("2"))
	assert.Equal(t, StateClosed, b.StateOf(1))
}

func TestAccountsAreIndependent(t *testing.T) {
	b := New(Config{MaxConsecutiveLosses: 1, Cooldown: time.Hour})

	b.RecordClose(1, loss("10"))
	ok, _ := b.Allow(1)
	assert.False(t, ok)

	ok, _ = b.Allow(2)
	assert.True(t, ok)
}

func TestOperatorReset(t *testing.T) {
	b := New(Config{MaxConsecutiveLosses: 1, Cooldown: time.Hour})

	b.RecordClose(1, loss("10"))
	b.Reset(1)
	ok, _ := b.Allow(1)
	assert.True(t, ok)
}
