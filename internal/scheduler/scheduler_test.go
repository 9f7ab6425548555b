package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martingalian/internal/database"
	"martingalian/internal/num"
)

type recordingNotifier struct {
	level, title, message string
	accountID             *int64
	sends                 int
}

func (r *recordingNotifier) Send(_ context.Context, level, title, message string, accountID *int64) error {
	r.level, r.title, r.message, r.accountID = level, title, message, accountID
	r.sends++
	return nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "@every 30s", cfg.TickSpec)
	assert.True(t, cfg.SpikeThresholdPct.Equal(num.MustParse("5")))
	assert.Equal(t, 4*time.Hour, cfg.Cooldown)
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	s := New(nil, nil, nil, nil, zerolog.Nop(), Config{})
	assert.Equal(t, DefaultConfig().TickSpec, s.cfg.TickSpec)
}

func TestMarkFresh(t *testing.T) {
	s := New(nil, nil, nil, nil, zerolog.Nop(), DefaultConfig())

	assert.False(t, s.markFresh(&database.ExchangeSymbol{}), "no mark at all")

	old := time.Now().Add(-10 * time.Minute)
	assert.False(t, s.markFresh(&database.ExchangeSymbol{MarkPriceUpdatedAt: &old}))

	fresh := time.Now().Add(-5 * time.Second)
	assert.True(t, s.markFresh(&database.ExchangeSymbol{MarkPriceUpdatedAt: &fresh}))
}

func TestNotifyCooldownAlertsOperator(t *testing.T) {
	s := New(nil, nil, nil, nil, zerolog.Nop(), DefaultConfig())
	sink := &recordingNotifier{}
	s.Notifier = sink

	symbol := &database.ExchangeSymbol{Exchange: "binance", ParsedPair: "DOGEUSDT"}
	until := time.Date(2026, 8, 24, 18, 0, 0, 0, time.UTC)
	s.notifyCooldown(context.Background(), symbol, num.MustParse("7.50"), until)

	require.Equal(t, 1, sink.sends)
	assert.Equal(t, "warn", sink.level)
	assert.Equal(t, "pump cooldown", sink.title)
	assert.Contains(t, sink.message, "DOGEUSDT")
	assert.Contains(t, sink.message, "7.50")
	assert.Nil(t, sink.accountID)
}

func TestNotifyCooldownNoNotifierIsQuiet(t *testing.T) {
	s := New(nil, nil, nil, nil, zerolog.Nop(), DefaultConfig())
	symbol := &database.ExchangeSymbol{Exchange: "binance", ParsedPair: "DOGEUSDT"}
	s.notifyCooldown(context.Background(), symbol, num.MustParse("7.50"), time.Now())
}
