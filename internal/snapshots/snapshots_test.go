package snapshots

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martingalian/internal/exchange"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "snapshot:markprice:binance:BTCUSDT", markPriceKey("binance", "BTCUSDT"))
	assert.Equal(t, "snapshot:balance:7", balanceKey(7))
	assert.Equal(t, "snapshot:positions:7", positionsKey(7))
}

func TestMarkPriceEntryRoundTrip(t *testing.T) {
	in := markPriceEntry{
		Price:      decimal.RequireFromString("64250.10"),
		CapturedAt: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out markPriceEntry
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, in.Price.Equal(out.Price))
	assert.True(t, in.CapturedAt.Equal(out.CapturedAt))
}

func TestPositionsEntryKeepsAdapterKeys(t *testing.T) {
	in := positionsEntry{
		Positions: map[string]exchange.PositionInfo{
			"BTCUSDT:LONG": {
				PositionSide: exchange.PositionLong,
				Amount:       decimal.RequireFromString("0.5"),
				EntryPrice:   decimal.RequireFromString("64000"),
			},
		},
		CapturedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out positionsEntry
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Contains(t, out.Positions, "BTCUSDT:LONG")
	assert.True(t, out.Positions["BTCUSDT:LONG"].Amount.Equal(decimal.RequireFromString("0.5")))
}

func TestDefaultTTL(t *testing.T) {
	s := New(nil, 0)
	assert.Equal(t, 2*time.Minute, s.ttl)
}

func TestMutexKeyLayout(t *testing.T) {
	assert.Equal(t, "mutex:position:42", mutexKey(42))
}

func TestMutexDefaultTTL(t *testing.T) {
	m := NewPositionMutex(nil, 0)
	assert.Equal(t, 30*time.Second, m.ttl)
}
