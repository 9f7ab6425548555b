package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConcatenatedPair(t *testing.T) {
	tests := []struct {
		pair    string
		token   string
		quote   string
		wantErr bool
	}{
		{pair: "BTCUSDT", token: "BTC", quote: "USDT"},
		{pair: "ethusdt", token: "ETH", quote: "USDT"},
		{pair: "SOLUSDC", token: "SOL", quote: "USDC"},
		{pair: "XBTUSD", token: "XBT", quote: "USD"},
		{pair: "USDT", wantErr: true},
		{pair: "???", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			got, err := ParseConcatenatedPair(tt.pair)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Symbol{Token: tt.token, Quote: tt.quote}, got)
		})
	}
}

func TestParseDelimitedPair(t *testing.T) {
	got, err := ParseDelimitedPair("BTC-USDT", "-")
	require.NoError(t, err)
	assert.Equal(t, Symbol{Token: "BTC", Quote: "USDT"}, got)

	_, err = ParseDelimitedPair("BTCUSDT", "-")
	require.Error(t, err)
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		wire string
		want OrderStatus
	}{
		{"NEW", StatusNew},
		{"Untriggered", StatusNew},
		{"Triggered", StatusNew},
		{"live", StatusNew},
		{"PartiallyFilled", StatusPartiallyFilled},
		{"PARTIALLY_FILLED", StatusPartiallyFilled},
		{"Filled", StatusFilled},
		{"Cancelled", StatusCancelled},
		{"Canceled", StatusCancelled},
		{"Deactivated", StatusCancelled},
		{"Rejected", StatusRejected},
		{"Expired", StatusExpired},
		{"NOT_FOUND", StatusNotFound},
		{"something-new", StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStatus(tt.wire), "wire %q", tt.wire)
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.True(t, StatusNew.IsWorking())
	assert.True(t, StatusPartiallyFilled.IsWorking())
	assert.False(t, StatusFilled.IsWorking())

	assert.True(t, StatusFilled.IsTerminal())
	assert.True(t, StatusExpired.IsTerminal())
	assert.False(t, StatusNew.IsTerminal())
	assert.False(t, StatusNotFound.IsTerminal())
}

func TestPositionKey(t *testing.T) {
	assert.Equal(t, "BTCUSDT:LONG", PositionKey("BTCUSDT", PositionLong, true))
	assert.Equal(t, "BTCUSDT", PositionKey("BTCUSDT", PositionLong, false))
}

func TestAPIErrorClassification(t *testing.T) {
	err := &APIError{Exchange: "binance", Endpoint: "/fapi/v1/order", StatusCode: 429, Kind: KindRateLimited}
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsTransient(err))

	err = &APIError{Exchange: "bybit", Endpoint: "/v5/order/create", StatusCode: 502, Kind: KindTransient}
	assert.True(t, IsTransient(err))

	err = &APIError{Exchange: "kraken", Endpoint: "/sendorder", StatusCode: 401, Kind: KindAuth}
	assert.True(t, IsAuthFailure(err))

	assert.Equal(t, KindRateLimited, ClassifyHTTP(429))
	assert.Equal(t, KindRateLimited, ClassifyHTTP(418))
	assert.Equal(t, KindTransient, ClassifyHTTP(503))
	assert.Equal(t, KindAuth, ClassifyHTTP(401))
	assert.Equal(t, KindInvalidRequest, ClassifyHTTP(400))
}

func TestRateLimiterReservesWeight(t *testing.T) {
	rl := NewRateLimiter(10, map[string]int{"/heavy": 6})

	ctx := context.Background()
	require.NoError(t, rl.Wait(ctx, "/heavy"))
	require.NoError(t, rl.Wait(ctx, "/light")) // default weight 1

	// Next heavy call would exceed the window; a cancelled context returns
	// instead of blocking for the reset.
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := rl.Wait(shortCtx, "/heavy")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterCircuit(t *testing.T) {
	rl := NewRateLimiter(100, nil)
	rl.RecordRateLimitError(time.Now().Add(time.Minute))
	assert.True(t, rl.CircuitOpen())

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, rl.Wait(shortCtx, "/any"))
}
