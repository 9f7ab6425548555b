package notification

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name      string
	delivered []*Notification
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Deliver(ctx context.Context, n *Notification) error {
	r.delivered = append(r.delivered, n)
	return nil
}

func TestDedupKeyIsStableAndDistinct(t *testing.T) {
	a := dedupKeyFor(LevelError, "stop filled", "BTC/USDT")
	b := dedupKeyFor(LevelError, "stop filled", "BTC/USDT")
	c := dedupKeyFor(LevelError, "stop filled", "ETH/USDT")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestSinksForRoutesGroups(t *testing.T) {
	s := NewService(nil, zerolog.Nop())
	info := &recordingSink{name: "info-sink"}
	errs := &recordingSink{name: "error-sink"}
	s.Subscribe(LevelInfo, info)
	s.Subscribe(LevelError, errs)

	require.Len(t, s.sinksFor(LevelInfo), 1)
	require.Len(t, s.sinksFor(LevelError), 1)
	// Warns fall back to the error group when no warn group exists.
	require.Len(t, s.sinksFor(LevelWarn), 1)
	assert.Equal(t, "error-sink", s.sinksFor(LevelWarn)[0].Name())
}

func TestEmptySinkConstructors(t *testing.T) {
	assert.Nil(t, NewTelegramSink("", "chat"))
	assert.Nil(t, NewTelegramSink("token", ""))
	assert.Nil(t, NewDiscordSink(""))
	assert.NotNil(t, NewDiscordSink("https://discord.test/webhook"))
}
