package steps

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martingalian/internal/jobs"
)

func newTestEngine(cfg Config) *Engine {
	return New(&jobs.Deps{Logger: zerolog.Nop()}, jobs.NewRegistry(), cfg)
}

func TestDefaultsAppliedToZeroConfig(t *testing.T) {
	e := newTestEngine(Config{})
	assert.Equal(t, 1, e.cfg.Workers)
	assert.Equal(t, 500*time.Millisecond, e.cfg.PollInterval)
	assert.Equal(t, 1, e.cfg.PerAccountSlots)
}

func TestAcquireSlotBoundsAccountConcurrency(t *testing.T) {
	e := newTestEngine(Config{PerAccountSlots: 2})
	ctx := context.Background()

	first := e.acquireSlot(ctx, 7)
	require.NotNil(t, first)
	second := e.acquireSlot(ctx, 7)
	require.NotNil(t, second)

	// Third acquisition blocks until a slot frees.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Nil(t, e.acquireSlot(blocked, 7))

	first()
	third := e.acquireSlot(ctx, 7)
	require.NotNil(t, third)
	second()
	third()
}

func TestAcquireSlotIsPerAccount(t *testing.T) {
	e := newTestEngine(Config{PerAccountSlots: 1})
	ctx := context.Background()

	a := e.acquireSlot(ctx, 1)
	require.NotNil(t, a)

	// A different account does not contend with the first.
	b := e.acquireSlot(ctx, 2)
	require.NotNil(t, b)
	a()
	b()
}

func TestAcquireSlotHonorsCancellation(t *testing.T) {
	e := newTestEngine(Config{PerAccountSlots: 1})
	held := e.acquireSlot(context.Background(), 3)
	require.NotNil(t, held)
	defer held()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan func(), 1)
	go func() { done <- e.acquireSlot(ctx, 3) }()
	cancel()

	select {
	case release := <-done:
		assert.Nil(t, release)
	case <-time.After(time.Second):
		t.Fatal("acquireSlot did not observe cancellation")
	}
}
