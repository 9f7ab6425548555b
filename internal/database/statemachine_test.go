package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from PositionStatus
		to   PositionStatus
		ok   bool
	}{
		{StatusNew, StatusOpening, true},
		{StatusOpening, StatusActive, true},
		{StatusActive, StatusSyncing, true},
		{StatusSyncing, StatusActive, true},
		{StatusActive, StatusWaping, true},
		{StatusWaping, StatusActive, true},
		{StatusActive, StatusClosing, true},
		{StatusClosing, StatusClosed, true},
		{StatusNew, StatusCancelling, true},
		{StatusCancelling, StatusCancelled, true},
		{StatusActive, StatusFailed, true},

		// An operator cancel lands regardless of which busy state the
		// position is passing through.
		{StatusSyncing, StatusCancelling, true},
		{StatusWaping, StatusCancelling, true},
		{StatusWatching, StatusCancelling, true},

		{StatusNew, StatusActive, false},
		{StatusClosed, StatusActive, false},
		{StatusCancelled, StatusOpening, false},
		{StatusFailed, StatusActive, false},
		{StatusClosing, StatusActive, false},
		{StatusWaping, StatusSyncing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusClosed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
	assert.False(t, StatusNew.IsTerminal())
}

func TestBusyStatuses(t *testing.T) {
	assert.True(t, StatusOpening.IsBusy())
	assert.True(t, StatusWaping.IsBusy())
	assert.False(t, StatusActive.IsBusy())
	assert.False(t, StatusClosed.IsBusy())
}
