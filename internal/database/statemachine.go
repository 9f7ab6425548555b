package database

// PositionStatus is the lifecycle state of a position row.
type PositionStatus string

const (
	// StatusNew: row created, nothing sent to the exchange yet.
	StatusNew PositionStatus = "new"
	// StatusOpening: the open workflow is placing leverage, market entry,
	// ladder, TP and SL.
	StatusOpening PositionStatus = "opening"
	// StatusActive: fully armed and resting.
	StatusActive PositionStatus = "active"
	// StatusSyncing: a periodic reconciliation against exchange state is
	// running.
	StatusSyncing PositionStatus = "syncing"
	// StatusWaping: a rung filled; the WAP and TP are being recalculated.
	StatusWaping PositionStatus = "waping"
	// StatusWatching: drift was detected and a corrective workflow is
	// rewriting orders.
	StatusWatching PositionStatus = "watching"
	// StatusClosing: TP or SL filled (or an operator close); residuals are
	// being cleaned up.
	StatusClosing PositionStatus = "closing"
	// StatusClosed: terminal, position flat and orders gone.
	StatusClosed PositionStatus = "closed"
	// StatusCancelling: an unfilled ladder is being withdrawn.
	StatusCancelling PositionStatus = "cancelling"
	// StatusCancelled: terminal, withdrawn before any fill.
	StatusCancelled PositionStatus = "cancelled"
	// StatusFailed: terminal, requires operator attention.
	StatusFailed PositionStatus = "failed"
)

// positionTransitions is the full transition table. Anything absent is
// rejected before SQL runs.
var positionTransitions = map[PositionStatus][]PositionStatus{
	StatusNew:        {StatusOpening, StatusCancelling, StatusFailed},
	StatusOpening:    {StatusActive, StatusCancelling, StatusFailed},
	StatusActive:     {StatusSyncing, StatusWaping, StatusWatching, StatusClosing, StatusCancelling, StatusFailed},
	StatusSyncing:    {StatusActive, StatusWaping, StatusWatching, StatusClosing, StatusCancelling, StatusFailed},
	StatusWaping:     {StatusActive, StatusClosing, StatusCancelling, StatusFailed},
	StatusWatching:   {StatusActive, StatusClosing, StatusCancelling, StatusFailed},
	StatusClosing:    {StatusClosed, StatusFailed},
	StatusCancelling: {StatusCancelled, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to PositionStatus) bool {
	for _, allowed := range positionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further transitions.
func (s PositionStatus) IsTerminal() bool {
	return len(positionTransitions[s]) == 0
}

// IsBusy reports whether a workflow currently owns the position; busy
// positions are skipped by the scheduler tick.
func (s PositionStatus) IsBusy() bool {
	switch s {
	case StatusOpening, StatusSyncing, StatusWaping, StatusWatching, StatusClosing, StatusCancelling:
		return true
	}
	return false
}
