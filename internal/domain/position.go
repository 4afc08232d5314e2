package domain

import "time"

// PositionState is the lifecycle state of a tracked pool position.
type PositionState string

const (
	PositionStateOpening     PositionState = "opening"
	PositionStateMonitoring  PositionState = "monitoring"
	PositionStateExitPending PositionState = "exit_pending"
	PositionStatePaused      PositionState = "paused"
	PositionStateClosed      PositionState = "closed"
	PositionStateError       PositionState = "error"
)

// TransitionEvent is a trigger that may move a position between states.
type TransitionEvent string

const (
	EventPositionOpened      TransitionEvent = "position_opened"
	EventExitConditionMet    TransitionEvent = "exit_condition_met"
	EventPauseRequested      TransitionEvent = "pause_requested"
	EventResumeRequested     TransitionEvent = "resume_requested"
	EventManualExitRequested TransitionEvent = "manual_exit_requested"
	EventExitCompleted       TransitionEvent = "exit_completed"
	EventErrorOccurred       TransitionEvent = "error_occurred"
	EventErrorRecovered      TransitionEvent = "error_recovered"
)

// PositionContext is the full mutable record for one position. It is owned
// exclusively by a single state machine instance; everything outside that
// instance only ever sees value copies of it.
type PositionContext struct {
	PositionID      string
	TokenAddress    string
	EntryPrice      float64
	Amount          float64
	CurrentPrice    float64
	PnLPercent      float64
	PnLUSD          float64
	EntryTime       time.Time
	LastPriceUpdate time.Time
	ExitReason      string
	// Version increases by exactly one on every successful mutation and
	// never decreases. Readers use it to detect staleness.
	Version uint64
}

// PositionSnapshot pairs a context copy with the state it was observed in,
// for persistence and display.
type PositionSnapshot struct {
	State   PositionState
	Context PositionContext
	TakenAt time.Time
}
