package position

import "github.com/tradekit/snipebot/internal/domain"

// transitions is the static legality table. A (state, event) pair absent
// from the table is an illegal transition and resolves to a no-op.
//
//	OPENING ──position_opened──> MONITORING
//	MONITORING ──exit_condition_met / manual_exit_requested──> EXIT_PENDING
//	MONITORING ──pause_requested──> PAUSED
//	PAUSED ──resume_requested──> MONITORING
//	PAUSED ──manual_exit_requested──> EXIT_PENDING
//	EXIT_PENDING ──exit_completed──> CLOSED
//	any non-terminal ──error_occurred──> ERROR
//	ERROR ──error_recovered──> MONITORING
//
// CLOSED is terminal: no event leads out of it. ERROR exits only through
// an explicit recovery event; ForceState remains the operator escape hatch
// for everything else.
var transitions = map[domain.PositionState]map[domain.TransitionEvent]domain.PositionState{
	domain.PositionStateOpening: {
		domain.EventPositionOpened: domain.PositionStateMonitoring,
		domain.EventErrorOccurred:  domain.PositionStateError,
	},
	domain.PositionStateMonitoring: {
		domain.EventExitConditionMet:    domain.PositionStateExitPending,
		domain.EventManualExitRequested: domain.PositionStateExitPending,
		domain.EventPauseRequested:      domain.PositionStatePaused,
		domain.EventErrorOccurred:       domain.PositionStateError,
	},
	domain.PositionStateExitPending: {
		domain.EventExitCompleted: domain.PositionStateClosed,
		domain.EventErrorOccurred: domain.PositionStateError,
	},
	domain.PositionStatePaused: {
		domain.EventResumeRequested:     domain.PositionStateMonitoring,
		domain.EventManualExitRequested: domain.PositionStateExitPending,
		domain.EventErrorOccurred:       domain.PositionStateError,
	},
	domain.PositionStateError: {
		domain.EventErrorRecovered: domain.PositionStateMonitoring,
	},
}

// NextState resolves the destination state for a (state, event) pair.
// The second return value is false when no legal transition exists.
func NextState(from domain.PositionState, event domain.TransitionEvent) (domain.PositionState, bool) {
	row, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := row[event]
	return to, ok
}
