// Package position implements the concurrency-safe lifecycle state machine
// for a single pool position. One StateMachine instance exclusively owns one
// PositionContext; every mutation runs inside the instance's critical
// section, so readers never observe a partially written context and at most
// one of any set of racing transition requests wins.
package position

import (
	"log/slog"
	"time"

	"github.com/tradekit/snipebot/internal/domain"
)

// Metrics are monotonic per-instance counters. They reset only through
// ResetMetrics, never implicitly.
type Metrics struct {
	Transitions    uint64
	PriceUpdates   uint64
	ContextUpdates uint64
	ContextVersion uint64
	CurrentState   domain.PositionState
}

// StateMachine serializes all state and context mutations for one position.
//
// The critical section is a plain mutex held only for in-memory work, so a
// transition or price update completes in well under a millisecond; no I/O
// ever happens under the lock. Callers that lose a transition race get false
// back and are expected to re-read State() rather than retry blindly.
type StateMachine struct {
	mu       chan struct{} // 1-slot semaphore; see lock/unlock
	state    domain.PositionState
	ctx      domain.PositionContext
	disposed bool

	transitions    uint64
	priceUpdates   uint64
	contextUpdates uint64

	logger *slog.Logger
}

// New creates a StateMachine owning the given context. The machine starts in
// OPENING with version 0; the first successful EventPositionOpened moves it
// to MONITORING.
func New(initial domain.PositionContext, logger *slog.Logger) *StateMachine {
	if initial.EntryTime.IsZero() {
		initial.EntryTime = time.Now().UTC()
	}
	initial.Version = 0

	m := &StateMachine{
		mu:    make(chan struct{}, 1),
		state: domain.PositionStateOpening,
		ctx:   initial,
		logger: logger.With(
			slog.String("component", "position_machine"),
			slog.String("position_id", initial.PositionID),
		),
	}
	return m
}

// lock acquires the critical section. Using a channel rather than sync.Mutex
// keeps the owner explicit: exactly one goroutine holds the slot, everyone
// else queues behind it in acquisition order.
func (m *StateMachine) lock() {
	m.mu <- struct{}{}
	if m.disposed {
		<-m.mu
		panic(domain.ErrMachineDisposed)
	}
}

func (m *StateMachine) unlock() {
	<-m.mu
}

// Transition applies event against the static legality table. It returns
// true when this call won the state change; false means the transition was
// illegal from the state observed inside the critical section, which under
// contention means another caller got there first. A false return mutates
// nothing.
func (m *StateMachine) Transition(event domain.TransitionEvent) bool {
	return m.TransitionWithReason(event, "")
}

// TransitionWithReason is Transition with an exit reason recorded on the
// context when the transition succeeds. An empty reason leaves the existing
// one untouched.
func (m *StateMachine) TransitionWithReason(event domain.TransitionEvent, reason string) bool {
	m.lock()
	defer m.unlock()

	next, ok := NextState(m.state, event)
	if !ok {
		// Lost the race or plain illegal; the caller re-reads state.
		return false
	}

	from := m.state
	m.state = next
	if reason != "" {
		m.ctx.ExitReason = reason
		m.contextUpdates++
	}
	m.ctx.Version++
	m.transitions++

	m.logger.Debug("state transition",
		slog.String("from", string(from)),
		slog.String("to", string(next)),
		slog.String("event", string(event)),
		slog.Uint64("version", m.ctx.Version),
	)
	return true
}

// UpdatePrice stores a new observed price and recomputes the derived PnL
// fields in the same critical section, so a reader can never pair one call's
// price with another call's PnL.
func (m *StateMachine) UpdatePrice(price float64) {
	m.lock()
	defer m.unlock()

	m.ctx.CurrentPrice = price
	if m.ctx.EntryPrice != 0 {
		m.ctx.PnLPercent = (price - m.ctx.EntryPrice) / m.ctx.EntryPrice * 100
	}
	m.ctx.PnLUSD = (price - m.ctx.EntryPrice) * m.ctx.Amount
	m.ctx.LastPriceUpdate = time.Now().UTC()
	m.ctx.Version++
	m.priceUpdates++
	m.contextUpdates++
}

// ForceState bypasses the legality table. It still runs through the critical
// section, so it cannot interleave with a concurrent legal transition. Meant
// for operator intervention (e.g. pulling a position out of ERROR).
func (m *StateMachine) ForceState(state domain.PositionState, reason string) {
	m.lock()
	defer m.unlock()

	from := m.state
	m.state = state
	m.ctx.Version++
	m.transitions++

	m.logger.Warn("state forced",
		slog.String("from", string(from)),
		slog.String("to", string(state)),
		slog.String("reason", reason),
	)
}

// State returns the current lifecycle state.
func (m *StateMachine) State() domain.PositionState {
	m.lock()
	defer m.unlock()
	return m.state
}

// Context returns a copy of the position context. Mutating the returned
// value has no effect on the machine.
func (m *StateMachine) Context() domain.PositionContext {
	m.lock()
	defer m.unlock()
	return m.ctx
}

// Snapshot returns the state and context observed atomically together.
func (m *StateMachine) Snapshot() domain.PositionSnapshot {
	m.lock()
	defer m.unlock()
	return domain.PositionSnapshot{
		State:   m.state,
		Context: m.ctx,
		TakenAt: time.Now().UTC(),
	}
}

// Metrics returns a copy of the per-instance counters.
func (m *StateMachine) Metrics() Metrics {
	m.lock()
	defer m.unlock()
	return Metrics{
		Transitions:    m.transitions,
		PriceUpdates:   m.priceUpdates,
		ContextUpdates: m.contextUpdates,
		ContextVersion: m.ctx.Version,
		CurrentState:   m.state,
	}
}

// ResetMetrics zeroes the counters. The context version is not a counter and
// is left alone.
func (m *StateMachine) ResetMetrics() {
	m.lock()
	defer m.unlock()
	m.transitions = 0
	m.priceUpdates = 0
	m.contextUpdates = 0
}

// Close marks the machine disposed. Any subsequent call on a disposed
// machine panics with domain.ErrMachineDisposed: using a torn-down instance
// is a programming error, not a runtime condition to recover from.
// Close is idempotent.
func (m *StateMachine) Close() {
	m.mu <- struct{}{}
	m.disposed = true
	<-m.mu
}
