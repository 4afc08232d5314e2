// Package resilience provides a circuit breaker that protects trade-affecting
// operations from cascading failures. One Breaker guards one logical
// operation class ("trading", "rpc", ...) for the life of the process; the
// Registry owns the named instances.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's resilience state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls the breaker's thresholds and timing.
type Config struct {
	// FailureThreshold is the number of failures within MonitoringPeriod
	// that trips a CLOSED breaker to OPEN.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive HALF_OPEN successes
	// required to close the breaker again.
	SuccessThreshold int
	// Timeout is how long an OPEN breaker rejects requests before letting
	// a probe through in HALF_OPEN.
	Timeout time.Duration
	// MonitoringPeriod is the rolling window for counting CLOSED failures.
	MonitoringPeriod time.Duration
}

// DefaultConfig returns conservative defaults suitable for RPC-backed trade
// operations.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = d.MonitoringPeriod
	}
	return c
}

// OpenError is returned by Execute when the breaker rejects a request
// without invoking the operation. Callers distinguish it from "the operation
// ran and failed" with errors.As.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("resilience: circuit %q open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// Stats is a point-in-time copy of the breaker's counters.
type Stats struct {
	Name                 string
	State                State
	TotalRequests        uint64
	TotalFailures        uint64
	TotalSuccesses       uint64
	RejectedRequests     uint64
	WindowFailures       int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	OpenedAt             time.Time
}

// StateChangeFunc observes breaker state changes. Callbacks run outside the
// breaker's critical section and must not block for long.
type StateChangeFunc func(name string, from, to State)

// Breaker is a per-operation-class circuit breaker. All methods are safe for
// concurrent use; counter mutation and state transitions happen inside one
// small critical section.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          State
	windowStart    time.Time
	windowFailures int
	consecSuccess  int
	lastFailure    time.Time
	openedAt       time.Time

	totalRequests  uint64
	totalFailures  uint64
	totalSuccesses uint64
	rejected       uint64

	onChange []StateChangeFunc

	logger *slog.Logger
	now    func() time.Time // injectable clock for tests
}

// New creates a CLOSED breaker with the given name and config. Zero config
// fields fall back to DefaultConfig.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		state:  StateClosed,
		logger: logger.With(slog.String("component", "circuit_breaker"), slog.String("breaker", name)),
		now:    time.Now,
	}
}

// Name returns the breaker's registered name.
func (b *Breaker) Name() string { return b.name }

// OnStateChange registers a callback fired on every state change, including
// forced ones.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	b.onChange = append(b.onChange, fn)
	b.mu.Unlock()
}

// Execute runs op under the breaker's protection.
//
// If the breaker is OPEN and the cooldown has not elapsed, Execute returns
// *OpenError without invoking op. If the cooldown has elapsed it moves to
// HALF_OPEN and lets op through as a probe. The operation's outcome is
// recorded against whatever state the breaker is in when the operation
// completes: a slow call that resolves after the breaker has re-opened is
// counted but cannot close the breaker early.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	b.mu.Lock()
	b.totalRequests++

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.Timeout {
			b.rejected++
			retryAfter := b.cfg.Timeout - elapsed
			b.mu.Unlock()
			return &OpenError{Name: b.name, RetryAfter: retryAfter}
		}
		changes := b.setStateLocked(StateHalfOpen)
		b.consecSuccess = 0
		b.mu.Unlock()
		b.fire(changes)
	} else {
		b.mu.Unlock()
	}

	err := op(ctx)

	b.mu.Lock()
	var changes []stateChange
	if err != nil {
		changes = b.recordFailureLocked()
	} else {
		changes = b.recordSuccessLocked()
	}
	b.mu.Unlock()
	b.fire(changes)

	return err
}

// Allow reports whether a request submitted now would be let through. It
// does not mutate state; the OPEN→HALF_OPEN move happens inside Execute.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	return b.now().Sub(b.openedAt) >= b.cfg.Timeout
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                 b.name,
		State:                b.state,
		TotalRequests:        b.totalRequests,
		TotalFailures:        b.totalFailures,
		TotalSuccesses:       b.totalSuccesses,
		RejectedRequests:     b.rejected,
		WindowFailures:       b.windowFailures,
		ConsecutiveSuccesses: b.consecSuccess,
		LastFailure:          b.lastFailure,
		OpenedAt:             b.openedAt,
	}
}

// ForceOpen trips the breaker regardless of counters. Operator/test override.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	b.openedAt = b.now()
	changes := b.setStateLocked(StateOpen)
	b.mu.Unlock()
	b.fire(changes)
}

// ForceClose resets the breaker to CLOSED and clears the failure window.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	b.windowFailures = 0
	b.consecSuccess = 0
	changes := b.setStateLocked(StateClosed)
	b.mu.Unlock()
	b.fire(changes)
}

// recordFailureLocked applies a failed outcome. Caller holds b.mu.
func (b *Breaker) recordFailureLocked() []stateChange {
	now := b.now()
	b.totalFailures++
	b.lastFailure = now

	switch b.state {
	case StateHalfOpen:
		// A single probe failure reopens immediately.
		b.openedAt = now
		return b.setStateLocked(StateOpen)

	case StateClosed:
		if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.cfg.MonitoringPeriod {
			b.windowStart = now
			b.windowFailures = 0
		}
		b.windowFailures++
		if b.windowFailures >= b.cfg.FailureThreshold {
			b.openedAt = now
			return b.setStateLocked(StateOpen)
		}

	case StateOpen:
		// Late completion of an in-flight op; bookkeeping only.
	}
	return nil
}

// recordSuccessLocked applies a successful outcome. Caller holds b.mu.
func (b *Breaker) recordSuccessLocked() []stateChange {
	b.totalSuccesses++

	switch b.state {
	case StateHalfOpen:
		b.consecSuccess++
		if b.consecSuccess >= b.cfg.SuccessThreshold {
			b.windowFailures = 0
			b.windowStart = time.Time{}
			return b.setStateLocked(StateClosed)
		}

	case StateClosed:
		// A success ends the failure streak in the current window.
		b.windowFailures = 0
		b.windowStart = time.Time{}

	case StateOpen:
		// Late completion after the breaker opened; must not reclose it.
	}
	return nil
}

type stateChange struct {
	from, to State
}

// setStateLocked swaps the state and returns the change to be fired after
// the critical section is released. Caller holds b.mu.
func (b *Breaker) setStateLocked(to State) []stateChange {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	b.logger.Info("breaker state change",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return []stateChange{{from: from, to: to}}
}

// fire invokes registered callbacks outside the critical section, so a
// callback calling back into the breaker cannot deadlock.
func (b *Breaker) fire(changes []stateChange) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	callbacks := make([]StateChangeFunc, len(b.onChange))
	copy(callbacks, b.onChange)
	b.mu.Unlock()

	for _, ch := range changes {
		for _, fn := range callbacks {
			fn(b.name, ch.from, ch.to)
		}
	}
}
