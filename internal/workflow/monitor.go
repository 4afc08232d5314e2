// Package workflow coordinates the position lifecycle: it consumes price
// ticks, drives the per-position state machines, evaluates exit rules, and
// hands exits to the trade executor. The state machines own all shared
// mutable position state; the monitor only ever works with snapshots and
// transition requests, so a concurrent manual exit and a rule-triggered exit
// resolve to exactly one winner.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/position"
	"github.com/tradekit/snipebot/internal/resilience"
)

// TradeExecutor submits exit swaps. Implemented by internal/executor, which
// wraps the call in the trading circuit breaker.
type TradeExecutor interface {
	Sell(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
}

// Monitor owns the set of live position state machines and runs the
// tick → update → evaluate → transition loop.
type Monitor struct {
	ticks  <-chan domain.PriceTick
	rules  RuleSet
	exec   TradeExecutor
	faults *faults.Handler
	logger *slog.Logger

	mu       sync.RWMutex
	machines map[string]*position.StateMachine // position ID -> machine
	byToken  map[string][]string               // token address -> position IDs
	exiting  map[string]bool                   // position IDs with a sell in flight

	store         domain.PositionStore // optional
	archiver      domain.Archiver      // optional
	flushInterval time.Duration
}

// NewMonitor creates a Monitor consuming ticks from the given channel.
func NewMonitor(ticks <-chan domain.PriceTick, rules RuleSet, exec TradeExecutor, fh *faults.Handler, logger *slog.Logger) *Monitor {
	return &Monitor{
		ticks:         ticks,
		rules:         rules,
		exec:          exec,
		faults:        fh,
		logger:        logger.With(slog.String("component", "position_monitor")),
		machines:      make(map[string]*position.StateMachine),
		byToken:       make(map[string][]string),
		exiting:       make(map[string]bool),
		flushInterval: 15 * time.Second,
	}
}

// SetPersistence attaches the snapshot store and the closed-position
// archiver. Either may be nil. Must be called before Run.
func (m *Monitor) SetPersistence(store domain.PositionStore, archiver domain.Archiver) {
	m.store = store
	m.archiver = archiver
}

// Track registers a freshly opened position. The machine starts in OPENING;
// the caller confirms the open with Confirm once the entry swap settles.
func (m *Monitor) Track(initial domain.PositionContext) *position.StateMachine {
	machine := position.New(initial, m.logger)

	m.mu.Lock()
	m.machines[initial.PositionID] = machine
	m.byToken[initial.TokenAddress] = append(m.byToken[initial.TokenAddress], initial.PositionID)
	m.mu.Unlock()

	m.logger.Info("position tracked",
		slog.String("position_id", initial.PositionID),
		slog.String("token", initial.TokenAddress),
		slog.Float64("entry_price", initial.EntryPrice),
		slog.Float64("amount", initial.Amount),
	)
	return machine
}

// Confirm marks a position's entry swap as settled, moving it to MONITORING.
func (m *Monitor) Confirm(positionID string) bool {
	machine, ok := m.machine(positionID)
	if !ok {
		return false
	}
	return machine.Transition(domain.EventPositionOpened)
}

// RequestManualExit asks for an operator-driven exit. It returns false when
// the position is unknown or the machine refused the transition (already
// exiting, closed, or errored).
func (m *Monitor) RequestManualExit(ctx context.Context, positionID, reason string) bool {
	machine, ok := m.machine(positionID)
	if !ok {
		return false
	}
	if !machine.TransitionWithReason(domain.EventManualExitRequested, reason) {
		return false
	}
	m.executeExit(ctx, machine)
	return true
}

// Pause suspends exit evaluation for a position.
func (m *Monitor) Pause(positionID string) bool {
	machine, ok := m.machine(positionID)
	if !ok {
		return false
	}
	return machine.Transition(domain.EventPauseRequested)
}

// Resume returns a paused position to MONITORING.
func (m *Monitor) Resume(positionID string) bool {
	machine, ok := m.machine(positionID)
	if !ok {
		return false
	}
	return machine.Transition(domain.EventResumeRequested)
}

// Recover returns an errored position to MONITORING once the operator has
// resolved the underlying fault.
func (m *Monitor) Recover(positionID string) bool {
	machine, ok := m.machine(positionID)
	if !ok {
		return false
	}
	return machine.Transition(domain.EventErrorRecovered)
}

// Snapshot returns the current snapshot for a position.
func (m *Monitor) Snapshot(positionID string) (domain.PositionSnapshot, bool) {
	machine, ok := m.machine(positionID)
	if !ok {
		return domain.PositionSnapshot{}, false
	}
	return machine.Snapshot(), true
}

// Snapshots returns a snapshot of every tracked position. Used by the
// metrics collector and the watch-mode status dump.
func (m *Monitor) Snapshots() []domain.PositionSnapshot {
	m.mu.RLock()
	machines := make([]*position.StateMachine, 0, len(m.machines))
	for _, machine := range m.machines {
		machines = append(machines, machine)
	}
	m.mu.RUnlock()

	snaps := make([]domain.PositionSnapshot, 0, len(machines))
	for _, machine := range machines {
		snaps = append(snaps, machine.Snapshot())
	}
	return snaps
}

// Run consumes ticks until ctx is cancelled. A periodic flush persists every
// live snapshot so a crash loses at most one flush interval of context.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("position monitor started")
	defer m.logger.Info("position monitor stopped")

	flush := time.NewTicker(m.flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flushAll(context.WithoutCancel(ctx))
			return ctx.Err()

		case tick, okCh := <-m.ticks:
			if !okCh {
				return nil
			}
			m.handleTick(ctx, tick)

		case <-flush.C:
			m.flushAll(ctx)
		}
	}
}

// handleTick routes one price observation to every position on that token.
func (m *Monitor) handleTick(ctx context.Context, tick domain.PriceTick) {
	m.mu.RLock()
	ids := append([]string(nil), m.byToken[tick.TokenAddress]...)
	m.mu.RUnlock()

	for _, id := range ids {
		machine, ok := m.machine(id)
		if !ok {
			continue
		}
		switch machine.State() {
		case domain.PositionStateMonitoring:
			machine.UpdatePrice(tick.PriceUSD)
			pctx := machine.Context()
			reason, exit := m.rules.Evaluate(pctx, tick)
			if !exit {
				continue
			}
			// The transition is the race arbiter: a concurrent manual exit
			// or a second tick may have won already.
			if machine.TransitionWithReason(domain.EventExitConditionMet, reason) {
				m.executeExit(ctx, machine)
			}

		case domain.PositionStateExitPending:
			// A previous exit attempt failed recoverably; try again.
			machine.UpdatePrice(tick.PriceUSD)
			m.executeExit(ctx, machine)
		}
	}
}

// executeExit submits the exit swap and settles the machine's final state.
// Recoverable failures (including circuit-open fail-fast) leave the machine
// in EXIT_PENDING for a later retry; unrecoverable ones park it in ERROR.
func (m *Monitor) executeExit(ctx context.Context, machine *position.StateMachine) {
	pctx := machine.Context()

	// One sell in flight per position: a tick-driven retry must not double
	// a manual exit's swap.
	m.mu.Lock()
	if m.exiting[pctx.PositionID] {
		m.mu.Unlock()
		return
	}
	m.exiting[pctx.PositionID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.exiting, pctx.PositionID)
		m.mu.Unlock()
	}()

	log := m.logger.With(slog.String("position_id", pctx.PositionID))

	result, err := m.exec.Sell(ctx, domain.TradeRequest{
		PositionID:   pctx.PositionID,
		TokenAddress: pctx.TokenAddress,
		Side:         domain.TradeSideSell,
		Amount:       pctx.Amount,
		Reason:       pctx.ExitReason,
	})
	if err != nil {
		e := m.faults.Capture(err, faults.Context{
			Component: "executor",
			Operation: "sell",
			Metadata:  map[string]string{"position_id": pctx.PositionID},
		})

		var openErr *resilience.OpenError
		if errors.As(err, &openErr) || e.Recoverable {
			log.Warn("exit attempt failed, will retry",
				slog.String("error", err.Error()),
			)
			return
		}

		machine.Transition(domain.EventErrorOccurred)
		m.persist(ctx, machine)
		return
	}

	if machine.Transition(domain.EventExitCompleted) {
		log.Info("position closed",
			slog.String("tx_hash", result.TxHash),
			slog.Float64("filled_price", result.FilledPrice),
			slog.Float64("pnl_usd", pctx.PnLUSD),
			slog.String("reason", pctx.ExitReason),
		)
		m.persist(ctx, machine)
		m.retire(machine)
	}
}

// retire archives a closed position and removes it from the live set.
func (m *Monitor) retire(machine *position.StateMachine) {
	snap := machine.Snapshot()
	if m.archiver != nil {
		m.archiver.Add(snap)
	}

	m.mu.Lock()
	delete(m.machines, snap.Context.PositionID)
	ids := m.byToken[snap.Context.TokenAddress]
	for i, id := range ids {
		if id == snap.Context.PositionID {
			m.byToken[snap.Context.TokenAddress] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
}

// persist writes one machine's snapshot through the store, if configured.
func (m *Monitor) persist(ctx context.Context, machine *position.StateMachine) {
	if m.store == nil {
		return
	}
	snap := machine.Snapshot()
	if err := m.store.Save(ctx, snap); err != nil {
		m.faults.Capture(err, faults.Context{
			Component: "store",
			Operation: "save_snapshot",
			Metadata:  map[string]string{"position_id": snap.Context.PositionID},
		})
	}
}

// flushAll persists every live snapshot.
func (m *Monitor) flushAll(ctx context.Context) {
	m.mu.RLock()
	machines := make([]*position.StateMachine, 0, len(m.machines))
	for _, machine := range m.machines {
		machines = append(machines, machine)
	}
	m.mu.RUnlock()

	for _, machine := range machines {
		m.persist(ctx, machine)
	}
}

func (m *Monitor) machine(positionID string) (*position.StateMachine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[positionID]
	return machine, ok
}
