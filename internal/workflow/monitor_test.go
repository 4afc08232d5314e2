package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/resilience"
)

// fakeExecutor records sell requests and returns scripted outcomes.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []domain.TradeRequest
	errs     []error // consumed in order; nil entries mean success
}

func (f *fakeExecutor) Sell(_ context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err != nil {
		return domain.TradeResult{}, err
	}
	return domain.TradeResult{TxHash: "0xfill", FilledPrice: req.Amount, FilledAt: time.Now()}, nil
}

func (f *fakeExecutor) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type memStore struct {
	mu    sync.Mutex
	saved []domain.PositionSnapshot
}

func (s *memStore) Save(_ context.Context, snap domain.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func (s *memStore) GetByID(context.Context, string) (domain.PositionSnapshot, error) {
	return domain.PositionSnapshot{}, domain.ErrNotFound
}

func (s *memStore) ListByState(context.Context, domain.PositionState) ([]domain.PositionSnapshot, error) {
	return nil, nil
}

func (s *memStore) ListOpen(context.Context) ([]domain.PositionSnapshot, error) {
	return nil, nil
}

func newTestMonitor(rules RuleSet, exec TradeExecutor) *Monitor {
	fh := faults.NewHandler(nil, 10, slog.Default())
	return NewMonitor(nil, rules, exec, fh, slog.Default())
}

func trackOne(m *Monitor) domain.PositionContext {
	pctx := domain.PositionContext{
		PositionID:   "pos-1",
		TokenAddress: "0xabc",
		EntryPrice:   100,
		Amount:       1000,
		CurrentPrice: 100,
	}
	m.Track(pctx)
	m.Confirm(pctx.PositionID)
	return pctx
}

func TestTickDrivesTakeProfitExit(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestMonitor(RuleSet{TakeProfitRule{Pct: 10}}, exec)
	store := &memStore{}
	m.SetPersistence(store, nil)
	pctx := trackOne(m)

	// Below threshold: no exit.
	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 105})
	require.Zero(t, exec.sellCount())

	// At threshold: exit fires, position closes and is retired.
	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 110})
	require.Equal(t, 1, exec.sellCount())

	_, tracked := m.Snapshot(pctx.PositionID)
	assert.False(t, tracked, "closed position must be retired")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.saved)
	last := store.saved[len(store.saved)-1]
	assert.Equal(t, domain.PositionStateClosed, last.State)
	assert.Contains(t, last.Context.ExitReason, "take_profit")
}

func TestRecoverableSellFailureRetriesNextTick(t *testing.T) {
	exec := &fakeExecutor{errs: []error{errors.New("rpc timeout"), nil}}
	m := newTestMonitor(RuleSet{StopLossRule{Pct: 5}}, exec)
	pctx := trackOne(m)

	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 90})
	require.Equal(t, 1, exec.sellCount())

	snap, ok := m.Snapshot(pctx.PositionID)
	require.True(t, ok)
	assert.Equal(t, domain.PositionStateExitPending, snap.State)

	// Next tick retries the pending exit and succeeds.
	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 89})
	require.Equal(t, 2, exec.sellCount())
	_, tracked := m.Snapshot(pctx.PositionID)
	assert.False(t, tracked)
}

func TestCircuitOpenLeavesExitPending(t *testing.T) {
	exec := &fakeExecutor{errs: []error{&resilience.OpenError{Name: "trading", RetryAfter: time.Second}}}
	m := newTestMonitor(RuleSet{StopLossRule{Pct: 5}}, exec)
	pctx := trackOne(m)

	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 90})

	snap, ok := m.Snapshot(pctx.PositionID)
	require.True(t, ok)
	assert.Equal(t, domain.PositionStateExitPending, snap.State, "circuit open is a retryable trade failure, not a crash")
}

func TestUnrecoverableSellFailureParksInError(t *testing.T) {
	exec := &fakeExecutor{errs: []error{errors.New("CRITICAL: wallet key unusable")}}
	m := newTestMonitor(RuleSet{StopLossRule{Pct: 5}}, exec)
	pctx := trackOne(m)

	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 90})

	snap, ok := m.Snapshot(pctx.PositionID)
	require.True(t, ok)
	assert.Equal(t, domain.PositionStateError, snap.State)
}

func TestManualExit(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestMonitor(nil, exec)
	pctx := trackOne(m)

	require.True(t, m.RequestManualExit(context.Background(), pctx.PositionID, "operator close"))
	assert.Equal(t, 1, exec.sellCount())
	assert.Equal(t, "operator close", exec.requests[0].Reason)

	// Already closed and retired.
	assert.False(t, m.RequestManualExit(context.Background(), pctx.PositionID, "again"))
}

func TestPauseBlocksEvaluation(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestMonitor(RuleSet{TakeProfitRule{Pct: 1}}, exec)
	pctx := trackOne(m)

	require.True(t, m.Pause(pctx.PositionID))
	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 200})
	assert.Zero(t, exec.sellCount())

	require.True(t, m.Resume(pctx.PositionID))
	m.handleTick(context.Background(), domain.PriceTick{TokenAddress: pctx.TokenAddress, PriceUSD: 200})
	assert.Equal(t, 1, exec.sellCount())
}

func TestUnknownPositionOperations(t *testing.T) {
	m := newTestMonitor(nil, &fakeExecutor{})

	assert.False(t, m.Confirm("ghost"))
	assert.False(t, m.Pause("ghost"))
	assert.False(t, m.Resume("ghost"))
	assert.False(t, m.RequestManualExit(context.Background(), "ghost", "x"))
	_, ok := m.Snapshot("ghost")
	assert.False(t, ok)
}
