package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/resilience"
)

type scriptedTrader struct {
	calls int
	errs  []error
}

func (s *scriptedTrader) Swap(_ context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.TradeResult{}, err
		}
	}
	return domain.TradeResult{TxHash: "0xdead", FilledPrice: 1.23, FilledAt: time.Now()}, nil
}

type memBus struct {
	published [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published = append(b.published, payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

type stubLimiter struct {
	allowed bool
}

func (s stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return s.allowed, nil
}

type stubLocks struct {
	held bool
}

func (s stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if s.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func newTestExecutor(trader Trader, cfg resilience.Config) *Executor {
	b := resilience.New("trading", cfg, slog.Default())
	return New(trader, b, slog.Default())
}

func sellReq() domain.TradeRequest {
	return domain.TradeRequest{PositionID: "pos-1", TokenAddress: "0xabc", Amount: 1000, Reason: "take_profit"}
}

func TestSellPublishesLifecycleEvent(t *testing.T) {
	trader := &scriptedTrader{}
	e := newTestExecutor(trader, resilience.Config{})
	bus := &memBus{}
	e.SetCoordination(nil, nil, bus)

	result, err := e.Sell(context.Background(), sellReq())
	require.NoError(t, err)
	assert.Equal(t, "0xdead", result.TxHash)

	require.Len(t, bus.published, 1)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.published[0], &evt))
	assert.Equal(t, "position_exited", evt["event"])
	assert.Equal(t, "pos-1", evt["position_id"])
	assert.Equal(t, "sell", evt["side"])
}

func TestBuySetsSideAndEvent(t *testing.T) {
	trader := &scriptedTrader{}
	e := newTestExecutor(trader, resilience.Config{})
	bus := &memBus{}
	e.SetCoordination(nil, nil, bus)

	_, err := e.Buy(context.Background(), domain.TradeRequest{PositionID: "pos-2", TokenAddress: "0xabc", Amount: 50})
	require.NoError(t, err)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.published[0], &evt))
	assert.Equal(t, "position_opened", evt["event"])
	assert.Equal(t, "buy", evt["side"])
}

func TestRepeatedFailuresOpenBreakerAndFailFast(t *testing.T) {
	trader := &scriptedTrader{errs: []error{errors.New("rpc down"), errors.New("rpc down"), errors.New("rpc down")}}
	e := newTestExecutor(trader, resilience.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute, MonitoringPeriod: time.Minute})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := e.Sell(ctx, sellReq())
		require.Error(t, err)
	}

	// Breaker open: the trader must not be invoked again.
	_, err := e.Sell(ctx, sellReq())
	var openErr *resilience.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 3, trader.calls)
}

func TestRateLimitedSwapIsRejected(t *testing.T) {
	trader := &scriptedTrader{}
	e := newTestExecutor(trader, resilience.Config{})
	e.SetCoordination(nil, stubLimiter{allowed: false}, nil)

	_, err := e.Sell(context.Background(), sellReq())
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Zero(t, trader.calls)
}

func TestHeldExitLockBlocksSell(t *testing.T) {
	trader := &scriptedTrader{}
	e := newTestExecutor(trader, resilience.Config{})
	e.SetCoordination(stubLocks{held: true}, nil, nil)

	_, err := e.Sell(context.Background(), sellReq())
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, trader.calls)
}
