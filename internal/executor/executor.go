// Package executor submits pool swaps under the protection of the trading
// circuit breaker. It never crashes on a failing venue: repeated failures
// open the breaker and later calls surface a typed circuit-open error that
// callers treat as a trade failure.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/resilience"
)

// Trader performs the actual swap against the DEX, typically via the indexer
// client plus the wallet signer.
type Trader interface {
	Swap(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
}

// rpcRateKey is the shared rate-limit bucket for swap submissions.
const rpcRateKey = "rpc:swap"

// EventChannel is the signal-bus channel carrying lifecycle events.
const EventChannel = "positions"

// Executor coordinates swap submission: distributed per-position locking,
// RPC rate limiting, circuit-breaker protection, and lifecycle event
// publication.
type Executor struct {
	trader  Trader
	breaker *resilience.Breaker
	logger  *slog.Logger

	locks   domain.LockManager // optional
	limiter domain.RateLimiter // optional
	bus     domain.SignalBus   // optional

	rpcLimit  int
	rpcWindow time.Duration
	lockTTL   time.Duration
}

// New creates an Executor whose swaps run through the given breaker.
func New(trader Trader, breaker *resilience.Breaker, logger *slog.Logger) *Executor {
	return &Executor{
		trader:    trader,
		breaker:   breaker,
		logger:    logger.With(slog.String("component", "executor")),
		rpcLimit:  10,
		rpcWindow: time.Second,
		lockTTL:   30 * time.Second,
	}
}

// SetCoordination attaches the optional distributed coordination pieces:
// per-position exit locks, an RPC rate limiter, and the lifecycle event bus.
// Must be called before the executor is shared across goroutines.
func (e *Executor) SetCoordination(locks domain.LockManager, limiter domain.RateLimiter, bus domain.SignalBus) {
	e.locks = locks
	e.limiter = limiter
	e.bus = bus
}

// Buy enters a position: one protected swap, then a "position_opened" event.
func (e *Executor) Buy(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	req.Side = domain.TradeSideBuy
	result, err := e.submit(ctx, req)
	if err != nil {
		return domain.TradeResult{}, err
	}
	e.publish(ctx, "position_opened", req, result)
	return result, nil
}

// Sell exits a position. A distributed lock on the position ID keeps two bot
// instances from racing the same exit.
func (e *Executor) Sell(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	req.Side = domain.TradeSideSell

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "exit:"+req.PositionID, e.lockTTL)
		if err != nil {
			return domain.TradeResult{}, fmt.Errorf("executor: exit lock %s: %w", req.PositionID, err)
		}
		defer unlock()
	}

	result, err := e.submit(ctx, req)
	if err != nil {
		return domain.TradeResult{}, err
	}
	e.publish(ctx, "position_exited", req, result)
	return result, nil
}

// submit runs one swap through the rate limiter and the circuit breaker.
func (e *Executor) submit(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	log := e.logger.With(
		slog.String("position_id", req.PositionID),
		slog.String("token", req.TokenAddress),
		slog.String("side", string(req.Side)),
	)

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, rpcRateKey, e.rpcLimit, e.rpcWindow)
		if err != nil {
			// A broken limiter must not block trading; log and continue.
			log.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return domain.TradeResult{}, fmt.Errorf("executor: swap throttled: %w", domain.ErrRateLimited)
		}
	}

	var result domain.TradeResult
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		r, swapErr := e.trader.Swap(ctx, req)
		if swapErr != nil {
			return swapErr
		}
		result = r
		return nil
	})
	if err != nil {
		log.Error("swap failed", slog.String("error", err.Error()))
		return domain.TradeResult{}, err
	}

	log.Info("swap submitted",
		slog.String("tx_hash", result.TxHash),
		slog.Float64("filled_price", result.FilledPrice),
	)
	return result, nil
}

// publish emits a lifecycle event as a JSON envelope. Publication failures
// are logged, never fatal: the bus is observability, not correctness.
func (e *Executor) publish(ctx context.Context, event string, req domain.TradeRequest, result domain.TradeResult) {
	if e.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":        event,
		"position_id":  req.PositionID,
		"token":        req.TokenAddress,
		"side":         string(req.Side),
		"amount":       req.Amount,
		"tx_hash":      result.TxHash,
		"filled_price": result.FilledPrice,
		"reason":       req.Reason,
	})
	if err := e.bus.Publish(ctx, EventChannel, payload); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
