package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tradekit/snipebot/internal/crypto"
	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/executor"
	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/feed"
	"github.com/tradekit/snipebot/internal/metrics"
	"github.com/tradekit/snipebot/internal/notify"
	"github.com/tradekit/snipebot/internal/platform/dexscan"
	"github.com/tradekit/snipebot/internal/workflow"
)

const (
	// commandChannel is the Redis pub/sub channel carrying operator commands.
	commandChannel = "snipebot:commands"
	// candidateChannel receives new-pool candidates found in watch mode.
	candidateChannel = "snipebot:candidates"
	// watchPollInterval is how often watch mode asks the indexer for new pools.
	watchPollInterval = 30 * time.Second
)

// faultContext builds the capture context for app-level failures.
func faultContext(operation, token string) faults.Context {
	fc := faults.Context{Component: "app", Operation: operation}
	if token != "" {
		fc.Metadata = map[string]string{"token": token}
	}
	return fc
}

// botCommand is the JSON envelope accepted on the command channel.
type botCommand struct {
	Action     string  `json:"action"` // buy, exit, pause, resume, recover
	Token      string  `json:"token,omitempty"`
	PositionID string  `json:"position_id,omitempty"`
	AmountUSD  float64 `json:"amount_usd,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// TradeMode runs the full trading stack: price feed, position monitor,
// command listener, archive flushing, and the metrics endpoint. It blocks
// until ctx is cancelled or a component fails fatally.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, a.cfg.Wallet.ChainID)
	if err != nil {
		return fmt.Errorf("app: build signer: %w", err)
	}
	a.logger.Info("wallet loaded",
		slog.String("address", signer.Address().Hex()),
		slog.Int("chain_id", a.cfg.Wallet.ChainID),
	)

	trader := dexscan.NewTrader(dexscan.TraderConfig{
		SwapURL:    a.cfg.Dexscan.SwapURL,
		QuoteToken: a.cfg.Dexscan.QuoteToken,
	}, deps.Dexscan, signer)

	breaker, ok := deps.Breakers.Get("trading")
	if !ok {
		return errors.New("app: trading breaker not registered")
	}

	exec := executor.New(trader, breaker, a.logger)
	exec.SetCoordination(deps.LockManager, deps.RateLimiter, deps.SignalBus)

	priceFeed := feed.NewPoolFeed(a.cfg.Dexscan.WsURL, deps.PriceCache, a.logger)

	rules := workflow.RuleSet{
		workflow.TakeProfitRule{Pct: a.cfg.Trading.TakeProfitPct},
		workflow.StopLossRule{Pct: a.cfg.Trading.StopLossPct},
		workflow.MaxHoldTimeRule{Max: a.cfg.Trading.MaxHoldTime.Duration},
		workflow.MinLiquidityRule{MinUSD: a.cfg.Trading.MinLiquidityUSD},
	}

	monitor := workflow.NewMonitor(priceFeed.Ticks(), rules, exec, deps.Faults, a.logger)
	monitor.SetPersistence(deps.PositionStore, deps.Archiver)

	if err := a.resumePositions(ctx, monitor, priceFeed, deps); err != nil {
		return err
	}

	commands, err := deps.SignalBus.Subscribe(ctx, commandChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe commands: %w", err)
	}
	events, err := deps.SignalBus.Subscribe(ctx, executor.EventChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe lifecycle events: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return priceFeed.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error {
		return a.commandLoop(gctx, commands, monitor, priceFeed, exec, deps)
	})
	g.Go(func() error { return a.notifyLoop(gctx, events, deps) })
	g.Go(func() error { return a.archiveLoop(gctx, deps.Archiver) })

	if a.cfg.Metrics.Enabled {
		reg := metrics.NewRegistry(metrics.NewBotCollector(monitor, deps.Breakers, deps.Faults))
		g.Go(func() error { return metrics.Serve(gctx, a.cfg.Metrics.Addr, reg, a.logger) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: trade mode: %w", err)
	}
	return nil
}

// resumePositions restores positions that were open when the previous
// process stopped: each one is re-tracked in its persisted state and its
// token re-subscribed on the price feed.
func (a *App) resumePositions(ctx context.Context, monitor *workflow.Monitor, priceFeed *feed.PoolFeed, deps *Dependencies) error {
	snaps, err := deps.PositionStore.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("app: list open positions: %w", err)
	}
	for _, snap := range snaps {
		machine := monitor.Track(snap.Context)
		if snap.State != domain.PositionStateOpening {
			machine.ForceState(snap.State, "restored from store")
		}
		if err := priceFeed.Subscribe(snap.Context.TokenAddress); err != nil {
			a.logger.Warn("resubscribe failed",
				slog.String("token", snap.Context.TokenAddress),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(snaps) > 0 {
		a.logger.Info("resumed open positions", slog.Int("count", len(snaps)))
	}
	return nil
}

// commandLoop consumes operator commands from the signal bus until the
// channel closes or ctx is cancelled. A malformed command is logged and
// skipped, never fatal.
func (a *App) commandLoop(ctx context.Context, commands <-chan []byte, monitor *workflow.Monitor, priceFeed *feed.PoolFeed, exec *executor.Executor, deps *Dependencies) error {
	log := a.logger.With(slog.String("component", "command_loop"))
	log.Info("command loop started", slog.String("channel", commandChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-commands:
			if !ok {
				return nil
			}
			var cmd botCommand
			if err := json.Unmarshal(payload, &cmd); err != nil {
				log.Warn("malformed command", slog.String("error", err.Error()))
				continue
			}
			a.handleCommand(ctx, cmd, monitor, priceFeed, exec, deps, log)
		}
	}
}

// handleCommand dispatches one operator command.
func (a *App) handleCommand(ctx context.Context, cmd botCommand, monitor *workflow.Monitor, priceFeed *feed.PoolFeed, exec *executor.Executor, deps *Dependencies, log *slog.Logger) {
	switch cmd.Action {
	case "buy":
		if cmd.Token == "" {
			log.Warn("buy command without token")
			return
		}
		if err := a.openPosition(ctx, cmd, monitor, priceFeed, exec); err != nil {
			deps.Faults.Capture(err, faultContext("open_position", cmd.Token))
			log.Error("open position failed",
				slog.String("token", cmd.Token),
				slog.String("error", err.Error()),
			)
		}

	case "exit":
		reason := cmd.Reason
		if reason == "" {
			reason = "manual exit"
		}
		if !monitor.RequestManualExit(ctx, cmd.PositionID, reason) {
			log.Warn("manual exit refused", slog.String("position_id", cmd.PositionID))
		}

	case "pause":
		if !monitor.Pause(cmd.PositionID) {
			log.Warn("pause refused", slog.String("position_id", cmd.PositionID))
		}

	case "resume":
		if !monitor.Resume(cmd.PositionID) {
			log.Warn("resume refused", slog.String("position_id", cmd.PositionID))
		}

	case "recover":
		if !monitor.Recover(cmd.PositionID) {
			log.Warn("recover refused", slog.String("position_id", cmd.PositionID))
		}

	default:
		log.Warn("unknown command", slog.String("action", cmd.Action))
	}
}

// openPosition enters a new position: entry swap, track, confirm, subscribe.
func (a *App) openPosition(ctx context.Context, cmd botCommand, monitor *workflow.Monitor, priceFeed *feed.PoolFeed, exec *executor.Executor) error {
	if open := len(monitor.Snapshots()); open >= a.cfg.Trading.MaxPositions {
		return fmt.Errorf("app: position limit reached (%d of %d)", open, a.cfg.Trading.MaxPositions)
	}

	amountUSD := cmd.AmountUSD
	if amountUSD <= 0 {
		amountUSD = a.cfg.Trading.AmountUSD
	}

	positionID := uuid.NewString()
	result, err := exec.Buy(ctx, domain.TradeRequest{
		PositionID:   positionID,
		TokenAddress: cmd.Token,
		Amount:       amountUSD,
		MaxSlippage:  a.cfg.Trading.MaxSlippage,
		Reason:       cmd.Reason,
	})
	if err != nil {
		return fmt.Errorf("app: entry swap %s: %w", cmd.Token, err)
	}
	if result.FilledPrice <= 0 {
		return fmt.Errorf("app: entry swap %s: filled price %g", cmd.Token, result.FilledPrice)
	}

	entryTime := result.FilledAt
	if entryTime.IsZero() {
		entryTime = time.Now()
	}

	monitor.Track(domain.PositionContext{
		PositionID:   positionID,
		TokenAddress: cmd.Token,
		EntryPrice:   result.FilledPrice,
		Amount:       amountUSD / result.FilledPrice,
		CurrentPrice: result.FilledPrice,
		EntryTime:    entryTime,
	})
	monitor.Confirm(positionID)

	if err := priceFeed.Subscribe(cmd.Token); err != nil {
		a.logger.Warn("feed subscribe failed",
			slog.String("token", cmd.Token),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// lifecycleEvent is the envelope the executor publishes on its event channel.
type lifecycleEvent struct {
	Event       string  `json:"event"`
	PositionID  string  `json:"position_id"`
	Token       string  `json:"token"`
	Side        string  `json:"side"`
	Amount      float64 `json:"amount"`
	TxHash      string  `json:"tx_hash"`
	FilledPrice float64 `json:"filled_price"`
	Reason      string  `json:"reason"`
}

// notifyLoop forwards executor lifecycle events to the operator channels.
// Delivery failures are logged by the notifier itself; the loop never fails
// the trade mode.
func (a *App) notifyLoop(ctx context.Context, events <-chan []byte, deps *Dependencies) error {
	log := a.logger.With(slog.String("component", "notify_loop"))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev lifecycleEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				log.Warn("malformed lifecycle event", slog.String("error", err.Error()))
				continue
			}

			var title, message string
			switch ev.Event {
			case notify.EventPositionOpened:
				title = fmt.Sprintf("Position opened: %s", ev.Token)
				message = fmt.Sprintf("Position %s\nToken: %s\nAmount: %.4f\nFilled at: %.6f\nTx: %s",
					ev.PositionID, ev.Token, ev.Amount, ev.FilledPrice, ev.TxHash)
			case notify.EventPositionExited:
				title = fmt.Sprintf("Position exited: %s", ev.Token)
				message = fmt.Sprintf("Position %s\nToken: %s\nAmount: %.4f\nFilled at: %.6f\nReason: %s\nTx: %s",
					ev.PositionID, ev.Token, ev.Amount, ev.FilledPrice, ev.Reason, ev.TxHash)
			default:
				continue
			}

			if err := deps.Notifier.Notify(ctx, ev.Event, title, message); err != nil {
				log.Warn("lifecycle alert delivery failed",
					slog.String("event", ev.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archiveLoop flushes the closed-position archive on a fixed interval and
// once more on shutdown so completed batches are never stranded in memory.
func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.S3.FlushInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := archiver.Flush(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("final archive flush failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := archiver.Flush(ctx); err != nil {
				a.logger.Warn("archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// WatchMode polls the indexer for freshly created pools and publishes
// candidates that clear the liquidity floor. No wallet is required; the mode
// is read-only and safe to run against production endpoints.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	log := a.logger.With(slog.String("component", "pool_watcher"))

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		reg := metrics.NewRegistry(metrics.NewBotCollector(nil, deps.Breakers, deps.Faults))
		g.Go(func() error { return metrics.Serve(gctx, a.cfg.Metrics.Addr, reg, a.logger) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()

		since := time.Now().Add(-watchPollInterval)
		log.Info("pool watcher started",
			slog.Duration("poll_interval", watchPollInterval),
			slog.Float64("min_liquidity_usd", a.cfg.Trading.MinLiquidityUSD),
		)

		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				cutoff := time.Now()
				pools, err := deps.Dexscan.FetchNewPools(gctx, since, 50)
				if err != nil {
					deps.Faults.Capture(err, faultContext("fetch_new_pools", ""))
					log.Warn("new pool fetch failed", slog.String("error", err.Error()))
					continue
				}
				since = cutoff
				for _, pool := range pools {
					a.reportCandidate(gctx, pool, deps, log)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: watch mode: %w", err)
	}
	return nil
}

// reportCandidate logs one new pool and, when it clears the liquidity floor,
// publishes it on the candidate channel for downstream consumers.
func (a *App) reportCandidate(ctx context.Context, pool domain.Pool, deps *Dependencies, log *slog.Logger) {
	log.Info("new pool",
		slog.String("pool", pool.Address),
		slog.String("token", pool.TokenAddress),
		slog.String("symbol", pool.TokenSymbol),
		slog.Float64("liquidity_usd", pool.LiquidityUSD),
		slog.Float64("price_usd", pool.PriceUSD),
	)
	if pool.LiquidityUSD < a.cfg.Trading.MinLiquidityUSD {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"pool":          pool.Address,
		"token":         pool.TokenAddress,
		"symbol":        pool.TokenSymbol,
		"price_usd":     pool.PriceUSD,
		"liquidity_usd": pool.LiquidityUSD,
		"created_at":    pool.CreatedAt,
	})
	if err := deps.SignalBus.Publish(ctx, candidateChannel, payload); err != nil {
		log.Warn("candidate publish failed",
			slog.String("token", pool.TokenAddress),
			slog.String("error", err.Error()),
		)
	}
}
