package workflow

import (
	"fmt"
	"time"

	"github.com/tradekit/snipebot/internal/domain"
)

// ExitRule decides whether a monitored position should be exited. Evaluate
// receives the freshly updated context and the tick that triggered the
// evaluation; it returns a human-readable reason when the rule fires.
type ExitRule interface {
	Name() string
	Evaluate(ctx domain.PositionContext, tick domain.PriceTick) (reason string, exit bool)
}

// RuleSet evaluates rules in order; the first rule that fires wins.
type RuleSet []ExitRule

// Evaluate runs the rules in order and returns the first firing rule's
// reason.
func (rs RuleSet) Evaluate(ctx domain.PositionContext, tick domain.PriceTick) (string, bool) {
	for _, r := range rs {
		if reason, exit := r.Evaluate(ctx, tick); exit {
			return reason, true
		}
	}
	return "", false
}

// TakeProfitRule exits once unrealized PnL reaches Pct percent.
type TakeProfitRule struct {
	Pct float64
}

func (r TakeProfitRule) Name() string { return "take_profit" }

func (r TakeProfitRule) Evaluate(ctx domain.PositionContext, _ domain.PriceTick) (string, bool) {
	if r.Pct <= 0 || ctx.PnLPercent < r.Pct {
		return "", false
	}
	return fmt.Sprintf("take_profit: pnl %.2f%% >= %.2f%%", ctx.PnLPercent, r.Pct), true
}

// StopLossRule exits once unrealized PnL falls to -Pct percent.
type StopLossRule struct {
	Pct float64
}

func (r StopLossRule) Name() string { return "stop_loss" }

func (r StopLossRule) Evaluate(ctx domain.PositionContext, _ domain.PriceTick) (string, bool) {
	if r.Pct <= 0 || ctx.PnLPercent > -r.Pct {
		return "", false
	}
	return fmt.Sprintf("stop_loss: pnl %.2f%% <= -%.2f%%", ctx.PnLPercent, r.Pct), true
}

// MaxHoldTimeRule exits positions held longer than Max.
type MaxHoldTimeRule struct {
	Max time.Duration
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (r MaxHoldTimeRule) Name() string { return "max_hold_time" }

func (r MaxHoldTimeRule) Evaluate(ctx domain.PositionContext, _ domain.PriceTick) (string, bool) {
	if r.Max <= 0 {
		return "", false
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	held := now().Sub(ctx.EntryTime)
	if held < r.Max {
		return "", false
	}
	return fmt.Sprintf("max_hold_time: held %s >= %s", held.Round(time.Second), r.Max), true
}

// MinLiquidityRule exits when the pool's liquidity drops below MinUSD,
// before an emptying pool makes the position unsellable.
type MinLiquidityRule struct {
	MinUSD float64
}

func (r MinLiquidityRule) Name() string { return "min_liquidity" }

func (r MinLiquidityRule) Evaluate(_ domain.PositionContext, tick domain.PriceTick) (string, bool) {
	if r.MinUSD <= 0 || tick.LiquidityUSD <= 0 || tick.LiquidityUSD >= r.MinUSD {
		return "", false
	}
	return fmt.Sprintf("min_liquidity: pool %.0f USD < %.0f USD", tick.LiquidityUSD, r.MinUSD), true
}
