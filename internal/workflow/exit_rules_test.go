package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tradekit/snipebot/internal/domain"
)

func ctxWithPnL(pct float64) domain.PositionContext {
	return domain.PositionContext{
		PositionID: "pos-1",
		EntryPrice: 100,
		Amount:     1000,
		PnLPercent: pct,
		EntryTime:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTakeProfitRule(t *testing.T) {
	r := TakeProfitRule{Pct: 20}

	_, exit := r.Evaluate(ctxWithPnL(19.9), domain.PriceTick{})
	assert.False(t, exit)

	reason, exit := r.Evaluate(ctxWithPnL(20), domain.PriceTick{})
	assert.True(t, exit)
	assert.Contains(t, reason, "take_profit")
}

func TestStopLossRule(t *testing.T) {
	r := StopLossRule{Pct: 10}

	_, exit := r.Evaluate(ctxWithPnL(-9.9), domain.PriceTick{})
	assert.False(t, exit)

	reason, exit := r.Evaluate(ctxWithPnL(-10), domain.PriceTick{})
	assert.True(t, exit)
	assert.Contains(t, reason, "stop_loss")
}

func TestMaxHoldTimeRule(t *testing.T) {
	entry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := domain.PositionContext{EntryTime: entry}

	r := MaxHoldTimeRule{
		Max: time.Hour,
		Now: func() time.Time { return entry.Add(59 * time.Minute) },
	}
	_, exit := r.Evaluate(ctx, domain.PriceTick{})
	assert.False(t, exit)

	r.Now = func() time.Time { return entry.Add(time.Hour) }
	reason, exit := r.Evaluate(ctx, domain.PriceTick{})
	assert.True(t, exit)
	assert.Contains(t, reason, "max_hold_time")
}

func TestMinLiquidityRule(t *testing.T) {
	r := MinLiquidityRule{MinUSD: 5000}

	_, exit := r.Evaluate(domain.PositionContext{}, domain.PriceTick{LiquidityUSD: 5000})
	assert.False(t, exit)

	reason, exit := r.Evaluate(domain.PositionContext{}, domain.PriceTick{LiquidityUSD: 4999})
	assert.True(t, exit)
	assert.Contains(t, reason, "min_liquidity")

	// Zero liquidity means the indexer had no data, not an empty pool.
	_, exit = r.Evaluate(domain.PositionContext{}, domain.PriceTick{LiquidityUSD: 0})
	assert.False(t, exit)
}

func TestRuleSetFirstMatchWins(t *testing.T) {
	rs := RuleSet{
		StopLossRule{Pct: 10},
		TakeProfitRule{Pct: 0.0001},
	}

	// Both would fire on a deep loss only if stop loss were skipped; the
	// ordering makes stop loss win.
	reason, exit := rs.Evaluate(ctxWithPnL(-50), domain.PriceTick{})
	assert.True(t, exit)
	assert.Contains(t, reason, "stop_loss")
}

func TestDisabledRulesNeverFire(t *testing.T) {
	rs := RuleSet{
		TakeProfitRule{},
		StopLossRule{},
		MaxHoldTimeRule{},
		MinLiquidityRule{},
	}
	_, exit := rs.Evaluate(ctxWithPnL(1000), domain.PriceTick{LiquidityUSD: 1})
	assert.False(t, exit)
}
