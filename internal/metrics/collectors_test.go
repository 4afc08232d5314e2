package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/resilience"
)

type stubPositions struct {
	snaps []domain.PositionSnapshot
}

func (s *stubPositions) Snapshots() []domain.PositionSnapshot { return s.snaps }

type stubBreakers struct {
	stats  []resilience.Stats
	health resilience.Health
}

func (s *stubBreakers) AllStats() []resilience.Stats { return s.stats }
func (s *stubBreakers) Health() resilience.Health    { return s.health }

type stubFaults struct {
	m faults.Metrics
}

func (s *stubFaults) Metrics() faults.Metrics { return s.m }

func TestCollectorReportsAllSources(t *testing.T) {
	positions := &stubPositions{snaps: []domain.PositionSnapshot{
		{
			State: domain.PositionStateMonitoring,
			Context: domain.PositionContext{
				PositionID:   "p1",
				TokenAddress: "0xabc",
				PnLUSD:       125.5,
				Version:      7,
			},
			TakenAt: time.Now(),
		},
		{
			State:   domain.PositionStateExitPending,
			Context: domain.PositionContext{PositionID: "p2", TokenAddress: "0xdef"},
		},
	}}
	breakers := &stubBreakers{
		stats: []resilience.Stats{{
			Name:             "trading",
			State:            resilience.StateOpen,
			TotalRequests:    10,
			TotalFailures:    5,
			RejectedRequests: 3,
		}},
		health: resilience.Health{TotalBreakers: 1, OpenBreakers: 1},
	}
	errs := &stubFaults{m: faults.Metrics{
		TotalErrors:   9,
		RetryEligible: 6,
		ActiveErrors:  2,
		ByComponent:   map[string]uint64{"executor": 4, "feed": 5},
	}}

	collector := NewBotCollector(positions, breakers, errs)

	expected := `
		# HELP snipebot_breaker_state Circuit breaker state (0=closed, 1=open, 2=half_open)
		# TYPE snipebot_breaker_state gauge
		snipebot_breaker_state{breaker="trading"} 1
		# HELP snipebot_breakers_healthy 1 when no breaker is open, 0 otherwise
		# TYPE snipebot_breakers_healthy gauge
		snipebot_breakers_healthy 0
		# HELP snipebot_errors_active Captured errors not yet resolved
		# TYPE snipebot_errors_active gauge
		snipebot_errors_active 2
		# HELP snipebot_errors_total Total errors captured by the error handler
		# TYPE snipebot_errors_total counter
		snipebot_errors_total 9
		# HELP snipebot_position_pnl_usd Unrealized PnL in USD per tracked position
		# TYPE snipebot_position_pnl_usd gauge
		snipebot_position_pnl_usd{position_id="p1",token="0xabc"} 125.5
		snipebot_position_pnl_usd{position_id="p2",token="0xdef"} 0
		# HELP snipebot_positions Number of tracked positions by lifecycle state
		# TYPE snipebot_positions gauge
		snipebot_positions{state="exit_pending"} 1
		snipebot_positions{state="monitoring"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"snipebot_breaker_state",
		"snipebot_breakers_healthy",
		"snipebot_errors_active",
		"snipebot_errors_total",
		"snipebot_position_pnl_usd",
		"snipebot_positions",
	))
}

func TestCollectorToleratesNilSources(t *testing.T) {
	collector := NewBotCollector(nil, nil, nil)
	require.Zero(t, testutil.CollectAndCount(collector))
}
