// Package metrics exposes bot internals to Prometheus. The collector pulls
// point-in-time snapshots from the position monitor, the breaker registry,
// and the error handler at scrape time, so nothing in the hot path touches
// a metric directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradekit/snipebot/internal/domain"
	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/resilience"
)

// PositionSource provides snapshots of all tracked positions.
type PositionSource interface {
	Snapshots() []domain.PositionSnapshot
}

// BreakerSource provides breaker stats and aggregate health.
type BreakerSource interface {
	AllStats() []resilience.Stats
	Health() resilience.Health
}

// FaultSource provides error-handler counters.
type FaultSource interface {
	Metrics() faults.Metrics
}

// stateValue maps a breaker state to a numeric gauge value.
func stateValue(s resilience.State) float64 {
	switch s {
	case resilience.StateClosed:
		return 0
	case resilience.StateOpen:
		return 1
	case resilience.StateHalfOpen:
		return 2
	}
	return -1
}

// BotCollector implements prometheus.Collector over the bot's live
// components. Any source may be nil, in which case its metrics are skipped.
type BotCollector struct {
	positions PositionSource
	breakers  BreakerSource
	errors    FaultSource

	positionsByState *prometheus.Desc
	positionPnLUSD   *prometheus.Desc
	positionVersion  *prometheus.Desc
	breakerState     *prometheus.Desc
	breakerRequests  *prometheus.Desc
	breakerFailures  *prometheus.Desc
	breakerRejected  *prometheus.Desc
	breakersHealthy  *prometheus.Desc
	errorsTotal      *prometheus.Desc
	errorsRetryable  *prometheus.Desc
	errorsActive     *prometheus.Desc
	errorsByComp     *prometheus.Desc
}

// NewBotCollector creates a collector over the given sources.
func NewBotCollector(positions PositionSource, breakers BreakerSource, errors FaultSource) *BotCollector {
	return &BotCollector{
		positions: positions,
		breakers:  breakers,
		errors:    errors,

		positionsByState: prometheus.NewDesc(
			"snipebot_positions",
			"Number of tracked positions by lifecycle state",
			[]string{"state"}, nil,
		),
		positionPnLUSD: prometheus.NewDesc(
			"snipebot_position_pnl_usd",
			"Unrealized PnL in USD per tracked position",
			[]string{"position_id", "token"}, nil,
		),
		positionVersion: prometheus.NewDesc(
			"snipebot_position_context_version",
			"Monotonic context version per tracked position",
			[]string{"position_id"}, nil,
		),
		breakerState: prometheus.NewDesc(
			"snipebot_breaker_state",
			"Circuit breaker state (0=closed, 1=open, 2=half_open)",
			[]string{"breaker"}, nil,
		),
		breakerRequests: prometheus.NewDesc(
			"snipebot_breaker_requests_total",
			"Total requests seen by the breaker",
			[]string{"breaker"}, nil,
		),
		breakerFailures: prometheus.NewDesc(
			"snipebot_breaker_failures_total",
			"Total failed requests seen by the breaker",
			[]string{"breaker"}, nil,
		),
		breakerRejected: prometheus.NewDesc(
			"snipebot_breaker_rejected_total",
			"Requests rejected while the circuit was open",
			[]string{"breaker"}, nil,
		),
		breakersHealthy: prometheus.NewDesc(
			"snipebot_breakers_healthy",
			"1 when no breaker is open, 0 otherwise",
			nil, nil,
		),
		errorsTotal: prometheus.NewDesc(
			"snipebot_errors_total",
			"Total errors captured by the error handler",
			nil, nil,
		),
		errorsRetryable: prometheus.NewDesc(
			"snipebot_errors_retryable_total",
			"Captured errors classified as retry-eligible",
			nil, nil,
		),
		errorsActive: prometheus.NewDesc(
			"snipebot_errors_active",
			"Captured errors not yet resolved",
			nil, nil,
		),
		errorsByComp: prometheus.NewDesc(
			"snipebot_errors_by_component_total",
			"Captured errors per component",
			[]string{"component"}, nil,
		),
	}
}

var _ prometheus.Collector = (*BotCollector)(nil)

// Describe implements prometheus.Collector.
func (c *BotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.positionsByState
	ch <- c.positionPnLUSD
	ch <- c.positionVersion
	ch <- c.breakerState
	ch <- c.breakerRequests
	ch <- c.breakerFailures
	ch <- c.breakerRejected
	ch <- c.breakersHealthy
	ch <- c.errorsTotal
	ch <- c.errorsRetryable
	ch <- c.errorsActive
	ch <- c.errorsByComp
}

// Collect implements prometheus.Collector.
func (c *BotCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectPositions(ch)
	c.collectBreakers(ch)
	c.collectErrors(ch)
}

func (c *BotCollector) collectPositions(ch chan<- prometheus.Metric) {
	if c.positions == nil {
		return
	}

	byState := make(map[domain.PositionState]int)
	for _, snap := range c.positions.Snapshots() {
		byState[snap.State]++

		ch <- prometheus.MustNewConstMetric(
			c.positionPnLUSD,
			prometheus.GaugeValue,
			snap.Context.PnLUSD,
			snap.Context.PositionID, snap.Context.TokenAddress,
		)
		ch <- prometheus.MustNewConstMetric(
			c.positionVersion,
			prometheus.GaugeValue,
			float64(snap.Context.Version),
			snap.Context.PositionID,
		)
	}

	for state, count := range byState {
		ch <- prometheus.MustNewConstMetric(
			c.positionsByState,
			prometheus.GaugeValue,
			float64(count),
			string(state),
		)
	}
}

func (c *BotCollector) collectBreakers(ch chan<- prometheus.Metric) {
	if c.breakers == nil {
		return
	}

	for _, stats := range c.breakers.AllStats() {
		ch <- prometheus.MustNewConstMetric(
			c.breakerState, prometheus.GaugeValue, stateValue(stats.State), stats.Name)
		ch <- prometheus.MustNewConstMetric(
			c.breakerRequests, prometheus.CounterValue, float64(stats.TotalRequests), stats.Name)
		ch <- prometheus.MustNewConstMetric(
			c.breakerFailures, prometheus.CounterValue, float64(stats.TotalFailures), stats.Name)
		ch <- prometheus.MustNewConstMetric(
			c.breakerRejected, prometheus.CounterValue, float64(stats.RejectedRequests), stats.Name)
	}

	health := c.breakers.Health()
	healthy := 0.0
	if health.OverallHealthy {
		healthy = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.breakersHealthy, prometheus.GaugeValue, healthy)
}

func (c *BotCollector) collectErrors(ch chan<- prometheus.Metric) {
	if c.errors == nil {
		return
	}

	m := c.errors.Metrics()
	ch <- prometheus.MustNewConstMetric(c.errorsTotal, prometheus.CounterValue, float64(m.TotalErrors))
	ch <- prometheus.MustNewConstMetric(c.errorsRetryable, prometheus.CounterValue, float64(m.RetryEligible))
	ch <- prometheus.MustNewConstMetric(c.errorsActive, prometheus.GaugeValue, float64(m.ActiveErrors))
	for component, count := range m.ByComponent {
		ch <- prometheus.MustNewConstMetric(
			c.errorsByComp, prometheus.CounterValue, float64(count), component)
	}
}
