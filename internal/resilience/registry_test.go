package resilience

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateFirstConfigWins(t *testing.T) {
	r := NewRegistry(slog.Default())

	first := r.GetOrCreate("trading", Config{FailureThreshold: 3, Timeout: time.Second})
	second := r.GetOrCreate("trading", Config{FailureThreshold: 99, Timeout: time.Hour})

	require.Same(t, first, second)
	assert.Equal(t, 3, first.cfg.FailureThreshold)
}

func TestGetOrCreateConcurrentSameName(t *testing.T) {
	r := NewRegistry(slog.Default())

	const n = 32
	results := make([]*Breaker, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("rpc", Config{})
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestHealthAggregation(t *testing.T) {
	r := NewRegistry(slog.Default())

	trading := r.GetOrCreate("trading", Config{})
	r.GetOrCreate("rpc", Config{})
	r.GetOrCreate("signing", Config{})

	h := r.Health()
	assert.Equal(t, Health{TotalBreakers: 3, OpenBreakers: 0, HealthyBreakers: 3, OverallHealthy: true}, h)

	trading.ForceOpen()
	h = r.Health()
	assert.Equal(t, Health{TotalBreakers: 3, OpenBreakers: 1, HealthyBreakers: 2, OverallHealthy: false}, h)
}

func TestByState(t *testing.T) {
	r := NewRegistry(slog.Default())

	r.GetOrCreate("b-rpc", Config{}).ForceOpen()
	r.GetOrCreate("a-trading", Config{}).ForceOpen()
	r.GetOrCreate("signing", Config{})

	open := r.ByState(StateOpen)
	require.Len(t, open, 2)
	assert.Equal(t, "a-trading", open[0].Name())
	assert.Equal(t, "b-rpc", open[1].Name())

	closed := r.ByState(StateClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "signing", closed[0].Name())
}

func TestGet(t *testing.T) {
	r := NewRegistry(slog.Default())
	_, ok := r.Get("missing")
	assert.False(t, ok)

	created := r.GetOrCreate("trading", Config{})
	got, ok := r.Get("trading")
	require.True(t, ok)
	assert.Same(t, created, got)
}
