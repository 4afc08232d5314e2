package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// fakeClock lets tests advance the breaker's notion of time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *fakeClock) {
	t.Helper()
	b := New("trading", cfg, slog.Default())
	clock := newFakeClock()
	b.now = clock.Now
	return b, clock
}

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestOpensAfterFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	// The 4th call is rejected without invoking the operation.
	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "trading", openErr.Name)
	assert.False(t, invoked)
	assert.Equal(t, uint64(1), b.Stats().RejectedRequests)
}

func TestTimeoutAllowsHalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	require.Equal(t, StateOpen, b.State())

	clock.Advance(10 * time.Second)
	require.True(t, b.Allow())

	// First probe succeeds, but a single success is below SuccessThreshold.
	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 5 * time.Second, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	clock.Advance(5 * time.Second)
	require.Error(t, b.Execute(ctx, fail)) // probe fails
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestClosedSuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	require.Error(t, b.Execute(ctx, fail))
	require.NoError(t, b.Execute(ctx, ok))
	require.Error(t, b.Execute(ctx, fail))
	require.Error(t, b.Execute(ctx, fail))

	// Streak was broken; two more failures are not enough to trip.
	assert.Equal(t, StateClosed, b.State())
}

func TestFailuresOutsideMonitoringPeriodDoNotAccumulate(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Second, MonitoringPeriod: 30 * time.Second})
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, fail))
	clock.Advance(31 * time.Second)
	require.Error(t, b.Execute(ctx, fail))

	assert.Equal(t, StateClosed, b.State(), "stale failure must not count toward the threshold")
}

func TestLateSuccessDoesNotRecloseOpenBreaker(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	// Slow operation enters while the breaker is still CLOSED.
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Breaker opens while the slow op is in flight.
	require.Error(t, b.Execute(ctx, fail))
	require.Equal(t, StateOpen, b.State())

	close(release)
	require.NoError(t, <-done)

	// The late success was recorded but did not reclose the breaker.
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, uint64(1), b.Stats().TotalSuccesses)
}

func TestForceOverrides(t *testing.T) {
	b, _ := newTestBreaker(t, Config{})

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	b.ForceClose()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestStateChangeNotifications(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []stateChange
	b.OnStateChange(func(name string, from, to State) {
		mu.Lock()
		seen = append(seen, stateChange{from: from, to: to})
		mu.Unlock()
	})

	require.Error(t, b.Execute(ctx, fail))
	clock.Advance(time.Second)
	require.NoError(t, b.Execute(ctx, ok))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []stateChange{
		{from: StateClosed, to: StateOpen},
		{from: StateOpen, to: StateHalfOpen},
		{from: StateHalfOpen, to: StateClosed},
	}, seen)
}

func TestConcurrentExecutesKeepCountersConsistent(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 1000, SuccessThreshold: 1, Timeout: time.Second, MonitoringPeriod: time.Hour})
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Execute(ctx, ok)
			} else {
				_ = b.Execute(ctx, fail)
			}
		}(i)
	}
	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, uint64(n), stats.TotalRequests)
	assert.Equal(t, uint64(n/2), stats.TotalFailures)
	assert.Equal(t, uint64(n/2), stats.TotalSuccesses)
	assert.Equal(t, StateClosed, stats.State)
}
