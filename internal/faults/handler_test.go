package faults

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(capacity int) *Handler {
	return NewHandler(nil, capacity, slog.Default())
}

func TestCaptureEnriches(t *testing.T) {
	h := newTestHandler(10)

	e := h.Capture(errors.New("connection refused by rpc node"), Context{
		Component: "rpc",
		Operation: "get_pool_reserves",
	})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, SeverityMedium, e.Severity)
	assert.True(t, e.AffectsTrading)
	assert.True(t, e.Recoverable)
	assert.Contains(t, e.Tags, "rpc")
	assert.Contains(t, e.Tags, "connection")
	assert.False(t, e.Timestamp.IsZero())
}

func TestCriticalKeywordForcesCritical(t *testing.T) {
	h := newTestHandler(10)

	e := h.Capture(errors.New("CRITICAL: wallet key unusable"), Context{
		Component: "dashboard",
		Operation: "render",
	})

	assert.Equal(t, SeverityCritical, e.Severity)
	assert.False(t, e.Recoverable, "critical errors are never recoverable")
}

func TestTimeoutDefaultsRecoverable(t *testing.T) {
	h := newTestHandler(10)

	e := h.Capture(errors.New("timeout waiting for tx receipt"), Context{
		Component: "executor",
		Operation: "sell",
	})

	assert.True(t, e.Recoverable)
	assert.Contains(t, e.Tags, "timeout")
}

func TestCaptureNilError(t *testing.T) {
	h := newTestHandler(10)

	require.NotPanics(t, func() {
		e := h.Capture(nil, Context{Component: "feed", Operation: "tick"})
		assert.Empty(t, e.Message())
	})
}

func TestBoundedActiveSetEvictsOldest(t *testing.T) {
	h := newTestHandler(3)

	var ids []string
	for i := 0; i < 5; i++ {
		e := h.Capture(fmt.Errorf("failure %d", i), Context{Component: "feed", Operation: "tick"})
		ids = append(ids, e.ID)
	}

	active := h.ActiveErrors()
	require.Len(t, active, 3)
	assert.Equal(t, ids[2], active[0].ID, "oldest two must have been evicted")
	assert.Equal(t, ids[4], active[2].ID)

	// Counters keep counting past the eviction boundary.
	assert.Equal(t, uint64(5), h.Metrics().TotalErrors)
}

func TestResolve(t *testing.T) {
	h := newTestHandler(10)

	e := h.Capture(errors.New("nope"), Context{Component: "rpc", Operation: "call"})
	require.True(t, h.Resolve(e.ID))
	assert.False(t, h.Resolve(e.ID))
	assert.Empty(t, h.ActiveErrors())
}

func TestMetricsByComponent(t *testing.T) {
	h := newTestHandler(10)

	h.Capture(errors.New("a"), Context{Component: "rpc", Operation: "call"})
	h.Capture(errors.New("b"), Context{Component: "rpc", Operation: "call"})
	h.Capture(errors.New("c"), Context{Component: "feed", Operation: "tick"})

	m := h.Metrics()
	assert.Equal(t, uint64(3), m.TotalErrors)
	assert.Equal(t, uint64(2), m.ByComponent["rpc"])
	assert.Equal(t, uint64(1), m.ByComponent["feed"])
	assert.Equal(t, 3, m.ActiveErrors)

	// The returned map is a copy.
	m.ByComponent["rpc"] = 999
	assert.Equal(t, uint64(2), h.Metrics().ByComponent["rpc"])
}

type panickyClassifier struct{}

func (panickyClassifier) Classify(error, Context) Classification {
	panic("classifier heuristics exploded")
}

func TestCaptureSurvivesClassifierPanic(t *testing.T) {
	h := NewHandler(panickyClassifier{}, 10, slog.Default())

	var e EnrichedError
	require.NotPanics(t, func() {
		e = h.Capture(errors.New("anything"), Context{Component: "rpc", Operation: "call"})
	})
	assert.Equal(t, SeverityMedium, e.Severity)
	assert.True(t, e.Recoverable)
	assert.Equal(t, uint64(1), h.Metrics().TotalErrors)
}

func TestCaptureSurvivesNotifierPanic(t *testing.T) {
	h := newTestHandler(10)
	h.SetNotify(func(EnrichedError) { panic("sender down") })

	require.NotPanics(t, func() {
		h.Capture(errors.New("boom"), Context{Component: "rpc", Operation: "call"})
	})
}

func TestConcurrentCaptures(t *testing.T) {
	h := newTestHandler(50)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Capture(fmt.Errorf("err %d", i), Context{Component: "rpc", Operation: "call"})
		}(i)
	}
	wg.Wait()

	m := h.Metrics()
	assert.Equal(t, uint64(n), m.TotalErrors)
	assert.Equal(t, uint64(n), m.ByComponent["rpc"])
	assert.Equal(t, 50, m.ActiveErrors)
}
