package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/resilience"
)

type recordingSender struct {
	name string
	fail bool

	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	if s.fail {
		return errors.New("delivery failed")
	}
	s.mu.Lock()
	s.sent = append(s.sent, title)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestNotifyFiltersByEventType(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionExited}, nil)

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "opened", "body"))
	require.NoError(t, n.Notify(context.Background(), EventPositionExited, "exited", "body"))

	assert.Equal(t, []string{"exited"}, sender.titles())
}

func TestNotifyWithNoFilterAllowsEverything(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, nil)

	require.NoError(t, n.Notify(context.Background(), "anything", "t1", "body"))
	assert.Equal(t, []string{"t1"}, sender.titles())
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", fail: true}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, nil)

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"title"}, good.titles())
}

func TestBreakerHookAlertsOnStateChange(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, nil)

	hook := n.BreakerHook(context.Background())
	hook("trading", resilience.StateClosed, resilience.StateOpen)

	titles := sender.titles()
	require.Len(t, titles, 1)
	assert.Contains(t, titles[0], "trading")
}

func TestFaultHookSkipsLowSeverity(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, nil)

	hook := n.FaultHook(context.Background())
	hook(faults.EnrichedError{
		Severity: faults.SeverityMedium,
		Context:  faults.Context{Component: "feed"},
	})
	assert.Empty(t, sender.titles())

	hook(faults.EnrichedError{
		Err:      errors.New("wallet: signing failed"),
		Severity: faults.SeverityCritical,
		Context:  faults.Context{Component: "wallet", Operation: "sign"},
	})
	titles := sender.titles()
	require.Len(t, titles, 1)
	assert.Contains(t, titles[0], "CRITICAL")
	assert.Contains(t, titles[0], "wallet")
}
