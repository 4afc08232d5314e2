// Package notify provides a multi-channel notification system. Alerts are
// dispatched to all registered senders (Telegram, Discord) and can be
// filtered by event type so operators receive only the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tradekit/snipebot/internal/faults"
	"github.com/tradekit/snipebot/internal/resilience"
)

// Event types emitted by the bot.
const (
	EventPositionOpened = "position_opened"
	EventPositionExited = "position_exited"
	EventBreakerChanged = "breaker_changed"
	EventErrorCaptured  = "error_captured"
)

// Sender is the interface each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; Notify only forwards messages whose event type
// is in the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose type appears in the events slice are forwarded by Notify. If
// events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in
// the allowed list. If no events were configured, all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// BreakerHook returns a callback suitable for Breaker.OnStateChange that
// alerts operators whenever a circuit changes state.
func (n *Notifier) BreakerHook(ctx context.Context) resilience.StateChangeFunc {
	return func(name string, from, to resilience.State) {
		title := fmt.Sprintf("Circuit breaker '%s': %s", name, to)
		message := fmt.Sprintf("Breaker %q moved from %s to %s.", name, from, to)
		if err := n.Notify(ctx, EventBreakerChanged, title, message); err != nil {
			n.logger.WarnContext(ctx, "breaker alert delivery failed",
				slog.String("breaker", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// FaultHook returns a callback suitable for Handler.SetNotify that alerts
// operators on high and critical captured errors. Lower severities stay in
// the logs only.
func (n *Notifier) FaultHook(ctx context.Context) faults.NotifyFunc {
	return func(e faults.EnrichedError) {
		if e.Severity != faults.SeverityHigh && e.Severity != faults.SeverityCritical {
			return
		}
		title := fmt.Sprintf("[%s] error in %s", strings.ToUpper(string(e.Severity)), e.Context.Component)
		message := fmt.Sprintf("Operation: %s\nError: %v\nAffects trading: %t\nRecoverable: %t",
			e.Context.Operation, e.Err, e.AffectsTrading, e.Recoverable)
		if err := n.Notify(ctx, EventErrorCaptured, title, message); err != nil {
			n.logger.WarnContext(ctx, "error alert delivery failed",
				slog.String("component", e.Context.Component),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected into a combined error; a single sender
// failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
