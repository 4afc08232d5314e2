package faults

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultCapacity bounds the active-error list when no capacity is given.
const defaultCapacity = 100

// EnrichedError is one captured failure with its classification attached.
// It is created once per capture and never mutated afterward.
type EnrichedError struct {
	ID             string
	Err            error
	Context        Context
	Severity       Severity
	AffectsTrading bool
	Recoverable    bool
	Tags           []string
	Timestamp      time.Time
}

// Message returns the underlying error message, or "" for a nil error.
func (e EnrichedError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Metrics is a snapshot of the handler's counters.
type Metrics struct {
	TotalErrors   uint64
	RetryEligible uint64
	ByComponent   map[string]uint64
	ActiveErrors  int
}

// NotifyFunc receives every captured error when notification is enabled.
// It runs outside the handler's lock and must not block for long.
type NotifyFunc func(e EnrichedError)

// Handler enriches raw failures and maintains a bounded active-error set
// plus per-component counters. All methods are safe for concurrent use.
type Handler struct {
	mu          sync.Mutex
	classifier  Classifier
	active      []EnrichedError
	capacity    int
	total       uint64
	retryable   uint64
	byComponent map[string]uint64
	notify      NotifyFunc
	logger      *slog.Logger
}

// NewHandler creates a Handler with the given classifier and active-set
// capacity. A nil classifier falls back to the keyword classifier; a
// non-positive capacity falls back to the default.
func NewHandler(classifier Classifier, capacity int, logger *slog.Logger) *Handler {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Handler{
		classifier:  classifier,
		capacity:    capacity,
		byComponent: make(map[string]uint64),
		logger:      logger.With(slog.String("component", "fault_handler")),
	}
}

// SetNotify enables the notification path. Must be called before the handler
// is shared across goroutines.
func (h *Handler) SetNotify(fn NotifyFunc) {
	h.notify = fn
}

// Capture enriches err, records it, and returns the enriched record.
//
// Capture must never panic: if the classifier blows up, the error is
// recorded with a conservative default classification instead.
func (h *Handler) Capture(err error, ctx Context) EnrichedError {
	cls := h.safeClassify(err, ctx)

	e := EnrichedError{
		ID:             uuid.New().String(),
		Err:            err,
		Context:        ctx,
		Severity:       cls.Severity,
		AffectsTrading: cls.AffectsTrading,
		Recoverable:    cls.Recoverable,
		Tags:           cls.Tags,
		Timestamp:      time.Now().UTC(),
	}

	h.mu.Lock()
	h.total++
	h.byComponent[ctx.Component]++
	if e.Recoverable {
		h.retryable++
	}
	h.active = append(h.active, e)
	if len(h.active) > h.capacity {
		// Evict oldest beyond capacity.
		h.active = h.active[len(h.active)-h.capacity:]
	}
	notify := h.notify
	h.mu.Unlock()

	h.logger.Error("error captured",
		slog.String("error_id", e.ID),
		slog.String("error_component", ctx.Component),
		slog.String("operation", ctx.Operation),
		slog.String("severity", string(e.Severity)),
		slog.Bool("recoverable", e.Recoverable),
		slog.String("error", e.Message()),
	)

	if notify != nil {
		// A panicking notifier must not take the capture path down with it.
		func() {
			defer func() { _ = recover() }()
			notify(e)
		}()
	}

	return e
}

// safeClassify runs the classifier, degrading to a conservative default if
// it panics.
func (h *Handler) safeClassify(err error, ctx Context) (cls Classification) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("classifier panicked, using defaults",
				slog.Any("panic", r),
			)
			cls = Classification{
				Severity:    SeverityMedium,
				Recoverable: true,
				Tags:        []string{ctx.Component},
			}
		}
	}()
	return h.classifier.Classify(err, ctx)
}

// Resolve removes the error with the given ID from the active set. It
// returns false when the ID is unknown (already resolved or evicted).
func (h *Handler) Resolve(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.active {
		if e.ID == id {
			h.active = append(h.active[:i], h.active[i+1:]...)
			return true
		}
	}
	return false
}

// Metrics returns a snapshot of the counters. The ByComponent map is a copy.
func (h *Handler) Metrics() Metrics {
	h.mu.Lock()
	defer h.mu.Unlock()

	byComponent := make(map[string]uint64, len(h.byComponent))
	for k, v := range h.byComponent {
		byComponent[k] = v
	}
	return Metrics{
		TotalErrors:   h.total,
		RetryEligible: h.retryable,
		ByComponent:   byComponent,
		ActiveErrors:  len(h.active),
	}
}

// ActiveErrors returns a copy of the active-error set, oldest first.
func (h *Handler) ActiveErrors() []EnrichedError {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EnrichedError, len(h.active))
	copy(out, h.active)
	return out
}
