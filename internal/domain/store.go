package domain

import (
	"context"
	"time"
)

// PositionStore persists state-machine snapshots. The machine itself holds
// no storage; the monitor writes snapshots through this interface after
// every state change and on a periodic flush.
type PositionStore interface {
	Save(ctx context.Context, snap PositionSnapshot) error
	GetByID(ctx context.Context, positionID string) (PositionSnapshot, error)
	ListByState(ctx context.Context, state PositionState) ([]PositionSnapshot, error)
	ListOpen(ctx context.Context) ([]PositionSnapshot, error)
}

// CapturedError is the persistence shape of an enriched error record.
type CapturedError struct {
	ID          string
	Component   string
	Operation   string
	Message     string
	Severity    string
	Recoverable bool
	Tags        []string
	OccurredAt  time.Time
}

// ErrorStore persists captured errors for post-mortem analysis.
type ErrorStore interface {
	Insert(ctx context.Context, rec CapturedError) error
	RecentByComponent(ctx context.Context, component string, limit int) ([]CapturedError, error)
}
