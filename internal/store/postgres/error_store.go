package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradekit/snipebot/internal/domain"
)

// ErrorStore implements domain.ErrorStore using PostgreSQL.
type ErrorStore struct {
	pool *pgxpool.Pool
}

// NewErrorStore creates an ErrorStore backed by the given pool.
func NewErrorStore(pool *pgxpool.Pool) *ErrorStore {
	return &ErrorStore{pool: pool}
}

// Insert appends one captured error record.
func (s *ErrorStore) Insert(ctx context.Context, rec domain.CapturedError) error {
	const query = `
		INSERT INTO captured_errors
			(id, component, operation, message, severity, recoverable, tags, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Component, rec.Operation, rec.Message,
		rec.Severity, rec.Recoverable, rec.Tags, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert captured error %s: %w", rec.ID, err)
	}
	return nil
}

// RecentByComponent returns the newest records for a component, newest first.
func (s *ErrorStore) RecentByComponent(ctx context.Context, component string, limit int) ([]domain.CapturedError, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, component, operation, message, severity, recoverable, tags, occurred_at
		FROM captured_errors
		WHERE component = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, component, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent errors for %s: %w", component, err)
	}
	defer rows.Close()

	var out []domain.CapturedError
	for rows.Next() {
		var rec domain.CapturedError
		if err := rows.Scan(
			&rec.ID, &rec.Component, &rec.Operation, &rec.Message,
			&rec.Severity, &rec.Recoverable, &rec.Tags, &rec.OccurredAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ domain.ErrorStore = (*ErrorStore)(nil)
