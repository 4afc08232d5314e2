package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradekit/snipebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. One row
// per position holds the latest snapshot; stale writers lose on the version
// guard rather than clobbering a newer snapshot.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const snapshotSelectCols = `position_id, token_address, state, entry_price, amount,
	current_price, pnl_percent, pnl_usd, entry_time, last_price_update,
	exit_reason, version, taken_at`

// Save upserts the snapshot. An update only applies when the incoming
// version is not older than the stored one.
func (s *PositionStore) Save(ctx context.Context, snap domain.PositionSnapshot) error {
	const query = `
		INSERT INTO position_snapshots (` + snapshotSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (position_id) DO UPDATE SET
			token_address = EXCLUDED.token_address,
			state = EXCLUDED.state,
			entry_price = EXCLUDED.entry_price,
			amount = EXCLUDED.amount,
			current_price = EXCLUDED.current_price,
			pnl_percent = EXCLUDED.pnl_percent,
			pnl_usd = EXCLUDED.pnl_usd,
			entry_time = EXCLUDED.entry_time,
			last_price_update = EXCLUDED.last_price_update,
			exit_reason = EXCLUDED.exit_reason,
			version = EXCLUDED.version,
			taken_at = EXCLUDED.taken_at
		WHERE EXCLUDED.version >= position_snapshots.version`

	c := snap.Context
	var lastUpdate *time.Time
	if !c.LastPriceUpdate.IsZero() {
		lastUpdate = &c.LastPriceUpdate
	}

	_, err := s.pool.Exec(ctx, query,
		c.PositionID, c.TokenAddress, string(snap.State),
		c.EntryPrice, c.Amount, c.CurrentPrice, c.PnLPercent, c.PnLUSD,
		c.EntryTime, lastUpdate, c.ExitReason, int64(c.Version), snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", c.PositionID, err)
	}
	return nil
}

// GetByID returns the latest snapshot for a position, or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (domain.PositionSnapshot, error) {
	const query = `SELECT ` + snapshotSelectCols + ` FROM position_snapshots WHERE position_id = $1`

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionSnapshot{}, domain.ErrNotFound
		}
		return domain.PositionSnapshot{}, fmt.Errorf("postgres: get snapshot %s: %w", positionID, err)
	}
	return snap, nil
}

// ListByState returns all snapshots currently in the given state.
func (s *PositionStore) ListByState(ctx context.Context, state domain.PositionState) ([]domain.PositionSnapshot, error) {
	const query = `SELECT ` + snapshotSelectCols + ` FROM position_snapshots
		WHERE state = $1 ORDER BY entry_time`

	rows, err := s.pool.Query(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots by state %s: %w", state, err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// ListOpen returns every snapshot that is not CLOSED, for restart recovery.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.PositionSnapshot, error) {
	const query = `SELECT ` + snapshotSelectCols + ` FROM position_snapshots
		WHERE state <> $1 ORDER BY entry_time`

	rows, err := s.pool.Query(ctx, query, string(domain.PositionStateClosed))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open snapshots: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshot(row pgx.Row) (domain.PositionSnapshot, error) {
	var snap domain.PositionSnapshot
	var state string
	var lastUpdate *time.Time
	var version int64

	err := row.Scan(
		&snap.Context.PositionID, &snap.Context.TokenAddress, &state,
		&snap.Context.EntryPrice, &snap.Context.Amount,
		&snap.Context.CurrentPrice, &snap.Context.PnLPercent, &snap.Context.PnLUSD,
		&snap.Context.EntryTime, &lastUpdate,
		&snap.Context.ExitReason, &version, &snap.TakenAt,
	)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}
	snap.State = domain.PositionState(state)
	if lastUpdate != nil {
		snap.Context.LastPriceUpdate = *lastUpdate
	}
	snap.Context.Version = uint64(version)
	return snap, nil
}

func scanSnapshots(rows pgx.Rows) ([]domain.PositionSnapshot, error) {
	var out []domain.PositionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

var _ domain.PositionStore = (*PositionStore)(nil)
