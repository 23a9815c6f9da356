package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given
// connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert inserts a position or updates its size, price and close fields.
// window_slug and window_end are written once.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, outcome, token_id, entry_price, size, opened_at, window_slug,
			window_end, status, exit_reason, exit_price, closed_at, mode
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			size        = EXCLUDED.size,
			status      = EXCLUDED.status,
			exit_reason = EXCLUDED.exit_reason,
			exit_price  = EXCLUDED.exit_price,
			closed_at   = EXCLUDED.closed_at`

	var windowEnd *time.Time
	if !p.WindowEnd.IsZero() {
		windowEnd = &p.WindowEnd
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Outcome), p.TokenID, p.EntryPrice, p.Size, p.OpenedAt, p.WindowSlug,
		windowEnd, string(p.Status), string(p.ExitReason), p.ExitPrice, p.ClosedAt, p.Mode,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// ListOpen returns open positions for mode, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context, mode string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, outcome, token_id, entry_price, size, opened_at, window_slug, window_end, status, mode
		FROM positions
		WHERE status = $1 AND mode = $2
		ORDER BY opened_at ASC`, string(domain.PositionStatusOpen), mode)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var outcome, status string
		var windowEnd *time.Time
		if err := rows.Scan(&p.ID, &outcome, &p.TokenID, &p.EntryPrice, &p.Size,
			&p.OpenedAt, &p.WindowSlug, &windowEnd, &status, &p.Mode); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		if windowEnd != nil {
			p.WindowEnd = *windowEnd
		}
		p.Outcome = domain.Outcome(outcome)
		p.Status = domain.PositionStatus(status)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// PnLStore implements domain.PnLStore using PostgreSQL.
type PnLStore struct {
	pool *pgxpool.Pool
}

// NewPnLStore creates a new PnLStore backed by the given connection pool.
func NewPnLStore(pool *pgxpool.Pool) *PnLStore {
	return &PnLStore{pool: pool}
}

// Insert appends a realized PnL record.
func (s *PnLStore) Insert(ctx context.Context, r domain.PnLRecord) error {
	const query = `
		INSERT INTO pnl (position_id, window_slug, exit_reason, realized_pnl, closed_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, r.PositionID, r.WindowSlug, string(r.ExitReason), r.RealizedPnL, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert pnl for %s: %w", r.PositionID, err)
	}
	return nil
}

// SumSince totals realized PnL closed at or after since.
func (s *PnLStore) SumSince(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM pnl WHERE closed_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	return sum, nil
}
