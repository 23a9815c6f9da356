package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// ReportStore implements domain.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection
// pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Summary aggregates persisted activity in one round trip. An empty mode
// covers every mode.
func (s *ReportStore) Summary(ctx context.Context, mode string) (domain.ReportSummary, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM orders WHERE $1::text = '' OR mode = $1),
			(SELECT COUNT(*) FROM orders WHERE side = 'buy' AND ($1::text = '' OR mode = $1)),
			(SELECT COUNT(*) FROM orders WHERE side = 'sell' AND ($1::text = '' OR mode = $1)),
			(SELECT COUNT(*) FROM orders WHERE status = 'REJECTED' AND ($1::text = '' OR mode = $1)),
			(SELECT COUNT(*) FROM fills f JOIN orders o ON o.id = f.order_id WHERE $1::text = '' OR o.mode = $1),
			(SELECT COUNT(*) FROM positions WHERE status = 'OPEN' AND ($1::text = '' OR mode = $1)),
			(SELECT COUNT(*) FROM positions WHERE status = 'CLOSED' AND ($1::text = '' OR mode = $1)),
			(SELECT COALESCE(SUM(p.realized_pnl), 0) FROM pnl p
				JOIN positions ps ON ps.id = p.position_id WHERE $1::text = '' OR ps.mode = $1),
			(SELECT COUNT(*) FROM decisions WHERE $1::text = '' OR mode = $1)`

	sum := domain.ReportSummary{Mode: mode}
	err := s.pool.QueryRow(ctx, query, mode).Scan(
		&sum.TotalOrders, &sum.BuyOrders, &sum.SellOrders, &sum.RejectedOrders,
		&sum.Fills, &sum.OpenPositions, &sum.ClosedPositions, &sum.RealizedPnL, &sum.Decisions,
	)
	if err != nil {
		return sum, fmt.Errorf("postgres: report summary: %w", err)
	}
	return sum, nil
}
