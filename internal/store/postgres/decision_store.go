package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given
// connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Insert appends one snapshot.
func (s *DecisionStore) Insert(ctx context.Context, d domain.DecisionSnapshot) error {
	const query = `
		INSERT INTO decisions (
			ts, window_slug, btc_price, p_up_model, p_up_mkt,
			edge_up, edge_down, spread_up, spread_down,
			up_bid, up_ask, down_bid, down_ask, reason, mode
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.pool.Exec(ctx, query,
		d.Timestamp, d.WindowSlug, d.BTCPrice, d.PUpModel, d.PUpMkt,
		d.EdgeUp, d.EdgeDown, d.SpreadUp, d.SpreadDown,
		d.UpBid, d.UpAsk, d.DownBid, d.DownAsk, string(d.Reason), d.Mode,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision: %w", err)
	}
	return nil
}

// List returns snapshots in time order.
func (s *DecisionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.DecisionSnapshot, error) {
	query, args := applyListOpts(`
		SELECT ts, window_slug, btc_price, p_up_model, p_up_mkt,
			edge_up, edge_down, spread_up, spread_down,
			up_bid, up_ask, down_bid, down_ask, reason, mode
		FROM decisions WHERE 1=1`, "ts", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	snaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DecisionSnapshot, error) {
		var d domain.DecisionSnapshot
		var reason string
		err := row.Scan(&d.Timestamp, &d.WindowSlug, &d.BTCPrice, &d.PUpModel, &d.PUpMkt,
			&d.EdgeUp, &d.EdgeDown, &d.SpreadUp, &d.SpreadDown,
			&d.UpBid, &d.UpAsk, &d.DownBid, &d.DownAsk, &reason, &d.Mode)
		d.Reason = domain.Reason(reason)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return snaps, nil
}
