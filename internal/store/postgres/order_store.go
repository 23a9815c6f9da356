package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, exchange_id, side, outcome, token_id, limit_price, size,
	filled_size, status, purpose, exit_reason, position_id, window_slug, mode,
	error, created_at, updated_at`

// Upsert inserts the order or overwrites its status, fill progress and
// error.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, exchange_id, side, outcome, token_id, limit_price, size,
			filled_size, status, purpose, exit_reason, position_id, window_slug, mode,
			error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			exchange_id = EXCLUDED.exchange_id,
			filled_size = EXCLUDED.filled_size,
			status      = EXCLUDED.status,
			position_id = EXCLUDED.position_id,
			error       = EXCLUDED.error,
			updated_at  = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.ExchangeID, string(o.Side), string(o.Outcome), o.TokenID,
		o.LimitPrice, o.Size, o.FilledSize, string(o.Status), string(o.Purpose),
		string(o.ExitReason), o.PositionID, o.WindowSlug, o.Mode,
		o.Error, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, outcome, status, purpose, exitReason string
	err := scanner.Scan(
		&o.ID, &o.ExchangeID, &side, &outcome, &o.TokenID, &o.LimitPrice, &o.Size,
		&o.FilledSize, &status, &purpose, &exitReason, &o.PositionID, &o.WindowSlug, &o.Mode,
		&o.Error, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Outcome = domain.Outcome(outcome)
	o.Status = domain.OrderStatus(status)
	o.Purpose = domain.OrderPurpose(purpose)
	o.ExitReason = domain.ExitReason(exitReason)
	return o, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// List returns orders by creation time with optional mode and time filters.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := applyListOpts(`SELECT `+orderSelectCols+` FROM orders WHERE 1=1`, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Insert appends a fill.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	const query = `INSERT INTO fills (id, order_id, price, size, ts) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, f.ID, f.OrderID, f.Price, f.Size, f.Timestamp); err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", f.ID, err)
	}
	return nil
}

// ListByOrder returns an order's fills oldest first.
func (s *FillStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, price, size, ts FROM fills WHERE order_id = $1 ORDER BY ts ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Price, &f.Size, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// applyListOpts appends mode, time window, ordering and paging clauses.
func applyListOpts(query, tsCol string, opts domain.ListOpts) (string, []any) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Mode != "" {
		query += " AND mode = " + next(opts.Mode)
	}
	if opts.Since != nil {
		query += " AND " + tsCol + " >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND " + tsCol + " <= " + next(*opts.Until)
	}
	query += " ORDER BY " + tsCol + " ASC"
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
