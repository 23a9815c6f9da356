package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// DecisionStore implements domain.DecisionStore.
type DecisionStore struct {
	db *sql.DB
}

// Insert appends one snapshot.
func (s *DecisionStore) Insert(ctx context.Context, d domain.DecisionSnapshot) error {
	const query = `
		INSERT INTO decisions (
			ts, window_slug, btc_price, p_up_model, p_up_mkt,
			edge_up, edge_down, spread_up, spread_down,
			up_bid, up_ask, down_bid, down_ask, reason, mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		toNanos(d.Timestamp), d.WindowSlug, d.BTCPrice, d.PUpModel, d.PUpMkt,
		d.EdgeUp, d.EdgeDown, d.SpreadUp, d.SpreadDown,
		d.UpBid, d.UpAsk, d.DownBid, d.DownAsk, string(d.Reason), d.Mode,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert decision: %w", err)
	}
	return nil
}

// List returns snapshots in time order.
func (s *DecisionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.DecisionSnapshot, error) {
	query, args := window(`
		SELECT ts, window_slug, btc_price, p_up_model, p_up_mkt,
			edge_up, edge_down, spread_up, spread_down,
			up_bid, up_ask, down_bid, down_ask, reason, mode
		FROM decisions WHERE 1 = 1`, "ts", opts, nil)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.DecisionSnapshot
	for rows.Next() {
		var d domain.DecisionSnapshot
		var ts int64
		var reason string
		if err := rows.Scan(&ts, &d.WindowSlug, &d.BTCPrice, &d.PUpModel, &d.PUpMkt,
			&d.EdgeUp, &d.EdgeDown, &d.SpreadUp, &d.SpreadDown,
			&d.UpBid, &d.UpAsk, &d.DownBid, &d.DownAsk, &reason, &d.Mode); err != nil {
			return nil, fmt.Errorf("sqlite: scan decision: %w", err)
		}
		d.Timestamp = fromNanos(ts)
		d.Reason = domain.Reason(reason)
		out = append(out, d)
	}
	return out, rows.Err()
}

// OrderStore implements domain.OrderStore.
type OrderStore struct {
	db *sql.DB
}

const orderCols = `id, exchange_id, side, outcome, token_id, limit_price, size,
	filled_size, status, purpose, exit_reason, position_id, window_slug, mode,
	error, created_at, updated_at`

// Upsert inserts the order or overwrites its mutable fields.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	query := `INSERT INTO orders (` + orderCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			exchange_id = excluded.exchange_id,
			filled_size = excluded.filled_size,
			status = excluded.status,
			position_id = excluded.position_id,
			error = excluded.error,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.ExchangeID, string(o.Side), string(o.Outcome), o.TokenID,
		o.LimitPrice, o.Size, o.FilledSize, string(o.Status), string(o.Purpose),
		string(o.ExitReason), o.PositionID, o.WindowSlug, o.Mode, o.Error,
		toNanos(o.CreatedAt), toNanos(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert order %s: %w", o.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (domain.Order, error) {
	var o domain.Order
	var side, outcome, status, purpose, exitReason string
	var created, updated int64
	err := sc.Scan(&o.ID, &o.ExchangeID, &side, &outcome, &o.TokenID, &o.LimitPrice, &o.Size,
		&o.FilledSize, &status, &purpose, &exitReason, &o.PositionID, &o.WindowSlug, &o.Mode,
		&o.Error, &created, &updated)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Outcome = domain.Outcome(outcome)
	o.Status = domain.OrderStatus(status)
	o.Purpose = domain.OrderPurpose(purpose)
	o.ExitReason = domain.ExitReason(exitReason)
	o.CreatedAt = fromNanos(created)
	o.UpdatedAt = fromNanos(updated)
	return o, nil
}

// GetByID returns one order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("sqlite: get order %s: %w", id, err)
	}
	return o, nil
}

// List returns orders by creation time.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := window(`SELECT `+orderCols+` FROM orders WHERE 1 = 1`, "created_at", opts, nil)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FillStore implements domain.FillStore.
type FillStore struct {
	db *sql.DB
}

// Insert appends a fill.
func (s *FillStore) Insert(ctx context.Context, f domain.Fill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills (id, order_id, price, size, ts) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.Price, f.Size, toNanos(f.Timestamp))
	if err != nil {
		return fmt.Errorf("sqlite: insert fill: %w", err)
	}
	return nil
}

// ListByOrder returns an order's fills in time order.
func (s *FillStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, price, size, ts FROM fills WHERE order_id = ? ORDER BY ts ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var ts int64
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Price, &f.Size, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan fill: %w", err)
		}
		f.Timestamp = fromNanos(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	db *sql.DB
}

// Upsert inserts the position or overwrites its mutable fields. The window
// slug and end are never updated.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	var closedAt *int64
	if p.ClosedAt != nil {
		n := toNanos(*p.ClosedAt)
		closedAt = &n
	}
	const query = `
		INSERT INTO positions (
			id, outcome, token_id, entry_price, size, opened_at, window_slug,
			window_end, status, exit_reason, exit_price, closed_at, mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			entry_price = excluded.entry_price,
			size = excluded.size,
			status = excluded.status,
			exit_reason = excluded.exit_reason,
			exit_price = excluded.exit_price,
			closed_at = excluded.closed_at`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, string(p.Outcome), p.TokenID, p.EntryPrice, p.Size, toNanos(p.OpenedAt), p.WindowSlug,
		toNanos(p.WindowEnd), string(p.Status), string(p.ExitReason), p.ExitPrice, closedAt, p.Mode,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// ListOpen returns the open positions of one mode.
func (s *PositionStore) ListOpen(ctx context.Context, mode string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outcome, token_id, entry_price, size, opened_at, window_slug, window_end, status, mode
		FROM positions WHERE status = ? AND mode = ? ORDER BY opened_at ASC`,
		string(domain.PositionStatusOpen), mode)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var outcome, status string
		var opened, end int64
		if err := rows.Scan(&p.ID, &outcome, &p.TokenID, &p.EntryPrice, &p.Size, &opened,
			&p.WindowSlug, &end, &status, &p.Mode); err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		p.Outcome = domain.Outcome(outcome)
		p.Status = domain.PositionStatus(status)
		p.OpenedAt = fromNanos(opened)
		p.WindowEnd = fromNanos(end)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PnLStore implements domain.PnLStore.
type PnLStore struct {
	db *sql.DB
}

// Insert appends a realized PnL record.
func (s *PnLStore) Insert(ctx context.Context, r domain.PnLRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pnl (position_id, window_slug, exit_reason, realized_pnl, closed_at) VALUES (?, ?, ?, ?, ?)`,
		r.PositionID, r.WindowSlug, string(r.ExitReason), r.RealizedPnL, toNanos(r.ClosedAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert pnl: %w", err)
	}
	return nil
}

// SumSince totals PnL closed at or after since.
func (s *PnLStore) SumSince(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM pnl WHERE closed_at >= ?`, toNanos(since)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sqlite: sum pnl: %w", err)
	}
	return sum, nil
}

// ErrorStore implements domain.ErrorStore.
type ErrorStore struct {
	db *sql.DB
}

// Record appends an error event. Detail is stored as JSON.
func (s *ErrorStore) Record(ctx context.Context, ev domain.ErrorEvent) error {
	detail := []byte("{}")
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("sqlite: marshal error detail: %w", err)
		}
		detail = b
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_events (kind, message, detail, created_at) VALUES (?, ?, ?, ?)`,
		ev.Kind, ev.Message, string(detail), toNanos(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: record error: %w", err)
	}
	return nil
}

// Since returns error events recorded at or after since, oldest first.
func (s *ErrorStore) Since(ctx context.Context, since time.Time) ([]domain.ErrorEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, message, detail, created_at FROM error_events WHERE created_at >= ? ORDER BY id ASC`,
		toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list errors: %w", err)
	}
	defer rows.Close()

	var out []domain.ErrorEvent
	for rows.Next() {
		var ev domain.ErrorEvent
		var detail string
		var created int64
		if err := rows.Scan(&ev.Kind, &ev.Message, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan error event: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
			return nil, fmt.Errorf("sqlite: decode error detail: %w", err)
		}
		ev.CreatedAt = fromNanos(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReportStore implements domain.ReportStore.
type ReportStore struct {
	db *sql.DB
}

// Summary aggregates persisted activity. An empty mode covers all modes.
func (s *ReportStore) Summary(ctx context.Context, mode string) (domain.ReportSummary, error) {
	sum := domain.ReportSummary{Mode: mode}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(side = 'buy'), 0),
			COALESCE(SUM(side = 'sell'), 0),
			COALESCE(SUM(status = 'REJECTED'), 0)
		FROM orders WHERE (? = '' OR mode = ?)`, mode, mode).
		Scan(&sum.TotalOrders, &sum.BuyOrders, &sum.SellOrders, &sum.RejectedOrders)
	if err != nil {
		return sum, fmt.Errorf("sqlite: summarize orders: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fills f JOIN orders o ON o.id = f.order_id
		WHERE (? = '' OR o.mode = ?)`, mode, mode).Scan(&sum.Fills)
	if err != nil {
		return sum, fmt.Errorf("sqlite: summarize fills: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(status = 'OPEN'), 0), COALESCE(SUM(status = 'CLOSED'), 0)
		FROM positions WHERE (? = '' OR mode = ?)`, mode, mode).
		Scan(&sum.OpenPositions, &sum.ClosedPositions)
	if err != nil {
		return sum, fmt.Errorf("sqlite: summarize positions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.realized_pnl), 0) FROM pnl p JOIN positions ps ON ps.id = p.position_id
		WHERE (? = '' OR ps.mode = ?)`, mode, mode).Scan(&sum.RealizedPnL)
	if err != nil {
		return sum, fmt.Errorf("sqlite: summarize pnl: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decisions WHERE (? = '' OR mode = ?)`, mode, mode).Scan(&sum.Decisions)
	if err != nil {
		return sum, fmt.Errorf("sqlite: summarize decisions: %w", err)
	}
	return sum, nil
}
