package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Mode   string
	Since  *time.Time
	Until  *time.Time
}

// DecisionStore persists one snapshot per decision tick.
type DecisionStore interface {
	Insert(ctx context.Context, snap DecisionSnapshot) error
	List(ctx context.Context, opts ListOpts) ([]DecisionSnapshot, error)
}

// OrderStore persists orders; Upsert overwrites status and filled size.
type OrderStore interface {
	Upsert(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, opts ListOpts) ([]Order, error)
}

// FillStore persists the append-only fill log.
type FillStore interface {
	Insert(ctx context.Context, fill Fill) error
	ListByOrder(ctx context.Context, orderID string) ([]Fill, error)
}

// PositionStore persists positions.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	ListOpen(ctx context.Context, mode string) ([]Position, error)
}

// PnLStore persists realized PnL records.
type PnLStore interface {
	Insert(ctx context.Context, rec PnLRecord) error
	SumSince(ctx context.Context, since time.Time) (float64, error)
}

// ErrorEvent is one row of the error log.
type ErrorEvent struct {
	Kind      string
	Message   string
	Detail    map[string]any
	CreatedAt time.Time
}

// ErrorStore persists operational errors that did not stop the process.
type ErrorStore interface {
	Record(ctx context.Context, ev ErrorEvent) error
}

// ReportSummary aggregates persisted activity for the report command.
type ReportSummary struct {
	Mode            string  `json:"mode,omitempty"`
	TotalOrders     int64   `json:"total_orders"`
	BuyOrders       int64   `json:"buy_orders"`
	SellOrders      int64   `json:"sell_orders"`
	RejectedOrders  int64   `json:"rejected_orders"`
	Fills           int64   `json:"fills"`
	OpenPositions   int64   `json:"open_positions"`
	ClosedPositions int64   `json:"closed_positions"`
	RealizedPnL     float64 `json:"realized_pnl"`
	Decisions       int64   `json:"decisions"`
}

// ReportStore computes aggregate activity. An empty mode means all modes.
type ReportStore interface {
	Summary(ctx context.Context, mode string) (ReportSummary, error)
}

// Stores bundles every persistence sink the trading loop writes to.
type Stores struct {
	Decisions DecisionStore
	Orders    OrderStore
	Fills     FillStore
	Positions PositionStore
	PnL       PnLStore
	Errors    ErrorStore
	Report    ReportStore
}
